package auth

// CanCreateUserType reports whether the actor may register an account of the
// given type. Admins can create any account, agents can only register their
// own clients.
func CanCreateUserType(actor Actor, target Role) bool {
	switch actor.Role {
	case RoleAdmin:
		return target == RoleAdmin || target == RoleAgent || target == RoleClient
	case RoleAgent:
		return target == RoleClient
	default:
		return false
	}
}
