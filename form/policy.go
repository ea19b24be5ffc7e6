package form

import "intakeflow/auth"

// CanView reports whether the actor may read the form: admins see everything,
// agents see forms they are responsible for, clients see their own form.
func (f *Form) CanView(actor auth.Actor) bool {
	switch actor.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleAgent:
		return actor.ID == f.AgentID
	case auth.RoleClient:
		return actor.ID == f.ClientID
	default:
		return false
	}
}

// EditableBy reports whether the actor may submit edits. Admins always can;
// the responsible agent always can, though edits to an active form are routed
// through pending-change approval rather than applied directly.
func (f *Form) EditableBy(actor auth.Actor) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.IsAgent() && actor.ID == f.AgentID
}

// NeedsAdminApproval reports whether an edit by the actor must be parked as a
// pending proposal. Agents cannot silently modify a form once it is live.
func (f *Form) NeedsAdminApproval(actor auth.Actor) bool {
	return actor.IsAgent() && f.Status == StatusActive
}

// CanChangeStatus reports whether the actor may move a form between statuses.
func CanChangeStatus(actor auth.Actor) bool {
	return actor.IsAdmin()
}

// CanDelete reports whether the actor may delete a form and its documents
// and history.
func CanDelete(actor auth.Actor) bool {
	return actor.IsAdmin()
}

// CanViewHistory reports whether the actor may read the audit trail.
func (f *Form) CanViewHistory(actor auth.Actor) bool {
	return actor.IsAdmin() || (actor.IsAgent() && actor.ID == f.AgentID)
}
