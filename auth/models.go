package auth

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

// Actor is the minimal identity the domain services need from the
// authentication layer.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsAgent() bool  { return a.Role == RoleAgent }
func (a Actor) IsClient() bool { return a.Role == RoleClient }

// User is the domain representation of an account. It mirrors the users
// table and carries no JSON annotations so it can be reused by different
// presentation layers.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Phone        *string
	Type         Role
	// CreatedBy links a client to the agent that registered them. Nil for
	// admins and agents.
	CreatedBy *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Type}
}

// RegisterRequest contains account creation data supplied by callers.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Type     Role   `json:"type"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
