package worker

import "time"

type Role string

const (
	RoleTracer     Role = "tracer"
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
)

// Worker is the domain representation of a staff account. It mirrors the
// workers table and carries no JSON annotations so it can be reused by
// different presentation layers. The assignment engine only ever sees the
// Username as an opaque pool token.
type Worker struct {
	ID           string
	Username     string
	FullName     string
	PasswordHash string
	Role         Role
	Approved     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
