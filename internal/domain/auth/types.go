// Package auth authenticates operators of the approval API.
package auth

// Role is what an operator may do through the API.
type Role string

const (
	// RoleAdmin may change the agent configuration and manage tasks.
	RoleAdmin Role = "admin"
	// RoleReviewer may propose, approve and reject actions.
	RoleReviewer Role = "reviewer"
	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleReviewer, RoleViewer:
		return true
	default:
		return false
	}
}

// rank orders roles so that a higher role includes every lower one.
func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleReviewer:
		return 1
	}
	return 0
}

// Operator is an authenticated caller.
type Operator struct {
	Name string
	Role Role
}

// Allows returns true if the operator's role includes required.
func (o *Operator) Allows(required Role) bool {
	return o != nil && o.Role.IsValid() && o.Role.rank() >= required.rank()
}

// Key is a configured API key. Hash is a SHA-256 hex (optionally
// prefixed with "sha256:") or an Argon2id PHC string.
type Key struct {
	Name string
	Hash string
	Role Role
}
