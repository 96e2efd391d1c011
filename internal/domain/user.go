package domain

import "time"

// Role is the caller's capability class.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleServiceAgent Role = "service_agent"
	RoleAdmin        Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleServiceAgent, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role belongs to support staff.
func (r Role) IsStaff() bool {
	return r == RoleServiceAgent || r == RoleAdmin
}

// User is an account of any role.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Role         Role
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
