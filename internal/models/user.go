package models

import "time"

// UserRole is the closed set of dashboard roles.
type UserRole string

const (
	RoleStaff    UserRole = "STAFF"
	RoleManager  UserRole = "MANAGER"
	RoleObserver UserRole = "OBSERVER"
)

// Valid reports whether the role is one of the known values.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStaff, RoleManager, RoleObserver:
		return true
	}
	return false
}

// User represents a dashboard account. Account management itself lives in an
// external service; this row exists for references and avatar attachment.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"fullName"`
	Role      UserRole  `db:"role" json:"role"`
	AvatarID  *string   `db:"avatar_id" json:"avatarId,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Pagination describes list slicing metadata in responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
