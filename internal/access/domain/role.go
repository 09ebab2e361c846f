package domain

import "time"

// Role is a subject's relationship to a single resource.
type Role string

const (
	RoleNone        Role = "none"
	RoleContributor Role = "contributor"
	RoleOwner       Role = "owner"
	RoleStaff       Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleContributor, RoleOwner, RoleStaff:
		return true
	}
	return false
}

// RoleAssignment is a direct grant on one resource. Ownership is not an
// assignment, it comes from Resource.OwnerID.
type RoleAssignment struct {
	SubjectID  string
	ResourceID string
	Role       Role
	AddedBy    string
	CreatedAt  time.Time
}
