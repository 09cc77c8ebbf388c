package models

import "github.com/google/uuid"

// Role represents a caller's role as asserted by the identity provider.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTherapist Role = "therapist"
	RolePatient   Role = "patient"
)

// Actor is a verified caller identity.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanEnroll reports whether the actor holds a patient-capable identity.
func (a Actor) CanEnroll() bool { return a.Role == RolePatient }

// CanManage reports whether the actor owns the session or is an admin.
func (a Actor) CanManage(s *Session) bool {
	return a.IsAdmin() || (a.Role == RoleTherapist && s.TherapistID == a.UserID)
}
