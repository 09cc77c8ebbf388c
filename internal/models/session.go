package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle status of a group session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionLive      SessionStatus = "LIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionNoShow    SessionStatus = "NO_SHOW"
	SessionCancelled SessionStatus = "CANCELLED"
)

// ParseSessionStatus parses a status string. IN_PROGRESS is accepted as an alias for LIVE.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SCHEDULED":
		return SessionScheduled, nil
	case "LIVE", "IN_PROGRESS":
		return SessionLive, nil
	case "COMPLETED":
		return SessionCompleted, nil
	case "NO_SHOW":
		return SessionNoShow, nil
	case "CANCELLED":
		return SessionCancelled, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// Terminal reports whether no further transition is possible from s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionNoShow, SessionCancelled:
		return true
	case SessionScheduled, SessionLive:
		return false
	}
	return true
}

// Session is a scheduled, capacity-bounded group therapy meeting.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	TherapistID     uuid.UUID     `json:"therapist_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	DurationMinutes int           `json:"duration_minutes"`
	MaxParticipants int           `json:"max_participants"`
	Status          SessionStatus `json:"status"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	ReminderSent    bool          `json:"reminder_sent"`
	StartingSent    bool          `json:"starting_sent"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Duration returns the nominal session length.
func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// NominalEnd is scheduled start plus duration.
func (s *Session) NominalEnd() time.Time {
	return s.ScheduledAt.Add(s.Duration())
}

// RoomHandle identifies the live room provisioned for the session.
func (s *Session) RoomHandle() string {
	return s.ID.String()
}

// SessionWithCount pairs a session with its non-cancelled participant count.
type SessionWithCount struct {
	Session
	ParticipantCount int `json:"participant_count"`
}
