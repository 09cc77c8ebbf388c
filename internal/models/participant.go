package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus is the status of one enrollment.
type ParticipantStatus string

const (
	ParticipantRegistered ParticipantStatus = "REGISTERED"
	ParticipantConfirmed  ParticipantStatus = "CONFIRMED"
	ParticipantAttended   ParticipantStatus = "ATTENDED"
	ParticipantNoShow     ParticipantStatus = "NO_SHOW"
	ParticipantCancelled  ParticipantStatus = "CANCELLED"
)

// Participant is a user's enrollment in a session. (SessionID, UserID) is unique.
type Participant struct {
	SessionID uuid.UUID         `json:"session_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Status    ParticipantStatus `json:"status"`
	JoinedAt  time.Time         `json:"joined_at"`
}

// ParticipantRewrite moves every participant currently in From to To.
// An empty From matches any participant not already in To.
type ParticipantRewrite struct {
	From ParticipantStatus
	To   ParticipantStatus
}

// Apply returns the rewritten status and whether the rewrite matched.
func (r ParticipantRewrite) Apply(s ParticipantStatus) (ParticipantStatus, bool) {
	if r.From == "" {
		if s == r.To {
			return s, false
		}
		return r.To, true
	}
	if s != r.From {
		return s, false
	}
	return r.To, true
}
