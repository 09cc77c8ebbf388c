// Package lifecycle decides session status transitions. It performs no I/O:
// callers pass the session, its live participant count and the current time.
package lifecycle

import (
	"time"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/models"
)

const (
	// StartWindow is how long after scheduled start a session may still go live.
	StartWindow = 5 * time.Minute
	// NoShowAfter is how long an empty session waits before it is marked NO_SHOW.
	NoShowAfter = 30 * time.Minute
	// CompletionBuffer is added after the nominal end before a live session completes.
	CompletionBuffer = 15 * time.Minute
	// StaleAfter is how long a session may stay SCHEDULED past its start before forced cancellation.
	StaleAfter = 24 * time.Hour
)

// Kind labels a transition for logging and sweep summaries.
type Kind string

const (
	KindStarted        Kind = "started"
	KindNoShow         Kind = "no_show"
	KindCompleted      Kind = "completed"
	KindStaleCancelled Kind = "stale_cancelled"
	KindCancelled      Kind = "cancelled"
)

// Transition is one status change plus the participant rewrites that travel with it.
type Transition struct {
	Kind     Kind
	From     models.SessionStatus
	To       models.SessionStatus
	EndedAt  *time.Time
	Rewrites []models.ParticipantRewrite
	// RequireNoParticipants makes the write conditional on the session still
	// having no non-cancelled participant when it is applied.
	RequireNoParticipants bool
}

var attendanceRewrites = []models.ParticipantRewrite{
	{From: models.ParticipantConfirmed, To: models.ParticipantAttended},
	{From: models.ParticipantRegistered, To: models.ParticipantNoShow},
}

var cancelRewrites = []models.ParticipantRewrite{
	{To: models.ParticipantCancelled},
}

// Evaluate returns the time-triggered transition due for s at now, if any.
func Evaluate(s *models.Session, participants int, now time.Time) (Transition, bool) {
	switch s.Status {
	case models.SessionScheduled:
		if now.After(s.ScheduledAt.Add(StaleAfter)) {
			return Transition{
				Kind:     KindStaleCancelled,
				From:     s.Status,
				To:       models.SessionCancelled,
				Rewrites: cancelRewrites,
			}, true
		}
		if participants == 0 {
			if !now.Before(s.ScheduledAt.Add(NoShowAfter)) {
				return Transition{
					Kind:                  KindNoShow,
					From:                  s.Status,
					To:                    models.SessionNoShow,
					RequireNoParticipants: true,
				}, true
			}
			return Transition{}, false
		}
		if !now.Before(s.ScheduledAt) && now.Before(s.ScheduledAt.Add(StartWindow)) {
			return Transition{Kind: KindStarted, From: s.Status, To: models.SessionLive}, true
		}
	case models.SessionLive:
		if now.After(s.NominalEnd().Add(CompletionBuffer)) {
			end := s.NominalEnd()
			return Transition{
				Kind:     KindCompleted,
				From:     s.Status,
				To:       models.SessionCompleted,
				EndedAt:  &end,
				Rewrites: attendanceRewrites,
			}, true
		}
	case models.SessionCompleted, models.SessionNoShow, models.SessionCancelled:
	}
	return Transition{}, false
}

// Explicit validates an operator-requested transition of s to target.
func Explicit(s *models.Session, target models.SessionStatus, now time.Time) (Transition, error) {
	tr := Transition{From: s.Status, To: target}
	switch target {
	case models.SessionLive:
		if s.Status != models.SessionScheduled {
			return Transition{}, invalid(s.Status, target)
		}
		tr.Kind = KindStarted
	case models.SessionCompleted:
		if s.Status != models.SessionLive {
			return Transition{}, invalid(s.Status, target)
		}
		ended := now
		tr.Kind = KindCompleted
		tr.EndedAt = &ended
		tr.Rewrites = attendanceRewrites
	case models.SessionCancelled:
		if s.Status != models.SessionScheduled && s.Status != models.SessionLive {
			return Transition{}, invalid(s.Status, target)
		}
		tr.Kind = KindCancelled
		tr.Rewrites = cancelRewrites
	case models.SessionScheduled, models.SessionNoShow:
		return Transition{}, invalid(s.Status, target)
	default:
		return Transition{}, apperr.Wrap(apperr.ErrInvalid, "unknown status %q", target)
	}
	return tr, nil
}

func invalid(from, to models.SessionStatus) error {
	return apperr.Wrap(apperr.ErrInvalidState, "cannot move session from %s to %s", from, to)
}
