package lifecycle

import (
	"time"

	"github.com/groupcare/backend/internal/models"
)

// Milestone is a reminder point before a session starts, matched within a
// tolerance window so a coarse sweep cadence never skips it.
type Milestone struct {
	Name      string
	Lead      time.Duration
	Tolerance time.Duration
}

var (
	// OneHour fires roughly an hour before start (reminder_sent flag).
	OneHour = Milestone{Name: "reminder_1h", Lead: time.Hour, Tolerance: 7*time.Minute + 30*time.Second}
	// FiveMinutes fires roughly five minutes before start (starting_sent flag).
	FiveMinutes = Milestone{Name: "starting_5m", Lead: 5 * time.Minute, Tolerance: 2*time.Minute + 30*time.Second}
)

// Milestones lists every milestone in dispatch order.
var Milestones = []Milestone{OneHour, FiveMinutes}

// Horizon is the furthest ahead of now any milestone can match.
func Horizon() time.Duration {
	var h time.Duration
	for _, m := range Milestones {
		if d := m.Lead + m.Tolerance; d > h {
			h = d
		}
	}
	return h
}

// Sent reports the persisted flag for m on s.
func (m Milestone) Sent(s *models.Session) bool {
	if m == OneHour {
		return s.ReminderSent
	}
	return s.StartingSent
}

// Due reports whether m should fire for s at now. The window
// [now+lead-tol, now+lead+tol) is half-open.
func (m Milestone) Due(s *models.Session, now time.Time) bool {
	if s.Status != models.SessionScheduled || m.Sent(s) {
		return false
	}
	target := now.Add(m.Lead)
	lo := target.Add(-m.Tolerance)
	hi := target.Add(m.Tolerance)
	return !s.ScheduledAt.Before(lo) && s.ScheduledAt.Before(hi)
}
