// Package reminders sends pre-session milestone notifications at most once per milestone.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
)

// DefaultNotifyTimeout bounds a single Notify call.
const DefaultNotifyTimeout = 10 * time.Second

// Notifier delivers a milestone notification to a session's participants.
type Notifier interface {
	Notify(ctx context.Context, s *models.Session, m lifecycle.Milestone) error
}

// Store persists milestone flags.
type Store interface {
	// MarkMilestoneSent sets the flag only if it is still false and reports whether it did.
	MarkMilestoneSent(ctx context.Context, sessionID uuid.UUID, m lifecycle.Milestone) (bool, error)
}

// Outcome is what happened to one milestone of one session.
type Outcome string

const (
	OutcomeSent          Outcome = "sent"
	OutcomeNotifyFailed  Outcome = "notify_failed"
	OutcomeFlagFailed    Outcome = "flag_failed"
	OutcomeAlreadyMarked Outcome = "already_marked"
)

// MilestoneResult reports a single milestone dispatch.
type MilestoneResult struct {
	Milestone string  `json:"milestone"`
	Outcome   Outcome `json:"outcome"`
	Err       error   `json:"-"`
}

// Result collects the milestones attempted for one session. An empty
// Milestones slice means nothing was due.
type Result struct {
	SessionID  uuid.UUID         `json:"session_id"`
	Milestones []MilestoneResult `json:"milestones"`
}

// Dispatcher matches due milestones and sends them.
type Dispatcher struct {
	notifier Notifier
	store    Store
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultNotifyTimeout.
func NewDispatcher(notifier Notifier, store Store, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &Dispatcher{notifier: notifier, store: store, timeout: timeout, logger: logger}
}

// Dispatch sends every milestone due for s at now. The flag is set only
// after a successful send, so a failed send is retried by the next sweep.
func (d *Dispatcher) Dispatch(ctx context.Context, s *models.Session, now time.Time) Result {
	res := Result{SessionID: s.ID}
	for _, m := range lifecycle.Milestones {
		if !m.Due(s, now) {
			continue
		}
		res.Milestones = append(res.Milestones, d.send(ctx, s, m))
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, s *models.Session, m lifecycle.Milestone) MilestoneResult {
	log := d.logger.With(zap.String("session_id", s.ID.String()), zap.String("milestone", m.Name))
	out := MilestoneResult{Milestone: m.Name}

	nctx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.notifier.Notify(nctx, s, m)
	cancel()
	if err != nil {
		log.Warn("reminder notify failed", zap.Error(err))
		out.Outcome = OutcomeNotifyFailed
		out.Err = fmt.Errorf("notify %s: %w", m.Name, err)
		return out
	}

	marked, err := d.store.MarkMilestoneSent(ctx, s.ID, m)
	switch {
	case err != nil:
		log.Error("reminder sent but flag not persisted; it may be sent again", zap.Error(err))
		out.Outcome = OutcomeFlagFailed
		out.Err = fmt.Errorf("mark %s: %w", m.Name, err)
	case !marked:
		log.Warn("reminder flag already set by a concurrent sweep")
		out.Outcome = OutcomeAlreadyMarked
	default:
		log.Info("reminder sent")
		out.Outcome = OutcomeSent
	}
	return out
}
