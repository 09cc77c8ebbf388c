// Package sweep drives time-based session transitions and reminder dispatch.
// Each run is stateless: it reads candidates, evaluates them independently
// and persists every change with a write conditioned on the status it read.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/internal/reminders"
	"github.com/groupcare/backend/internal/sessions"
)

// Sweep kinds.
const (
	KindStatus    = "status"
	KindReminders = "reminders"
)

// Count keys reported besides transition kinds and reminder outcomes.
const (
	CountUnchanged       = "unchanged"
	CountSkippedConflict = "skipped_conflict"
	CountError           = "error"
	CountNothingDue      = "nothing_due"
)

const (
	DefaultLookback    = 7 * 24 * time.Hour
	DefaultParallelism = 8
)

// Store is the persistence a sweep reads and writes.
type Store interface {
	ListCandidates(ctx context.Context, statuses []models.SessionStatus, from, to time.Time) ([]models.SessionWithCount, error)
	ListPendingReminders(ctx context.Context, from, to time.Time) ([]models.Session, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition) (bool, error)
}

// Dispatcher sends due reminders for one session.
type Dispatcher interface {
	Dispatch(ctx context.Context, s *models.Session, now time.Time) reminders.Result
}

// Options tune a Scheduler. Zero values take defaults.
type Options struct {
	Lookback    time.Duration
	Parallelism int
}

// SessionError is a failure confined to one session.
type SessionError struct {
	SessionID uuid.UUID `json:"session_id"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
}

// Summary reports one sweep run.
type Summary struct {
	Kind       string         `json:"kind"`
	Candidates int            `json:"candidates"`
	Counts     map[string]int `json:"counts"`
	Errors     []SessionError `json:"errors"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`

	mu sync.Mutex
}

func newSummary(kind string, now time.Time) *Summary {
	return &Summary{Kind: kind, Counts: map[string]int{}, Errors: []SessionError{}, StartedAt: now}
}

func (s *Summary) count(key string) {
	s.mu.Lock()
	s.Counts[key]++
	s.mu.Unlock()
}

func (s *Summary) fail(id uuid.UUID, stage string, err error) {
	s.mu.Lock()
	s.Errors = append(s.Errors, SessionError{SessionID: id, Stage: stage, Error: err.Error()})
	s.mu.Unlock()
}

// Scheduler runs status and reminder sweeps.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	publisher  sessions.Publisher
	rooms      sessions.RoomReleaser
	exporter   sessions.Exporter
	opts       Options
	logger     *zap.Logger
}

// NewScheduler creates a scheduler. publisher, rooms and exporter may be nil.
func NewScheduler(store Store, dispatcher Dispatcher, publisher sessions.Publisher, rooms sessions.RoomReleaser, exporter sessions.Exporter, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		rooms:      rooms,
		exporter:   exporter,
		opts:       opts,
		logger:     logger,
	}
}

// Run executes the sweep named by kind. ok is false for an unknown kind.
func (s *Scheduler) Run(ctx context.Context, kind string, now time.Time) (sum *Summary, ok bool) {
	switch kind {
	case KindStatus:
		return s.RunStatus(ctx, now), true
	case KindReminders:
		return s.RunReminders(ctx, now), true
	}
	return nil, false
}

// RunStatus applies due automatic transitions to sessions started within the lookback window.
func (s *Scheduler) RunStatus(ctx context.Context, now time.Time) *Summary {
	sum := newSummary(KindStatus, now)
	defer s.finish(sum)

	list, err := s.store.ListCandidates(ctx,
		[]models.SessionStatus{models.SessionScheduled, models.SessionLive},
		now.Add(-s.opts.Lookback), now)
	if err != nil {
		sum.fail(uuid.Nil, "load", err)
		return sum
	}
	sum.Candidates = len(list)

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Parallelism)
	for i := range list {
		c := list[i]
		g.Go(func() error {
			s.evaluate(ctx, sum, c, now)
			return nil
		})
	}
	_ = g.Wait()
	return sum
}

func (s *Scheduler) evaluate(ctx context.Context, sum *Summary, c models.SessionWithCount, now time.Time) {
	if err := ctx.Err(); err != nil {
		sum.count(CountError)
		sum.fail(c.ID, "evaluate", err)
		return
	}
	sess := c.Session
	tr, due := lifecycle.Evaluate(&sess, c.ParticipantCount, now)
	if !due {
		sum.count(CountUnchanged)
		return
	}
	log := s.logger.With(zap.String("session_id", sess.ID.String()), zap.String("transition", string(tr.Kind)))

	applied, err := s.store.ApplyTransition(ctx, sess.ID, tr)
	if err != nil {
		log.Error("apply transition failed", zap.Error(err))
		sum.count(CountError)
		sum.fail(sess.ID, "apply", err)
		return
	}
	if !applied {
		log.Info("transition skipped, session changed concurrently")
		sum.count(CountSkippedConflict)
		return
	}
	log.Info("session transitioned", zap.String("from", string(tr.From)), zap.String("to", string(tr.To)))
	sum.count(string(tr.Kind))

	sess.Status = tr.To
	if tr.EndedAt != nil {
		sess.EndedAt = tr.EndedAt
	}
	s.afterCommit(ctx, sum, &sess, tr, log)
}

// afterCommit runs side effects of a persisted transition. Their failures are
// reported but never undo the write.
func (s *Scheduler) afterCommit(ctx context.Context, sum *Summary, sess *models.Session, tr lifecycle.Transition, log *zap.Logger) {
	if s.publisher != nil {
		if err := s.publisher.PublishSessionEvent(ctx, sess.ID, sessions.EventSessionStatus, sessions.StatusEvent(sess)); err != nil {
			log.Warn("publish status event failed", zap.Error(err))
			sum.fail(sess.ID, "publish", err)
		}
	}
	if s.rooms != nil && tr.To.Terminal() && tr.From == models.SessionLive {
		if err := s.rooms.DeleteRoom(ctx, sess.RoomHandle()); err != nil {
			log.Warn("delete room failed", zap.Error(err))
			sum.fail(sess.ID, "delete_room", err)
		}
	}
	if s.exporter != nil && tr.Kind == lifecycle.KindCompleted {
		if err := s.exporter.EnqueueAttendanceExport(ctx, sess.ID); err != nil {
			log.Warn("enqueue attendance export failed", zap.Error(err))
			sum.fail(sess.ID, "attendance_export", err)
		}
	}
}

// RunReminders dispatches milestone notifications for sessions starting soon.
func (s *Scheduler) RunReminders(ctx context.Context, now time.Time) *Summary {
	sum := newSummary(KindReminders, now)
	defer s.finish(sum)

	list, err := s.store.ListPendingReminders(ctx, now, now.Add(lifecycle.Horizon()))
	if err != nil {
		sum.fail(uuid.Nil, "load", err)
		return sum
	}
	sum.Candidates = len(list)

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Parallelism)
	for i := range list {
		sess := list[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				sum.count(CountError)
				sum.fail(sess.ID, "dispatch", err)
				return nil
			}
			res := s.dispatcher.Dispatch(ctx, &sess, now)
			if len(res.Milestones) == 0 {
				sum.count(CountNothingDue)
			}
			for _, m := range res.Milestones {
				sum.count(string(m.Outcome))
				if m.Err != nil {
					sum.fail(sess.ID, m.Milestone, m.Err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return sum
}

func (s *Scheduler) finish(sum *Summary) {
	sum.DurationMS = time.Since(sum.StartedAt).Milliseconds()
	if sum.DurationMS < 0 {
		sum.DurationMS = 0
	}
	s.logger.Info("sweep finished",
		zap.String("kind", sum.Kind),
		zap.Int("candidates", sum.Candidates),
		zap.Any("counts", sum.Counts),
		zap.Int("errors", len(sum.Errors)),
		zap.Int64("duration_ms", sum.DurationMS))
}
