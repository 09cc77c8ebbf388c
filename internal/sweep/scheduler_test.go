package sweep_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupcare/backend/internal/enrollment"
	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/memstore"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/internal/reminders"
	"github.com/groupcare/backend/internal/sweep"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type events struct {
	mu      sync.Mutex
	status  []uuid.UUID
	rooms   []string
	exports []uuid.UUID
	err     error
}

func (e *events) PublishSessionEvent(_ context.Context, id uuid.UUID, _ string, _ interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = append(e.status, id)
	return e.err
}

func (e *events) DeleteRoom(_ context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rooms = append(e.rooms, handle)
	return nil
}

func (e *events) EnqueueAttendanceExport(_ context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports = append(e.exports, id)
	return nil
}

type okNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *okNotifier) Notify(context.Context, *models.Session, lifecycle.Milestone) error {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
	return nil
}

func newScheduler(db *memstore.DB, ev *events) (*sweep.Scheduler, *okNotifier) {
	n := &okNotifier{}
	d := reminders.NewDispatcher(n, db, time.Second, nil)
	return sweep.NewScheduler(db, d, ev, ev, ev, sweep.Options{Parallelism: 4}, nil), n
}

func put(db *memstore.DB, status models.SessionStatus, start time.Time) *models.Session {
	return db.Put(models.Session{
		TherapistID:     uuid.New(),
		Title:           "group",
		ScheduledAt:     start,
		DurationMinutes: 60,
		MaxParticipants: 10,
		Status:          status,
	})
}

func enroll(db *memstore.DB, s *models.Session, status models.ParticipantStatus) uuid.UUID {
	id := uuid.New()
	db.AddParticipant(models.Participant{SessionID: s.ID, UserID: id, Status: status, JoinedAt: s.ScheduledAt.Add(-48 * time.Hour)})
	return id
}

func statusOf(t *testing.T, db *memstore.DB, id uuid.UUID) models.SessionStatus {
	t.Helper()
	s, err := db.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func TestRunStatus_NoShowLosesToLateEnrollment(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	s := put(db, models.SessionScheduled, now.Add(-31*time.Minute))

	cands, err := db.ListCandidates(ctx, []models.SessionStatus{models.SessionScheduled}, now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, 0, cands[0].ParticipantCount)
	tr, ok := lifecycle.Evaluate(&cands[0].Session, cands[0].ParticipantCount, now)
	require.True(t, ok)
	require.Equal(t, lifecycle.KindNoShow, tr.Kind)

	svc := enrollment.NewService(db, nil)
	svc.SetClock(func() time.Time { return now })
	_, err = svc.Enroll(ctx, models.Actor{UserID: uuid.New(), Role: models.RolePatient}, s.ID)
	require.NoError(t, err)

	applied, err := db.ApplyTransition(ctx, s.ID, tr)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.SessionScheduled, statusOf(t, db, s.ID))
}

func TestRunStatus_NoShowWithoutParticipants(t *testing.T) {
	db := memstore.New()
	ev := &events{}
	sch, _ := newScheduler(db, ev)
	s := put(db, models.SessionScheduled, now.Add(-31*time.Minute))

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.Counts[string(lifecycle.KindNoShow)])
	assert.Empty(t, sum.Errors)
	assert.Equal(t, models.SessionNoShow, statusOf(t, db, s.ID))
	assert.Equal(t, []uuid.UUID{s.ID}, ev.status)
}

func TestRunStatus_NoParticipantsBeforeThreshold(t *testing.T) {
	db := memstore.New()
	sch, _ := newScheduler(db, &events{})
	s := put(db, models.SessionScheduled, now.Add(-10*time.Minute))

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[sweep.CountUnchanged])
	assert.Equal(t, models.SessionScheduled, statusOf(t, db, s.ID))
}

func TestRunStatus_StartsWithinWindow(t *testing.T) {
	db := memstore.New()
	sch, _ := newScheduler(db, &events{})
	s := put(db, models.SessionScheduled, now.Add(-2*time.Minute))
	enroll(db, s, models.ParticipantRegistered)

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[string(lifecycle.KindStarted)])
	assert.Equal(t, models.SessionLive, statusOf(t, db, s.ID))
}

func TestRunStatus_CompletesAndRewritesAttendance(t *testing.T) {
	db := memstore.New()
	ev := &events{}
	sch, _ := newScheduler(db, ev)
	s := put(db, models.SessionLive, now.Add(-76*time.Minute))
	confirmed := enroll(db, s, models.ParticipantConfirmed)
	registered := enroll(db, s, models.ParticipantRegistered)

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[string(lifecycle.KindCompleted)])

	fresh, err := db.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, fresh.Status)
	require.NotNil(t, fresh.EndedAt)
	assert.True(t, fresh.EndedAt.Equal(s.NominalEnd()))

	p, _ := db.GetParticipant(context.Background(), s.ID, confirmed)
	assert.Equal(t, models.ParticipantAttended, p.Status)
	p, _ = db.GetParticipant(context.Background(), s.ID, registered)
	assert.Equal(t, models.ParticipantNoShow, p.Status)

	assert.Equal(t, []uuid.UUID{s.ID}, ev.exports)
	assert.Equal(t, []string{s.RoomHandle()}, ev.rooms)
}

func TestRunStatus_LiveWithinBufferUnchanged(t *testing.T) {
	db := memstore.New()
	sch, _ := newScheduler(db, &events{})
	s := put(db, models.SessionLive, now.Add(-70*time.Minute))
	enroll(db, s, models.ParticipantConfirmed)

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[sweep.CountUnchanged])
	assert.Equal(t, models.SessionLive, statusOf(t, db, s.ID))
}

func TestRunStatus_StaleScheduledCancelled(t *testing.T) {
	db := memstore.New()
	sch, _ := newScheduler(db, &events{})
	s := put(db, models.SessionScheduled, now.Add(-25*time.Hour))
	uid := enroll(db, s, models.ParticipantRegistered)

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[string(lifecycle.KindStaleCancelled)])
	assert.Equal(t, models.SessionCancelled, statusOf(t, db, s.ID))
	p, _ := db.GetParticipant(context.Background(), s.ID, uid)
	assert.Equal(t, models.ParticipantCancelled, p.Status)
}

func TestRunStatus_IgnoresOutsideLookback(t *testing.T) {
	db := memstore.New()
	sch, _ := newScheduler(db, &events{})
	s := put(db, models.SessionScheduled, now.Add(-8*24*time.Hour))

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 0, sum.Candidates)
	assert.Equal(t, models.SessionScheduled, statusOf(t, db, s.ID))
}

func TestRunStatus_RerunIsNoop(t *testing.T) {
	db := memstore.New()
	ev := &events{}
	sch, _ := newScheduler(db, ev)
	put(db, models.SessionScheduled, now.Add(-40*time.Minute))
	live := put(db, models.SessionLive, now.Add(-2*time.Hour))
	enroll(db, live, models.ParticipantConfirmed)

	first := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 2, first.Candidates)

	second := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 0, second.Candidates)
	assert.Len(t, ev.status, 2)
	assert.Len(t, ev.exports, 1)
}

// conflictStore loses every optimistic write.
type conflictStore struct{ *memstore.DB }

func (conflictStore) ApplyTransition(context.Context, uuid.UUID, lifecycle.Transition) (bool, error) {
	return false, nil
}

func TestRunStatus_ConflictSkipped(t *testing.T) {
	db := memstore.New()
	ev := &events{}
	put(db, models.SessionScheduled, now.Add(-31*time.Minute))
	sch := sweep.NewScheduler(conflictStore{db}, nil, ev, ev, ev, sweep.Options{}, nil)

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[sweep.CountSkippedConflict])
	assert.Empty(t, sum.Errors)
	assert.Empty(t, ev.status)
}

// flakyStore fails writes for one session only.
type flakyStore struct {
	*memstore.DB
	bad uuid.UUID
}

func (f flakyStore) ApplyTransition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition) (bool, error) {
	if id == f.bad {
		return false, errors.New("connection reset")
	}
	return f.DB.ApplyTransition(ctx, id, tr)
}

func TestRunStatus_ErrorIsolatedToSession(t *testing.T) {
	db := memstore.New()
	bad := put(db, models.SessionScheduled, now.Add(-31*time.Minute))
	good := put(db, models.SessionScheduled, now.Add(-45*time.Minute))
	sch := sweep.NewScheduler(flakyStore{DB: db, bad: bad.ID}, nil, nil, nil, nil, sweep.Options{}, nil)

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[sweep.CountError])
	assert.Equal(t, 1, sum.Counts[string(lifecycle.KindNoShow)])
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, bad.ID, sum.Errors[0].SessionID)
	assert.Equal(t, "apply", sum.Errors[0].Stage)
	assert.Equal(t, models.SessionNoShow, statusOf(t, db, good.ID))
	assert.Equal(t, models.SessionScheduled, statusOf(t, db, bad.ID))
}

func TestRunStatus_PublishFailureKeepsTransition(t *testing.T) {
	db := memstore.New()
	ev := &events{err: errors.New("redis down")}
	sch, _ := newScheduler(db, ev)
	s := put(db, models.SessionScheduled, now.Add(-31*time.Minute))

	sum := sch.RunStatus(context.Background(), now)
	assert.Equal(t, 1, sum.Counts[string(lifecycle.KindNoShow)])
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "publish", sum.Errors[0].Stage)
	assert.Equal(t, models.SessionNoShow, statusOf(t, db, s.ID))
}

func TestRunReminders_ExactlyOncePerMilestone(t *testing.T) {
	db := memstore.New()
	sch, n := newScheduler(db, &events{})
	s := put(db, models.SessionScheduled, now.Add(65*time.Minute))

	// A 15 minute cadence walks the session from 65m out to start.
	for tick := now; tick.Before(s.ScheduledAt); tick = tick.Add(15 * time.Minute) {
		sch.RunReminders(context.Background(), tick)
	}
	for tick := now.Add(7 * time.Minute); tick.Before(s.ScheduledAt); tick = tick.Add(time.Minute) {
		sch.RunReminders(context.Background(), tick)
	}
	fresh, err := db.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, fresh.ReminderSent)
	assert.True(t, fresh.StartingSent)
	assert.Equal(t, 2, n.count)
}

func TestRunReminders_SkipsNonScheduled(t *testing.T) {
	db := memstore.New()
	sch, n := newScheduler(db, &events{})
	put(db, models.SessionCancelled, now.Add(time.Hour))

	sum := sch.RunReminders(context.Background(), now)
	assert.Equal(t, 0, sum.Candidates)
	assert.Equal(t, 0, n.count)
}

func TestRunReminders_CountsOutcomes(t *testing.T) {
	db := memstore.New()
	sch, _ := newScheduler(db, &events{})
	put(db, models.SessionScheduled, now.Add(time.Hour))
	put(db, models.SessionScheduled, now.Add(30*time.Minute))

	sum := sch.RunReminders(context.Background(), now)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 1, sum.Counts[string(reminders.OutcomeSent)])
	assert.Equal(t, 1, sum.Counts[sweep.CountNothingDue])
}

func TestRun_UnknownKind(t *testing.T) {
	sch, _ := newScheduler(memstore.New(), &events{})
	_, ok := sch.Run(context.Background(), "weekly", now)
	assert.False(t, ok)
}
