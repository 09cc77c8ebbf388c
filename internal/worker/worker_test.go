package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupcare/backend/internal/memstore"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/internal/worker"
	"github.com/groupcare/backend/pkg/queue"
)

type memLog struct {
	mu   sync.Mutex
	rows map[string]string
	ids  map[uuid.UUID]string
}

func newMemLog() *memLog {
	return &memLog{rows: map[string]string{}, ids: map[uuid.UUID]string{}}
}

func (l *memLog) Begin(_ context.Context, sessionID, userID uuid.UUID, milestone string) (uuid.UUID, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := sessionID.String() + userID.String() + milestone
	for id, k := range l.ids {
		if k == key {
			return id, l.rows[key], nil
		}
	}
	id := uuid.New()
	l.ids[id] = key
	l.rows[key] = models.NotificationStatusPending
	return id, models.NotificationStatusPending, nil
}

func (l *memLog) set(id uuid.UUID, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[l.ids[id]] = status
}

func (l *memLog) MarkSent(_ context.Context, id uuid.UUID) error {
	l.set(id, models.NotificationStatusSent)
	return nil
}

func (l *memLog) MarkFailed(_ context.Context, id uuid.UUID, _ string) error {
	l.set(id, models.NotificationStatusFailed)
	return nil
}

type inbox struct {
	got  []uuid.UUID
	fail map[uuid.UUID]bool
}

func (b *inbox) PublishUserEvent(_ context.Context, userID uuid.UUID, _ string, _ interface{}) error {
	if b.fail[userID] {
		return errors.New("unreachable")
	}
	b.got = append(b.got, userID)
	return nil
}

func seeded(status models.SessionStatus) (*memstore.DB, *models.Session, []uuid.UUID) {
	db := memstore.New()
	s := db.Put(models.Session{
		TherapistID:     uuid.New(),
		Title:           "group",
		ScheduledAt:     time.Now().Add(time.Hour),
		DurationMinutes: 60,
		MaxParticipants: 5,
		Status:          status,
	})
	var users []uuid.UUID
	joined := time.Now().Add(-time.Hour)
	for i, st := range []models.ParticipantStatus{models.ParticipantRegistered, models.ParticipantConfirmed, models.ParticipantCancelled} {
		u := uuid.New()
		db.AddParticipant(models.Participant{SessionID: s.ID, UserID: u, Status: st, JoinedAt: joined.Add(time.Duration(i) * time.Second)})
		users = append(users, u)
	}
	return db, s, users
}

func reminderJob(t *testing.T, s *models.Session) *queue.Job {
	job, err := queue.NewJob(queue.JobTypeSessionReminder, queue.SessionReminderPayload{SessionID: s.ID, Milestone: "reminder_1h"})
	require.NoError(t, err)
	return job
}

func TestReminderProcessor_FanOut(t *testing.T) {
	db, s, users := seeded(models.SessionScheduled)
	box := &inbox{}
	p := worker.NewReminderProcessor(db, newMemLog(), box, nil)

	require.NoError(t, p.Process(context.Background(), reminderJob(t, s)))
	assert.ElementsMatch(t, users[:2], box.got)
}

func TestReminderProcessor_RetrySkipsDelivered(t *testing.T) {
	db, s, users := seeded(models.SessionScheduled)
	log := newMemLog()
	box := &inbox{fail: map[uuid.UUID]bool{users[1]: true}}
	p := worker.NewReminderProcessor(db, log, box, nil)
	job := reminderJob(t, s)

	assert.Error(t, p.Process(context.Background(), job))
	assert.Equal(t, []uuid.UUID{users[0]}, box.got)

	box.fail = nil
	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, []uuid.UUID{users[0], users[1]}, box.got)
}

func TestReminderProcessor_DropsForCancelledSession(t *testing.T) {
	db, s, _ := seeded(models.SessionCancelled)
	box := &inbox{}
	require.NoError(t, worker.NewReminderProcessor(db, newMemLog(), box, nil).Process(context.Background(), reminderJob(t, s)))
	assert.Empty(t, box.got)
}

type memObjects struct {
	keys []string
	docs []interface{}
}

func (m *memObjects) PutJSON(_ context.Context, key string, v interface{}) (string, error) {
	m.keys = append(m.keys, key)
	m.docs = append(m.docs, v)
	return "s3://" + key, nil
}

func TestExportProcessor(t *testing.T) {
	db, s, _ := seeded(models.SessionCompleted)
	objs := &memObjects{}
	p := worker.NewExportProcessor(db, objs, nil)
	job, err := queue.NewJob(queue.JobTypeAttendanceExport, queue.AttendanceExportPayload{SessionID: s.ID})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), job))
	require.Equal(t, []string{"attendance/" + s.ID.String() + ".json"}, objs.keys)
	doc := objs.docs[0].(worker.AttendanceRoster)
	assert.Equal(t, s.ID, doc.SessionID)
	assert.Len(t, doc.Participants, 3)
}

func TestExportProcessor_SkipsUnfinished(t *testing.T) {
	db, s, _ := seeded(models.SessionLive)
	objs := &memObjects{}
	job, _ := queue.NewJob(queue.JobTypeAttendanceExport, queue.AttendanceExportPayload{SessionID: s.ID})
	require.NoError(t, worker.NewExportProcessor(db, objs, nil).Process(context.Background(), job))
	assert.Empty(t, objs.keys)
}

type countingProcessor struct{ n int }

func (c *countingProcessor) Process(context.Context, *queue.Job) error { c.n++; return nil }

func TestRunner_RoutesByType(t *testing.T) {
	r := worker.NewRunner(nil, nil)
	exports := &countingProcessor{}
	r.Handle(queue.JobTypeAttendanceExport, exports)

	job, _ := queue.NewJob(queue.JobTypeAttendanceExport, queue.AttendanceExportPayload{})
	require.NoError(t, r.Process(context.Background(), job))
	assert.Equal(t, 1, exports.n)

	job, _ = queue.NewJob(queue.JobTypeSessionReminder, queue.SessionReminderPayload{})
	assert.Error(t, r.Process(context.Background(), job))
}
