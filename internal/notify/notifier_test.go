package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/queue"
)

type fakeQueue struct {
	got []queue.SessionReminderPayload
	err error
}

func (f *fakeQueue) EnqueueSessionReminder(_ context.Context, p queue.SessionReminderPayload) error {
	f.got = append(f.got, p)
	return f.err
}

type fakePublisher struct {
	events []string
	err    error
}

func (f *fakePublisher) PublishSessionEvent(_ context.Context, _ uuid.UUID, event string, _ interface{}) error {
	f.events = append(f.events, event)
	return f.err
}

func session() *models.Session {
	return &models.Session{ID: uuid.New(), Title: "Mindfulness", ScheduledAt: time.Now().Add(time.Hour)}
}

func TestNotify_EnqueuesAndPublishes(t *testing.T) {
	q, pub := &fakeQueue{}, &fakePublisher{}
	s := session()
	require.NoError(t, NewQueueNotifier(q, pub, nil).Notify(context.Background(), s, lifecycle.OneHour))

	require.Len(t, q.got, 1)
	assert.Equal(t, s.ID, q.got[0].SessionID)
	assert.Equal(t, lifecycle.OneHour.Name, q.got[0].Milestone)
	assert.Equal(t, []string{EventSessionReminder}, pub.events)
}

func TestNotify_EnqueueFailureIsReported(t *testing.T) {
	q, pub := &fakeQueue{err: errors.New("redis down")}, &fakePublisher{}
	err := NewQueueNotifier(q, pub, nil).Notify(context.Background(), session(), lifecycle.FiveMinutes)
	assert.Error(t, err)
	assert.Empty(t, pub.events)
}

func TestNotify_PublishFailureIgnored(t *testing.T) {
	q, pub := &fakeQueue{}, &fakePublisher{err: errors.New("no subscribers")}
	assert.NoError(t, NewQueueNotifier(q, pub, nil).Notify(context.Background(), session(), lifecycle.FiveMinutes))
}
