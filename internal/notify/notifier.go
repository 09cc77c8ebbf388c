// Package notify hands reminder milestones to the notification worker.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/queue"
)

// EventSessionReminder is broadcast to a session's watchers when a milestone fires.
const EventSessionReminder = "session_reminder"

// Enqueuer accepts reminder fan-out jobs.
type Enqueuer interface {
	EnqueueSessionReminder(ctx context.Context, payload queue.SessionReminderPayload) error
}

// Publisher delivers session events.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error
}

// QueueNotifier reports success once the reminder job is durably queued.
// The realtime event is best-effort.
type QueueNotifier struct {
	queue     Enqueuer
	publisher Publisher
	logger    *zap.Logger
}

// NewQueueNotifier creates a notifier. publisher may be nil.
func NewQueueNotifier(q Enqueuer, publisher Publisher, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, publisher: publisher, logger: logger}
}

// Notify enqueues the fan-out job and announces the milestone.
func (n *QueueNotifier) Notify(ctx context.Context, s *models.Session, m lifecycle.Milestone) error {
	payload := queue.SessionReminderPayload{
		SessionID:   s.ID,
		Milestone:   m.Name,
		Title:       s.Title,
		ScheduledAt: s.ScheduledAt,
	}
	if err := n.queue.EnqueueSessionReminder(ctx, payload); err != nil {
		return fmt.Errorf("enqueue reminder: %w", err)
	}
	if n.publisher != nil {
		if err := n.publisher.PublishSessionEvent(ctx, s.ID, EventSessionReminder, payload); err != nil {
			n.logger.Warn("publish reminder event failed",
				zap.String("session_id", s.ID.String()),
				zap.String("milestone", m.Name),
				zap.Error(err))
		}
	}
	return nil
}
