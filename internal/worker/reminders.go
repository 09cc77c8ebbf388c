package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/queue"
)

// EventReminder is delivered to each participant's own channel.
const EventReminder = "session_reminder"

// Roster loads a session and its participants.
type Roster interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
}

// DeliveryLog records per-participant delivery.
type DeliveryLog interface {
	Begin(ctx context.Context, sessionID, userID uuid.UUID, milestone string) (uuid.UUID, string, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Deliverer pushes a notification to one user.
type Deliverer interface {
	PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error
}

// ReminderProcessor fans a session reminder out to every active participant.
type ReminderProcessor struct {
	roster  Roster
	log     DeliveryLog
	deliver Deliverer
	logger  *zap.Logger
}

// NewReminderProcessor creates a reminder fan-out processor.
func NewReminderProcessor(roster Roster, log DeliveryLog, deliver Deliverer, logger *zap.Logger) *ReminderProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderProcessor{roster: roster, log: log, deliver: deliver, logger: logger}
}

// Process delivers the reminder to participants not yet notified. Any failed
// delivery fails the job so a retry reaches the remaining users.
func (p *ReminderProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.SessionReminderPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	log := p.logger.With(zap.String("session_id", payload.SessionID.String()), zap.String("milestone", payload.Milestone))

	sess, err := p.roster.GetByID(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Status != models.SessionScheduled {
		log.Info("session no longer scheduled, reminder dropped", zap.String("status", string(sess.Status)))
		return nil
	}
	participants, err := p.roster.ListParticipants(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	failed := 0
	for _, part := range participants {
		if part.Status == models.ParticipantCancelled {
			continue
		}
		id, status, err := p.log.Begin(ctx, part.SessionID, part.UserID, payload.Milestone)
		if err != nil {
			return err
		}
		if status == models.NotificationStatusSent {
			continue
		}
		if err := p.deliver.PublishUserEvent(ctx, part.UserID, EventReminder, payload); err != nil {
			failed++
			log.Warn("reminder delivery failed", zap.String("user_id", part.UserID.String()), zap.Error(err))
			if mErr := p.log.MarkFailed(ctx, id, err.Error()); mErr != nil {
				log.Error("record delivery failure", zap.Error(mErr))
			}
			continue
		}
		if err := p.log.MarkSent(ctx, id); err != nil {
			log.Error("record delivery", zap.String("user_id", part.UserID.String()), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reminder deliveries failed", failed, len(participants))
	}
	log.Info("reminder fan-out done", zap.Int("participants", len(participants)))
	return nil
}
