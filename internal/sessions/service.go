// Package sessions manages group sessions and operator-driven status changes.
package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
)

// EventSessionStatus is published whenever a session changes status.
const EventSessionStatus = "session_status"

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	List(ctx context.Context, f ListFilter) ([]models.Session, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition) (bool, error)
}

// RoomReleaser tears down the live room of a cancelled session.
type RoomReleaser interface {
	DeleteRoom(ctx context.Context, roomHandle string) error
}

// Publisher fans session events out to connected clients.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error
}

// Exporter hands a completed session's roster to the points system.
type Exporter interface {
	EnqueueAttendanceExport(ctx context.Context, sessionID uuid.UUID) error
}

// CreateInput is the data needed to schedule a session.
type CreateInput struct {
	TherapistID     *uuid.UUID
	Title           string
	Description     string
	ScheduledAt     time.Time
	DurationMinutes int
	MaxParticipants int
}

// Service implements session creation, lookup and explicit transitions.
type Service struct {
	store     Store
	rooms     RoomReleaser
	publisher Publisher
	exporter  Exporter
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a session service. rooms and publisher may be nil.
func NewService(store Store, rooms RoomReleaser, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, rooms: rooms, publisher: publisher, logger: logger, now: time.Now}
}

// SetExporter enables attendance export on explicit completion.
func (s *Service) SetExporter(e Exporter) { s.exporter = e }

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create schedules a new session owned by the acting therapist (or, for admins, by input.TherapistID).
func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.Session, error) {
	owner := actor.UserID
	switch actor.Role {
	case models.RoleTherapist:
	case models.RoleAdmin:
		if in.TherapistID != nil {
			owner = *in.TherapistID
		}
	default:
		return nil, apperr.Wrap(apperr.ErrUnauthorized, "only therapists can schedule sessions")
	}
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return nil, apperr.Wrap(apperr.ErrInvalid, "title required")
	case in.DurationMinutes <= 0:
		return nil, apperr.Wrap(apperr.ErrInvalid, "duration_minutes must be positive")
	case in.MaxParticipants <= 0:
		return nil, apperr.Wrap(apperr.ErrInvalid, "max_participants must be positive")
	case !in.ScheduledAt.After(s.now()):
		return nil, apperr.Wrap(apperr.ErrInvalid, "scheduled_at must be in the future")
	}
	sess := &models.Session{
		TherapistID:     owner,
		Title:           title,
		Description:     in.Description,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		MaxParticipants: in.MaxParticipants,
		Status:          models.SessionScheduled,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("session scheduled",
		zap.String("session_id", sess.ID.String()),
		zap.String("therapist_id", owner.String()),
		zap.Time("scheduled_at", sess.ScheduledAt))
	return sess, nil
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.store.GetByID(ctx, id)
}

// List returns sessions matching f.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Session, error) {
	return s.store.List(ctx, f)
}

// SetStatus applies an operator-requested transition. Only the owning therapist or an admin may call it.
func (s *Service) SetStatus(ctx context.Context, actor models.Actor, id uuid.UUID, target models.SessionStatus) (*models.Session, error) {
	sess, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(sess) {
		return nil, apperr.Wrap(apperr.ErrUnauthorized, "not the session owner")
	}
	tr, err := lifecycle.Explicit(sess, target, s.now())
	if err != nil {
		return nil, err
	}
	applied, err := s.store.ApplyTransition(ctx, id, tr)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "session %s changed concurrently", id)
	}
	log := s.logger.With(
		zap.String("session_id", id.String()),
		zap.String("transition", string(tr.Kind)),
		zap.String("actor_id", actor.UserID.String()))
	log.Info("session status changed", zap.String("from", string(tr.From)), zap.String("to", string(tr.To)))

	if tr.To == models.SessionCancelled && s.rooms != nil {
		if err := s.rooms.DeleteRoom(ctx, sess.RoomHandle()); err != nil {
			log.Warn("release live room failed", zap.Error(err))
		}
	}
	if tr.To == models.SessionCompleted && s.exporter != nil {
		if err := s.exporter.EnqueueAttendanceExport(ctx, id); err != nil {
			log.Warn("enqueue attendance export failed", zap.Error(err))
		}
	}
	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		log.Warn("reload session after transition failed", zap.Error(err))
		updated = afterTransition(sess, tr, s.now())
	}
	s.publish(ctx, updated, log)
	return updated, nil
}

// afterTransition returns sess as it looks after tr was written.
func afterTransition(sess *models.Session, tr lifecycle.Transition, now time.Time) *models.Session {
	out := *sess
	out.Status = tr.To
	if tr.EndedAt != nil {
		end := *tr.EndedAt
		out.EndedAt = &end
	}
	out.UpdatedAt = now.UTC()
	return &out
}

func (s *Service) publish(ctx context.Context, sess *models.Session, log *zap.Logger) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSessionEvent(ctx, sess.ID, EventSessionStatus, StatusEvent(sess)); err != nil {
		log.Warn("publish session status failed", zap.Error(err))
	}
}

// StatusEvent is the payload broadcast on EventSessionStatus.
func StatusEvent(sess *models.Session) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sess.ID,
		"status":     sess.Status,
		"ended_at":   sess.EndedAt,
	}
}
