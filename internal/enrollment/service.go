// Package enrollment registers patients into sessions under the capacity limit.
package enrollment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/models"
)

// CancelCutoff is the minimum notice before scheduled start for cancelling an enrollment.
const CancelCutoff = 24 * time.Hour

// Tx is the view of one session while its row is locked. Every read and
// write through it commits or rolls back together.
type Tx interface {
	Session() *models.Session
	CountActive(ctx context.Context) (int, error)
	Participant(ctx context.Context, userID uuid.UUID) (*models.Participant, error)
	Insert(ctx context.Context, p *models.Participant) error
	Delete(ctx context.Context, userID uuid.UUID) error
	SetStatus(ctx context.Context, userID uuid.UUID, status models.ParticipantStatus) error
}

// Store is the persistence the enrollment service needs.
type Store interface {
	// WithSessionLock runs fn inside a transaction that holds the session's
	// row lock. A missing session yields apperr.ErrNotFound; an error from fn
	// rolls the transaction back.
	WithSessionLock(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
	GetParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Status is the answer to an enrollment query.
type Status struct {
	Enrolled bool                      `json:"enrolled"`
	Status   *models.ParticipantStatus `json:"status,omitempty"`
}

// Service implements enroll, cancel, confirm and query.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an enrollment service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Enroll registers the acting patient in a session.
func (s *Service) Enroll(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.Participant, error) {
	if !actor.CanEnroll() {
		return nil, apperr.Wrap(apperr.ErrNotEligible, "role %q cannot enroll", actor.Role)
	}
	var created *models.Participant
	err := s.store.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx Tx) error {
		sess := tx.Session()
		if sess.Status != models.SessionScheduled {
			return apperr.Wrap(apperr.ErrInvalidState, "session is %s", sess.Status)
		}
		existing, err := tx.Participant(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.ErrAlreadyEnrolled
		}
		n, err := tx.CountActive(ctx)
		if err != nil {
			return err
		}
		if n >= sess.MaxParticipants {
			return apperr.Wrap(apperr.ErrFull, "%d of %d places taken", n, sess.MaxParticipants)
		}
		p := &models.Participant{
			SessionID: sessionID,
			UserID:    actor.UserID,
			Status:    models.ParticipantRegistered,
			JoinedAt:  s.now().UTC(),
		}
		if err := tx.Insert(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("participant enrolled",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", actor.UserID.String()))
	return created, nil
}

// Cancel removes the acting user's enrollment. It is allowed only while the
// session is SCHEDULED and at least CancelCutoff before start.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, sessionID uuid.UUID) error {
	err := s.store.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx Tx) error {
		p, err := tx.Participant(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.Wrap(apperr.ErrNotFound, "no enrollment")
		}
		sess := tx.Session()
		if sess.Status != models.SessionScheduled {
			return apperr.Wrap(apperr.ErrInvalidState, "session is %s", sess.Status)
		}
		if sess.ScheduledAt.Sub(s.now()) < CancelCutoff {
			return apperr.ErrTooLate
		}
		return tx.Delete(ctx, actor.UserID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("enrollment cancelled",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", actor.UserID.String()))
	return nil
}

// Confirm marks a REGISTERED participant as CONFIRMED. The participant
// themself, the owning therapist or an admin may confirm.
func (s *Service) Confirm(ctx context.Context, actor models.Actor, sessionID, userID uuid.UUID) (*models.Participant, error) {
	var out *models.Participant
	err := s.store.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx Tx) error {
		sess := tx.Session()
		if actor.UserID != userID && !actor.CanManage(sess) {
			return apperr.Wrap(apperr.ErrUnauthorized, "cannot confirm another participant")
		}
		p, err := tx.Participant(ctx, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.Wrap(apperr.ErrNotFound, "no enrollment")
		}
		if sess.Status != models.SessionScheduled && sess.Status != models.SessionLive {
			return apperr.Wrap(apperr.ErrInvalidState, "session is %s", sess.Status)
		}
		switch p.Status {
		case models.ParticipantConfirmed:
		case models.ParticipantRegistered:
			if err := tx.SetStatus(ctx, userID, models.ParticipantConfirmed); err != nil {
				return err
			}
			p.Status = models.ParticipantConfirmed
		default:
			return apperr.Wrap(apperr.ErrInvalidState, "participant is %s", p.Status)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Query reports whether userID is enrolled in sessionID. Absence is not an error.
func (s *Service) Query(ctx context.Context, sessionID, userID uuid.UUID) (Status, error) {
	p, err := s.store.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return Status{}, err
	}
	if p == nil {
		return Status{}, nil
	}
	st := p.Status
	return Status{Enrolled: true, Status: &st}, nil
}

// CanInspect reports whether actor may read enrollments of other users in the session.
func (s *Service) CanInspect(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (bool, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return actor.CanManage(sess), nil
}

// ListParticipants returns the roster for the session owner or an admin.
func (s *Service) ListParticipants(ctx context.Context, actor models.Actor, sessionID uuid.UUID) ([]models.Participant, error) {
	ok, err := s.CanInspect(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Wrap(apperr.ErrUnauthorized, "not the session owner")
	}
	return s.store.ListParticipants(ctx, sessionID)
}
