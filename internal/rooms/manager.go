// Package rooms controls access to a session's live conferencing room.
// The room itself is provisioned by ZEGOCLOUD; the handle is the session ID.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/models"
)

// EventRoomClosed tells connected clients to leave the room.
const EventRoomClosed = "room_closed"

// DefaultTokenTTL is how long a join token stays valid.
const DefaultTokenTTL = 4 * time.Hour

// SessionReader loads sessions and enrollments.
type SessionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error)
}

// Publisher delivers session events.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error
}

// Credentials for ZEGOCLOUD token04.
type Credentials struct {
	AppID        uint32
	ServerSecret string
	TokenTTL     time.Duration
}

// Configured reports whether tokens can be issued.
func (c Credentials) Configured() bool { return c.AppID != 0 && c.ServerSecret != "" }

// JoinToken is returned to a client joining the room.
type JoinToken struct {
	Token     string    `json:"token"`
	AppID     uint32    `json:"app_id"`
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrNotConfigured is returned by Token when no ZEGOCLOUD credentials are set.
var ErrNotConfigured = errors.New("room provider not configured")

// Manager issues join tokens and closes rooms.
type Manager struct {
	store     SessionReader
	publisher Publisher
	creds     Credentials
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a room manager. publisher may be nil.
func NewManager(store SessionReader, publisher Publisher, creds Credentials, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if creds.TokenTTL <= 0 {
		creds.TokenTTL = DefaultTokenTTL
	}
	return &Manager{store: store, publisher: publisher, creds: creds, logger: logger, now: time.Now}
}

// Authorize admits the owning therapist, an admin, or a participant who has not cancelled.
func (m *Manager) Authorize(ctx context.Context, actor models.Actor, sessionID uuid.UUID) error {
	_, err := m.authorize(ctx, actor, sessionID)
	return err
}

func (m *Manager) authorize(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.CanManage(sess) {
		return sess, nil
	}
	p, err := m.store.GetParticipant(ctx, sessionID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status == models.ParticipantCancelled {
		return nil, apperr.Wrap(apperr.ErrUnauthorized, "not a participant")
	}
	return sess, nil
}

// Token issues a join token for a LIVE session.
func (m *Manager) Token(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*JoinToken, error) {
	if !m.creds.Configured() {
		return nil, ErrNotConfigured
	}
	sess, err := m.authorize(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionLive {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "session is %s", sess.Status)
	}
	ttl := int64(m.creds.TokenTTL / time.Second)
	tok, err := GenerateRoomToken(m.creds.AppID, m.creds.ServerSecret, sess.RoomHandle(), actor.UserID.String(), ttl)
	if err != nil {
		return nil, fmt.Errorf("generate room token: %w", err)
	}
	return &JoinToken{
		Token:     tok,
		AppID:     m.creds.AppID,
		RoomID:    sess.RoomHandle(),
		ExpiresAt: m.now().Add(m.creds.TokenTTL).UTC(),
	}, nil
}

// DeleteRoom closes the room for everyone connected to it.
func (m *Manager) DeleteRoom(ctx context.Context, roomHandle string) error {
	id, err := uuid.Parse(roomHandle)
	if err != nil {
		return fmt.Errorf("room handle %q: %w", roomHandle, err)
	}
	m.logger.Info("closing live room", zap.String("session_id", roomHandle))
	if m.publisher == nil {
		return nil
	}
	return m.publisher.PublishSessionEvent(ctx, id, EventRoomClosed, map[string]string{"room_id": roomHandle})
}
