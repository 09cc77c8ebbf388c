package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/internal/sessions"
)

const uniqueViolation = "23505"

// Repository persists participants. Capacity checks are serialized per
// session by the row lock taken in WithSessionLock.
type Repository struct {
	pool *pgxpool.Pool
	*sessions.Repository
}

// NewRepository creates an enrollment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, Repository: sessions.NewRepository(pool)}
}

// WithSessionLock runs fn in a transaction holding SELECT ... FOR UPDATE on the session row.
func (r *Repository) WithSessionLock(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := sessions.Scan(tx.QueryRow(ctx, `SELECT `+sessions.Columns+` FROM sessions WHERE id = $1 FOR UPDATE`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Wrap(apperr.ErrNotFound, "session %s", sessionID)
		}
		return fmt.Errorf("lock session: %w", err)
	}
	if err := fn(ctx, &lockedSession{tx: tx, session: sess}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetParticipant returns the enrollment for (sessionID, userID), or nil if none exists.
func (r *Repository) GetParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	return getParticipant(ctx, r.pool, sessionID, userID)
}

// ListParticipants returns a session's participants in join order.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, user_id, status, joined_at FROM session_participants WHERE session_id = $1 ORDER BY joined_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		var status string
		if err := rows.Scan(&p.SessionID, &p.UserID, &status, &p.JoinedAt); err != nil {
			return nil, err
		}
		p.Status = models.ParticipantStatus(status)
		list = append(list, p)
	}
	return list, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func getParticipant(ctx context.Context, q querier, sessionID, userID uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	var status string
	err := q.QueryRow(ctx,
		`SELECT session_id, user_id, status, joined_at FROM session_participants WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID).Scan(&p.SessionID, &p.UserID, &status, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	p.Status = models.ParticipantStatus(status)
	return &p, nil
}

type lockedSession struct {
	tx      pgx.Tx
	session *models.Session
}

func (l *lockedSession) Session() *models.Session { return l.session }

func (l *lockedSession) CountActive(ctx context.Context) (int, error) {
	var n int
	err := l.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_participants WHERE session_id = $1 AND status <> $2`,
		l.session.ID, string(models.ParticipantCancelled)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}

func (l *lockedSession) Participant(ctx context.Context, userID uuid.UUID) (*models.Participant, error) {
	return getParticipant(ctx, l.tx, l.session.ID, userID)
}

func (l *lockedSession) Insert(ctx context.Context, p *models.Participant) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO session_participants (session_id, user_id, status, joined_at) VALUES ($1, $2, $3, $4)`,
		p.SessionID, p.UserID, string(p.Status), p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.ErrAlreadyEnrolled
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (l *lockedSession) Delete(ctx context.Context, userID uuid.UUID) error {
	tag, err := l.tx.Exec(ctx, `DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2`, l.session.ID, userID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "no enrollment")
	}
	return nil
}

func (l *lockedSession) SetStatus(ctx context.Context, userID uuid.UUID, status models.ParticipantStatus) error {
	_, err := l.tx.Exec(ctx, `UPDATE session_participants SET status = $1 WHERE session_id = $2 AND user_id = $3`,
		string(status), l.session.ID, userID)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}
