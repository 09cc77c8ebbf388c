package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupcare/backend/internal/models"
)

// Repository handles notification_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin records a pending delivery, or returns the existing row for the same
// (session, user, milestone) so a retried job can skip users already notified.
func (r *Repository) Begin(ctx context.Context, sessionID, userID uuid.UUID, milestone string) (uuid.UUID, string, error) {
	var id uuid.UUID
	var status string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notification_logs (session_id, user_id, milestone, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, user_id, milestone) DO UPDATE SET status = notification_logs.status
		 RETURNING id, status`,
		sessionID, userID, milestone, models.NotificationStatusPending).Scan(&id, &status)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("begin notification log: %w", err)
	}
	return id, status, nil
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_logs SET status = $1, sent_at = NOW(), error_message = NULL WHERE id = $2`,
		models.NotificationStatusSent, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_logs SET status = $1, error_message = $2 WHERE id = $3`,
		models.NotificationStatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// ListBySession returns notification logs for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.NotificationLog, error) {
	const q = `SELECT id, session_id, user_id, milestone, status, sent_at, error_message, created_at
		FROM notification_logs
		WHERE session_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.NotificationLog
	for rows.Next() {
		var nl models.NotificationLog
		var errMsg *string
		if err := rows.Scan(&nl.ID, &nl.SessionID, &nl.UserID, &nl.Milestone, &nl.Status, &nl.SentAt, &errMsg, &nl.CreatedAt); err != nil {
			return nil, err
		}
		if errMsg != nil {
			nl.ErrorMessage = *errMsg
		}
		list = append(list, &nl)
	}
	return list, rows.Err()
}
