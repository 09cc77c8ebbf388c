package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
)

// Columns is the select list matching Scan.
const Columns = `id, therapist_id, title, description, scheduled_at, duration_minutes, max_participants,
	status, ended_at, reminder_sent, starting_sent, created_at, updated_at`

// Scan reads one session row selected with Columns.
func Scan(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var status string
	err := row.Scan(&s.ID, &s.TherapistID, &s.Title, &s.Description, &s.ScheduledAt, &s.DurationMinutes, &s.MaxParticipants,
		&status, &s.EndedAt, &s.ReminderSent, &s.StartingSent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

// ListFilter narrows List results. Zero fields are ignored.
type ListFilter struct {
	TherapistID *uuid.UUID
	Status      *models.SessionStatus
	From        *time.Time
	To          *time.Time
	Limit       int
}

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new SCHEDULED session.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (id, therapist_id, title, description, scheduled_at, duration_minutes, max_participants, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, reminder_sent, starting_sent, created_at, updated_at`
	var status string
	err := r.pool.QueryRow(ctx, q, s.TherapistID, s.Title, s.Description, s.ScheduledAt, s.DurationMinutes, s.MaxParticipants, string(models.SessionScheduled)).
		Scan(&s.ID, &status, &s.ReminderSent, &s.StartingSent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.Status = models.SessionStatus(status)
	return nil
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := Scan(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "session %s", id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// List returns sessions matching the filter ordered by scheduled_at.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Session, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.TherapistID != nil {
		add("therapist_id = ?", *f.TherapistID)
	}
	if f.Status != nil {
		add("status = ?", string(*f.Status))
	}
	if f.From != nil {
		add("scheduled_at >= ?", *f.From)
	}
	if f.To != nil {
		add("scheduled_at < ?", *f.To)
	}
	q := `SELECT ` + Columns + ` FROM sessions`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY scheduled_at"
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := Scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListCandidates returns sessions in one of statuses with scheduled_at in [from, to],
// each with its non-cancelled participant count.
func (r *Repository) ListCandidates(ctx context.Context, statuses []models.SessionStatus, from, to time.Time) ([]models.SessionWithCount, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	q := `SELECT ` + prefixed("s.") + `,
		(SELECT COUNT(*) FROM session_participants p WHERE p.session_id = s.id AND p.status <> 'CANCELLED')
		FROM sessions s
		WHERE s.status = ANY($1) AND s.scheduled_at BETWEEN $2 AND $3
		ORDER BY s.scheduled_at`
	rows, err := r.pool.Query(ctx, q, names, from, to)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()
	var list []models.SessionWithCount
	for rows.Next() {
		var c models.SessionWithCount
		var status string
		if err := rows.Scan(&c.ID, &c.TherapistID, &c.Title, &c.Description, &c.ScheduledAt, &c.DurationMinutes, &c.MaxParticipants,
			&status, &c.EndedAt, &c.ReminderSent, &c.StartingSent, &c.CreatedAt, &c.UpdatedAt, &c.ParticipantCount); err != nil {
			return nil, err
		}
		c.Status = models.SessionStatus(status)
		list = append(list, c)
	}
	return list, rows.Err()
}

// ListPendingReminders returns SCHEDULED sessions starting in [from, to) with at least one unsent milestone flag.
func (r *Repository) ListPendingReminders(ctx context.Context, from, to time.Time) ([]models.Session, error) {
	q := `SELECT ` + Columns + ` FROM sessions
		WHERE status = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		AND (reminder_sent = FALSE OR starting_sent = FALSE)
		ORDER BY scheduled_at`
	rows, err := r.pool.Query(ctx, q, string(models.SessionScheduled), from, to)
	if err != nil {
		return nil, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := Scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ApplyTransition writes tr conditioned on the session still being in tr.From,
// together with its participant rewrites. It reports false when another writer got there first.
func (r *Repository) ApplyTransition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if tr.RequireNoParticipants {
		// Enrollment holds this row lock while inserting, so once we own it
		// every committed participant is visible to the count below.
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("lock session: %w", err)
		}
		if status != string(tr.From) {
			return false, nil
		}
		var active int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM session_participants WHERE session_id = $1 AND status <> $2`,
			id, string(models.ParticipantCancelled)).Scan(&active); err != nil {
			return false, fmt.Errorf("count participants: %w", err)
		}
		if active > 0 {
			return false, nil
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET status = $1, ended_at = COALESCE($2, ended_at), updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		string(tr.To), tr.EndedAt, id, string(tr.From))
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	for _, rw := range tr.Rewrites {
		if rw.From == "" {
			_, err = tx.Exec(ctx, `UPDATE session_participants SET status = $1 WHERE session_id = $2 AND status <> $1`,
				string(rw.To), id)
		} else {
			_, err = tx.Exec(ctx, `UPDATE session_participants SET status = $1 WHERE session_id = $2 AND status = $3`,
				string(rw.To), id, string(rw.From))
		}
		if err != nil {
			return false, fmt.Errorf("rewrite participants %s->%s: %w", rw.From, rw.To, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// MarkMilestoneSent sets the milestone's flag. It reports false if the flag was already set.
func (r *Repository) MarkMilestoneSent(ctx context.Context, id uuid.UUID, m lifecycle.Milestone) (bool, error) {
	col, err := milestoneColumn(m)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET `+col+` = TRUE, updated_at = NOW() WHERE id = $1 AND `+col+` = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", m.Name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func milestoneColumn(m lifecycle.Milestone) (string, error) {
	switch m {
	case lifecycle.OneHour:
		return "reminder_sent", nil
	case lifecycle.FiveMinutes:
		return "starting_sent", nil
	}
	return "", fmt.Errorf("unknown milestone %q", m.Name)
}

func prefixed(p string) string {
	cols := strings.Split(Columns, ",")
	for i, c := range cols {
		cols[i] = p + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
