// Package memstore implements the session and enrollment stores in memory
// for development and testing. Writes to one session are serialized by a
// per-session mutex, the same guarantee the Postgres row lock provides.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/enrollment"
	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/internal/sessions"
)

// DB is an in-memory session and participant store.
type DB struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]*models.Session
	participants map[uuid.UUID]map[uuid.UUID]models.Participant

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// New creates an empty store.
func New() *DB {
	return &DB{
		sessions:     make(map[uuid.UUID]*models.Session),
		participants: make(map[uuid.UUID]map[uuid.UUID]models.Participant),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// Ensure interfaces are met.
var _ sessions.Store = (*DB)(nil)
var _ enrollment.Store = (*DB)(nil)

func (db *DB) lockFor(id uuid.UUID) *sync.Mutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	m, ok := db.locks[id]
	if !ok {
		m = &sync.Mutex{}
		db.locks[id] = m
	}
	return m
}

// --- sessions ---

// Create stores a new SCHEDULED session.
func (db *DB) Create(_ context.Context, s *models.Session) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.Status = models.SessionScheduled
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	db.sessions[s.ID] = &cp
	return nil
}

// Put stores s as-is, replacing any session with the same ID. For test setup.
func (db *DB) Put(s models.Session) *models.Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	db.sessions[s.ID] = &s
	out := s
	return &out
}

// AddParticipant stores p without capacity checks. For test setup.
func (db *DB) AddParticipant(p models.Participant) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.participants[p.SessionID] == nil {
		db.participants[p.SessionID] = make(map[uuid.UUID]models.Participant)
	}
	db.participants[p.SessionID][p.UserID] = p
}

// GetByID returns a copy of the session.
func (db *DB) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.sessions[id]
	if !ok {
		return nil, apperr.Wrap(apperr.ErrNotFound, "session %s", id)
	}
	cp := *s
	return &cp, nil
}

// List returns sessions matching f ordered by scheduled time.
func (db *DB) List(_ context.Context, f sessions.ListFilter) ([]models.Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.Session
	for _, s := range db.sessions {
		if f.TherapistID != nil && s.TherapistID != *f.TherapistID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.From != nil && s.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !s.ScheduledAt.Before(*f.To) {
			continue
		}
		out = append(out, *s)
	}
	sortByStart(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListCandidates returns sessions in statuses with scheduled_at in [from, to] and their live participant counts.
func (db *DB) ListCandidates(_ context.Context, statuses []models.SessionStatus, from, to time.Time) ([]models.SessionWithCount, error) {
	want := make(map[models.SessionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	var list []models.Session
	for _, s := range db.sessions {
		if want[s.Status] && !s.ScheduledAt.Before(from) && !s.ScheduledAt.After(to) {
			list = append(list, *s)
		}
	}
	sortByStart(list)
	out := make([]models.SessionWithCount, 0, len(list))
	for _, s := range list {
		out = append(out, models.SessionWithCount{Session: s, ParticipantCount: db.activeCount(s.ID)})
	}
	return out, nil
}

// ListPendingReminders returns SCHEDULED sessions starting in [from, to) with an unsent milestone.
func (db *DB) ListPendingReminders(_ context.Context, from, to time.Time) ([]models.Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.Session
	for _, s := range db.sessions {
		if s.Status != models.SessionScheduled || (s.ReminderSent && s.StartingSent) {
			continue
		}
		if !s.ScheduledAt.Before(from) && s.ScheduledAt.Before(to) {
			out = append(out, *s)
		}
	}
	sortByStart(out)
	return out, nil
}

// ApplyTransition writes tr if the session is still in tr.From.
func (db *DB) ApplyTransition(_ context.Context, id uuid.UUID, tr lifecycle.Transition) (bool, error) {
	l := db.lockFor(id)
	l.Lock()
	defer l.Unlock()

	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.sessions[id]
	if !ok {
		return false, apperr.Wrap(apperr.ErrNotFound, "session %s", id)
	}
	if s.Status != tr.From {
		return false, nil
	}
	if tr.RequireNoParticipants && db.activeCount(id) > 0 {
		return false, nil
	}
	s.Status = tr.To
	if tr.EndedAt != nil {
		end := *tr.EndedAt
		s.EndedAt = &end
	}
	s.UpdatedAt = time.Now().UTC()
	for uid, p := range db.participants[id] {
		for _, rw := range tr.Rewrites {
			if next, ok := rw.Apply(p.Status); ok {
				p.Status = next
				break
			}
		}
		db.participants[id][uid] = p
	}
	return true, nil
}

// MarkMilestoneSent sets the milestone flag, reporting false if it was already set.
func (db *DB) MarkMilestoneSent(_ context.Context, id uuid.UUID, m lifecycle.Milestone) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.sessions[id]
	if !ok {
		return false, apperr.Wrap(apperr.ErrNotFound, "session %s", id)
	}
	flag := &s.StartingSent
	if m == lifecycle.OneHour {
		flag = &s.ReminderSent
	}
	if *flag {
		return false, nil
	}
	*flag = true
	return true, nil
}

// --- participants ---

// GetParticipant returns the enrollment or nil.
func (db *DB) GetParticipant(_ context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.participants[sessionID][userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListParticipants returns a session's participants in join order.
func (db *DB) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]models.Participant, 0, len(db.participants[sessionID]))
	for _, p := range db.participants[sessionID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// WithSessionLock runs fn against a copy of the session's participants and
// publishes the copy only if fn succeeds.
func (db *DB) WithSessionLock(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx enrollment.Tx) error) error {
	l := db.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	db.mu.RLock()
	s, ok := db.sessions[sessionID]
	if !ok {
		db.mu.RUnlock()
		return apperr.Wrap(apperr.ErrNotFound, "session %s", sessionID)
	}
	tx := &memTx{session: *s, participants: make(map[uuid.UUID]models.Participant)}
	for k, v := range db.participants[sessionID] {
		tx.participants[k] = v
	}
	db.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	db.mu.Lock()
	db.participants[sessionID] = tx.participants
	db.mu.Unlock()
	return nil
}

func (db *DB) activeCount(sessionID uuid.UUID) int {
	n := 0
	for _, p := range db.participants[sessionID] {
		if p.Status != models.ParticipantCancelled {
			n++
		}
	}
	return n
}

func sortByStart(list []models.Session) {
	sort.Slice(list, func(i, j int) bool { return list[i].ScheduledAt.Before(list[j].ScheduledAt) })
}

type memTx struct {
	session      models.Session
	participants map[uuid.UUID]models.Participant
}

func (t *memTx) Session() *models.Session { return &t.session }

func (t *memTx) CountActive(context.Context) (int, error) {
	n := 0
	for _, p := range t.participants {
		if p.Status != models.ParticipantCancelled {
			n++
		}
	}
	return n, nil
}

func (t *memTx) Participant(_ context.Context, userID uuid.UUID) (*models.Participant, error) {
	p, ok := t.participants[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memTx) Insert(_ context.Context, p *models.Participant) error {
	if _, ok := t.participants[p.UserID]; ok {
		return apperr.ErrAlreadyEnrolled
	}
	t.participants[p.UserID] = *p
	return nil
}

func (t *memTx) Delete(_ context.Context, userID uuid.UUID) error {
	if _, ok := t.participants[userID]; !ok {
		return apperr.Wrap(apperr.ErrNotFound, "no enrollment")
	}
	delete(t.participants, userID)
	return nil
}

func (t *memTx) SetStatus(_ context.Context, userID uuid.UUID, status models.ParticipantStatus) error {
	p, ok := t.participants[userID]
	if !ok {
		return apperr.Wrap(apperr.ErrNotFound, "no enrollment")
	}
	p.Status = status
	t.participants[userID] = p
	return nil
}
