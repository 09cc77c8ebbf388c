//go:build integration

package enrollment_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/enrollment"
	"github.com/groupcare/backend/internal/lifecycle"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/database"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/enrollment/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, 20, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func createSession(t *testing.T, repo *enrollment.Repository, start time.Time, capacity int) *models.Session {
	t.Helper()
	s := &models.Session{
		TherapistID:     uuid.New(),
		Title:           "integration group",
		ScheduledAt:     start,
		DurationMinutes: 60,
		MaxParticipants: capacity,
		Status:          models.SessionScheduled,
	}
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func TestPostgres_CapacityUnderConcurrency(t *testing.T) {
	repo := enrollment.NewRepository(testPool(t))
	s := createSession(t, repo, time.Now().Add(48*time.Hour), 3)
	svc := enrollment.NewService(repo, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	kinds := map[apperr.Kind]int{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Enroll(context.Background(), models.Actor{UserID: uuid.New(), Role: models.RolePatient}, s.ID)
			k := apperr.Kind("ok")
			if err != nil {
				k = apperr.KindOf(err)
			}
			mu.Lock()
			kinds[k]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, kinds["ok"])
	assert.Equal(t, 17, kinds[apperr.KindFull])
	list, err := repo.ListParticipants(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestPostgres_DuplicateInsertIsAlreadyEnrolled(t *testing.T) {
	repo := enrollment.NewRepository(testPool(t))
	s := createSession(t, repo, time.Now().Add(48*time.Hour), 5)
	uid := uuid.New()

	err := repo.WithSessionLock(context.Background(), s.ID, func(ctx context.Context, tx enrollment.Tx) error {
		p := &models.Participant{SessionID: s.ID, UserID: uid, Status: models.ParticipantRegistered, JoinedAt: time.Now().UTC()}
		if err := tx.Insert(ctx, p); err != nil {
			return err
		}
		return tx.Insert(ctx, p)
	})
	assert.Equal(t, apperr.KindAlreadyEnrolled, apperr.KindOf(err))

	p, err := repo.GetParticipant(context.Background(), s.ID, uid)
	require.NoError(t, err)
	assert.Nil(t, p, "failed transaction rolls back the first insert")
}

func TestPostgres_ApplyTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := enrollment.NewRepository(testPool(t))
	s := createSession(t, repo, time.Now().Add(-time.Minute), 5)

	start := lifecycle.Transition{Kind: lifecycle.KindStarted, From: models.SessionScheduled, To: models.SessionLive}
	applied, err := repo.ApplyTransition(ctx, s.ID, start)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyTransition(ctx, s.ID, start)
	require.NoError(t, err)
	assert.False(t, applied, "status already moved on")
}

func TestPostgres_NoShowSkippedAfterLateEnrollment(t *testing.T) {
	ctx := context.Background()
	repo := enrollment.NewRepository(testPool(t))
	s := createSession(t, repo, time.Now().Add(-40*time.Minute), 5)

	tr, ok := lifecycle.Evaluate(s, 0, time.Now())
	require.True(t, ok)
	require.Equal(t, lifecycle.KindNoShow, tr.Kind)

	_, err := enrollment.NewService(repo, nil).Enroll(ctx, models.Actor{UserID: uuid.New(), Role: models.RolePatient}, s.ID)
	require.NoError(t, err)

	applied, err := repo.ApplyTransition(ctx, s.ID, tr)
	require.NoError(t, err)
	assert.False(t, applied)
	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, got.Status)
}

func TestPostgres_MarkMilestoneSentOnce(t *testing.T) {
	ctx := context.Background()
	repo := enrollment.NewRepository(testPool(t))
	s := createSession(t, repo, time.Now().Add(time.Hour), 5)

	first, err := repo.MarkMilestoneSent(ctx, s.ID, lifecycle.OneHour)
	require.NoError(t, err)
	second, err := repo.MarkMilestoneSent(ctx, s.ID, lifecycle.OneHour)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)
	assert.False(t, got.StartingSent)
}
