package services

import (
	"context"
	"os"
	"testing"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/storage/postgres"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNotificationDB(t *testing.T) (*pgxpool.Pool, uuid.UUID) {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))

	var userID uuid.UUID
	err = pool.QueryRow(ctx, `INSERT INTO users (clerk_id) VALUES ($1) RETURNING id`, "user_notif_"+uuid.NewString()).Scan(&userID)
	require.NoError(t, err)
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, userID); err != nil {
			t.Logf("Warning: failed to cleanup test user: %v", err)
		}
	})
	return pool, userID
}

// withFullQueue swaps in a dispatcher that has no workers and no buffer, so
// every Dispatch times out.
func withFullQueue(svc *NotificationService) {
	svc.dispatcher.Stop()
	svc.dispatcher = NewNotificationDispatcher(svc, logger.Nop(), 0, 0)
	svc.dispatcher.enqueueWait = 10 * time.Millisecond
}

type notificationState struct {
	Status     string
	RetryCount int
}

func userNotifications(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) []notificationState {
	t.Helper()
	rows, err := pool.Query(context.Background(),
		`SELECT status, retry_count FROM notifications WHERE user_id = $1 ORDER BY created_at`, userID)
	require.NoError(t, err)
	defer rows.Close()

	var out []notificationState
	for rows.Next() {
		var s notificationState
		require.NoError(t, rows.Scan(&s.Status, &s.RetryCount))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestMilestoneNotQueuedIsMarkedFailed(t *testing.T) {
	pool, userID := setupNotificationDB(t)
	svc := NewNotificationService(pool, logger.Nop())
	withFullQueue(svc)
	defer svc.Stop()
	ctx := context.Background()

	err := svc.NotifyStreakMilestone(ctx, userID, 7)
	require.ErrorIs(t, err, ErrDispatchQueueFull)

	got := userNotifications(t, pool, userID)
	require.Len(t, got, 1)
	assert.Equal(t, notificationState{Status: "failed", RetryCount: 1}, got[0])

	_, err = svc.RetryFailed(ctx)
	require.Error(t, err)

	for _, n := range userNotifications(t, pool, userID) {
		assert.Equal(t, "failed", n.Status, "a retry that could not be queued must not leave the row pending")
	}
}

func TestRetryReclaimsStalePending(t *testing.T) {
	pool, userID := setupNotificationDB(t)
	svc := NewNotificationService(pool, logger.Nop())
	defer svc.Stop()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO notifications (user_id, type, status, title, body, queued_at)
		VALUES ($1, 'streak_milestone', 'pending', 't', 'b', NOW() - INTERVAL '1 hour')
	`, userID)
	require.NoError(t, err)

	withFullQueue(svc)
	_, err = svc.RetryFailed(ctx)
	require.Error(t, err)

	got := userNotifications(t, pool, userID)
	require.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].Status)
}
