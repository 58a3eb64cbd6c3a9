package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"studyStreakAPI/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRetrier struct{ calls atomic.Int32 }

func (r *countingRetrier) RetryFailed(ctx context.Context) (int, error) {
	r.calls.Add(1)
	return 0, nil
}

type countingCleaner struct{ calls atomic.Int32 }

func (c *countingCleaner) Cleanup() { c.calls.Add(1) }

func TestSchedulerRunsJobs(t *testing.T) {
	s := New(logger.Nop())
	retrier := &countingRetrier{}
	cleaner := &countingCleaner{}

	require.NoError(t, s.ScheduleNotificationRetry(20*time.Millisecond, retrier))
	require.NoError(t, s.ScheduleCleanup(20*time.Millisecond, cleaner))
	assert.Equal(t, 2, s.Jobs())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return retrier.calls.Load() > 0 && cleaner.calls.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}
