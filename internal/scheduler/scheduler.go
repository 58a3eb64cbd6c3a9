package scheduler

import (
	"context"
	"time"

	"studyStreakAPI/internal/logger"

	"github.com/go-co-op/gocron"
)

// Scheduler runs the periodic background jobs of the API.
type Scheduler struct {
	scheduler *gocron.Scheduler
	log       *logger.Logger
	timeout   time.Duration
}

// NotificationRetrier re-queues failed push notifications.
type NotificationRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// Cleaner drops stale in-memory state, such as idle rate limiter entries.
type Cleaner interface {
	Cleanup()
}

func New(log *logger.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		log:       log.With("component", "scheduler"),
		timeout:   30 * time.Second,
	}
}

// ScheduleNotificationRetry retries failed notifications every interval.
func (s *Scheduler) ScheduleNotificationRetry(interval time.Duration, retrier NotificationRetrier) error {
	_, err := s.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		n, err := retrier.RetryFailed(ctx)
		if err != nil {
			s.log.Error("notification retry failed", "error", err)
			return
		}
		if n > 0 {
			s.log.Info("requeued failed notifications", "count", n)
		}
	})
	return err
}

// ScheduleCleanup runs c.Cleanup every interval.
func (s *Scheduler) ScheduleCleanup(interval time.Duration, c Cleaner) error {
	_, err := s.scheduler.Every(interval).Do(c.Cleanup)
	return err
}

// Start begins running all scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}
