package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/notification"

	"github.com/google/uuid"
)

type PushNotificationProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

// deliveryRecorder persists the outcome of a dispatch attempt.
type deliveryRecorder interface {
	markAsSent(ctx context.Context, notificationID uuid.UUID) error
	markAsFailed(ctx context.Context, notificationID uuid.UUID, reason error) error
}

var (
	ErrDispatchQueueFull = errors.New("notification queue full")
	ErrDispatcherStopped = errors.New("notification dispatcher stopped")
)

// NotificationDispatcher pushes notifications from a bounded in-memory
// queue with a fixed pool of workers.
type NotificationDispatcher struct {
	recorder     deliveryRecorder
	pushProvider PushNotificationProvider
	log          *logger.Logger
	workers      int
	enqueueWait  time.Duration
	jobQueue     chan *DispatchJob
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

type DispatchJob struct {
	Notification *notification.Notification
	Tokens       []notification.DeviceToken
}

func NewNotificationDispatcher(recorder deliveryRecorder, log *logger.Logger, workers, queueSize int) *NotificationDispatcher {
	d := &NotificationDispatcher{
		recorder:    recorder,
		log:         log.With("service", "NotificationDispatcher"),
		workers:     workers,
		enqueueWait: 5 * time.Second,
		jobQueue:    make(chan *DispatchJob, queueSize),
		stopChan:    make(chan struct{}),
	}
	d.startWorkers()
	return d
}

// SetPushProvider injects the real FCM provider from main.go
func (d *NotificationDispatcher) SetPushProvider(provider PushNotificationProvider) {
	d.pushProvider = provider
}

func (d *NotificationDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobQueue:
			d.processJob(job)
		case <-d.stopChan:
			return
		}
	}
}

func (d *NotificationDispatcher) processJob(job *DispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notif := job.Notification

	if d.pushProvider != nil && len(job.Tokens) > 0 {
		err := d.pushProvider.SendPush(ctx, job.Tokens, notif.Title, notif.Body, notif.Data)
		if err != nil {
			d.log.Warn("push failed", "notification_id", notif.ID, "user_id", notif.UserID, "error", err)
			if err := d.recorder.markAsFailed(ctx, notif.ID, err); err != nil {
				d.log.Error("failed to mark notification as failed", "notification_id", notif.ID, "error", err)
			}
			return
		}
	} else {
		d.log.Debug("skipping push", "tokens", len(job.Tokens), "provider_set", d.pushProvider != nil)
	}

	if err := d.recorder.markAsSent(ctx, notif.ID); err != nil {
		d.log.Error("failed to mark notification as sent", "notification_id", notif.ID, "error", err)
	}
}

// Dispatch queues a notification, waiting a bounded time for queue space.
// A job that cannot be queued is recorded as failed so the retry job sees it.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, job *DispatchJob) error {
	err := d.enqueue(ctx, job)
	if err != nil {
		d.log.Warn("notification not queued", "notification_id", job.Notification.ID, "error", err)
		d.recordFailure(job, err)
	}
	return err
}

func (d *NotificationDispatcher) enqueue(ctx context.Context, job *DispatchJob) error {
	select {
	case <-d.stopChan:
		return ErrDispatcherStopped
	default:
	}

	t := time.NewTimer(d.enqueueWait)
	defer t.Stop()

	select {
	case d.jobQueue <- job:
		d.log.Debug("notification queued", "notification_id", job.Notification.ID)
		return nil
	case <-d.stopChan:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrDispatchQueueFull
	}
}

func (d *NotificationDispatcher) recordFailure(job *DispatchJob, reason error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.markAsFailed(ctx, job.Notification.ID, reason); err != nil {
		d.log.Error("failed to mark notification as failed", "notification_id", job.Notification.ID, "error", err)
	}
}

// Stop the dispatcher gracefully. Jobs still buffered are recorded as failed.
func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.log.Info("stopping notification dispatcher")
		close(d.stopChan)
		d.wg.Wait()
		d.drain()
	})
}

func (d *NotificationDispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			d.recordFailure(job, ErrDispatcherStopped)
		default:
			return
		}
	}
}
