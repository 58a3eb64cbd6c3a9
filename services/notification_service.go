package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/notification"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxNotificationRetries = 3
	// pendingStaleAfter is how long a row may sit in 'pending' before the
	// retry job assumes its queued job was lost.
	pendingStaleAfter      = 10 * time.Minute
)

type NotificationService struct {
	db         *pgxpool.Pool
	dispatcher *NotificationDispatcher
	log        *logger.Logger
}

func NewNotificationService(db *pgxpool.Pool, log *logger.Logger) *NotificationService {
	s := &NotificationService{
		db:  db,
		log: log.With("service", "NotificationService"),
	}
	s.dispatcher = NewNotificationDispatcher(s, log, 5, 100)
	return s
}

func (s *NotificationService) SetPushProvider(provider PushNotificationProvider) {
	s.dispatcher.SetPushProvider(provider)
}

func (s *NotificationService) Stop() {
	s.dispatcher.Stop()
}

func (s *NotificationService) RegisterDevice(ctx context.Context, userID uuid.UUID, req notification.RegisterDeviceRequest) error {
	query := `
	INSERT INTO device_tokens (user_id, token, platform)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_id, token)
	DO UPDATE SET platform = EXCLUDED.platform
	`
	if _, err := s.db.Exec(ctx, query, userID, req.Token, req.Platform); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// NotifyStreakMilestone stores a milestone notification and queues it for
// push delivery.
func (s *NotificationService) NotifyStreakMilestone(ctx context.Context, userID uuid.UUID, days int) error {
	title, body := notification.StreakMilestoneMessage(days)
	data := map[string]any{"days": days}

	notif, err := s.create(ctx, userID, notification.TypeStreakMilestone, title, body, data)
	if err != nil {
		return err
	}

	tokens, err := s.deviceTokens(ctx, userID)
	if err != nil {
		s.recordFailure(ctx, notif.ID, err)
		return err
	}

	// Dispatch marks the row failed itself when the job cannot be queued.
	return s.dispatcher.Dispatch(ctx, &DispatchJob{Notification: notif, Tokens: tokens})
}

// RetryFailed re-queues failed notifications that still have retries left,
// plus pending ones whose queued job was lost. It runs from the scheduler.
func (s *NotificationService) RetryFailed(ctx context.Context) (int, error) {
	query := `
	UPDATE notifications
	SET status = 'pending', queued_at = NOW()
	WHERE id IN (
		SELECT id FROM notifications
		WHERE (status = 'failed' AND retry_count < $1)
		   OR (status = 'pending' AND queued_at < $2)
		ORDER BY created_at
		LIMIT 100
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, user_id, type, status, title, body, data, retry_count, created_at
	`

	rows, err := s.db.Query(ctx, query, maxNotificationRetries, time.Now().Add(-pendingStaleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch failed notifications: %w", err)
	}

	var pending []*notification.Notification
	for rows.Next() {
		notif := &notification.Notification{}
		var dataRaw []byte
		if err := rows.Scan(
			&notif.ID, &notif.UserID, &notif.Type, &notif.Status,
			&notif.Title, &notif.Body, &dataRaw, &notif.RetryCount, &notif.CreatedAt,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		_ = json.Unmarshal(dataRaw, &notif.Data)
		pending = append(pending, notif)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read failed notifications: %w", err)
	}

	queued := 0
	for i, notif := range pending {
		tokens, err := s.deviceTokens(ctx, notif.UserID)
		if err != nil {
			s.log.Warn("failed to load device tokens", "user_id", notif.UserID, "error", err)
			s.recordFailure(ctx, notif.ID, err)
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, &DispatchJob{Notification: notif, Tokens: tokens}); err != nil {
			s.release(ctx, pending[i+1:])
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// release hands claimed rows that were never dispatched back to the next
// retry run without spending one of their retries.
func (s *NotificationService) release(ctx context.Context, notifs []*notification.Notification) {
	if len(notifs) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(notifs))
	for i, n := range notifs {
		ids[i] = n.ID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed'
		WHERE id = ANY($1) AND status = 'pending'
	`, ids)
	if err != nil {
		s.log.Error("failed to release notifications", "count", len(ids), "error", err)
	}
}

func (s *NotificationService) recordFailure(ctx context.Context, notificationID uuid.UUID, reason error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.markAsFailed(ctx, notificationID, reason); err != nil {
		s.log.Error("failed to mark notification as failed", "notification_id", notificationID, "error", err)
	}
}

func (s *NotificationService) create(ctx context.Context, userID uuid.UUID, notifType notification.NotificationType, title, body string, data map[string]any) (*notification.Notification, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification data: %w", err)
	}

	query := `
	INSERT INTO notifications (user_id, type, status, title, body, data)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at
	`

	notif := &notification.Notification{
		UserID: userID,
		Type:   notifType,
		Status: notification.StatusPending,
		Title:  title,
		Body:   body,
		Data:   data,
	}
	err = s.db.QueryRow(ctx, query, userID, notifType, notification.StatusPending, title, body, dataJSON).
		Scan(&notif.ID, &notif.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return notif, nil
}

func (s *NotificationService) deviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	rows, err := s.db.Query(ctx, `SELECT token, platform FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []notification.DeviceToken
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *NotificationService) markAsSent(ctx context.Context, notificationID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = NOW()
		WHERE id = $1
	`, notificationID)
	return err
}

func (s *NotificationService) markAsFailed(ctx context.Context, notificationID uuid.UUID, reason error) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', failed_at = NOW(), failure_reason = $2, retry_count = retry_count + 1
		WHERE id = $1
	`, notificationID, reason.Error())
	return err
}
