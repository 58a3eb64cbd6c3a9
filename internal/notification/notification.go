package notification

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	TypeStreakMilestone NotificationType = "streak_milestone"
)

type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

type Notification struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	UserID        uuid.UUID          `json:"user_id" db:"user_id"`
	Type          NotificationType   `json:"type" db:"type"`
	Status        NotificationStatus `json:"status" db:"status"`
	Title         string             `json:"title" db:"title"`
	Body          string             `json:"body" db:"body"`
	Data          map[string]any     `json:"data" db:"data"`
	RetryCount    int                `json:"retry_count" db:"retry_count"`
	FailureReason *string            `json:"failure_reason,omitempty" db:"failure_reason"`
	SentAt        *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt      *time.Time         `json:"failed_at,omitempty" db:"failed_at"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

type DeviceToken struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
