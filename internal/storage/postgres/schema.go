package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		clerk_id TEXT NOT NULL UNIQUE,
		xp INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_streaks (
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		activity_date DATE NOT NULL,
		current_streak INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
		longest_streak INTEGER NOT NULL DEFAULT 0 CHECK (longest_streak >= current_streak),
		videos_watched INTEGER NOT NULL DEFAULT 0 CHECK (videos_watched >= 0),
		notes_completed INTEGER NOT NULL DEFAULT 0 CHECK (notes_completed >= 0),
		quizzes_completed INTEGER NOT NULL DEFAULT 0 CHECK (quizzes_completed >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, activity_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_streaks_user_date_desc
		ON daily_streaks (user_id, activity_date DESC)`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT 'android',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, token)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		retry_count INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		sent_at TIMESTAMPTZ,
		failed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE notifications
		ADD COLUMN IF NOT EXISTS queued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_status
		ON notifications (status, created_at)`,
}

// Migrate creates the tables the service needs if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
