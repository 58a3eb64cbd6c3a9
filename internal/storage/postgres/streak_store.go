package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyStreakAPI/internal/types/streak"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rowColumns = `user_id, activity_date, current_streak, longest_streak,
	videos_watched, notes_completed, quizzes_completed, updated_at`

// StreakStore keeps daily_streaks in Postgres. Writers for one user are
// serialized with a transaction-scoped advisory lock on the user id, so
// different users never wait on each other.
type StreakStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewStreakStore(db *pgxpool.Pool, lockTimeout time.Duration) *StreakStore {
	return &StreakStore{db: db, lockTimeout: lockTimeout}
}

func (s *StreakStore) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx streak.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
		if err != nil {
			return classify("failed to set lock timeout", err)
		}
	}

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID.String())
	if err != nil {
		return classify("failed to acquire user lock", err)
	}

	if err := fn(&streakTx{tx: tx}); err != nil {
		return classify("streak transaction", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("failed to commit streak transaction", err)
	}
	return nil
}

func (s *StreakStore) LatestRow(ctx context.Context, userID uuid.UUID) (*streak.Row, error) {
	query := `
	SELECT ` + rowColumns + `
	FROM daily_streaks
	WHERE user_id = $1
	ORDER BY activity_date DESC
	LIMIT 1
	`
	row, err := scanRow(s.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, classify("failed to get latest streak row", err)
	}
	return row, nil
}

func (s *StreakStore) RowsSince(ctx context.Context, userID uuid.UUID, from time.Time) ([]streak.Row, error) {
	query := `
	SELECT ` + rowColumns + `
	FROM daily_streaks
	WHERE user_id = $1 AND activity_date >= $2
	ORDER BY activity_date DESC
	`
	rows, err := s.db.Query(ctx, query, userID, streak.Date(from))
	if err != nil {
		return nil, classify("failed to query streak history", err)
	}
	defer rows.Close()

	history := []streak.Row{}
	for rows.Next() {
		var r streak.Row
		if err := rows.Scan(
			&r.UserID,
			&r.ActivityDate,
			&r.CurrentStreak,
			&r.LongestStreak,
			&r.VideosWatched,
			&r.NotesCompleted,
			&r.QuizzesCompleted,
			&r.UpdatedAt,
		); err != nil {
			return nil, classify("failed to scan streak row", err)
		}
		r.ActivityDate = streak.Date(r.ActivityDate)
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to read streak history", err)
	}
	return history, nil
}

func (s *StreakStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type streakTx struct {
	tx pgx.Tx
}

func (t *streakTx) DayRowForUpdate(ctx context.Context, userID uuid.UUID, date time.Time) (*streak.Row, error) {
	query := `
	SELECT ` + rowColumns + `
	FROM daily_streaks
	WHERE user_id = $1 AND activity_date = $2
	FOR UPDATE
	`
	return scanRow(t.tx.QueryRow(ctx, query, userID, streak.Date(date)))
}

func (t *streakTx) LatestRowBefore(ctx context.Context, userID uuid.UUID, date time.Time) (*streak.Row, error) {
	query := `
	SELECT ` + rowColumns + `
	FROM daily_streaks
	WHERE user_id = $1 AND activity_date < $2
	ORDER BY activity_date DESC
	LIMIT 1
	`
	return scanRow(t.tx.QueryRow(ctx, query, userID, streak.Date(date)))
}

func (t *streakTx) InsertRow(ctx context.Context, row *streak.Row) error {
	query := `
	INSERT INTO daily_streaks (` + rowColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query,
		row.UserID,
		streak.Date(row.ActivityDate),
		row.CurrentStreak,
		row.LongestStreak,
		row.VideosWatched,
		row.NotesCompleted,
		row.QuizzesCompleted,
		row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert streak row: %w", err)
	}
	return nil
}

func (t *streakTx) UpdateRow(ctx context.Context, row *streak.Row) error {
	query := `
	UPDATE daily_streaks
	SET current_streak = $3,
		longest_streak = $4,
		videos_watched = $5,
		notes_completed = $6,
		quizzes_completed = $7,
		updated_at = $8
	WHERE user_id = $1 AND activity_date = $2
	`
	tag, err := t.tx.Exec(ctx, query,
		row.UserID,
		streak.Date(row.ActivityDate),
		row.CurrentStreak,
		row.LongestStreak,
		row.VideosWatched,
		row.NotesCompleted,
		row.QuizzesCompleted,
		row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update streak row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update streak row: %w: row vanished", streak.ErrStorageContention)
	}
	return nil
}

func scanRow(r pgx.Row) (*streak.Row, error) {
	var row streak.Row
	err := r.Scan(
		&row.UserID,
		&row.ActivityDate,
		&row.CurrentStreak,
		&row.LongestStreak,
		&row.VideosWatched,
		&row.NotesCompleted,
		&row.QuizzesCompleted,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	row.ActivityDate = streak.Date(row.ActivityDate)
	return &row, nil
}
