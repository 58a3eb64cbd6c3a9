package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"studyStreakAPI/internal/types/streak"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// StreakStore is the fallback store for deployments without Postgres
// advisory locks. SQLite has no per-key or row locks, so every write
// transaction starts with BEGIN IMMEDIATE and holds the database write lock
// until commit. Writers for different users therefore serialize too, and
// the lock only holds for processes sharing the file on one host: run a
// single instance. The (user_id, activity_date) primary key turns any create
// race that slips through into a retryable conflict.
type StreakStore struct {
	db *sqlx.DB
}

type dbRow struct {
	UserID           uuid.UUID `db:"user_id"`
	ActivityDate     string    `db:"activity_date"`
	CurrentStreak    int       `db:"current_streak"`
	LongestStreak    int       `db:"longest_streak"`
	VideosWatched    int       `db:"videos_watched"`
	NotesCompleted   int       `db:"notes_completed"`
	QuizzesCompleted int       `db:"quizzes_completed"`
	UpdatedAt        time.Time `db:"updated_at"`
}

const rowColumns = `user_id, activity_date, current_streak, longest_streak,
	videos_watched, notes_completed, quizzes_completed, updated_at`

// Open connects to the database file at path, creating it and its schema if
// needed.
func Open(path string) (*StreakStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %v", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w: %w", streak.ErrStorageUnavailable, err)
	}

	s := &StreakStore{db: db}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *StreakStore) Close() error {
	return s.db.Close()
}

func (s *StreakStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *StreakStore) initializeSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_streaks (
			user_id TEXT NOT NULL,
			activity_date TEXT NOT NULL,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			videos_watched INTEGER NOT NULL DEFAULT 0,
			notes_completed INTEGER NOT NULL DEFAULT 0,
			quizzes_completed INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, activity_date)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create daily_streaks table: %v", err)
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_daily_streaks_user_date_desc
		ON daily_streaks (user_id, activity_date DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create daily_streaks index: %v", err)
	}
	return nil
}

func (s *StreakStore) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx streak.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&streakTx{tx: tx}); err != nil {
		return classify("streak transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return classify("failed to commit streak transaction", err)
	}
	return nil
}

func (s *StreakStore) LatestRow(ctx context.Context, userID uuid.UUID) (*streak.Row, error) {
	var r dbRow
	err := s.db.GetContext(ctx, &r, `
		SELECT `+rowColumns+`
		FROM daily_streaks
		WHERE user_id = ?
		ORDER BY activity_date DESC
		LIMIT 1
	`, userID)
	row, err := toRow(r, err)
	if err != nil {
		return nil, classify("failed to get latest streak row", err)
	}
	return row, nil
}

func (s *StreakStore) RowsSince(ctx context.Context, userID uuid.UUID, from time.Time) ([]streak.Row, error) {
	var rows []dbRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+rowColumns+`
		FROM daily_streaks
		WHERE user_id = ? AND activity_date >= ?
		ORDER BY activity_date DESC
	`, userID, formatDate(from))
	if err != nil {
		return nil, classify("failed to query streak history", err)
	}

	history := make([]streak.Row, 0, len(rows))
	for _, r := range rows {
		row, err := toRow(r, nil)
		if err != nil {
			return nil, classify("failed to decode streak row", err)
		}
		history = append(history, *row)
	}
	return history, nil
}

type streakTx struct {
	tx *sqlx.Tx
}

// DayRowForUpdate relies on the write lock taken by BEGIN IMMEDIATE.
func (t *streakTx) DayRowForUpdate(ctx context.Context, userID uuid.UUID, date time.Time) (*streak.Row, error) {
	var r dbRow
	err := t.tx.GetContext(ctx, &r, `
		SELECT `+rowColumns+`
		FROM daily_streaks
		WHERE user_id = ? AND activity_date = ?
	`, userID, formatDate(date))
	return toRow(r, err)
}

func (t *streakTx) LatestRowBefore(ctx context.Context, userID uuid.UUID, date time.Time) (*streak.Row, error) {
	var r dbRow
	err := t.tx.GetContext(ctx, &r, `
		SELECT `+rowColumns+`
		FROM daily_streaks
		WHERE user_id = ? AND activity_date < ?
		ORDER BY activity_date DESC
		LIMIT 1
	`, userID, formatDate(date))
	return toRow(r, err)
}

func (t *streakTx) InsertRow(ctx context.Context, row *streak.Row) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO daily_streaks (`+rowColumns+`)
		VALUES (:user_id, :activity_date, :current_streak, :longest_streak,
			:videos_watched, :notes_completed, :quizzes_completed, :updated_at)
	`, fromRow(row))
	if err != nil {
		return fmt.Errorf("failed to insert streak row: %w", err)
	}
	return nil
}

func (t *streakTx) UpdateRow(ctx context.Context, row *streak.Row) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE daily_streaks
		SET current_streak = :current_streak,
			longest_streak = :longest_streak,
			videos_watched = :videos_watched,
			notes_completed = :notes_completed,
			quizzes_completed = :quizzes_completed,
			updated_at = :updated_at
		WHERE user_id = :user_id AND activity_date = :activity_date
	`, fromRow(row))
	if err != nil {
		return fmt.Errorf("failed to update streak row: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update streak row: %w: row vanished", streak.ErrStorageContention)
	}
	return nil
}

func toRow(r dbRow, err error) (*streak.Row, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	date, err := streak.ParseDate(r.ActivityDate)
	if err != nil {
		return nil, fmt.Errorf("bad activity_date %q: %w", r.ActivityDate, err)
	}
	return &streak.Row{
		UserID:           r.UserID,
		ActivityDate:     date,
		CurrentStreak:    r.CurrentStreak,
		LongestStreak:    r.LongestStreak,
		VideosWatched:    r.VideosWatched,
		NotesCompleted:   r.NotesCompleted,
		QuizzesCompleted: r.QuizzesCompleted,
		UpdatedAt:        r.UpdatedAt.UTC(),
	}, nil
}

func fromRow(row *streak.Row) dbRow {
	return dbRow{
		UserID:           row.UserID,
		ActivityDate:     formatDate(row.ActivityDate),
		CurrentStreak:    row.CurrentStreak,
		LongestStreak:    row.LongestStreak,
		VideosWatched:    row.VideosWatched,
		NotesCompleted:   row.NotesCompleted,
		QuizzesCompleted: row.QuizzesCompleted,
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func formatDate(t time.Time) string {
	return streak.Date(t).Format(streak.DateLayout)
}
