package streak

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityType is one of the countable daily actions that keep a streak alive.
type ActivityType string

const (
	ActivityVideo ActivityType = "video"
	ActivityNotes ActivityType = "notes"
	ActivityQuiz  ActivityType = "quiz"
)

func ParseActivityType(s string) (ActivityType, error) {
	switch ActivityType(s) {
	case ActivityVideo, ActivityNotes, ActivityQuiz:
		return ActivityType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidActivityType, s)
}

func (a ActivityType) Valid() bool {
	switch a {
	case ActivityVideo, ActivityNotes, ActivityQuiz:
		return true
	}
	return false
}

type Action string

const (
	ActionIncrementedToday   Action = "incremented_today"
	ActionFirstWatchToday    Action = "first_watch_today"
	ActionFirstActivityToday Action = "first_activity_today"
)

// FirstOfDay reports whether the action started (or continued) the streak for the day.
func (a Action) FirstOfDay() bool {
	return a == ActionFirstWatchToday || a == ActionFirstActivityToday
}

type Status string

const (
	StatusActive     Status = "active"
	StatusBroken     Status = "broken"
	StatusNoActivity Status = "no_activity"
)

// Row is one user's streak record for a single local calendar date.
type Row struct {
	UserID           uuid.UUID `json:"user_id" db:"user_id"`
	ActivityDate     time.Time `json:"activity_date" db:"activity_date"`
	CurrentStreak    int       `json:"current_streak" db:"current_streak"`
	LongestStreak    int       `json:"longest_streak" db:"longest_streak"`
	VideosWatched    int       `json:"videos_watched" db:"videos_watched"`
	NotesCompleted   int       `json:"notes_completed" db:"notes_completed"`
	QuizzesCompleted int       `json:"quizzes_completed" db:"quizzes_completed"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// HasActivity is false for a row whose counters are all zero.
func (r *Row) HasActivity() bool {
	return r.VideosWatched > 0 || r.NotesCompleted > 0 || r.QuizzesCompleted > 0
}

// Increment bumps the counter that belongs to the given activity.
func (r *Row) Increment(a ActivityType) {
	switch a {
	case ActivityVideo:
		r.VideosWatched++
	case ActivityNotes:
		r.NotesCompleted++
	case ActivityQuiz:
		r.QuizzesCompleted++
	}
}

type Result struct {
	Action           Action       `json:"action"`
	ActivityType     ActivityType `json:"activity_type"`
	CurrentStreak    int          `json:"current_streak"`
	LongestStreak    int          `json:"longest_streak"`
	VideosWatched    int          `json:"videos_watched"`
	NotesCompleted   int          `json:"notes_completed"`
	QuizzesCompleted int          `json:"quizzes_completed"`
}

type StatusResult struct {
	StreakStatus       Status     `json:"streak_status"`
	CurrentStreak      int        `json:"current_streak"`
	LongestStreak      int        `json:"longest_streak"`
	VideosWatchedToday int        `json:"videos_watched_today"`
	LastActivityDate   *time.Time `json:"last_activity_date"`
}

// Date truncates t to its calendar date at UTC midnight. Dates carried by
// rows are always normalized this way so they compare with Equal.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

const DateLayout = "2006-01-02"
