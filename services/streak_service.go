package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/types/streak"

	"github.com/google/uuid"
)

// StatusCache is an optional read-through cache for GetStatus. Entries are
// keyed by user and only valid for the local date they were computed for.
//
// Every Invalidate bumps a per-user version. Set only stores the entry when
// the version is still the one read by Version before the store was queried,
// so a status computed before a concurrent write is never cached after it.
type StatusCache interface {
	Get(ctx context.Context, userID uuid.UUID, today time.Time) (*streak.StatusResult, bool)
	Version(ctx context.Context, userID uuid.UUID) (int64, bool)
	Set(ctx context.Context, userID uuid.UUID, today time.Time, version int64, res *streak.StatusResult)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

const cacheInvalidateTimeout = 2 * time.Second

type StreakService struct {
	store       streak.Store
	cache       StatusCache
	log         *logger.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewStreakService(store streak.Store, log *logger.Logger) *StreakService {
	return &StreakService{
		store:       store,
		log:         log.With("service", "StreakService"),
		maxAttempts: 3,
		backoff:     50 * time.Millisecond,
	}
}

// SetStatusCache plugs in the status cache from main.go
func (s *StreakService) SetStatusCache(cache StatusCache) {
	s.cache = cache
}

// SetRetryPolicy overrides how often contention failures are retried.
func (s *StreakService) SetRetryPolicy(maxAttempts int, backoff time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	s.maxAttempts = maxAttempts
	s.backoff = backoff
}

// RecordActivity counts one activity for the user on localDate and advances
// the streak when it is the first activity of that day. localDate must
// already be resolved to the user's timezone.
func (s *StreakService) RecordActivity(ctx context.Context, userID uuid.UUID, localDate time.Time, activity streak.ActivityType) (*streak.Result, error) {
	if !activity.Valid() {
		streakRecordFailures.WithLabelValues("invalid_activity").Inc()
		return nil, fmt.Errorf("%w: %q", streak.ErrInvalidActivityType, activity)
	}

	date := streak.Date(localDate)
	start := time.Now()
	defer func() {
		streakRecordDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		res *streak.Result
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = s.recordOnce(ctx, userID, date, activity)
		if err == nil || !streak.IsRetryable(err) || attempt >= s.maxAttempts {
			break
		}

		wait := s.backoff << (attempt - 1)
		s.log.Warn("streak record contention, retrying",
			"user_id", userID, "attempt", attempt, "wait", wait, "error", err)
		if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
			err = fmt.Errorf("record activity: %w", sleepErr)
			break
		}
	}

	if err != nil {
		streakRecordFailures.WithLabelValues(failureReason(err)).Inc()
		s.log.Error("failed to record activity",
			"user_id", userID, "date", date.Format(streak.DateLayout), "activity", activity, "error", err)
		return nil, err
	}

	streakActivitiesRecorded.WithLabelValues(string(activity), string(res.Action)).Inc()
	if s.cache != nil {
		// The row is committed, so the entry must go even if the caller is gone.
		invalidateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheInvalidateTimeout)
		s.cache.Invalidate(invalidateCtx, userID)
		cancel()
	}

	s.log.Debug("activity recorded",
		"user_id", userID, "date", date.Format(streak.DateLayout), "activity", activity,
		"action", res.Action, "current_streak", res.CurrentStreak)
	return res, nil
}

func (s *StreakService) recordOnce(ctx context.Context, userID uuid.UUID, date time.Time, activity streak.ActivityType) (*streak.Result, error) {
	var res *streak.Result

	err := s.store.WithUserLock(ctx, userID, func(tx streak.Tx) error {
		row, err := tx.DayRowForUpdate(ctx, userID, date)
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		// Same-day repeat: the streak was settled by the first activity.
		if row != nil && row.HasActivity() {
			row.Increment(activity)
			row.UpdatedAt = now
			if err := tx.UpdateRow(ctx, row); err != nil {
				return err
			}
			res = newResult(row, streak.ActionIncrementedToday, activity)
			return nil
		}

		prev, err := tx.LatestRowBefore(ctx, userID, date)
		if err != nil {
			return err
		}
		current, longest := nextStreak(prev, date)

		if row != nil {
			// An all-zero row for today counts as no activity yet.
			row.CurrentStreak = current
			row.LongestStreak = longest
			row.Increment(activity)
			row.UpdatedAt = now
			if err := tx.UpdateRow(ctx, row); err != nil {
				return err
			}
		} else {
			row = &streak.Row{
				UserID:        userID,
				ActivityDate:  date,
				CurrentStreak: current,
				LongestStreak: longest,
				UpdatedAt:     now,
			}
			row.Increment(activity)
			if err := tx.InsertRow(ctx, row); err != nil {
				return err
			}
		}

		res = newResult(row, firstOfDayAction(activity), activity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetStatus reports the streak as it should be displayed on today.
func (s *StreakService) GetStatus(ctx context.Context, userID uuid.UUID, today time.Time) (*streak.StatusResult, error) {
	today = streak.Date(today)

	var (
		version   int64
		cacheable bool
	)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID, today); ok {
			streakStatusCache.WithLabelValues("hit").Inc()
			return cached, nil
		}
		streakStatusCache.WithLabelValues("miss").Inc()
		version, cacheable = s.cache.Version(ctx, userID)
	}

	latest, err := s.store.LatestRow(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get streak status: %w", err)
	}

	res := deriveStatus(latest, today)
	if cacheable {
		s.cache.Set(ctx, userID, today, version, res)
	}
	return res, nil
}

// GetHistory returns the user's rows from today-days onwards, newest first.
func (s *StreakService) GetHistory(ctx context.Context, userID uuid.UUID, today time.Time, days int) ([]streak.Row, error) {
	if days < 0 {
		days = 0
	}
	from := streak.Date(today).AddDate(0, 0, -days)

	rows, err := s.store.RowsSince(ctx, userID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get streak history: %w", err)
	}
	return rows, nil
}

func newResult(row *streak.Row, action streak.Action, activity streak.ActivityType) *streak.Result {
	return &streak.Result{
		Action:           action,
		ActivityType:     activity,
		CurrentStreak:    row.CurrentStreak,
		LongestStreak:    row.LongestStreak,
		VideosWatched:    row.VideosWatched,
		NotesCompleted:   row.NotesCompleted,
		QuizzesCompleted: row.QuizzesCompleted,
	}
}

func firstOfDayAction(activity streak.ActivityType) streak.Action {
	if activity == streak.ActivityVideo {
		return streak.ActionFirstWatchToday
	}
	return streak.ActionFirstActivityToday
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, streak.ErrStorageContention):
		return "contention"
	case errors.Is(err, streak.ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
