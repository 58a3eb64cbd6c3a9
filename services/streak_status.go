package services

import (
	"time"

	"studyStreakAPI/internal/types/streak"
)

// deriveStatus applies the lazy display rules. Nothing ever expires a
// streak in storage; a stale row simply reads as broken.
func deriveStatus(latest *streak.Row, today time.Time) *streak.StatusResult {
	if latest == nil {
		return &streak.StatusResult{StreakStatus: streak.StatusNoActivity}
	}

	today = streak.Date(today)
	last := streak.Date(latest.ActivityDate)

	res := &streak.StatusResult{
		LongestStreak:    latest.LongestStreak,
		LastActivityDate: &last,
	}

	switch {
	case last.Equal(today):
		res.StreakStatus = streak.StatusActive
		res.CurrentStreak = latest.CurrentStreak
		res.VideosWatchedToday = latest.VideosWatched
	case last.Equal(today.AddDate(0, 0, -1)):
		// still active until the end of today
		res.StreakStatus = streak.StatusActive
		res.CurrentStreak = latest.CurrentStreak
	default:
		res.StreakStatus = streak.StatusBroken
	}

	return res
}

// nextStreak computes the streak fields for the first activity on date,
// given the most recent earlier row (nil if none).
func nextStreak(prev *streak.Row, date time.Time) (current, longest int) {
	current = 1
	if prev != nil && streak.Date(prev.ActivityDate).Equal(streak.Date(date).AddDate(0, 0, -1)) {
		current = prev.CurrentStreak + 1
	}

	longest = current
	if prev != nil && prev.LongestStreak > longest {
		longest = prev.LongestStreak
	}
	return current, longest
}
