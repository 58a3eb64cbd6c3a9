package services

import "studyStreakAPI/internal/types/streak"

const firstOfDayBonusXP = 5

var activityXP = map[streak.ActivityType]int{
	streak.ActivityVideo: 10,
	streak.ActivityNotes: 15,
	streak.ActivityQuiz:  20,
}

var streakMilestones = map[int]bool{3: true, 7: true, 14: true, 30: true, 50: true, 100: true, 365: true}

// XPForResult is what the activity collaborators award after a successful
// RecordActivity. The engine itself never touches XP.
func XPForResult(res *streak.Result) int {
	xp := activityXP[res.ActivityType]
	if res.Action.FirstOfDay() {
		xp += firstOfDayBonusXP
	}
	return xp
}

// ReachedMilestone is true only on the call that first lands on a milestone
// day, so repeats later the same day do not notify again.
func ReachedMilestone(res *streak.Result) bool {
	return res.Action.FirstOfDay() && streakMilestones[res.CurrentStreak]
}
