package user

import (
	"time"

	"studyStreakAPI/internal/types/streak"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	ClerkID   string    `json:"clerk_id"`
	XP        int       `json:"xp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is the account together with its streak as displayed today.
type Profile struct {
	*User
	Streak *streak.StatusResult `json:"streak"`
}
