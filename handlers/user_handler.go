package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/user"
	"studyStreakAPI/middleware"
	"studyStreakAPI/services"
)

type profileReader interface {
	GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error)
}

type UserHandler struct {
	users   profileReader
	streaks streakEngine
	log     *logger.Logger
	now     func() time.Time
}

func NewUserHandler(users profileReader, streaks streakEngine, log *logger.Logger) *UserHandler {
	return &UserHandler{
		users:   users,
		streaks: streaks,
		log:     log.With("handler", "UserHandler"),
		now:     time.Now,
	}
}

// GET /api/v1/user/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	today, err := requestLocalDate(r, h.now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.users.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.log.Error("failed to load user", "clerk_id", clerkID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	status, err := h.streaks.GetStatus(ctx, u.ID, today)
	if err != nil {
		respondWithStreakError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, user.Profile{User: u, Streak: status})
}
