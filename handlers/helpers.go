package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/types/streak"
	"studyStreakAPI/middleware"

	"github.com/google/uuid"
)

const timezoneHeader = "X-Timezone"

// userDirectory maps the authenticated Clerk subject to the internal user
// and owns the XP balance.
type userDirectory interface {
	ResolveUserID(ctx context.Context, clerkID string) (uuid.UUID, error)
	AwardXP(ctx context.Context, userID uuid.UUID, amount int) (int, error)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithStreakError maps the engine's error kinds to HTTP.
func respondWithStreakError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, streak.ErrInvalidActivityType):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, streak.ErrStorageContention):
		respondWithJSON(w, http.StatusConflict, map[string]any{
			"error":     "streak is being updated, try again",
			"retryable": true,
		})
	case errors.Is(err, streak.ErrStorageUnavailable):
		log.Error("streak storage unavailable", "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "streak storage unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		log.Error("streak request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// authenticatedUser resolves the caller, writing the error response itself
// when it returns false.
func authenticatedUser(ctx context.Context, w http.ResponseWriter, users userDirectory, log *logger.Logger) (uuid.UUID, bool) {
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return uuid.Nil, false
	}

	userID, err := users.ResolveUserID(ctx, clerkID)
	if err != nil {
		log.Error("failed to resolve user", "clerk_id", clerkID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve user")
		return uuid.Nil, false
	}
	return userID, true
}

// resolveLocalDate picks the caller's calendar date: an explicit localDate
// wins, then an IANA timezone (field, then header), then UTC.
func resolveLocalDate(now time.Time, localDate, timezone string) (time.Time, error) {
	if localDate != "" {
		d, err := streak.ParseDate(localDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("local_date must be YYYY-MM-DD")
		}
		return d, nil
	}

	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q", timezone)
		}
		return streak.Date(now.In(loc)), nil
	}

	return streak.Date(now.UTC()), nil
}

func requestLocalDate(r *http.Request, now time.Time) (time.Time, error) {
	q := r.URL.Query()
	tz := q.Get("timezone")
	if tz == "" {
		tz = r.Header.Get(timezoneHeader)
	}
	return resolveLocalDate(now, q.Get("local_date"), tz)
}
