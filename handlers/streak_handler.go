package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/types/streak"
	"studyStreakAPI/services"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

type streakEngine interface {
	RecordActivity(ctx context.Context, userID uuid.UUID, localDate time.Time, activity streak.ActivityType) (*streak.Result, error)
	GetStatus(ctx context.Context, userID uuid.UUID, today time.Time) (*streak.StatusResult, error)
	GetHistory(ctx context.Context, userID uuid.UUID, today time.Time, days int) ([]streak.Row, error)
}

type milestoneNotifier interface {
	NotifyStreakMilestone(ctx context.Context, userID uuid.UUID, days int) error
}

type StreakHandler struct {
	streaks  streakEngine
	users    userDirectory
	notifier milestoneNotifier
	log      *logger.Logger
	now      func() time.Time
}

func NewStreakHandler(streaks streakEngine, users userDirectory, notifier milestoneNotifier, log *logger.Logger) *StreakHandler {
	return &StreakHandler{
		streaks:  streaks,
		users:    users,
		notifier: notifier,
		log:      log.With("handler", "StreakHandler"),
		now:      time.Now,
	}
}

type recordActivityRequest struct {
	LocalDate string `json:"local_date"`
	Timezone  string `json:"timezone"`
}

type recordActivityResponse struct {
	*streak.Result
	XPAwarded int  `json:"xp_awarded"`
	TotalXP   *int `json:"total_xp,omitempty"`
	Milestone bool `json:"milestone"`
}

// POST /api/v1/activities/{type}
func (h *StreakHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	activity, err := streak.ParseActivityType(mux.Vars(r)["type"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req recordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Timezone == "" {
		req.Timezone = r.Header.Get(timezoneHeader)
	}
	localDate, err := resolveLocalDate(h.now(), req.LocalDate, req.Timezone)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, ok := authenticatedUser(ctx, w, h.users, h.log)
	if !ok {
		return
	}

	res, err := h.streaks.RecordActivity(ctx, userID, localDate, activity)
	if err != nil {
		respondWithStreakError(w, h.log, err)
		return
	}

	resp := recordActivityResponse{Result: res}

	// The streak is already committed; reward failures are logged, not returned.
	xp := services.XPForResult(res)
	total, err := h.users.AwardXP(ctx, userID, xp)
	if err != nil {
		h.log.Warn("failed to award xp", "user_id", userID, "xp", xp, "error", err)
	} else {
		resp.XPAwarded = xp
		resp.TotalXP = &total
	}

	if services.ReachedMilestone(res) {
		resp.Milestone = true
		if h.notifier != nil {
			if err := h.notifier.NotifyStreakMilestone(ctx, userID, res.CurrentStreak); err != nil {
				h.log.Warn("failed to queue milestone notification", "user_id", userID, "streak", res.CurrentStreak, "error", err)
			}
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GET /api/v1/streak/status
func (h *StreakHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	today, err := requestLocalDate(r, h.now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, ok := authenticatedUser(ctx, w, h.users, h.log)
	if !ok {
		return
	}

	status, err := h.streaks.GetStatus(ctx, userID, today)
	if err != nil {
		respondWithStreakError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

type historyEntry struct {
	Date             string `json:"date"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
	VideosWatched    int    `json:"videos_watched"`
	NotesCompleted   int    `json:"notes_completed"`
	QuizzesCompleted int    `json:"quizzes_completed"`
}

type historyResponse struct {
	Days    int            `json:"days"`
	History []historyEntry `json:"history"`
}

// GET /api/v1/streak/history?days=N
func (h *StreakHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	days := defaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = min(n, maxHistoryDays)
	}

	today, err := requestLocalDate(r, h.now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, ok := authenticatedUser(ctx, w, h.users, h.log)
	if !ok {
		return
	}

	rows, err := h.streaks.GetHistory(ctx, userID, today, days)
	if err != nil {
		respondWithStreakError(w, h.log, err)
		return
	}

	resp := historyResponse{Days: days, History: make([]historyEntry, 0, len(rows))}
	for _, row := range rows {
		resp.History = append(resp.History, historyEntry{
			Date:             row.ActivityDate.Format(streak.DateLayout),
			CurrentStreak:    row.CurrentStreak,
			LongestStreak:    row.LongestStreak,
			VideosWatched:    row.VideosWatched,
			NotesCompleted:   row.NotesCompleted,
			QuizzesCompleted: row.QuizzesCompleted,
		})
	}

	respondWithJSON(w, http.StatusOK, resp)
}
