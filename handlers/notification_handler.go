package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/notification"

	"github.com/google/uuid"
)

type deviceRegistrar interface {
	RegisterDevice(ctx context.Context, userID uuid.UUID, req notification.RegisterDeviceRequest) error
}

type NotificationHandler struct {
	devices deviceRegistrar
	users   userDirectory
	log     *logger.Logger
}

func NewNotificationHandler(devices deviceRegistrar, users userDirectory, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		devices: devices,
		users:   users,
		log:     log.With("handler", "NotificationHandler"),
	}
}

// POST /api/v1/notifications/devices - Register a push device token
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var req notification.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, ok := authenticatedUser(ctx, w, h.users, h.log)
	if !ok {
		return
	}

	if err := h.devices.RegisterDevice(ctx, userID, req); err != nil {
		h.log.Error("failed to register device", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}
