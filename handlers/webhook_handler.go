package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/services"

	"github.com/google/uuid"
)

const (
	maxWebhookBody   = 1 << 16
	webhookTolerance = 5 * time.Minute
)

type userLifecycle interface {
	ResolveUserID(ctx context.Context, clerkID string) (uuid.UUID, error)
	DeleteUserByClerkID(ctx context.Context, clerkID string) error
}

// WebhookHandler keeps the users table in step with Clerk.
type WebhookHandler struct {
	users  userLifecycle
	secret []byte
	log    *logger.Logger
	now    func() time.Time
}

// NewWebhookHandler takes the Clerk signing secret ("whsec_..."). An empty
// secret disables signature checks, which is only meant for development.
func NewWebhookHandler(users userLifecycle, secret string, log *logger.Logger) (*WebhookHandler, error) {
	h := &WebhookHandler{
		users: users,
		log:   log.With("handler", "WebhookHandler"),
		now:   time.Now,
	}
	if secret != "" {
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
		if err != nil {
			return nil, fmt.Errorf("invalid webhook secret: %w", err)
		}
		h.secret = key
	}
	return h, nil
}

type clerkEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type clerkUserData struct {
	ID string `json:"id"`
}

// POST /webhooks/clerk
func (h *WebhookHandler) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Error reading body")
		return
	}

	if err := h.verifySignature(r.Header, body); err != nil {
		h.log.Warn("invalid webhook signature", "error", err)
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event clerkEvent
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, "Error parsing webhook")
		return
	}

	var data clerkUserData
	if strings.HasPrefix(event.Type, "user.") {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			h.log.Warn("invalid webhook payload", "type", event.Type, "error", err)
			respondWithError(w, http.StatusBadRequest, "Error parsing webhook")
			return
		}
		if data.ID == "" {
			respondWithError(w, http.StatusBadRequest, "Missing user id")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch event.Type {
	case "user.created":
		if _, err := h.users.ResolveUserID(ctx, data.ID); err != nil {
			h.log.Error("failed to create user from webhook", "clerk_id", data.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Error processing webhook")
			return
		}
		h.log.Info("user created", "clerk_id", data.ID)

	case "user.deleted":
		err := h.users.DeleteUserByClerkID(ctx, data.ID)
		if err != nil && !errors.Is(err, services.ErrUserNotFound) {
			h.log.Error("failed to delete user from webhook", "clerk_id", data.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Error processing webhook")
			return
		}

	default:
		h.log.Debug("unhandled webhook event", "type", event.Type)
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// verifySignature checks the svix headers Clerk signs webhooks with:
// base64(HMAC-SHA256(secret, "id.timestamp.body")), possibly several
// space-separated "v1,<sig>" entries.
func (h *WebhookHandler) verifySignature(header http.Header, body []byte) error {
	if h.secret == nil {
		return nil
	}

	id := header.Get("svix-id")
	ts := header.Get("svix-timestamp")
	sigs := header.Get("svix-signature")
	if id == "" || ts == "" || sigs == "" {
		return errors.New("missing signature headers")
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("invalid timestamp")
	}
	if d := h.now().Sub(time.Unix(sec, 0)); d > webhookTolerance || d < -webhookTolerance {
		return errors.New("timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err == nil && hmac.Equal(got, expected) {
			return nil
		}
	}
	return errors.New("no matching signature")
}
