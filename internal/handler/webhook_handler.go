package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/lifecycle"
	"liveclass-service/internal/models"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/util"
)

const (
	signatureHeader = "X-Provider-Signature"
	timestampHeader = "X-Provider-Timestamp"

	// Deliveries older than this are rejected even with a valid
	// signature; a replayed capture should not move session state.
	maxTimestampSkew = 5 * time.Minute

	maxWebhookBody = 1 << 20
)

// WebhookHandler receives provider event deliveries. The signature is
// an HMAC-SHA256 over "timestamp.body" with the shared webhook secret,
// verified before the payload is even decoded.
type WebhookHandler struct {
	reconciler *lifecycle.Reconciler
	secret     []byte
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler *lifecycle.Reconciler, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		secret:     []byte(secret),
		logger:     logger,
	}
}

func (h *WebhookHandler) HandleProviderEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(r.Header.Get(timestampHeader), r.Header.Get(signatureHeader), body) {
		util.Warn("Webhook rejected: invalid signature",
			zap.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, Response{Success: false, Error: "invalid signature"})
		return
	}

	var event models.ProviderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "malformed event payload"})
		return
	}

	if err := h.reconciler.ApplyProviderEvent(r.Context(), event); err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			// Event for a room we do not track. Acknowledge it so the
			// provider stops retrying.
			util.Debug("Webhook for untracked room ignored",
				zap.String("event", event.Type),
				zap.String("room_id", event.Payload.RoomID))
			writeJSON(w, http.StatusOK, Response{Success: true, Message: "ignored"})
			return
		}
		util.Error("Webhook processing failed",
			zap.String("event", event.Type),
			zap.String("room_id", event.Payload.RoomID),
			zap.Error(err))
		// Non-2xx makes the provider redeliver; the transition guard
		// makes the redelivery safe.
		writeJSON(w, http.StatusInternalServerError, errorResponse(err, "event processing failed"))
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (h *WebhookHandler) verifySignature(timestamp, signature string, body []byte) bool {
	if timestamp == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if d := time.Since(time.Unix(ts, 0)); d > maxTimestampSkew || d < -maxTimestampSkew {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
