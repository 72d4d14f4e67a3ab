package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"liveclass-service/internal/service"
	"liveclass-service/internal/util"
)

// SessionHandler exposes the learner-facing session endpoints: join,
// token redemption, leave, and session lookup.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

func NewSessionHandler(sessions *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/{sessionID}", h.GetSession)
		r.Post("/{sessionID}/join", h.Join)
		r.Post("/{sessionID}/leave", h.Leave)
	})
	r.Get("/access/{token}", h.Redeem)
}

type joinRequest struct {
	UserID string `json:"user_id"`
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "user_id is required"})
		return
	}

	result, err := h.sessions.Join(r.Context(), sessionID, req.UserID)
	if err != nil {
		if errors.Is(err, service.ErrThrottled) {
			w.Header().Set("X-RateLimit-Remaining", "0")
		}
		util.Debug("Join denied",
			zap.String("session_id", sessionID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		writeError(w, err)
		return
	}

	if result.AttemptsLeft != nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(*result.AttemptsLeft, 10))
	}
	writeJSON(w, http.StatusOK, successResponse(result, "access granted"))
}

// Redeem exchanges a single-use access token for the provider join URL.
// The client follows the redirect straight into the room.
func (h *SessionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	tokenString := chi.URLParam(r, "token")
	if tokenString == "" {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "token is required"})
		return
	}

	joinURL, err := h.sessions.Redeem(r.Context(), tokenString)
	if err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, joinURL, http.StatusFound)
}

func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "user_id is required"})
		return
	}

	if err := h.sessions.Leave(r.Context(), sessionID, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse(nil, "left session"))
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse(session, ""))
}
