package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"liveclass-service/internal/service"
	"liveclass-service/internal/util"
)

// AdminHandler exposes the operator surface: session lifecycle
// overrides, ad-hoc session creation, recordings, and the module
// permission store.
type AdminHandler struct {
	sessions    *service.SessionService
	permissions *service.PermissionService
	providerTag string
	logger      *zap.Logger
}

func NewAdminHandler(
	sessions *service.SessionService,
	permissions *service.PermissionService,
	providerTag string,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		sessions:    sessions,
		permissions: permissions,
		providerTag: providerTag,
		logger:      logger,
	}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Post("/{sessionID}/end", h.ForceEnd)
			r.Post("/{sessionID}/cancel", h.Cancel)
			r.Post("/{sessionID}/lock", h.Lock)
			r.Post("/{sessionID}/unlock", h.Unlock)
			r.Get("/{sessionID}/recordings", h.Recordings)
		})
		r.Route("/permissions", func(r chi.Router) {
			r.Post("/", h.GrantPermission)
			r.Post("/batch", h.BatchGrant)
			r.Delete("/", h.RevokePermission)
			r.Get("/{userID}", h.ListPermissions)
			r.Get("/{userID}/check", h.CheckAccess)
		})
	})
}

func (h *AdminHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req service.AdHocSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "malformed request body"})
		return
	}

	session, err := h.sessions.CreateAdHoc(r.Context(), req, h.providerTag)
	if err != nil {
		writeError(w, err)
		return
	}

	util.Info("Ad-hoc session created",
		zap.String("session_id", session.ID),
		zap.String("host_id", session.HostID))
	writeJSON(w, http.StatusCreated, successResponse(session, "session created"))
}

func (h *AdminHandler) ForceEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.ForceEnd(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(nil, "session ended"))
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(nil, "session cancelled"))
}

func (h *AdminHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

func (h *AdminHandler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.SetLocked(r.Context(), sessionID, locked); err != nil {
		writeError(w, err)
		return
	}
	message := "session unlocked"
	if locked {
		message = "session locked"
	}
	writeJSON(w, http.StatusOK, successResponse(nil, message))
}

func (h *AdminHandler) Recordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := h.sessions.Recordings(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(recordings, ""))
}

func (h *AdminHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var req service.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "malformed request body"})
		return
	}

	perm, err := h.permissions.Grant(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, successResponse(perm, "permission granted"))
}

type revokeRequest struct {
	UserID     string `json:"user_id"`
	Capability string `json:"capability"`
	RevokedBy  string `json:"revoked_by"`
}

func (h *AdminHandler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "malformed request body"})
		return
	}

	if err := h.permissions.Revoke(r.Context(), req.UserID, req.Capability, req.RevokedBy); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse(nil, "permission revoked"))
}

func (h *AdminHandler) BatchGrant(w http.ResponseWriter, r *http.Request) {
	var requests []service.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "malformed request body"})
		return
	}
	if len(requests) == 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "empty batch"})
		return
	}

	result := h.permissions.BatchGrant(r.Context(), requests)

	// Partial success is still a 200; the per-item errors are in the
	// body for the caller to act on.
	writeJSON(w, http.StatusOK, successResponse(result, ""))
}

func (h *AdminHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.permissions.ListForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(perms, ""))
}

func (h *AdminHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "capability query parameter is required"})
		return
	}

	decision, err := h.permissions.Check(r.Context(), userID, capability)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(decision, ""))
}
