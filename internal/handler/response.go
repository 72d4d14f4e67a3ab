package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/service"
	"liveclass-service/internal/token"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError maps the service error taxonomy onto HTTP statuses. The
// two token failures get distinct messages on purpose: "expired" means
// request a new link, "already used" means this link is spent.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, service.ErrAccessDenied):
		status, message = http.StatusForbidden, "access denied"
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrPermissionNotFound),
		errors.Is(err, scylla.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrSessionLocked):
		status, message = http.StatusLocked, "session is locked"
	case errors.Is(err, service.ErrSessionFinished):
		status, message = http.StatusGone, "session already finished"
	case errors.Is(err, service.ErrThrottled):
		status, message = http.StatusTooManyRequests, "too many attempts"
	case errors.Is(err, service.ErrInvalidInput):
		status, message = http.StatusBadRequest, "invalid request"
	case errors.Is(err, token.ErrTokenExpired):
		status, message = http.StatusUnauthorized, "access link expired, request a new one"
	case errors.Is(err, token.ErrTokenReplayed):
		status, message = http.StatusConflict, "access link already used"
	case errors.Is(err, token.ErrTokenInvalid):
		status, message = http.StatusUnauthorized, "invalid access link"
	case errors.Is(err, provider.ErrUnavailable):
		status, message = http.StatusBadGateway, "conferencing provider unavailable"
	}

	writeJSON(w, status, errorResponse(err, message))
}
