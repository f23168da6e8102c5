package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/synchronizer"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeUpstream     = "upstream_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSyncError maps a synchronizer or backend error to a response. The
// backend's own message is surfaced when it sent one.
func writeSyncError(w http.ResponseWriter, err error) {
	var (
		loadErr   *synchronizer.LoadError
		toggleErr *synchronizer.ToggleError
		apiErr    *backend.APIError
	)

	switch {
	case errors.Is(err, synchronizer.ErrUnauthorized), errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "session rejected by backend")
	case errors.Is(err, synchronizer.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no active house")
	case errors.Is(err, synchronizer.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "device not found")
	case errors.Is(err, synchronizer.ErrTogglePending), errors.Is(err, synchronizer.ErrStopped):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.As(err, &toggleErr):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, toggleErr.Message)
	case errors.As(err, &loadErr):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, loadErr.Message)
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		} else if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = http.StatusBadRequest
		}
		writeError(w, status, ErrCodeUpstream, apiErr.Message)
	default:
		writeInternalError(w, "internal server error")
	}
}
