package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is matched by errors returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("backend: unauthorized")

	// ErrBadResponse is returned when a successful response cannot be decoded.
	ErrBadResponse = errors.New("backend: bad response")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	// Message is the server-provided message, or the status text when the
	// body carried none.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match auth failures.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// MessageOf returns the server-provided message carried by err, if any.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}
