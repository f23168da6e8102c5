package synchronizer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the backend rejects the credential.
	// The synchronizer never retries it; the caller must re-authenticate.
	ErrUnauthorized = errors.New("synchronizer: unauthorized")

	// ErrLoadFailed is matched by every *LoadError.
	ErrLoadFailed = errors.New("synchronizer: load failed")

	// ErrToggleFailed is matched by every *ToggleError.
	ErrToggleFailed = errors.New("synchronizer: toggle failed")

	// ErrTogglePending is returned when a toggle for the same device has
	// not been answered yet.
	ErrTogglePending = errors.New("synchronizer: toggle already pending")

	// ErrDeviceNotFound is returned for a device id that is not cached.
	ErrDeviceNotFound = errors.New("synchronizer: device not found")

	// ErrNotStarted is returned by operations that need an active house.
	ErrNotStarted = errors.New("synchronizer: not started")

	// ErrStopped is returned when a request completed after the session it
	// belonged to was stopped; its result was discarded.
	ErrStopped = errors.New("synchronizer: stopped")
)

// LoadError reports a failed snapshot fetch. The cache is unchanged.
type LoadError struct {
	HouseID int
	// Message is the server-provided message when there was one.
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("synchronizer: loading house %d: %s", e.HouseID, e.Message)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailed, e.Err}
}

// ToggleError reports a rejected or failed toggle. The optimistic change
// has been reverted.
type ToggleError struct {
	DeviceID int
	Message  string
	Err      error
}

func (e *ToggleError) Error() string {
	return fmt.Sprintf("synchronizer: toggling device %d: %s", e.DeviceID, e.Message)
}

func (e *ToggleError) Unwrap() []error {
	return []error{ErrToggleFailed, e.Err}
}
