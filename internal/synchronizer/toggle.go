package synchronizer

import (
	"context"
	"fmt"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/device"
)

// Toggle flips a device's power state.
//
// The cached device flips and is marked updating before the backend is
// called. On success the flip stands (or the server's device replaces it)
// and the updating mark clears after the settle delay. On failure the
// flip is reverted at once and a *ToggleError returned. A live update or
// snapshot for the device that lands while the command is in flight
// supersedes both outcomes.
//
// A second toggle for a device whose first toggle is unanswered returns
// ErrTogglePending without calling the backend.
func (s *Synchronizer) Toggle(ctx context.Context, deviceID int) (string, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return "", ErrNotStarted
	}
	if _, busy := s.inflight[deviceID]; busy {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: device %d", ErrTogglePending, deviceID)
	}
	flipped, rev, ok := s.cache.Flip(deviceID)
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrDeviceNotFound, deviceID)
	}
	s.inflight[deviceID] = struct{}{}
	if st, ok := s.settling[deviceID]; ok {
		st.timer.Stop()
		delete(s.settling, deviceID)
	}
	s.stats.Toggles++
	epoch, token := s.epoch, s.token
	s.enqueueLocked(Event{Type: EventDevicesUpdated, Devices: []device.Device{flipped}})
	s.mu.Unlock()
	s.flush()

	result, err := s.backend.ToggleDevice(ctx, token, deviceID)
	if err != nil {
		return "", s.toggleFailed(epoch, deviceID, rev, err)
	}
	return s.toggleSucceeded(epoch, deviceID, rev, result)
}

func (s *Synchronizer) toggleFailed(epoch uint64, deviceID int, rev uint64, cause error) error {
	msg := backend.MessageOf(cause)
	if msg == "" {
		msg = cause.Error()
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return fmt.Errorf("%w: toggle of device %d discarded", ErrStopped, deviceID)
	}
	delete(s.inflight, deviceID)
	s.stats.ToggleFailures++
	if reverted, ok := s.cache.Revert(deviceID, rev); ok {
		s.enqueueLocked(Event{Type: EventDevicesUpdated, Devices: []device.Device{reverted}})
	}
	s.enqueueLocked(Event{Type: EventToggleResult, DeviceID: deviceID, OK: false, Message: msg})
	s.mu.Unlock()
	s.flush()

	s.logger.Warn("toggle failed", "device_id", deviceID, "error", cause)

	err := cause
	if authErr := s.authError(epoch, cause); authErr != nil {
		err = authErr
	}
	return &ToggleError{DeviceID: deviceID, Message: msg, Err: err}
}

func (s *Synchronizer) toggleSucceeded(epoch uint64, deviceID int, rev uint64, result backend.ToggleResult) (string, error) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: toggle of device %d discarded", ErrStopped, deviceID)
	}
	delete(s.inflight, deviceID)

	var job *persistJob
	if confirmed, ok := s.cache.Confirm(deviceID, rev, result.Device); ok {
		s.enqueueLocked(Event{Type: EventDevicesUpdated, Devices: []device.Device{confirmed}})
		job = s.persistLocked()
	} else {
		s.logger.Debug("toggle confirmation superseded by newer state", "device_id", deviceID)
	}
	s.armSettleLocked(epoch, deviceID)
	s.enqueueLocked(Event{Type: EventToggleResult, DeviceID: deviceID, OK: true, Message: result.Message})
	s.mu.Unlock()

	s.persist(job)
	s.flush()
	return result.Message, nil
}

// armSettleLocked schedules clearing the device's updating mark. Only the
// most recent settle timer for a device takes effect.
func (s *Synchronizer) armSettleLocked(epoch uint64, deviceID int) {
	if st, ok := s.settling[deviceID]; ok {
		st.timer.Stop()
	}
	s.settleID++
	token := s.settleID
	s.settling[deviceID] = settleTimer{
		token: token,
		timer: s.clock.AfterFunc(s.settleDelay, func() { s.settled(epoch, deviceID, token) }),
	}
}

func (s *Synchronizer) settled(epoch uint64, deviceID int, token uint64) {
	s.mu.Lock()
	st, ok := s.settling[deviceID]
	if s.epoch != epoch || !ok || st.token != token {
		s.mu.Unlock()
		return
	}
	delete(s.settling, deviceID)
	if d, ok := s.cache.SetUpdating(deviceID, false); ok {
		s.enqueueLocked(Event{Type: EventDevicesUpdated, Devices: []device.Device{d}})
	}
	s.mu.Unlock()

	s.flush()
}
