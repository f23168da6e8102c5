package synchronizer

import (
	"context"
	"fmt"

	"github.com/wattwise/wattsync/internal/device"
)

// AddDevice validates in, creates the device through the backend and
// caches the stored result. A zero HouseID defaults to the active house.
func (s *Synchronizer) AddDevice(ctx context.Context, in device.Input) (device.Device, error) {
	epoch, houseID, token, err := s.session()
	if err != nil {
		return device.Device{}, err
	}
	if in.HouseID == 0 {
		in.HouseID = houseID
	}
	if err := device.ValidateInput(in); err != nil {
		return device.Device{}, err
	}

	created, err := s.backend.CreateDevice(ctx, token, in)
	if err != nil {
		return device.Device{}, s.commandError(epoch, "adding device", err)
	}
	if created.HouseID != 0 && created.HouseID != houseID {
		// Created for another house; nothing to cache here.
		return created, nil
	}
	return s.putConfirmed(epoch, created)
}

// UpdateDevice validates in, updates the device through the backend and
// caches the stored result.
func (s *Synchronizer) UpdateDevice(ctx context.Context, deviceID int, in device.Input) (device.Device, error) {
	epoch, houseID, token, err := s.session()
	if err != nil {
		return device.Device{}, err
	}
	if in.HouseID == 0 {
		in.HouseID = houseID
	}
	if err := device.ValidateInput(in); err != nil {
		return device.Device{}, err
	}

	updated, err := s.backend.UpdateDevice(ctx, token, deviceID, in)
	if err != nil {
		return device.Device{}, s.commandError(epoch, fmt.Sprintf("updating device %d", deviceID), err)
	}
	return s.putConfirmed(epoch, updated)
}

// RemoveDevice deletes the device through the backend and drops it from
// the cache.
func (s *Synchronizer) RemoveDevice(ctx context.Context, deviceID int) error {
	epoch, _, token, err := s.session()
	if err != nil {
		return err
	}

	if err := s.backend.DeleteDevice(ctx, token, deviceID); err != nil {
		return s.commandError(epoch, fmt.Sprintf("removing device %d", deviceID), err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return fmt.Errorf("%w: removal of device %d discarded", ErrStopped, deviceID)
	}
	var job *persistJob
	if s.cache.Remove(deviceID) {
		if st, ok := s.settling[deviceID]; ok {
			st.timer.Stop()
			delete(s.settling, deviceID)
		}
		s.enqueueLocked(Event{Type: EventDeviceRemoved, DeviceID: deviceID})
		job = s.persistLocked()
	}
	s.mu.Unlock()

	s.persist(job)
	s.flush()
	return nil
}

// session returns the active epoch, house and credential.
func (s *Synchronizer) session() (epoch uint64, houseID int, token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, 0, "", ErrNotStarted
	}
	return s.epoch, s.houseID, s.token, nil
}

func (s *Synchronizer) putConfirmed(epoch uint64, d device.Device) (device.Device, error) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return d, fmt.Errorf("%w: result for device %d discarded", ErrStopped, d.DeviceID)
	}
	shown := s.cache.Put(d, SourceConfirmed)
	s.enqueueLocked(Event{Type: EventDevicesUpdated, Devices: []device.Device{shown}})
	job := s.persistLocked()
	s.mu.Unlock()

	s.persist(job)
	s.flush()
	return shown, nil
}

func (s *Synchronizer) commandError(epoch uint64, op string, err error) error {
	if authErr := s.authError(epoch, err); authErr != nil {
		return authErr
	}
	return fmt.Errorf("synchronizer: %s: %w", op, err)
}
