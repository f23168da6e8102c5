package synchronizer

import (
	"context"
	"fmt"

	"github.com/wattwise/wattsync/internal/backend"
)

// Load fetches the house's device list and replaces the cache and the
// durable snapshot with it.
//
// A rejected credential returns ErrUnauthorized and any other failure a
// *LoadError; in both cases the cache is left as it was. A response that
// arrives after Stop or a house switch is discarded with ErrStopped.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	epoch, houseID, token := s.epoch, s.houseID, s.token
	s.mu.Unlock()

	devices, err := s.backend.ListDevices(ctx, token, houseID)
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			s.stats.LoadFailures++
		}
		s.mu.Unlock()

		if authErr := s.authError(epoch, err); authErr != nil {
			s.logger.Error("snapshot load rejected credential", "house_id", houseID)
			return authErr
		}

		msg := backend.MessageOf(err)
		if msg == "" {
			msg = err.Error()
		}
		s.logger.Warn("snapshot load failed", "house_id", houseID, "error", err)
		return &LoadError{HouseID: houseID, Message: msg, Err: err}
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding snapshot for stopped session", "house_id", houseID)
		return fmt.Errorf("%w: snapshot for house %d discarded", ErrStopped, houseID)
	}
	shown := s.cache.Replace(devices, SourceSnapshot)
	s.stats.Loads++
	s.enqueueLocked(Event{Type: EventDevicesReplaced, Devices: shown})
	job := s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("snapshot loaded", "house_id", houseID, "count", len(devices))
	s.persist(job)
	s.flush()
	return nil
}
