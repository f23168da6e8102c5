package synchronizer

import (
	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/sse"
)

// Live event names.
const (
	eventInit         = "INIT"
	eventDeviceUpdate = "DEVICE_UPDATE"
	eventUpdate       = "UPDATE"
	eventMessage      = "message"
)

type eventKind int

const (
	kindIgnore eventKind = iota
	kindReplace
	kindMerge
)

// classify maps an event name to how it is applied. Unnamed events are
// treated as updates.
func classify(name string) eventKind {
	switch name {
	case eventInit:
		return kindReplace
	case eventDeviceUpdate, eventUpdate, eventMessage, "":
		return kindMerge
	default:
		return kindIgnore
	}
}

// handleEvent applies one live event for the session identified by epoch.
func (s *Synchronizer) handleEvent(epoch uint64, ev sse.Event) {
	kind := classify(ev.Name)
	if kind == kindIgnore {
		s.mu.Lock()
		if s.epoch == epoch {
			s.stats.IgnoredEvents++
		}
		s.mu.Unlock()
		s.logger.Debug("ignoring live event", "event", ev.Name)
		return
	}

	records, err := device.DecodeRecords(ev.Data)
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			s.stats.MalformedEvents++
		}
		s.mu.Unlock()
		s.logger.Warn("dropping malformed live event", "event", ev.Name, "id", ev.ID, "error", err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || !s.started {
		s.mu.Unlock()
		return
	}

	switch kind {
	case kindReplace:
		shown := s.cache.Replace(device.DevicesFromRecords(records), SourceLive)
		s.enqueueLocked(Event{Type: EventDevicesReplaced, Devices: shown})
	case kindMerge:
		changed := s.cache.Merge(records, SourceLive)
		s.enqueueLocked(Event{Type: EventDevicesUpdated, Devices: changed})
	}
	s.stats.EventsApplied++
	job := s.persistLocked()
	s.mu.Unlock()

	s.persist(job)
	s.flush()
}

// handleStatus records a channel state change for the session identified
// by epoch.
func (s *Synchronizer) handleStatus(epoch uint64, status Status) {
	s.mu.Lock()
	if s.epoch != epoch || !s.started {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.enqueueLocked(Event{Type: EventConnectionStatus, Status: status})
	s.mu.Unlock()

	s.flush()
}
