// Package telemetry records the synchronizer's device power view as
// time-series points.
package telemetry

import (
	"time"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/synchronizer"
)

// Writer is the time-series sink. *influxdb.Client satisfies it.
type Writer interface {
	WriteDevicePower(d device.Device, at time.Time)
	WriteConnectionStatus(houseID int, status string, at time.Time)
}

// Recorder turns synchronizer events into power points.
type Recorder struct {
	w   Writer
	now func() time.Time
}

// NewRecorder creates a Recorder writing to w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// HandleEvent is a synchronizer.Listener.
//
// Devices still marked IsUpdating are skipped: their on-flag is a guess
// until the backend confirms it, and the confirmation arrives as its own
// update.
func (r *Recorder) HandleEvent(ev synchronizer.Event) {
	at := r.now()
	switch ev.Type {
	case synchronizer.EventDevicesReplaced, synchronizer.EventDevicesUpdated:
		for _, d := range ev.Devices {
			if d.IsUpdating {
				continue
			}
			r.w.WriteDevicePower(d, at)
		}
	case synchronizer.EventConnectionStatus:
		r.w.WriteConnectionStatus(ev.HouseID, string(ev.Status), at)
	}
}
