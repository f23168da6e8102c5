package synchronizer

import "github.com/wattwise/wattsync/internal/device"

// EventType names a change reported to listeners.
type EventType string

// Listener event types.
const (
	// EventDevicesReplaced carries the full working set after a snapshot,
	// an INIT event, hydration or teardown (empty Devices).
	EventDevicesReplaced EventType = "devices.replaced"
	// EventDevicesUpdated carries only the devices that changed.
	EventDevicesUpdated EventType = "devices.updated"
	// EventDeviceRemoved carries the removed device's id.
	EventDeviceRemoved EventType = "device.removed"
	// EventConnectionStatus carries the live channel's new state.
	EventConnectionStatus EventType = "connection.status"
	// EventToggleResult carries the outcome of a toggle command.
	EventToggleResult EventType = "toggle.result"
)

// Event describes one change to the synchronizer's state. Devices are
// copies; listeners may keep or modify them.
type Event struct {
	Type    EventType
	HouseID int

	Devices  []device.Device
	DeviceID int
	Status   Status

	// Toggle outcome, for EventToggleResult.
	OK      bool
	Message string
}

// Listener receives events in the order the changes were applied. It runs
// on whichever goroutine made the change and must not block for long.
type Listener func(Event)
