package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every WattSync topic.
//
// Per-house topics use the scheme wattsync/house/{house_id}/...; the agent
// itself reports under wattsync/system.
const TopicPrefix = "wattsync"

// Topics builds WattSync MQTT topics.
// Using these helpers keeps the relay and its tests on one naming scheme.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState(7, 3)
//	// Returns: "wattsync/house/7/device/3/state"
type Topics struct{}

// =============================================================================
// House Topics
// =============================================================================

// DeviceState is the retained per-device state topic. Its payload is the
// device as JSON; an empty payload means the device is gone.
//
// Example: wattsync/house/7/device/3/state
func (Topics) DeviceState(houseID, deviceID int) string {
	return fmt.Sprintf("%s/house/%d/device/%d/state", TopicPrefix, houseID, deviceID)
}

// DeviceToggle is the command topic a local consumer publishes to in order
// to toggle one device.
//
// Example: wattsync/house/7/device/3/toggle
func (Topics) DeviceToggle(houseID, deviceID int) string {
	return fmt.Sprintf("%s/house/%d/device/%d/toggle", TopicPrefix, houseID, deviceID)
}

// AllDeviceToggles matches the toggle topic of every device in a house.
//
// Example: wattsync/house/7/device/+/toggle
func (Topics) AllDeviceToggles(houseID int) string {
	return fmt.Sprintf("%s/house/%d/device/+/toggle", TopicPrefix, houseID)
}

// Connection is the retained push-channel status topic of a house.
//
// Example: wattsync/house/7/connection
func (Topics) Connection(houseID int) string {
	return fmt.Sprintf("%s/house/%d/connection", TopicPrefix, houseID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus carries the agent's online/offline status and its LWT.
//
// Example: wattsync/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// =============================================================================
// Parsing
// =============================================================================

// ParseDeviceTopic extracts the house and device ids from a per-device
// topic ending in the given action ("state" or "toggle").
//
// Parameters:
//   - topic: A concrete topic as received, no wildcards
//   - action: The last topic level to expect
//
// Returns:
//   - houseID, deviceID: Both positive when ok
//   - ok: false for any other topic shape or non-positive id
func (Topics) ParseDeviceTopic(topic, action string) (houseID, deviceID int, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != TopicPrefix || parts[1] != "house" ||
		parts[3] != "device" || parts[5] != action {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[2])
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	d, err := strconv.Atoi(parts[4])
	if err != nil || d <= 0 {
		return 0, 0, false
	}
	return h, d, true
}
