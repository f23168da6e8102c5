package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wattwise/wattsync/internal/device"
)

// Measurement names.
const (
	MeasurementDevicePower      = "device_power"
	MeasurementConnectionStatus = "sync_connection"
)

// DevicePowerPoint builds the device_power point for one device.
//
// power_watts is the device's rated usage while it is on and 0 while it is
// off, so summing the series over a house gives its instantaneous draw.
//
// Parameters:
//   - d: A normalized device (PowerUsage already derived)
//   - at: Point timestamp
//
// Returns:
//   - *write.Point: Tagged house_id, device_id and device_type; fields on
//     (0/1) and power_watts
func DevicePowerPoint(d device.Device, at time.Time) *write.Point {
	on := 0
	watts := 0
	if d.On {
		on = 1
		watts = d.PowerUsage
	}

	return write.NewPoint(
		MeasurementDevicePower,
		map[string]string{
			"house_id":    strconv.Itoa(d.HouseID),
			"device_id":   strconv.Itoa(d.DeviceID),
			"device_type": string(d.DeviceType),
		},
		map[string]interface{}{
			"on":          on,
			"power_watts": watts,
		},
		at,
	)
}

// ConnectionStatusPoint records a push-channel status transition.
func ConnectionStatusPoint(houseID int, status string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnectionStatus,
		map[string]string{
			"house_id": strconv.Itoa(houseID),
		},
		map[string]interface{}{
			"status": status,
		},
		at,
	)
}

// WriteDevicePower queues a device_power point.
//
// This is non-blocking; the point is sent with the next batch. Points
// written after Close are dropped.
//
// Example:
//
//	client.WriteDevicePower(d, time.Now())
func (c *Client) WriteDevicePower(d device.Device, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(DevicePowerPoint(d, at))
}

// WriteConnectionStatus queues a sync_connection point. Non-blocking.
func (c *Client) WriteConnectionStatus(houseID int, status string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ConnectionStatusPoint(houseID, status, at))
}
