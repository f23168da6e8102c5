// Package relay mirrors the synchronizer's device view onto MQTT.
//
// Each device is published retained on wattsync/house/{h}/device/{d}/state
// and the push-channel status on wattsync/house/{h}/connection. Devices
// that leave the working set have their retained state cleared. Messages on
// wattsync/house/{h}/device/{d}/toggle become synchronizer toggles; a body
// of {"on": true} only toggles when the device is currently off.
package relay
