// Package device defines the appliance model shared by every WattSync component.
//
// A Device mirrors the backend's device record plus two derived fields:
//
//   - Status is "ON" when the server's on-flag is true, "OFF" otherwise
//   - PowerUsage is the integer prefix of PowerRating ("250W" -> 250)
//
// Normalize recomputes both and is idempotent, so it is safe to apply to
// anything read from the wire, a durable store or a previous normalization.
//
// Record is the wire form. Its fields are pointers so a live update carrying
// only {"deviceId": 3, "on": true} merges into the cached device without
// clearing the fields it omits:
//
//	records, err := device.DecodeRecords(payload) // object or array
//	merged := records[0].ApplyTo(cached)
//
// ValidateInput checks create/update payloads before they reach the backend.
package device
