package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is a device as it appears on the wire. Every field is optional so
// that partial updates merge field by field; DeviceID is required.
type Record struct {
	DeviceID    *int    `json:"deviceId"`
	DeviceName  *string `json:"deviceName,omitempty"`
	DeviceType  *Type   `json:"deviceType,omitempty"`
	PowerRating *string `json:"powerRating,omitempty"`
	Location    *string `json:"location,omitempty"`
	HouseID     *int    `json:"houseId,omitempty"`
	UserID      *int    `json:"userId,omitempty"`
	On          *bool   `json:"on,omitempty"`
}

// ID returns the record's device id, or 0 when absent.
func (r Record) ID() int {
	if r.DeviceID == nil {
		return 0
	}
	return *r.DeviceID
}

// Validate checks the fields every record must carry.
func (r Record) Validate() error {
	if r.DeviceID == nil {
		return fmt.Errorf("%w: missing deviceId", ErrMalformedRecord)
	}
	if *r.DeviceID <= 0 {
		return fmt.Errorf("%w: deviceId %d is not positive", ErrMalformedRecord, *r.DeviceID)
	}
	return nil
}

// ApplyTo overlays the fields present in r onto base and normalizes the result.
func (r Record) ApplyTo(base Device) Device {
	if r.DeviceID != nil {
		base.DeviceID = *r.DeviceID
	}
	if r.DeviceName != nil {
		base.DeviceName = *r.DeviceName
	}
	if r.DeviceType != nil {
		base.DeviceType = *r.DeviceType
	}
	if r.PowerRating != nil {
		base.PowerRating = *r.PowerRating
	}
	if r.Location != nil {
		base.Location = *r.Location
	}
	if r.HouseID != nil {
		base.HouseID = *r.HouseID
	}
	if r.UserID != nil {
		base.UserID = *r.UserID
	}
	if r.On != nil {
		base.On = *r.On
	}
	return Normalize(base)
}

// Device converts a complete record to a normalized Device.
func (r Record) Device() Device {
	return r.ApplyTo(Device{})
}

// DecodeRecords parses a payload holding either one JSON device or a JSON
// array of devices. Every record is validated.
func DecodeRecords(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedRecord)
	}

	var records []Record
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
	case '{':
		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		records = []Record{rec}
	default:
		return nil, fmt.Errorf("%w: payload is neither object nor array", ErrMalformedRecord)
	}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// DevicesFromRecords converts complete records to normalized devices, in order.
func DevicesFromRecords(records []Record) []Device {
	devices := make([]Device, 0, len(records))
	for _, rec := range records {
		devices = append(devices, rec.Device())
	}
	return devices
}
