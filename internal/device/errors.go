package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidDevice) {
//	    // reject the request
//	}
var (
	// ErrInvalidDevice is returned when device input validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidType is returned when a device type is not recognised.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrInvalidPowerRating is returned when a power rating is not of the form "250W".
	ErrInvalidPowerRating = errors.New("device: invalid power rating")

	// ErrInvalidHouse is returned when a house id is not positive.
	ErrInvalidHouse = errors.New("device: invalid house id")

	// ErrMalformedRecord is returned when a wire record cannot be decoded
	// or lacks required fields.
	ErrMalformedRecord = errors.New("device: malformed record")
)
