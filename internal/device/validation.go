package device

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxLocationLength = 100
	powerRatingExpr   = `^\d+(\.\d+)?\s*[kK]?[wW]$`
)

var powerRatingRegex = regexp.MustCompile(powerRatingExpr)

var validTypes map[Type]struct{}

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}
}

// IsValidType reports whether t is a recognised device type.
func IsValidType(t Type) bool {
	_, ok := validTypes[t]
	return ok
}

// ValidateInput checks a create/update payload before it is sent to the backend.
// Returns an error describing the first validation failure found.
func ValidateInput(in Input) error {
	name := strings.TrimSpace(in.DeviceName)
	if name == "" {
		return fmt.Errorf("%w: %w: name is required", ErrInvalidDevice, ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %w: name exceeds %d characters", ErrInvalidDevice, ErrInvalidName, maxNameLength)
	}

	if !IsValidType(in.DeviceType) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDevice, ErrInvalidType, in.DeviceType)
	}

	if !powerRatingRegex.MatchString(strings.TrimSpace(in.PowerRating)) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDevice, ErrInvalidPowerRating, in.PowerRating)
	}

	if len(in.Location) > maxLocationLength {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidDevice, maxLocationLength)
	}

	if in.HouseID <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, ErrInvalidHouse)
	}

	return nil
}
