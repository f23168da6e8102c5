package device

import (
	"strconv"
	"strings"
)

// ParsePowerRating returns the integer prefix of a power rating such as
// "250W" or "1500 W". Unparseable ratings yield 0.
func ParsePowerRating(rating string) int {
	s := strings.TrimSpace(rating)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Normalize recomputes the derived fields. It is idempotent.
func Normalize(d Device) Device {
	d.Status = StatusFor(d.On)
	d.PowerUsage = ParsePowerRating(d.PowerRating)
	return d
}

// NormalizeAll normalizes a list in place order.
func NormalizeAll(devices []Device) []Device {
	out := make([]Device, len(devices))
	for i := range devices {
		out[i] = Normalize(devices[i])
	}
	return out
}
