package device

// Type classifies what kind of appliance a device is.
type Type string

// Device types accepted by the backend.
const (
	TypeAppliance   Type = "Appliance"
	TypeLighting    Type = "Lighting"
	TypeElectronics Type = "Electronics"
	TypeHVAC        Type = "HVAC"
	TypeOther       Type = "Other"
)

// AllTypes returns every recognised device type.
func AllTypes() []Type {
	return []Type{TypeAppliance, TypeLighting, TypeElectronics, TypeHVAC, TypeOther}
}

// Status is the displayed power state of a device.
type Status string

// Power states.
const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

// StatusFor derives the displayed status from the server's on-flag.
func StatusFor(on bool) Status {
	if on {
		return StatusOn
	}
	return StatusOff
}

// Device is one controllable appliance in a house.
//
// Status and PowerUsage are derived fields; call Normalize after changing
// On or PowerRating. IsUpdating is transient and never persisted.
type Device struct {
	// Identity
	DeviceID int `json:"deviceId"`

	// Descriptive
	DeviceName  string `json:"deviceName"`
	DeviceType  Type   `json:"deviceType"`
	PowerRating string `json:"powerRating"`
	Location    string `json:"location"`

	// Ownership
	HouseID int `json:"houseId"`
	UserID  int `json:"userId"`

	// Runtime state
	On         bool   `json:"on"`
	Status     Status `json:"status"`
	PowerUsage int    `json:"powerUsage"`
	IsUpdating bool   `json:"isUpdating"`
}

// Persistable returns a copy suitable for durable storage.
func (d Device) Persistable() Device {
	d.IsUpdating = false
	return d
}

// Input is the payload for creating or updating a device through the backend.
type Input struct {
	DeviceName  string `json:"deviceName"`
	DeviceType  Type   `json:"deviceType"`
	PowerRating string `json:"powerRating"`
	Location    string `json:"location"`
	HouseID     int    `json:"houseId"`
}
