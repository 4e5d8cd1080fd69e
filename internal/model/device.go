package model

// DeviceIdentity is static configuration, read-only for the process lifetime.
type DeviceIdentity struct {
	DeviceID        string `json:"device_id"`
	FirmwareVersion string `json:"firmware_version"`
	SensorType      string `json:"sensor_type"`
}
