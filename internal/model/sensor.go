package model

import "time"

// SensorSnapshot is captured once per telemetry cycle and consumed once.
type SensorSnapshot struct {
	Temperature    float64
	Humidity       float64
	LightLevel     int
	ActuatorActive bool
	SampledAt      time.Time
}

// SensorDataPayload is the body of POST /api/v1/sensor-data.
type SensorDataPayload struct {
	Temperature     float64 `json:"temperature"`
	Humidity        float64 `json:"humidity"`
	Lux             int     `json:"lux"`
	PumpActive      bool    `json:"pumpActive"`
	Timestamp       int64   `json:"timestamp"` // unix ms
	DeviceID        string  `json:"device_id"`
	FirmwareVersion string  `json:"firmware_version"`
	SensorType      string  `json:"sensor_type"`
}

func (s SensorSnapshot) Payload(id DeviceIdentity) SensorDataPayload {
	return SensorDataPayload{
		Temperature:     s.Temperature,
		Humidity:        s.Humidity,
		Lux:             s.LightLevel,
		PumpActive:      s.ActuatorActive,
		Timestamp:       s.SampledAt.UnixMilli(),
		DeviceID:        id.DeviceID,
		FirmwareVersion: id.FirmwareVersion,
		SensorType:      id.SensorType,
	}
}
