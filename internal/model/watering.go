package model

import "time"

// LastWateringLayout is the ISO-8601 UTC form used for last_watering.
const LastWateringLayout = "2006-01-02T15:04:05Z"

// RemoteWateringRecord is the remote authority's view of the pump.
type RemoteWateringRecord struct {
	PumpActive       bool
	WateringDuration time.Duration
	AutoWatering     bool
	DeviceID         string
	Timestamp        time.Time
	LastWatering     *time.Time
}

// WateringStatusPayload is the body of PUT /api/watering. Durations travel
// in whole seconds and timestamps in unix seconds.
type WateringStatusPayload struct {
	PumpActive       bool    `json:"pump_active"`
	WateringDuration int64   `json:"watering_duration"`
	AutoWatering     bool    `json:"auto_watering"`
	DeviceID         string  `json:"device_id"`
	Timestamp        int64   `json:"timestamp"`
	LastWatering     *string `json:"last_watering,omitempty"`
}

func (r RemoteWateringRecord) Payload() WateringStatusPayload {
	p := WateringStatusPayload{
		PumpActive:       r.PumpActive,
		WateringDuration: int64(r.WateringDuration / time.Second),
		AutoWatering:     r.AutoWatering,
		DeviceID:         r.DeviceID,
		Timestamp:        r.Timestamp.Unix(),
	}
	if r.LastWatering != nil {
		s := r.LastWatering.UTC().Format(LastWateringLayout)
		p.LastWatering = &s
	}
	return p
}
