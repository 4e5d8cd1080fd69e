package messages

import "time"

// StateChangeEvent is published on event/StateChange/{device} for every pump
// transition.
type StateChangeEvent struct {
	DeviceID  string    `json:"device_id"`
	CycleID   string    `json:"cycle_id"`
	NewState  string    `json:"new_state"` // "on" | "off"
	Reason    string    `json:"reason"`
	Duration  float64   `json:"duration_s"`
	Ran       float64   `json:"ran_s,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
