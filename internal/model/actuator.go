package model

import "time"

// ActuatorState is the pump state owned by the watering controller.
// StartedAt is a monotonic reading and is non-nil iff Active.
type ActuatorState struct {
	Active    bool
	StartedAt *time.Duration
	Duration  time.Duration
}

// Elapsed returns how long the current cycle has been running at now.
func (s ActuatorState) Elapsed(now time.Duration) time.Duration {
	if !s.Active || s.StartedAt == nil {
		return 0
	}
	if now < *s.StartedAt {
		return 0
	}
	return now - *s.StartedAt
}

// Remaining is the time left before the duty cycle times out.
func (s ActuatorState) Remaining(now time.Duration) time.Duration {
	if !s.Active {
		return 0
	}
	if r := s.Duration - s.Elapsed(now); r > 0 {
		return r
	}
	return 0
}

// Expired reports whether the duty cycle has reached its duration at now.
func (s ActuatorState) Expired(now time.Duration) bool {
	return s.Active && s.Elapsed(now) >= s.Duration
}

// Copy detaches StartedAt so callers cannot reach the owner's pointer.
func (s ActuatorState) Copy() ActuatorState {
	if s.StartedAt != nil {
		v := *s.StartedAt
		s.StartedAt = &v
	}
	return s
}
