// Package clock provides the time source used for duty-cycle arithmetic.
//
// Since is monotonic (elapsed since the clock was created) and is the only
// value timeouts are computed from; Now is wall time, used for payload
// timestamps only.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Since() time.Duration
	Now() time.Time
}

type System struct {
	boot time.Time
}

func NewSystem() *System {
	return &System{boot: time.Now()}
}

// Since relies on the monotonic reading carried by time.Now.
func (s *System) Since() time.Duration { return time.Since(s.boot) }

func (s *System) Now() time.Time { return time.Now().UTC() }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu      sync.Mutex
	elapsed time.Duration
	wall    time.Time
}

func NewManual(wall time.Time) *Manual {
	return &Manual{wall: wall.UTC()}
}

func (m *Manual) Since() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wall.Add(m.elapsed)
}

func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.elapsed += d
	m.mu.Unlock()
}

// Set moves the monotonic reading to d; going backwards is ignored.
func (m *Manual) Set(d time.Duration) {
	m.mu.Lock()
	if d > m.elapsed {
		m.elapsed = d
	}
	m.mu.Unlock()
}
