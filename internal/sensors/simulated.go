package sensors

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/autogrow-agent/pkg/clock"
)

const (
	// humidity gained per minute while the pump runs, in percentage points
	gainPerMin = 0.6

	defaultHumidity    = 30.0
	defaultTemperature = 22.0
	defaultLux         = 400
)

// Simulated keeps an internal environment and moves it with time: humidity
// rises while the pump is on and decays otherwise, temperature and light
// drift around their seeds.
type Simulated struct {
	mu          sync.Mutex
	clock       clock.Clock
	pumpOn      func() bool
	rnd         *rand.Rand
	seeded      bool
	last        time.Duration
	humidity    float64
	temperature float64
	lux         float64
	decayPerMin float64
}

// NewSimulated builds a sampler; pumpOn is read on every sample and may be
// nil (pump treated as off). decayPerMin is in percentage points.
func NewSimulated(clk clock.Clock, pumpOn func() bool, decayPerMin float64, seed int64) *Simulated {
	if pumpOn == nil {
		pumpOn = func() bool { return false }
	}
	return &Simulated{
		clock:       clk,
		pumpOn:      pumpOn,
		rnd:         rand.New(rand.NewSource(seed)),
		decayPerMin: math.Max(0, decayPerMin),
	}
}

// Seed sets the starting humidity; it only has effect before the first sample.
func (s *Simulated) Seed(humidity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return
	}
	s.seedLocked(humidity)
}

func (s *Simulated) seedLocked(humidity float64) {
	s.humidity = clamp(humidity, 0, 100)
	s.temperature = defaultTemperature
	s.lux = defaultLux
	s.last = s.clock.Since()
	s.seeded = true
}

func (s *Simulated) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		s.seedLocked(defaultHumidity)
	}
	now := s.clock.Since()
	dtMin := (now - s.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	s.last = now

	if s.pumpOn() {
		s.humidity = clamp(s.humidity+gainPerMin*dtMin, 0, 100)
	} else {
		s.humidity = clamp(s.humidity-s.decayPerMin*dtMin, 0, 100)
	}
	s.temperature = clamp(s.temperature+s.jitter(0.2), -10, 50)
	s.lux = clamp(s.lux+s.jitter(15), 0, 100000)

	return Reading{
		Temperature: math.Round(s.temperature*10) / 10,
		Humidity:    math.Round(s.humidity*10) / 10,
		Lux:         int(math.Round(s.lux)),
		At:          s.clock.Now(),
	}, nil
}

// jitter returns a value in [-amp, amp].
func (s *Simulated) jitter(amp float64) float64 {
	return (s.rnd.Float64()*2 - 1) * amp
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
