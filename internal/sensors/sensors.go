// Package sensors provides the environmental readings the agent reports.
// Real boards plug their own Sampler in; Simulated is used on the bench.
package sensors

import (
	"context"
	"time"
)

// Reading is one sample of the environment. Humidity is a percentage.
type Reading struct {
	Temperature float64
	Humidity    float64
	Lux         int
	At          time.Time
}

type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// SamplerFunc adapts a plain function to Sampler.
type SamplerFunc func(ctx context.Context) (Reading, error)

func (f SamplerFunc) Sample(ctx context.Context) (Reading, error) { return f(ctx) }
