package watering

import (
	"context"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/sensors"
)

// StartPolicy decides, on each idle tick, whether a cycle should begin.
type StartPolicy interface {
	ShouldStart(ctx context.Context) bool
}

type StartPolicyFunc func(ctx context.Context) bool

func (f StartPolicyFunc) ShouldStart(ctx context.Context) bool { return f(ctx) }

// Never keeps automatic watering off; cycles only start on command.
var Never StartPolicy = StartPolicyFunc(func(context.Context) bool { return false })

// HumidityBelow starts a cycle when the sampled humidity drops under
// threshold percent. A failed sample never starts the pump.
func HumidityBelow(s sensors.Sampler, threshold float64) StartPolicy {
	return StartPolicyFunc(func(ctx context.Context) bool {
		r, err := s.Sample(ctx)
		if err != nil {
			return false
		}
		return r.Humidity < threshold
	})
}
