// Package telemetry samples the environment together with the pump flag and
// forwards the snapshot to the remote authority.
package telemetry

import (
	"context"

	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/sensors"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/clock"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

// PumpState is read on every capture, never cached.
type PumpState interface {
	Active() bool
}

type Poster interface {
	PostSensorData(ctx context.Context, p model.SensorDataPayload) error
}

// Mirror gets a copy of every reported snapshot. Failures are only logged.
type Mirror interface {
	MirrorSnapshot(ctx context.Context, id model.DeviceIdentity, snap model.SensorSnapshot) error
}

type Reporter struct {
	identity model.DeviceIdentity
	sampler  sensors.Sampler
	pump     PumpState
	clock    clock.Clock
	poster   Poster
	mirrors  []Mirror
	log      logging.Logger
}

func NewReporter(id model.DeviceIdentity, sampler sensors.Sampler, pump PumpState, clk clock.Clock, poster Poster, log logging.Logger, mirrors ...Mirror) *Reporter {
	return &Reporter{
		identity: id,
		sampler:  sampler,
		pump:     pump,
		clock:    clk,
		poster:   poster,
		mirrors:  mirrors,
		log:      log,
	}
}

// Capture samples the sensors and reads the pump flag at the same moment.
func (r *Reporter) Capture(ctx context.Context) (model.SensorSnapshot, error) {
	reading, err := r.sampler.Sample(ctx)
	if err != nil {
		return model.SensorSnapshot{}, errors.Wrap(err, "telemetry: sample")
	}
	at := reading.At
	if at.IsZero() {
		at = r.clock.Now()
	}
	return model.SensorSnapshot{
		Temperature:    reading.Temperature,
		Humidity:       reading.Humidity,
		LightLevel:     reading.Lux,
		ActuatorActive: r.pump.Active(),
		SampledAt:      at,
	}, nil
}

// Report posts snap and then feeds the mirrors. Only the post result is
// returned.
func (r *Reporter) Report(ctx context.Context, snap model.SensorSnapshot) error {
	err := r.poster.PostSensorData(ctx, snap.Payload(r.identity))
	for _, m := range r.mirrors {
		if merr := m.MirrorSnapshot(ctx, r.identity, snap); merr != nil {
			r.log.WithError(merr).Debug("telemetry: mirror failed")
		}
	}
	if err != nil {
		return errors.WithMessage(err, "telemetry: report")
	}
	return nil
}

func (r *Reporter) Cycle(ctx context.Context) error {
	snap, err := r.Capture(ctx)
	if err != nil {
		return err
	}
	r.log.WithFields(map[string]interface{}{
		"temperature": snap.Temperature,
		"humidity":    snap.Humidity,
		"lux":         snap.LightLevel,
		"pump":        snap.ActuatorActive,
	}).Debug("telemetry: snapshot")
	return r.Report(ctx, snap)
}
