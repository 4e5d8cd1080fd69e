package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model/messages"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/services/watering"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/actuator"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/clock"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

type fakeRemote struct {
	mu      sync.Mutex
	pushes  []model.RemoteWateringRecord
	pulled  model.RemoteWateringRecord
	pullErr error
}

func (f *fakeRemote) Push(_ context.Context, rec model.RemoteWateringRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, rec)
	return nil
}

func (f *fakeRemote) Pull(context.Context, string) (model.RemoteWateringRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled, f.pullErr
}

func (f *fakeRemote) setPull(rec model.RemoteWateringRecord, err error) {
	f.mu.Lock()
	f.pulled, f.pullErr = rec, err
	f.mu.Unlock()
}

type countingCycler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingCycler) Cycle(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingCycler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type harness struct {
	clk      *clock.Manual
	driver   *actuator.Memory
	remote   *fakeRemote
	cycler   *countingCycler
	metrics  *Metrics
	ctrl     *watering.Controller
	agent    *Agent
	identity model.DeviceIdentity
}

func newHarness(t *testing.T, queue int) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewManual(time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)),
		driver:   actuator.NewMemory(),
		remote:   &fakeRemote{},
		cycler:   &countingCycler{},
		metrics:  NewMetrics(),
		identity: model.DeviceIdentity{DeviceID: "autogrow_esp32", FirmwareVersion: "1.0.0", SensorType: "DHT11_LDR"},
	}
	ctrl, err := watering.New(watering.Config{
		Identity:        h.identity,
		DefaultDuration: 30 * time.Second,
		StatusInterval:  10 * time.Second,
	}, h.clk, h.driver, h.remote, nil, logging.Discard(), h.metrics)
	require.NoError(t, err)
	h.ctrl = ctrl
	h.agent = New(Config{Tick: time.Second, ReportInterval: 30 * time.Second, QueueSize: queue},
		h.clk, ctrl, h.cycler, h.metrics, logging.Discard())
	return h
}

func TestStepRunsTelemetryOnInterval(t *testing.T) {
	h := newHarness(t, 4)
	for s := 0; s <= 60; s++ {
		h.clk.Set(time.Duration(s) * time.Second)
		h.agent.Step(context.Background())
	}
	assert.Equal(t, 3, h.cycler.count(), "at 0s, 30s and 60s")
	assert.Equal(t, float64(61), testutil.ToFloat64(h.metrics.ticks))
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.reports.WithLabelValues("ok")))
}

func TestTelemetryFailureIsCounted(t *testing.T) {
	h := newHarness(t, 4)
	h.cycler.err = agenterr.Unavailable("sensor_data", "status 500")
	h.agent.Step(context.Background())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.reports.WithLabelValues("transport_unavailable")))
}

func TestQueuedCommandsRunAfterTick(t *testing.T) {
	h := newHarness(t, 4)
	require.NoError(t, h.agent.Enqueue("mqtt", messages.ActionStart, 5*time.Second))
	assert.False(t, h.ctrl.Active(), "nothing happens before the loop runs")

	h.agent.Step(context.Background())
	assert.True(t, h.ctrl.Active())
	assert.Equal(t, 5*time.Second, h.ctrl.State().Duration)

	// the tick comes before queued commands, so a stop queued at the
	// timeout instant finds the pump already off
	h.clk.Set(5 * time.Second)
	require.NoError(t, h.agent.Enqueue("mqtt", messages.ActionStop, 0))
	h.agent.Step(context.Background())
	assert.False(t, h.ctrl.Active())

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.commands.WithLabelValues("mqtt", "start", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.commands.WithLabelValues("mqtt", "stop", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.transitions.WithLabelValues("stopped", "timeout")))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.pumpActive))
}

func TestQueueFull(t *testing.T) {
	h := newHarness(t, 1)
	require.NoError(t, h.agent.Enqueue("mqtt", messages.ActionStart, 0))
	err := h.agent.Enqueue("mqtt", messages.ActionStart, 0)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.commands.WithLabelValues("mqtt", "start", "queue_full")))
}

func TestDoWaitsForTheLoop(t *testing.T) {
	h := newHarness(t, 4)
	h.agent.cfg.Tick = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.agent.Run(ctx)
	}()

	res, err := h.agent.Do(context.Background(), "http", messages.ActionStart, 20*time.Second)
	require.NoError(t, err)
	assert.NoError(t, res.Err)
	assert.True(t, res.Changed)

	res, err = h.agent.Do(context.Background(), "http", messages.ActionStart, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, agenterr.ErrAlreadyActive)
	assert.False(t, res.Changed)

	cancel()
	<-done
	assert.False(t, h.ctrl.Active(), "shutdown stops the pump")
	assert.False(t, h.driver.Get())
}

func TestDoGivesUpWithContext(t *testing.T) {
	h := newHarness(t, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.agent.Do(ctx, "http", messages.ActionStop, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResyncCommand(t *testing.T) {
	h := newHarness(t, 4)
	h.remote.setPull(model.RemoteWateringRecord{}, agenterr.Malformed(errors.New("missing pump_active"), "pull"))
	require.NoError(t, h.agent.Enqueue("mqtt", messages.ActionResync, 0))
	h.agent.Step(context.Background())
	assert.False(t, h.ctrl.Active())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.commands.WithLabelValues("mqtt", "resync", "malformed_response")))

	h.remote.setPull(model.RemoteWateringRecord{PumpActive: true}, nil)
	require.NoError(t, h.agent.Enqueue("mqtt", messages.ActionResync, 0))
	h.agent.Step(context.Background())
	assert.True(t, h.ctrl.Active())
	assert.True(t, h.driver.Get())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.transitions.WithLabelValues("reconciled", "remote")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.pumpActive))
}

func TestReady(t *testing.T) {
	h := newHarness(t, 4)
	assert.False(t, h.agent.Ready())
	h.agent.MarkConnected()
	assert.False(t, h.agent.Ready(), "loop not running yet")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.agent.Run(ctx)
	}()
	require.Eventually(t, h.agent.Ready, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.False(t, h.agent.Ready())
}

func TestRunRejectsZeroTick(t *testing.T) {
	h := newHarness(t, 1)
	h.agent.cfg.Tick = 0
	assert.Error(t, h.agent.Run(context.Background()))
}
