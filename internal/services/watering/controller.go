// Package watering owns the pump duty cycle: it starts and stops the
// actuator, enforces the run timeout on the local clock and keeps the remote
// authority informed.
package watering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/actuator"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/clock"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

// Syncer is the remote side of the controller.
type Syncer interface {
	Push(ctx context.Context, rec model.RemoteWateringRecord) error
	Pull(ctx context.Context, deviceID string) (model.RemoteWateringRecord, error)
}

// EventSink receives every transition. Emit errors are logged and dropped.
type EventSink interface {
	Emit(ctx context.Context, ev model.WateringEvent) error
}

// DefaultMaxDuration caps a cycle when Config.MaxDuration is unset.
const DefaultMaxDuration = 30 * time.Minute

type Config struct {
	Identity        model.DeviceIdentity
	DefaultDuration time.Duration
	// MaxDuration bounds every cycle whatever its source.
	MaxDuration    time.Duration
	StatusInterval time.Duration
	AutoWatering   bool
}

// Status is a point-in-time view of the controller for operators.
type Status struct {
	Active      bool
	CycleID     string
	StartedAt   *time.Time
	Duration    time.Duration
	Remaining   time.Duration
	DriverLevel bool
}

type Controller struct {
	cfg    Config
	clock  clock.Clock
	driver actuator.Driver
	remote Syncer
	policy StartPolicy
	sinks  []EventSink
	log    logging.Logger

	mu          sync.Mutex
	state       model.ActuatorState
	cycleID     string
	startedWall time.Time
	lastStatus  time.Duration
}

// effect is what a transition leaves to be done once the lock is released.
type effect struct {
	push  *model.RemoteWateringRecord
	event *model.WateringEvent
}

func New(cfg Config, clk clock.Clock, driver actuator.Driver, remote Syncer, policy StartPolicy, log logging.Logger, sinks ...EventSink) (*Controller, error) {
	if cfg.Identity.DeviceID == "" {
		return nil, errors.New("watering: device id is required")
	}
	if cfg.DefaultDuration <= 0 {
		return nil, errors.Errorf("watering: default duration must be positive, got %s", cfg.DefaultDuration)
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.DefaultDuration > cfg.MaxDuration {
		return nil, errors.Errorf("watering: default duration %s exceeds the maximum %s", cfg.DefaultDuration, cfg.MaxDuration)
	}
	if cfg.StatusInterval <= 0 {
		return nil, errors.Errorf("watering: status interval must be positive, got %s", cfg.StatusInterval)
	}
	if clk == nil || driver == nil || remote == nil {
		return nil, errors.New("watering: clock, driver and remote are required")
	}
	if policy == nil {
		policy = Never
	}
	return &Controller{
		cfg:        cfg,
		clock:      clk,
		driver:     driver,
		remote:     remote,
		policy:     policy,
		sinks:      sinks,
		log:        log,
		state:      model.ActuatorState{Duration: cfg.DefaultDuration},
		lastStatus: clk.Since(),
	}, nil
}

// Tick runs one pass of the control loop: timeout first, then the start
// policy, then the periodic status push. Only actuator failures are returned;
// push failures are logged.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	now := c.clock.Since()
	var fx effect
	var err error
	if c.state.Expired(now) {
		fx, err = c.stopLocked(now, model.ReasonTimeout)
	}
	idle := !c.state.Active
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.apply(ctx, fx)

	if idle && c.cfg.AutoWatering && c.policy.ShouldStart(ctx) {
		if err := c.start(ctx, 0, model.ReasonPolicy); err != nil && !errors.Is(err, agenterr.ErrAlreadyActive) {
			return err
		}
	}

	c.mu.Lock()
	now = c.clock.Since()
	var status *model.RemoteWateringRecord
	if now-c.lastStatus >= c.cfg.StatusInterval {
		c.lastStatus = now
		rec := c.recordLocked(nil)
		status = &rec
	}
	c.mu.Unlock()

	c.apply(ctx, effect{push: status})
	return nil
}

// Start begins a cycle of d (the configured default when d <= 0). It returns
// agenterr.ErrAlreadyActive and changes nothing while a cycle is running, and
// agenterr.ErrDurationOutOfRange when d exceeds the maximum.
func (c *Controller) Start(ctx context.Context, d time.Duration) error {
	return c.start(ctx, d, model.ReasonCommand)
}

func (c *Controller) start(ctx context.Context, d time.Duration, reason model.EventReason) error {
	c.mu.Lock()
	fx, err := c.startLocked(c.clock.Since(), d, reason)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.apply(ctx, fx)
	return nil
}

// Stop ends the running cycle. Stopping while idle does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	fx, err := c.stopLocked(c.clock.Since(), model.ReasonCommand)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.apply(ctx, fx)
	return nil
}

// Reconcile makes the local pump follow rec.PumpActive when the two
// disagree. It reports whether anything changed and never pushes.
func (c *Controller) Reconcile(ctx context.Context, rec model.RemoteWateringRecord) (bool, error) {
	c.mu.Lock()
	if rec.PumpActive == c.state.Active {
		c.mu.Unlock()
		return false, nil
	}
	now := c.clock.Since()
	if err := c.driver.Set(rec.PumpActive); err != nil {
		c.mu.Unlock()
		return false, errors.Wrap(err, "reconcile: actuator")
	}

	wall := c.clock.Now()
	ev := model.WateringEvent{
		DeviceID:   c.cfg.Identity.DeviceID,
		Kind:       model.EventReconciled,
		Reason:     model.ReasonRemote,
		PumpActive: rec.PumpActive,
		At:         wall,
	}
	if rec.PumpActive {
		d := rec.WateringDuration
		if d <= 0 {
			d = c.cfg.DefaultDuration
		}
		if d > c.cfg.MaxDuration {
			c.log.WithField("remote", d).Warnf("watering: remote duration capped to %s", c.cfg.MaxDuration)
			d = c.cfg.MaxDuration
		}
		started := now
		c.state = model.ActuatorState{Active: true, StartedAt: &started, Duration: d}
		c.cycleID = uuid.NewString()
		c.startedWall = wall
	} else {
		ev.Ran = c.state.Elapsed(now)
		c.state = model.ActuatorState{Duration: c.state.Duration}
	}
	ev.CycleID = c.cycleID
	ev.Duration = c.state.Duration
	if !rec.PumpActive {
		c.cycleID = ""
	}
	c.mu.Unlock()

	c.log.WithField("pump_active", rec.PumpActive).Info("watering: reconciled with remote")
	c.apply(ctx, effect{event: &ev})
	return true, nil
}

// Resync pulls the remote record and reconciles with it. On any pull error,
// malformed bodies included, local state is left alone.
func (c *Controller) Resync(ctx context.Context) (bool, error) {
	rec, err := c.remote.Pull(ctx, c.cfg.Identity.DeviceID)
	if err != nil {
		return false, errors.WithMessage(err, "resync")
	}
	return c.Reconcile(ctx, rec)
}

// State returns a copy of the actuator state.
func (c *Controller) State() model.ActuatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Copy()
}

// Active is read at call time; telemetry relies on it never being cached.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Since()
	st := Status{
		Active:      c.state.Active,
		Duration:    c.state.Duration,
		Remaining:   c.state.Remaining(now),
		DriverLevel: c.driver.Get(),
	}
	if c.state.Active {
		st.CycleID = c.cycleID
		started := c.startedWall
		st.StartedAt = &started
	}
	return st
}

func (c *Controller) Identity() model.DeviceIdentity { return c.cfg.Identity }

// MaxDuration is the longest cycle the controller accepts.
func (c *Controller) MaxDuration() time.Duration { return c.cfg.MaxDuration }

func (c *Controller) startLocked(now, d time.Duration, reason model.EventReason) (effect, error) {
	if c.state.Active {
		return effect{}, agenterr.ErrAlreadyActive
	}
	if d <= 0 {
		d = c.cfg.DefaultDuration
	}
	if d > c.cfg.MaxDuration {
		return effect{}, errors.Wrapf(agenterr.ErrDurationOutOfRange, "start: %s exceeds %s", d, c.cfg.MaxDuration)
	}
	if err := c.driver.Set(true); err != nil {
		return effect{}, errors.Wrap(err, "start: actuator on")
	}
	started := now
	c.state = model.ActuatorState{Active: true, StartedAt: &started, Duration: d}
	c.cycleID = uuid.NewString()
	c.startedWall = c.clock.Now()
	c.lastStatus = now

	c.log.WithFields(map[string]interface{}{
		"cycle": c.cycleID, "duration": d, "reason": reason,
	}).Info("watering: started")

	rec := c.recordLocked(&c.startedWall)
	return effect{
		push: &rec,
		event: &model.WateringEvent{
			CycleID:    c.cycleID,
			DeviceID:   c.cfg.Identity.DeviceID,
			Kind:       model.EventStarted,
			Reason:     reason,
			PumpActive: true,
			Duration:   d,
			At:         c.startedWall,
		},
	}, nil
}

// stopLocked leaves the state untouched when the actuator refuses to switch
// off, so the next tick tries again.
func (c *Controller) stopLocked(now time.Duration, reason model.EventReason) (effect, error) {
	if !c.state.Active {
		return effect{}, nil
	}
	if err := c.driver.Set(false); err != nil {
		return effect{}, errors.Wrap(err, "stop: actuator off")
	}
	ran := c.state.Elapsed(now)
	d := c.state.Duration
	cycle := c.cycleID
	c.state = model.ActuatorState{Duration: d}
	c.cycleID = ""
	c.lastStatus = now

	c.log.WithFields(map[string]interface{}{
		"cycle": cycle, "ran": ran, "reason": reason,
	}).Info("watering: stopped")

	rec := c.recordLocked(nil)
	return effect{
		push: &rec,
		event: &model.WateringEvent{
			CycleID:  cycle,
			DeviceID: c.cfg.Identity.DeviceID,
			Kind:     model.EventStopped,
			Reason:   reason,
			Duration: d,
			Ran:      ran,
			At:       c.clock.Now(),
		},
	}, nil
}

func (c *Controller) recordLocked(lastWatering *time.Time) model.RemoteWateringRecord {
	rec := model.RemoteWateringRecord{
		PumpActive:       c.state.Active,
		WateringDuration: c.state.Duration,
		AutoWatering:     c.cfg.AutoWatering,
		DeviceID:         c.cfg.Identity.DeviceID,
		Timestamp:        c.clock.Now(),
	}
	if lastWatering != nil {
		lw := *lastWatering
		rec.LastWatering = &lw
	}
	return rec
}

// apply runs the network side of a transition. Nothing here feeds back into
// the state.
func (c *Controller) apply(ctx context.Context, fx effect) {
	if fx.push != nil {
		if err := c.remote.Push(ctx, *fx.push); err != nil {
			c.log.WithError(err).WithField("code", agenterr.Code(err)).Warn("watering: status push failed")
		}
	}
	if fx.event != nil {
		for _, s := range c.sinks {
			if err := s.Emit(ctx, *fx.event); err != nil {
				c.log.WithError(err).Debug("watering: event sink failed")
			}
		}
	}
}
