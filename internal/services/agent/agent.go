// Package agent runs the control loop and the operator surfaces around it:
// HTTP API, MQTT commands and events, metrics and health.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/model/messages"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/services/watering"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/clock"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

const shutdownStopTimeout = 5 * time.Second

// Cycler runs one telemetry cycle.
type Cycler interface {
	Cycle(ctx context.Context) error
}

type Config struct {
	Tick           time.Duration
	ReportInterval time.Duration
	QueueSize      int
}

type Agent struct {
	cfg      Config
	clock    clock.Clock
	ctrl     *watering.Controller
	reporter Cycler
	metrics  *Metrics
	log      logging.Logger
	cmds     *queue

	running   atomic.Bool
	connected atomic.Bool

	// touched by the loop goroutine only
	reported   bool
	lastReport time.Duration
}

func New(cfg Config, clk clock.Clock, ctrl *watering.Controller, reporter Cycler, metrics *Metrics, log logging.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		clock:    clk,
		ctrl:     ctrl,
		reporter: reporter,
		metrics:  metrics,
		log:      log,
		cmds:     newQueue(cfg.QueueSize),
	}
}

// Run ticks until ctx ends. On the way out pending commands are refused and
// a running cycle is stopped so the pump is never left on.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.Tick <= 0 {
		return errors.Errorf("agent: tick must be positive, got %s", a.cfg.Tick)
	}
	t := time.NewTicker(a.cfg.Tick)
	defer t.Stop()

	a.running.Store(true)
	defer a.running.Store(false)
	a.log.WithField("tick", a.cfg.Tick).Info("agent: control loop started")

	a.Step(ctx)
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-t.C:
			a.Step(ctx)
		}
	}
}

// Step is one loop iteration: controller tick first, then queued commands,
// then telemetry when it is due.
func (a *Agent) Step(ctx context.Context) {
	a.metrics.Tick()
	if err := a.ctrl.Tick(ctx); err != nil {
		a.log.WithError(err).Error("agent: tick failed")
	}

	a.drain(ctx)

	now := a.clock.Since()
	if a.reported && now-a.lastReport < a.cfg.ReportInterval {
		return
	}
	a.reported = true
	a.lastReport = now
	err := a.reporter.Cycle(ctx)
	a.metrics.Report(err)
	if err != nil {
		a.log.WithError(err).Warn("agent: telemetry cycle failed")
	}
}

// Do queues a command and waits for the loop to run it.
func (a *Agent) Do(ctx context.Context, source string, action messages.Action, d time.Duration) (Result, error) {
	res, err := a.cmds.call(ctx, source, action, d)
	if err != nil {
		a.metrics.Command(source, string(action), err)
	}
	return res, err
}

// Enqueue queues a command without waiting for its outcome.
func (a *Agent) Enqueue(source string, action messages.Action, d time.Duration) error {
	err := a.cmds.submit(command{source: source, action: action, duration: d})
	if err != nil {
		a.metrics.Command(source, string(action), err)
	}
	return err
}

// MarkConnected is called once the remote authority answered at startup.
func (a *Agent) MarkConnected() { a.connected.Store(true) }

// Ready reports whether the agent is connected and its loop is running.
func (a *Agent) Ready() bool { return a.connected.Load() && a.running.Load() }

func (a *Agent) Running() bool { return a.running.Load() }

func (a *Agent) Status() watering.Status { return a.ctrl.Status() }

func (a *Agent) Controller() *watering.Controller { return a.ctrl }

// drain runs the commands queued before it was called.
func (a *Agent) drain(ctx context.Context) {
	for n := len(a.cmds.ch); n > 0; n-- {
		select {
		case cmd := <-a.cmds.ch:
			a.exec(ctx, cmd)
		default:
			return
		}
	}
}

func (a *Agent) exec(ctx context.Context, cmd command) {
	var res Result
	switch cmd.action {
	case messages.ActionStart:
		res.Err = a.ctrl.Start(ctx, cmd.duration)
		res.Changed = res.Err == nil
	case messages.ActionStop:
		was := a.ctrl.Active()
		res.Err = a.ctrl.Stop(ctx)
		res.Changed = was && res.Err == nil
	case messages.ActionResync:
		res.Changed, res.Err = a.ctrl.Resync(ctx)
	default:
		res.Err = errors.Errorf("unknown action %q", cmd.action)
	}

	a.metrics.Command(cmd.source, string(cmd.action), res.Err)
	entry := a.log.WithFields(map[string]interface{}{
		"source": cmd.source, "action": cmd.action, "changed": res.Changed,
	})
	if res.Err != nil {
		entry.WithError(res.Err).Warn("agent: command failed")
	} else {
		entry.Info("agent: command done")
	}
	if cmd.reply != nil {
		cmd.reply <- res
	}
}

func (a *Agent) shutdown() {
	for drained := false; !drained; {
		select {
		case cmd := <-a.cmds.ch:
			if cmd.reply != nil {
				cmd.reply <- Result{Err: errors.New("agent shutting down")}
			}
		default:
			drained = true
		}
	}

	if !a.ctrl.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
	defer cancel()
	if err := a.ctrl.Stop(ctx); err != nil {
		a.log.WithError(err).Error("agent: could not stop the pump on shutdown")
		return
	}
	a.log.Info("agent: pump stopped on shutdown")
}
