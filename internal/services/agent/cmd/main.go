package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/config"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/sensors"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/services/agent"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/services/remote"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/services/telemetry"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/services/watering"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/storage/influx"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/actuator"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/clock"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/dedup"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/mqttbus"
)

const (
	commandWait      = 10 * time.Second
	dedupTTL         = 10 * time.Minute
	dedupMax         = 20000
	influxStaleAfter = 30 * time.Second
)

func main() {
	app := &cli.App{
		Name:   "autogrow-agent",
		Usage:  "drive a watering pump and report to the autogrow server",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logging.New("main").WithError(err).Fatal("agent exited")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	durs, err := cfg.Validate()
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	setters := []logging.Setter{logging.Level(cfg.Log.Level)}
	if cfg.Log.Format == "json" {
		setters = append(setters, logging.JSON())
	}
	log := logging.New("main", setters...)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity := model.DeviceIdentity{
		DeviceID:        cfg.Device.ID,
		FirmwareVersion: cfg.Device.FirmwareVersion,
		SensorType:      cfg.Device.SensorType,
	}
	clk := clock.NewSystem()
	metrics := agent.NewMetrics()

	driver, closeDriver, err := openDriver(cfg.Actuator)
	if err != nil {
		return err
	}
	defer closeDriver()

	rc, err := remote.NewClient(remote.Config{
		BaseURL:          cfg.Server.URL,
		Timeout:          durs.ServerTimeout,
		BreakerFailures:  cfg.Server.BreakerFailures,
		BreakerOpenFor:   durs.BreakerOpenFor,
		ProbeMaxInterval: durs.ProbeMaxInterval,
	}, metrics.ObserveRemote, logging.New("remote"))
	if err != nil {
		return err
	}

	var checks []namedCheck
	sinks := []watering.EventSink{metrics}
	var mirrors []telemetry.Mirror

	if cfg.Influx.URL != "" {
		w, closeInflux := influx.Open(influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, logging.New("influx"))
		defer closeInflux()
		sinks = append(sinks, w)
		mirrors = append(mirrors, w)
		checks = append(checks, namedCheck{"influx", func() bool { return w.LastErrorAge() > influxStaleAfter }})
	}

	var handler *agent.CommandHandler
	var consume func(ctx context.Context) error
	if cfg.MQTT.Host != "" {
		client, err := mqttbus.Connect(ctx, mqttbus.Config{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, logging.New("mqtt"))
		if err != nil {
			return err
		}
		pub := mqttbus.NewPublisher(client, 0)
		sinks = append(sinks, agent.NewEventPublisher(pub, identity.DeviceID))
		mirrors = append(mirrors, agent.NewSensorPublisher(pub))
		checks = append(checks, namedCheck{"mqtt", client.IsConnectionOpen})
		consume = func(ctx context.Context) error {
			return handler.Consumer(client, identity.DeviceID).Consume(ctx)
		}
	}

	// the sampler needs the pump state, the humidity policy needs the sampler
	var ctrl *watering.Controller
	sampler := sensors.NewSimulated(clk, func() bool { return ctrl != nil && ctrl.Active() },
		cfg.Sensors.DecayPerMin, time.Now().UnixNano())
	sampler.Seed(cfg.Sensors.Seed)

	var policy watering.StartPolicy
	if cfg.Watering.HumidityThreshold > 0 {
		policy = watering.HumidityBelow(sampler, cfg.Watering.HumidityThreshold)
	}
	ctrl, err = watering.New(watering.Config{
		Identity:        identity,
		DefaultDuration: durs.Watering,
		MaxDuration:     durs.MaxWatering,
		StatusInterval:  durs.StatusInterval,
		AutoWatering:    cfg.Watering.AutoWatering,
	}, clk, driver, rc, policy, logging.New("watering"), sinks...)
	if err != nil {
		return err
	}

	reporter := telemetry.NewReporter(identity, sampler, ctrl, clk, rc, logging.New("telemetry"), mirrors...)
	a := agent.New(agent.Config{
		Tick:           durs.Tick,
		ReportInterval: durs.ReportInterval,
		QueueSize:      cfg.Schedule.CommandQueue,
	}, clk, ctrl, reporter, metrics, logging.New("agent"))
	handler = agent.NewCommandHandler(a, dedup.New(dedupTTL, dedupMax), logging.New("mqtt"))

	api := agent.NewAPI(a, metrics, commandWait, logging.New("api"))
	for _, ch := range checks {
		api.WithCheck(ch.name, ch.fn)
	}
	var health *agent.HealthServer
	if cfg.GRPC.Addr != "" {
		health = agent.NewHealthServer(logging.New("grpc"))
	}

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errc <- errors.Wrap(err, name)
				stop()
			}
		}()
	}

	srv := agent.NewHTTPServer(cfg.HTTP.Addr, api.Router())
	spawn("http", func() error {
		log.Infof("http: listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if health != nil {
		spawn("grpc", func() error { return health.Serve(ctx, cfg.GRPC.Addr) })
	}

	if err := rc.WaitReachable(ctx); err != nil {
		log.WithError(err).Warn("remote authority never answered")
	} else {
		a.MarkConnected()
		if health != nil {
			health.SetServing(true)
		}
		if cfg.Watering.ResyncOnStart {
			if _, err := ctrl.Resync(ctx); err != nil {
				log.WithError(err).Warn("initial resync failed")
			}
		}
	}

	if consume != nil {
		spawn("mqtt", func() error { return consume(ctx) })
	}
	if ctx.Err() == nil {
		if err := a.Run(ctx); err != nil {
			errc <- errors.Wrap(err, "agent")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http: shutdown")
	}
	wg.Wait()
	close(errc)
	log.Info("agent stopped")
	return <-errc
}

type namedCheck struct {
	name string
	fn   agent.Check
}

// openDriver returns the configured pump driver and its release function.
func openDriver(cfg config.Actuator) (actuator.Driver, func(), error) {
	if cfg.Driver != "gpio" {
		return actuator.NewMemory(), func() {}, nil
	}
	r, err := actuator.NewRelay(cfg.Pin, cfg.Inverted)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open relay")
	}
	return r, func() { _ = r.Close() }, nil
}
