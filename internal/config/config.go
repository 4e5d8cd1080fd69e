// Package config loads the agent configuration from a TOML file and lets
// command-line flags or environment variables override single keys. The
// result is static for the lifetime of the process.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

type Config struct {
	Device   Device   `toml:"device"`
	Server   Server   `toml:"server"`
	Watering Watering `toml:"watering"`
	Schedule Schedule `toml:"schedule"`
	Actuator Actuator `toml:"actuator"`
	Sensors  Sensors  `toml:"sensors"`
	MQTT     MQTT     `toml:"mqtt"`
	Influx   Influx   `toml:"influx"`
	HTTP     HTTP     `toml:"http"`
	GRPC     GRPC     `toml:"grpc"`
	Log      Log      `toml:"log"`
}

type Device struct {
	ID              string `toml:"id"`
	FirmwareVersion string `toml:"firmware_version"`
	SensorType      string `toml:"sensor_type"`
}

// Server is the remote authority.
type Server struct {
	URL              string `toml:"url"`
	Timeout          string `toml:"timeout"`
	BreakerFailures  int    `toml:"breaker_failures"`
	BreakerOpenFor   string `toml:"breaker_open_for"`
	ProbeMaxInterval string `toml:"probe_max_interval"`
}

type Watering struct {
	Duration     string `toml:"duration"`
	MaxDuration  string `toml:"max_duration"`
	AutoWatering bool   `toml:"auto_watering"`
	// HumidityThreshold enables the humidity start policy when > 0.
	HumidityThreshold float64 `toml:"humidity_threshold"`
	// ResyncOnStart pulls the remote record once the server first answers.
	ResyncOnStart bool `toml:"resync_on_start"`
}

type Schedule struct {
	Tick           string `toml:"tick"`
	StatusInterval string `toml:"status_interval"`
	ReportInterval string `toml:"report_interval"`
	// CommandQueue is the number of operator commands that may wait for the loop.
	CommandQueue int `toml:"command_queue"`
}

type Actuator struct {
	Driver   string `toml:"driver"` // memory | gpio
	Pin      string `toml:"pin"`
	Inverted bool   `toml:"inverted"`
}

type Sensors struct {
	Driver      string  `toml:"driver"` // simulated
	DecayPerMin float64 `toml:"decay_per_min"`
	Seed        float64 `toml:"seed_humidity"`
}

type MQTT struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	ClientID string `toml:"client_id"`
}

type Influx struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

type HTTP struct {
	Addr string `toml:"addr"`
}

type GRPC struct {
	Addr string `toml:"addr"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// Durations holds the parsed duration keys.
type Durations struct {
	ServerTimeout    time.Duration
	BreakerOpenFor   time.Duration
	ProbeMaxInterval time.Duration
	Watering         time.Duration
	MaxWatering      time.Duration
	Tick             time.Duration
	StatusInterval   time.Duration
	ReportInterval   time.Duration
}

func Default() Config {
	return Config{
		Device: Device{ID: "autogrow_esp32", FirmwareVersion: "1.0.0", SensorType: "DHT11_LDR"},
		Server: Server{
			URL:              "http://192.168.1.100:8000",
			Timeout:          "5s",
			BreakerFailures:  3,
			BreakerOpenFor:   "30s",
			ProbeMaxInterval: "30s",
		},
		Watering: Watering{Duration: "30s", MaxDuration: "30m", AutoWatering: true},
		Schedule: Schedule{Tick: "1s", StatusInterval: "10s", ReportInterval: "30s", CommandQueue: 16},
		Actuator: Actuator{Driver: "memory", Pin: "7"},
		Sensors:  Sensors{Driver: "simulated", DecayPerMin: 0.1, Seed: 45},
		MQTT:     MQTT{Port: 1883, ClientID: "autogrow-agent"},
		Influx:   Influx{Org: "autogrow", Bucket: "agent"},
		HTTP:     HTTP{Addr: ":8080"},
		Log:      Log{Level: "info", Format: "text"},
	}
}

// Load reads path on top of the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	var file Config
	if err := tree.Unmarshal(&file); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg := Default()
	merge(&cfg, file, tree)
	return cfg, nil
}

// merge copies every key present in tree from file into cfg.
func merge(cfg *Config, file Config, tree *toml.Tree) {
	str := func(key string, dst *string, v string) {
		if tree.Has(key) {
			*dst = v
		}
	}
	num := func(key string, dst *int, v int) {
		if tree.Has(key) {
			*dst = v
		}
	}
	flt := func(key string, dst *float64, v float64) {
		if tree.Has(key) {
			*dst = v
		}
	}
	flag := func(key string, dst *bool, v bool) {
		if tree.Has(key) {
			*dst = v
		}
	}

	str("device.id", &cfg.Device.ID, file.Device.ID)
	str("device.firmware_version", &cfg.Device.FirmwareVersion, file.Device.FirmwareVersion)
	str("device.sensor_type", &cfg.Device.SensorType, file.Device.SensorType)

	str("server.url", &cfg.Server.URL, file.Server.URL)
	str("server.timeout", &cfg.Server.Timeout, file.Server.Timeout)
	num("server.breaker_failures", &cfg.Server.BreakerFailures, file.Server.BreakerFailures)
	str("server.breaker_open_for", &cfg.Server.BreakerOpenFor, file.Server.BreakerOpenFor)
	str("server.probe_max_interval", &cfg.Server.ProbeMaxInterval, file.Server.ProbeMaxInterval)

	str("watering.duration", &cfg.Watering.Duration, file.Watering.Duration)
	str("watering.max_duration", &cfg.Watering.MaxDuration, file.Watering.MaxDuration)
	flag("watering.auto_watering", &cfg.Watering.AutoWatering, file.Watering.AutoWatering)
	flt("watering.humidity_threshold", &cfg.Watering.HumidityThreshold, file.Watering.HumidityThreshold)
	flag("watering.resync_on_start", &cfg.Watering.ResyncOnStart, file.Watering.ResyncOnStart)

	str("schedule.tick", &cfg.Schedule.Tick, file.Schedule.Tick)
	str("schedule.status_interval", &cfg.Schedule.StatusInterval, file.Schedule.StatusInterval)
	str("schedule.report_interval", &cfg.Schedule.ReportInterval, file.Schedule.ReportInterval)
	num("schedule.command_queue", &cfg.Schedule.CommandQueue, file.Schedule.CommandQueue)

	str("actuator.driver", &cfg.Actuator.Driver, file.Actuator.Driver)
	str("actuator.pin", &cfg.Actuator.Pin, file.Actuator.Pin)
	flag("actuator.inverted", &cfg.Actuator.Inverted, file.Actuator.Inverted)

	str("sensors.driver", &cfg.Sensors.Driver, file.Sensors.Driver)
	flt("sensors.decay_per_min", &cfg.Sensors.DecayPerMin, file.Sensors.DecayPerMin)
	flt("sensors.seed_humidity", &cfg.Sensors.Seed, file.Sensors.Seed)

	str("mqtt.host", &cfg.MQTT.Host, file.MQTT.Host)
	num("mqtt.port", &cfg.MQTT.Port, file.MQTT.Port)
	str("mqtt.user", &cfg.MQTT.User, file.MQTT.User)
	str("mqtt.password", &cfg.MQTT.Password, file.MQTT.Password)
	str("mqtt.client_id", &cfg.MQTT.ClientID, file.MQTT.ClientID)

	str("influx.url", &cfg.Influx.URL, file.Influx.URL)
	str("influx.token", &cfg.Influx.Token, file.Influx.Token)
	str("influx.org", &cfg.Influx.Org, file.Influx.Org)
	str("influx.bucket", &cfg.Influx.Bucket, file.Influx.Bucket)

	str("http.addr", &cfg.HTTP.Addr, file.HTTP.Addr)
	str("grpc.addr", &cfg.GRPC.Addr, file.GRPC.Addr)

	str("log.level", &cfg.Log.Level, file.Log.Level)
	str("log.format", &cfg.Log.Format, file.Log.Format)
}

// Validate checks the values the agent cannot run without and returns the
// parsed durations.
func (c Config) Validate() (Durations, error) {
	var d Durations
	if strings.TrimSpace(c.Device.ID) == "" {
		return d, errors.New("device.id is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return d, errors.Errorf("server.url %q is not an absolute url", c.Server.URL)
	}

	fields := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.timeout", c.Server.Timeout, &d.ServerTimeout},
		{"server.breaker_open_for", c.Server.BreakerOpenFor, &d.BreakerOpenFor},
		{"server.probe_max_interval", c.Server.ProbeMaxInterval, &d.ProbeMaxInterval},
		{"watering.duration", c.Watering.Duration, &d.Watering},
		{"watering.max_duration", c.Watering.MaxDuration, &d.MaxWatering},
		{"schedule.tick", c.Schedule.Tick, &d.Tick},
		{"schedule.status_interval", c.Schedule.StatusInterval, &d.StatusInterval},
		{"schedule.report_interval", c.Schedule.ReportInterval, &d.ReportInterval},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return d, errors.Wrapf(err, "%s", f.key)
		}
		if v <= 0 {
			return d, errors.Errorf("%s must be positive, got %s", f.key, f.raw)
		}
		*f.dst = v
	}
	if d.Watering > d.MaxWatering {
		return d, errors.Errorf("watering.duration (%s) must not exceed watering.max_duration (%s)", d.Watering, d.MaxWatering)
	}
	if d.Tick > d.StatusInterval {
		return d, errors.Errorf("schedule.tick (%s) must not exceed schedule.status_interval (%s)", d.Tick, d.StatusInterval)
	}

	switch c.Actuator.Driver {
	case "memory":
	case "gpio":
		if c.Actuator.Pin == "" {
			return d, errors.New("actuator.pin is required for the gpio driver")
		}
	default:
		return d, errors.Errorf("unknown actuator.driver %q", c.Actuator.Driver)
	}
	if c.Sensors.Driver != "simulated" {
		return d, errors.Errorf("unknown sensors.driver %q", c.Sensors.Driver)
	}
	if c.Schedule.CommandQueue < 1 {
		return d, errors.New("schedule.command_queue must be at least 1")
	}
	if c.Influx.URL != "" && c.Influx.Bucket == "" {
		return d, errors.New("influx.bucket is required when influx.url is set")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return d, errors.Errorf("unknown log.format %q", c.Log.Format)
	}
	return d, nil
}
