package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const sample = `
[device]
id = "greenhouse-1"

[server]
url = "http://authority.local:8000"
timeout = "2s"

[watering]
duration = "45s"
auto_watering = false
humidity_threshold = 35.5

[schedule]
report_interval = "1m"

[actuator]
driver = "gpio"
pin = "11"
inverted = true

[mqtt]
host = "broker.local"
`

func TestDefaultsValidate(t *testing.T) {
	d, err := Default().Validate()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d.Watering)
	assert.Equal(t, time.Second, d.Tick)
	assert.Equal(t, 10*time.Second, d.StatusInterval)
	assert.Equal(t, 30*time.Second, d.ReportInterval)
	assert.Equal(t, 30*time.Minute, d.MaxWatering)
	assert.True(t, Default().Watering.AutoWatering)
	assert.False(t, Default().Watering.ResyncOnStart, "startup resync is opt-in")
}

func TestParseWateringLimits(t *testing.T) {
	cfg, err := Parse([]byte("[watering]\nduration = \"2m\"\nmax_duration = \"5m\"\nresync_on_start = true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Watering.ResyncOnStart)

	d, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d.Watering)
	assert.Equal(t, 5*time.Minute, d.MaxWatering)
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "greenhouse-1", cfg.Device.ID)
	assert.Equal(t, "1.0.0", cfg.Device.FirmwareVersion, "default kept")
	assert.Equal(t, "http://authority.local:8000", cfg.Server.URL)
	assert.Equal(t, 3, cfg.Server.BreakerFailures, "default kept")
	assert.False(t, cfg.Watering.AutoWatering, "explicit false wins over the default")
	assert.Equal(t, 35.5, cfg.Watering.HumidityThreshold)
	assert.Equal(t, "gpio", cfg.Actuator.Driver)
	assert.True(t, cfg.Actuator.Inverted)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)

	d, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d.ServerTimeout)
	assert.Equal(t, 45*time.Second, d.Watering)
	assert.Equal(t, time.Minute, d.ReportInterval)
}

func TestParseRejectsBadToml(t *testing.T) {
	_, err := Parse([]byte("[device\nid = 1"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no device id", func(c *Config) { c.Device.ID = " " }},
		{"relative url", func(c *Config) { c.Server.URL = "/api" }},
		{"bad duration", func(c *Config) { c.Watering.Duration = "thirty" }},
		{"zero duration", func(c *Config) { c.Watering.Duration = "0s" }},
		{"bad max duration", func(c *Config) { c.Watering.MaxDuration = "" }},
		{"duration above max", func(c *Config) { c.Watering.Duration = "1h" }},
		{"tick above status interval", func(c *Config) { c.Schedule.Tick = "20s" }},
		{"unknown driver", func(c *Config) { c.Actuator.Driver = "pwm" }},
		{"gpio without pin", func(c *Config) { c.Actuator.Driver = "gpio"; c.Actuator.Pin = "" }},
		{"unknown sensors", func(c *Config) { c.Sensors.Driver = "dht22" }},
		{"empty queue", func(c *Config) { c.Schedule.CommandQueue = 0 }},
		{"influx without bucket", func(c *Config) { c.Influx.URL = "http://influx:8086"; c.Influx.Bucket = "" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			_, err := cfg.Validate()
			assert.Error(t, err)
		})
	}
}

func runApp(t *testing.T, args ...string) Config {
	t.Helper()
	var cfg Config
	app := &cli.App{
		Name:  "autogrow-agent",
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = FromContext(c)
			return err
		},
	}
	require.NoError(t, app.Run(append([]string{"autogrow-agent"}, args...)))
	return cfg
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg := runApp(t, "--config", path, "--mqtt-host", "other", "--auto-watering", "--watering-duration", "1m")
	assert.Equal(t, "greenhouse-1", cfg.Device.ID)
	assert.Equal(t, "other", cfg.MQTT.Host)
	assert.True(t, cfg.Watering.AutoWatering)
	assert.Equal(t, "1m", cfg.Watering.Duration)
	assert.Equal(t, "11", cfg.Actuator.Pin, "untouched keys come from the file")
	assert.Equal(t, "30m", cfg.Watering.MaxDuration)
	assert.False(t, cfg.Watering.ResyncOnStart)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("INFLUX_URL", "http://influx:8086")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WATERING_MAX_DURATION", "10m")
	t.Setenv("RESYNC_ON_START", "true")

	cfg := runApp(t)
	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "10m", cfg.Watering.MaxDuration)
	assert.True(t, cfg.Watering.ResyncOnStart)
	assert.Equal(t, "autogrow_esp32", cfg.Device.ID)
}

func TestMissingConfigFile(t *testing.T) {
	app := &cli.App{
		Flags:  Flags(),
		Action: func(c *cli.Context) error { _, err := FromContext(c); return err },
	}
	assert.Error(t, app.Run([]string{"autogrow-agent", "--config", filepath.Join(t.TempDir(), "missing.toml")}))
}
