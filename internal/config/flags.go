package config

import (
	"github.com/urfave/cli/v2"
)

// Flags lists the overrides accepted on the command line. Each one can also
// come from the environment.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the TOML configuration file", EnvVars: []string{"AUTOGROW_CONFIG"}},
		&cli.StringFlag{Name: "device-id", Usage: "device identifier reported to the server", EnvVars: []string{"DEVICE_ID"}},
		&cli.StringFlag{Name: "server-url", Usage: "base url of the remote authority", EnvVars: []string{"SERVER_URL"}},
		&cli.StringFlag{Name: "watering-duration", Usage: "default duty cycle, e.g. 30s", EnvVars: []string{"WATERING_DURATION"}},
		&cli.StringFlag{Name: "watering-max-duration", Usage: "longest cycle any command may request", EnvVars: []string{"WATERING_MAX_DURATION"}},
		&cli.BoolFlag{Name: "resync-on-start", Usage: "pull the remote watering record once the server answers", EnvVars: []string{"RESYNC_ON_START"}},
		&cli.BoolFlag{Name: "auto-watering", Usage: "evaluate the start policy on every tick", EnvVars: []string{"AUTO_WATERING"}},
		&cli.Float64Flag{Name: "humidity-threshold", Usage: "start watering below this humidity (0 disables)", EnvVars: []string{"HUMIDITY_THRESHOLD"}},
		&cli.StringFlag{Name: "actuator-driver", Usage: "memory or gpio", EnvVars: []string{"ACTUATOR_DRIVER"}},
		&cli.StringFlag{Name: "actuator-pin", Usage: "header pin of the pump relay", EnvVars: []string{"ACTUATOR_PIN"}},
		&cli.StringFlag{Name: "mqtt-host", Usage: "MQTT broker host (empty disables MQTT)", EnvVars: []string{"MQTT_HOST"}},
		&cli.IntFlag{Name: "mqtt-port", EnvVars: []string{"MQTT_PORT"}},
		&cli.StringFlag{Name: "mqtt-user", EnvVars: []string{"MQTT_USER"}},
		&cli.StringFlag{Name: "mqtt-password", EnvVars: []string{"MQTT_PASSWORD"}},
		&cli.StringFlag{Name: "influx-url", Usage: "InfluxDB url (empty disables the mirror)", EnvVars: []string{"INFLUX_URL"}},
		&cli.StringFlag{Name: "influx-token", EnvVars: []string{"INFLUX_TOKEN"}},
		&cli.StringFlag{Name: "influx-org", EnvVars: []string{"INFLUX_ORG"}},
		&cli.StringFlag{Name: "influx-bucket", EnvVars: []string{"INFLUX_BUCKET"}},
		&cli.StringFlag{Name: "http-addr", Usage: "operator API listen address", EnvVars: []string{"HTTP_ADDR"}},
		&cli.StringFlag{Name: "grpc-addr", Usage: "gRPC health listen address (empty disables)", EnvVars: []string{"GRPC_ADDR"}},
		&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Usage: "text or json", EnvVars: []string{"LOG_FORMAT"}},
	}
}

// FromContext loads the file named by --config (defaults when absent) and
// applies every flag that was set explicitly or through the environment.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}

	str := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	str("device-id", &cfg.Device.ID)
	str("server-url", &cfg.Server.URL)
	str("watering-duration", &cfg.Watering.Duration)
	str("watering-max-duration", &cfg.Watering.MaxDuration)
	if c.IsSet("resync-on-start") {
		cfg.Watering.ResyncOnStart = c.Bool("resync-on-start")
	}
	if c.IsSet("auto-watering") {
		cfg.Watering.AutoWatering = c.Bool("auto-watering")
	}
	if c.IsSet("humidity-threshold") {
		cfg.Watering.HumidityThreshold = c.Float64("humidity-threshold")
	}
	str("actuator-driver", &cfg.Actuator.Driver)
	str("actuator-pin", &cfg.Actuator.Pin)
	str("mqtt-host", &cfg.MQTT.Host)
	if c.IsSet("mqtt-port") {
		cfg.MQTT.Port = c.Int("mqtt-port")
	}
	str("mqtt-user", &cfg.MQTT.User)
	str("mqtt-password", &cfg.MQTT.Password)
	str("influx-url", &cfg.Influx.URL)
	str("influx-token", &cfg.Influx.Token)
	str("influx-org", &cfg.Influx.Org)
	str("influx-bucket", &cfg.Influx.Bucket)
	str("http-addr", &cfg.HTTP.Addr)
	str("grpc-addr", &cfg.GRPC.Addr)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	return cfg, nil
}
