// Package mqttbus wraps the paho client: connecting with retries, publishing
// with a bounded wait and consuming a topic until a context ends.
package mqttbus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	// ConnectRetries bounds the attempts made by Connect.
	ConnectRetries int
}

// Connect dials the broker with exponential backoff. The session is kept
// across reconnects so QoS1 deliveries survive short outages; the client is
// disconnected when ctx ends.
func Connect(ctx context.Context, cfg Config, log logging.Logger) (mqtt.Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Info("mqtt: reconnecting")
	})

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
			log.WithError(tok.Error()).Warnf("mqtt: connect to %s failed", addr)
			return tok.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "mqtt: connect to %s", addr)
	}
	log.Infof("mqtt: connected to %s as %s", addr, cfg.ClientID)

	go func() {
		<-ctx.Done()
		Close(client, log)
	}()
	return client, nil
}

func Close(client mqtt.Client, log logging.Logger) {
	if client.IsConnected() {
		client.Disconnect(250)
		log.Info("mqtt: disconnected")
	}
}
