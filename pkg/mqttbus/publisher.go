package mqttbus

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

type ClientPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, timeout time.Duration) *ClientPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClientPublisher{client: client, timeout: timeout}
}

// Publish sends a non-retained message and waits at most the configured
// timeout for the broker to take it.
func (p *ClientPublisher) Publish(topic string, qos byte, payload []byte) error {
	tok := p.client.Publish(topic, qos, false, payload)
	if !tok.WaitTimeout(p.timeout) {
		return errors.Errorf("mqtt: publish to %s timed out after %s", topic, p.timeout)
	}
	return errors.Wrapf(tok.Error(), "mqtt: publish to %s", topic)
}
