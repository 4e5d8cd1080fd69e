package mqttbus

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

// Handler processes one message. Returned errors are logged.
type Handler func(topic string, msg mqtt.Message) error

type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
	log     logging.Logger
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler, log logging.Logger) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler, log: log}
}

// Consume subscribes and blocks until ctx is done, then unsubscribes.
func (c *Consumer) Consume(ctx context.Context) error {
	tok := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.handler(c.topic, msg); err != nil {
			c.log.WithError(err).WithField("topic", msg.Topic()).Warn("mqtt: handler failed")
		}
	})
	if tok.Wait() && tok.Error() != nil {
		return errors.Wrapf(tok.Error(), "mqtt: subscribe %s", c.topic)
	}
	c.log.Infof("mqtt: subscribed to %s qos=%d", c.topic, c.qos)

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
