package agent

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model/messages"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/dedup"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/mqttbus"
)

const (
	qosCommand   byte = 1
	qosEvent     byte = 1
	qosTelemetry byte = 0
)

func CommandTopic(deviceID string) string     { return "device/" + deviceID + "/command" }
func StateChangeTopic(deviceID string) string { return "event/StateChange/" + deviceID }
func SensorTopic(deviceID string) string      { return "sensor/data/" + deviceID }

// CommandHandler turns MQTT command messages into queued agent commands.
// Redeliveries are recognised by command_id; commands without one are never
// treated as duplicates.
type CommandHandler struct {
	agent   *Agent
	deduper *dedup.Deduper
	log     logging.Logger
}

func NewCommandHandler(a *Agent, d *dedup.Deduper, log logging.Logger) *CommandHandler {
	return &CommandHandler{agent: a, deduper: d, log: log}
}

// Consumer subscribes the handler to the device command topic.
func (h *CommandHandler) Consumer(client mqtt.Client, deviceID string) *mqttbus.Consumer {
	return mqttbus.NewConsumer(client, CommandTopic(deviceID), qosCommand, h.Handle, h.log)
}

func (h *CommandHandler) Handle(_ string, msg mqtt.Message) error {
	var cmd messages.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return errors.Wrap(err, "mqtt: bad command payload")
	}
	if !cmd.Action.Valid() {
		return errors.Errorf("mqtt: unknown action %q", cmd.Action)
	}
	if cmd.Duration < 0 {
		return errors.Errorf("mqtt: negative duration_s %d", cmd.Duration)
	}
	// compare in seconds so the conversion below cannot overflow
	if limit := h.agent.Controller().MaxDuration(); int64(cmd.Duration) > int64(limit/time.Second) {
		return errors.Wrapf(agenterr.ErrDurationOutOfRange, "mqtt: duration_s %d above %s", cmd.Duration, limit)
	}
	if !h.deduper.ShouldProcess(cmd.CommandID) {
		h.log.WithField("command_id", cmd.CommandID).Debug("mqtt: duplicate command dropped")
		return nil
	}
	return h.agent.Enqueue("mqtt", cmd.Action, time.Duration(cmd.Duration)*time.Second)
}

// EventPublisher publishes every watering transition on the state change topic.
type EventPublisher struct {
	pub   mqttbus.Publisher
	topic string
}

func NewEventPublisher(pub mqttbus.Publisher, deviceID string) *EventPublisher {
	return &EventPublisher{pub: pub, topic: StateChangeTopic(deviceID)}
}

func (p *EventPublisher) Emit(_ context.Context, ev model.WateringEvent) error {
	state := "off"
	if ev.PumpActive {
		state = "on"
	}
	b, err := json.Marshal(messages.StateChangeEvent{
		DeviceID:  ev.DeviceID,
		CycleID:   ev.CycleID,
		NewState:  state,
		Reason:    string(ev.Reason),
		Duration:  ev.Duration.Seconds(),
		Ran:       ev.Ran.Seconds(),
		Timestamp: ev.At.UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode state change")
	}
	return p.pub.Publish(p.topic, qosEvent, b)
}

// SensorPublisher mirrors telemetry onto the sensor data topic.
type SensorPublisher struct {
	pub mqttbus.Publisher
}

func NewSensorPublisher(pub mqttbus.Publisher) *SensorPublisher {
	return &SensorPublisher{pub: pub}
}

func (p *SensorPublisher) MirrorSnapshot(_ context.Context, id model.DeviceIdentity, snap model.SensorSnapshot) error {
	b, err := json.Marshal(snap.Payload(id))
	if err != nil {
		return errors.Wrap(err, "encode sensor data")
	}
	return p.pub.Publish(SensorTopic(id.DeviceID), qosTelemetry, b)
}
