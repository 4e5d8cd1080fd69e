package actuator

import (
	"sync"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// Board is a gobot adaptor able to write digital pins.
type Board interface {
	gobot.Connection
	gpio.DigitalWriter
}

// Relay drives the pump through a GPIO relay.
type Relay struct {
	mu      sync.Mutex
	adaptor Board
	relay   *gpio.RelayDriver
	level   bool
}

// NewRelay opens a relay on a Raspberry Pi header pin.
func NewRelay(pin string, inverted bool) (*Relay, error) {
	return NewRelayOn(raspi.NewAdaptor(), pin, inverted)
}

// NewRelayOn connects a and forces the output off. With inverted the relay
// closes on a low pin.
func NewRelayOn(a Board, pin string, inverted bool) (*Relay, error) {
	if err := a.Connect(); err != nil {
		return nil, errors.Wrapf(err, "%s connect", a.Name())
	}
	var opts []interface{}
	if inverted {
		opts = append(opts, gpio.WithRelayInverted())
	}
	d := gpio.NewRelayDriver(a, pin, opts...)
	if err := d.Start(); err != nil {
		_ = a.Finalize()
		return nil, errors.Wrapf(err, "relay start pin=%s", pin)
	}
	if err := d.Off(); err != nil {
		_ = a.Finalize()
		return nil, errors.Wrapf(err, "relay off pin=%s", pin)
	}
	return &Relay{adaptor: a, relay: d}, nil
}

func (r *Relay) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.level == on {
		return nil
	}
	var err error
	if on {
		err = r.relay.On()
	} else {
		err = r.relay.Off()
	}
	if err != nil {
		return errors.Wrapf(err, "relay set on=%t", on)
	}
	r.level = on
	return nil
}

func (r *Relay) Get() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Close switches the pump off and releases the pin.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	offErr := r.relay.Off()
	r.level = false
	if err := r.adaptor.Finalize(); err != nil {
		return errors.Wrapf(err, "%s finalize", r.adaptor.Name())
	}
	return offErr
}
