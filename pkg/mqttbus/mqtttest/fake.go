// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Published struct {
	Topic   string
	Qos     byte
	Payload []byte
}

// Client records publishes and lets tests deliver messages to subscribers.
type Client struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	published []Published
	// PublishErr, when set, is returned by every publish token.
	PublishErr error
	// Stall makes publish tokens never complete.
	Stall bool
}

var _ mqtt.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{subs: map[string]mqtt.MessageHandler{}}
}

func (c *Client) IsConnected() bool      { return true }
func (c *Client) IsConnectionOpen() bool { return true }
func (c *Client) Connect() mqtt.Token    { return done(nil) }
func (c *Client) Disconnect(uint)        {}

func (c *Client) AddRoute(string, mqtt.MessageHandler) {}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Stall {
		return &token{done: make(chan struct{})}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.published = append(c.published, Published{Topic: topic, Qos: qos, Payload: b})
	return done(c.PublishErr)
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	for t := range filters {
		c.Subscribe(t, 0, cb)
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return done(nil)
}

// Subscribed reports whether topic currently has a handler.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Deliver hands payload to the subscriber of topic. It reports false when
// nobody is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cb(c, NewMessage(topic, payload))
	return true
}

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

type Message struct {
	topic   string
	payload []byte
	acked   bool
}

var _ mqtt.Message = (*Message)(nil)

func NewMessage(topic string, payload []byte) *Message {
	return &Message{topic: topic, payload: payload}
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 1 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 1 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              { m.acked = true }

type token struct {
	done chan struct{}
	err  error
}

func done(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool {
	<-t.done
	return true
}

func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error          { return t.err }
