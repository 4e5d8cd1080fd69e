// Package remote talks to the remote authority: watering status push/pull,
// sensor-data upload and the startup reachability probe.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

const (
	pathSensorData = "/api/v1/sensor-data"
	pathWatering   = "/api/watering"
	pathHealth     = "/api/health"

	maxBody = 1 << 20
)

// Config for the remote authority client.
type Config struct {
	BaseURL string
	// Timeout bounds every request, including reading the body.
	Timeout time.Duration
	// BreakerFailures consecutive failures open a breaker for BreakerOpenFor.
	BreakerFailures int
	BreakerOpenFor  time.Duration
	// ProbeMaxInterval caps the backoff between reachability probes.
	ProbeMaxInterval time.Duration
}

// Observer is told the outcome of every request (err is nil on success).
type Observer func(op string, err error)

type Client struct {
	base      string
	timeout   time.Duration
	probeMax  time.Duration
	http      *http.Client
	status    *gobreaker.CircuitBreaker
	telemetry *gobreaker.CircuitBreaker
	observe   Observer
	log       logging.Logger
}

func NewClient(cfg Config, observe Observer, log logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, errors.Errorf("invalid remote base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if cfg.ProbeMaxInterval <= 0 {
		cfg.ProbeMaxInterval = 30 * time.Second
	}
	if observe == nil {
		observe = func(string, error) {}
	}
	return &Client{
		base:      base,
		timeout:   cfg.Timeout,
		probeMax:  cfg.ProbeMaxInterval,
		http:      &http.Client{Timeout: cfg.Timeout},
		status:    newBreaker("watering-status", cfg.BreakerFailures, cfg.BreakerOpenFor, log),
		telemetry: newBreaker("sensor-data", cfg.BreakerFailures, cfg.BreakerOpenFor, log),
		observe:   observe,
		log:       log,
	}, nil
}

func newBreaker(name string, fails int, openFor time.Duration, log logging.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("breaker", name).Infof("remote: breaker %s -> %s", from, to)
		},
	})
}

// Push sends the local pump state with PUT /api/watering.
func (c *Client) Push(ctx context.Context, rec model.RemoteWateringRecord) error {
	body, err := json.Marshal(rec.Payload())
	if err != nil {
		return errors.Wrap(err, "push: encode")
	}
	_, err = c.do(ctx, c.status, "push", http.MethodPut, pathWatering, body)
	c.observe("push", err)
	return err
}

// Pull fetches the authority's record for deviceID. A body without a boolean
// pump_active, or with wrongly typed fields, fails with ErrMalformedResponse.
func (c *Client) Pull(ctx context.Context, deviceID string) (model.RemoteWateringRecord, error) {
	raw, err := c.do(ctx, c.status, "pull", http.MethodGet, pathWatering+"/"+url.PathEscape(deviceID), nil)
	if err == nil {
		var rec model.RemoteWateringRecord
		if rec, err = decodeWateringRecord(raw); err == nil {
			c.observe("pull", nil)
			return rec, nil
		}
		err = agenterr.Malformed(err, "pull")
	}
	c.observe("pull", err)
	return model.RemoteWateringRecord{}, err
}

// PostSensorData uploads one telemetry payload.
func (c *Client) PostSensorData(ctx context.Context, p model.SensorDataPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "sensor-data: encode")
	}
	_, err = c.do(ctx, c.telemetry, "sensor_data", http.MethodPost, pathSensorData, body)
	c.observe("sensor_data", err)
	return err
}

// WaitReachable blocks until GET /api/health answers 2xx or ctx ends.
func (c *Client) WaitReachable(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = c.probeMax
	bo.MaxElapsedTime = 0

	probe := func() error {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(pctx, http.MethodGet, c.base+pathHealth, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return agenterr.Transport(err, "probe")
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return agenterr.Unavailable("probe", fmt.Sprintf("status %d", resp.StatusCode))
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.WithError(err).Infof("remote: %s not reachable, retrying in %s", c.base, next.Round(time.Millisecond))
	}
	if err := backoff.RetryNotify(probe, backoff.WithContext(bo, ctx), notify); err != nil {
		return errors.Wrap(err, "wait for remote authority")
	}
	c.log.Infof("remote: %s reachable", c.base)
	return nil
}

func (c *Client) do(ctx context.Context, cb *gobreaker.CircuitBreaker, op, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := cb.Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return nil, errors.Wrap(err, op)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, agenterr.Transport(err, op)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, agenterr.Transport(err, op)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, agenterr.Unavailable(op, fmt.Sprintf("%s %s -> %d", method, path, resp.StatusCode))
		}
		return b, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = agenterr.Unavailable(op, "circuit "+cb.Name()+" open")
	}
	if err != nil {
		c.log.WithError(err).Debugf("remote: %s failed", op)
		return nil, err
	}
	return out.([]byte), nil
}
