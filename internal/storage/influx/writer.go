// Package influx mirrors watering events and sensor snapshots into an
// InfluxDB bucket. Writes are asynchronous and never block the control loop.
package influx

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// Writer wraps an async WriteAPI and remembers when the last write failed.
type Writer struct {
	api api.WriteAPI
	log logging.Logger

	mu      sync.RWMutex
	lastErr time.Time
	errs    int64
	written int64
}

// Open creates the client and a Writer on cfg.Bucket. The returned close
// function flushes pending points.
func Open(cfg Config, log logging.Logger) (*Writer, func()) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	wa := client.WriteAPI(cfg.Org, cfg.Bucket)
	w := NewWriter(wa, log)
	return w, func() {
		wa.Flush()
		client.Close()
	}
}

func NewWriter(wa api.WriteAPI, log logging.Logger) *Writer {
	w := &Writer{
		api:     wa,
		log:     log,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	errc := wa.Errors()
	go func() {
		for err := range errc {
			if err == nil {
				continue
			}
			w.mu.Lock()
			w.lastErr = time.Now()
			w.errs++
			w.mu.Unlock()
			log.WithError(err).Warn("influx: write failed")
		}
	}()
	return w
}

// Emit records a watering transition.
func (w *Writer) Emit(_ context.Context, ev model.WateringEvent) error {
	w.api.WritePoint(EventToPoint(ev))
	w.mark()
	return nil
}

// MirrorSnapshot records one telemetry sample.
func (w *Writer) MirrorSnapshot(_ context.Context, id model.DeviceIdentity, snap model.SensorSnapshot) error {
	w.api.WritePoint(SnapshotToPoint(id, snap))
	w.mark()
	return nil
}

func (w *Writer) Flush() { w.api.Flush() }

func (w *Writer) mark() {
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
}

// LastErrorAge is how long ago the last write error was seen.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Counts returns points handed to the client and write errors reported back.
func (w *Writer) Counts() (written, errs int64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written, w.errs
}
