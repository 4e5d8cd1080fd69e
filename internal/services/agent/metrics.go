package agent

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
)

const namespace = "autogrow"

// Metrics lives on its own registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	pumpActive  prometheus.Gauge
	ticks       prometheus.Counter
	transitions *prometheus.CounterVec
	remote      *prometheus.CounterVec
	reports     *prometheus.CounterVec
	commands    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pumpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pump_active",
			Help: "1 while the pump is commanded on.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Control loop ticks.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transitions_total",
			Help: "Pump transitions by kind and reason.",
		}, []string{"kind", "reason"}),
		remote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_requests_total",
			Help: "Requests to the remote authority by operation and result.",
		}, []string{"op", "result"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "telemetry_reports_total",
			Help: "Telemetry cycles by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Operator commands by source, action and result.",
		}, []string{"source", "action", "result"}),
	}
	m.reg.MustRegister(m.pumpActive, m.ticks, m.transitions, m.remote, m.reports, m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Emit tracks transitions; it makes Metrics a watering event sink.
func (m *Metrics) Emit(_ context.Context, ev model.WateringEvent) error {
	m.transitions.WithLabelValues(string(ev.Kind), string(ev.Reason)).Inc()
	if ev.Kind == model.EventStopped || !ev.PumpActive {
		m.pumpActive.Set(0)
	} else {
		m.pumpActive.Set(1)
	}
	return nil
}

// ObserveRemote has the shape of remote.Observer.
func (m *Metrics) ObserveRemote(op string, err error) {
	m.remote.WithLabelValues(op, agenterr.Code(err)).Inc()
}

func (m *Metrics) Tick() { m.ticks.Inc() }

func (m *Metrics) Report(err error) { m.reports.WithLabelValues(agenterr.Code(err)).Inc() }

func (m *Metrics) Command(source string, action string, err error) {
	m.commands.WithLabelValues(source, action, resultOf(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func resultOf(err error) string {
	if errors.Is(err, ErrQueueFull) {
		return "queue_full"
	}
	return agenterr.Code(err)
}
