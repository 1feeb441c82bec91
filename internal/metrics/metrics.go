// Package metrics exposes chamber telemetry and event counts to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/drybox/internal/logic"
)

const namespace = "drybox"

// Metrics holds the collectors on a private registry. It implements
// logic.Observer.
type Metrics struct {
	registry *prometheus.Registry

	temperature *prometheus.GaugeVec
	humidity    prometheus.Gauge
	setpoint    prometheus.Gauge
	actuator    *prometheus.GaugeVec
	mode        prometheus.Gauge
	events      *prometheus.CounterVec
	phases      *prometheus.CounterVec
	faults      *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last temperature reading by source.",
		}, []string{"source"}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Last chamber relative humidity reading.",
		}),
		setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint_celsius",
			Help:      "Heater setpoint, 0 when the heater is off.",
		}),
		actuator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_on",
			Help:      "Actuator output state (1 on, 0 off).",
		}, []string{"actuator"}),
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "Chamber mode code (-1 error, 1 starting, 10 running, 11 heating, 12 exhausting, 13 target reached).",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Chamber and sequencer events by type.",
		}, []string{"type"}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_entries_total",
			Help:      "Drying phase entries by phase.",
		}, []string{"phase"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_total",
			Help:      "Task errors seen by the scheduler, by task and outcome.",
		}, []string{"task", "outcome"}),
	}

	m.registry.MustRegister(
		m.temperature,
		m.humidity,
		m.setpoint,
		m.actuator,
		m.mode,
		m.events,
		m.phases,
		m.faults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnEvent counts e.
func (m *Metrics) OnEvent(e logic.Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case logic.EventModeChanged, logic.EventPanic:
		m.mode.Set(float64(e.Mode))
	case logic.EventPhaseChanged:
		m.phases.WithLabelValues(string(e.Phase)).Inc()
	}
}

// OnTelemetry updates the gauges. Missing readings leave the last value.
func (m *Metrics) OnTelemetry(t logic.Telemetry) {
	if t.HasTemperature {
		m.temperature.WithLabelValues("chamber").Set(t.Temperature)
	}
	if t.HasPlatform {
		m.temperature.WithLabelValues("platform").Set(t.PlatformTemperature)
	}
	if t.HasHumidity {
		m.humidity.Set(t.Humidity)
	}
	if t.HasSetpoint {
		m.setpoint.Set(t.Setpoint)
	} else {
		m.setpoint.Set(0)
	}
	m.actuator.WithLabelValues("heater").Set(boolToFloat(t.HeaterOn))
	m.actuator.WithLabelValues("exhaust").Set(boolToFloat(t.ExhaustOn))
	m.actuator.WithLabelValues("recirculation").Set(boolToFloat(t.Recirculation == "on" || t.Recirculation == "cycling"))
	m.mode.Set(float64(t.Mode))
}

// TaskError counts a task error and whether it was handled.
func (m *Metrics) TaskError(task string, handled bool) {
	outcome := "fatal"
	if handled {
		outcome = "handled"
	}
	m.faults.WithLabelValues(task, outcome).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
