package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the flow engine. The zero-value
// methods are no-ops when metrics are disabled.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	eventsWritten *prometheus.CounterVec
	activeRuns    prometheus.Gauge

	reconcileSweeps  prometheus.Counter
	reconcileChecked prometheus.Counter
	reconcileUpdated prometheus.Counter
	reconcileLocked  prometheus.Counter
	reconcileErrors  prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of flow runs started",
			},
			[]string{"flow_type"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of flow runs reaching a terminal status",
			},
			[]string{"flow_type", "status"},
		),
		eventsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_written_total",
				Help:      "Total number of events appended to run logs",
			},
			[]string{"event_type"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active flow runs",
			},
		),
		reconcileSweeps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_sweeps_total",
				Help:      "Total number of reconciliation sweeps",
			},
		),
		reconcileChecked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_checked_total",
				Help:      "Total number of runs examined by reconciliation",
			},
		),
		reconcileUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_updated_total",
				Help:      "Total number of runs repaired by reconciliation",
			},
		),
		reconcileLocked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_locked_total",
				Help:      "Total number of runs skipped due to lock contention",
			},
		),
		reconcileErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_errors_total",
				Help:      "Total number of per-run reconciliation errors",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.eventsWritten,
		m.activeRuns,
		m.reconcileSweeps,
		m.reconcileChecked,
		m.reconcileUpdated,
		m.reconcileLocked,
		m.reconcileErrors,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(flowType string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(flowType).Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished records a run reaching a terminal status.
func (m *Metrics) RecordRunFinished(flowType, status string) {
	if m.runsFinished == nil {
		return
	}
	m.runsFinished.WithLabelValues(flowType, status).Inc()
	m.activeRuns.Dec()
}

// RecordEventWritten counts an appended event.
func (m *Metrics) RecordEventWritten(eventType string) {
	if m.eventsWritten == nil {
		return
	}
	m.eventsWritten.WithLabelValues(eventType).Inc()
}

// RecordSweep records the outcome counts of one reconciliation sweep.
func (m *Metrics) RecordSweep(checked, updated, locked, errors int) {
	if m.reconcileSweeps == nil {
		return
	}
	m.reconcileSweeps.Inc()
	m.reconcileChecked.Add(float64(checked))
	m.reconcileUpdated.Add(float64(updated))
	m.reconcileLocked.Add(float64(locked))
	m.reconcileErrors.Add(float64(errors))
}

// Handler returns the Prometheus scrape handler, or nil when metrics are
// disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
