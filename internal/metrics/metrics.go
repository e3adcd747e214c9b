// Package metrics exposes Prometheus metrics for batches and instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostfleet/internal/types"
)

const namespace = "hostfleet"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	batches    *prometheus.CounterVec
	instances  *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Per-instance operations by outcome",
			},
			[]string{"family", "operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of per-instance operations in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"family", "operation"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches by operation and exit code",
			},
			[]string{"operation", "exit_code"},
		),
		instances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances",
				Help:      "Instances seen by the last discovery, by family and state",
			},
			[]string{"family", "state"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.duration,
		m.batches,
		m.instances,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveOperation records one per-instance outcome.
func (m *Metrics) ObserveOperation(family types.Family, op types.Operation, outcome types.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(family), string(op), string(outcome)).Inc()
	m.duration.WithLabelValues(string(family), string(op)).Observe(d.Seconds())
}

// ObserveBatch records a finished batch.
func (m *Metrics) ObserveBatch(op types.Operation, exitCode int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(op), exitCodeLabel(exitCode)).Inc()
}

// SetInstances replaces the instance gauge with counts from instances.
func (m *Metrics) SetInstances(instances []types.Instance) {
	if m == nil {
		return
	}
	m.instances.Reset()
	for _, f := range types.Families {
		for _, state := range []string{"active", "inactive"} {
			m.instances.WithLabelValues(string(f), state).Set(0)
		}
	}
	for _, inst := range instances {
		state := "inactive"
		if inst.State.Active {
			state = "active"
		}
		m.instances.WithLabelValues(string(inst.Family), state).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "other"
	}
}
