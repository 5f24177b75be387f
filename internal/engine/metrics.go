package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Benny93/timegraph/internal/graph"
)

// Metrics holds the Prometheus metrics of one engine.
// Each instance owns its registry, so engines in tests never collide.
type Metrics struct {
	registry *prometheus.Registry

	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	CascadeWrites *prometheus.HistogramVec
	Violations    prometheus.Counter
}

// NewMetrics creates a metrics set with the given namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of graph operations",
		},
		[]string{"kind", "operation", "outcome"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Graph operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "operation"},
	)

	cascadeWrites := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_writes",
			Help:      "Versions saved or expired by one committed operation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"kind", "operation"},
	)

	violations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Total number of integrity defects surfaced to callers",
		},
	)

	registry.MustRegister(operations, duration, cascadeWrites, violations)

	return &Metrics{
		registry:      registry,
		Operations:    operations,
		Duration:      duration,
		CascadeWrites: cascadeWrites,
		Violations:    violations,
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observe records one top-level operation.
func (m *Metrics) observe(kind graph.Kind, op string, start time.Time, writes int, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(string(kind), op, outcome(err)).Inc()
	m.Duration.WithLabelValues(string(kind), op).Observe(time.Since(start).Seconds())
	if err == nil {
		m.CascadeWrites.WithLabelValues(string(kind), op).Observe(float64(writes))
	}
	if errors.Is(err, graph.ErrInvariantViolation) {
		m.Violations.Inc()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, graph.ErrNotFound):
		return "not_found"
	case errors.Is(err, graph.ErrAlreadyExpired):
		return "already_expired"
	case errors.Is(err, graph.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, graph.ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
