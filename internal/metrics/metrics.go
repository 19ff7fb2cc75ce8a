// Package metrics provides Prometheus metrics for the migration engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Discovery metrics
	RouteCacheLookups *prometheus.CounterVec
	RoutesDiscovered  prometheus.Histogram

	// Execution metrics
	PlansExecuted *prometheus.CounterVec
	StepsExecuted *prometheus.CounterVec
	StepFailures  *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec

	// Rollback metrics
	Compensations *prometheus.CounterVec
}

// NewMetrics registers every metric on reg, which Handler later serves. Each engine
// instance gets its own registry so instances never collide on registration.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "poolmigrator"
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		RouteCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "route_cache_lookups_total",
			Help:      "Route and compatibility cache lookups by result",
		}, []string{"result"}),
		RoutesDiscovered: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "routes_returned",
			Help:      "Number of routes returned per discovery",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),

		PlansExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "plans_executed_total",
			Help:      "Executed migration plans by terminal status",
		}, []string{"status"}),
		StepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "steps_executed_total",
			Help:      "Successfully executed steps by type",
		}, []string{"step_type"}),
		StepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "step_failures_total",
			Help:      "Failed steps by type and error kind",
		}, []string{"step_type", "kind"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "step_duration_seconds",
			Help:      "Time from dispatch to definite outcome per step type",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"step_type"}),

		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "compensations_total",
			Help:      "Rollback decisions per executed step by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RouteCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RoutesReturned(n int) {
	if m == nil {
		return
	}
	m.RoutesDiscovered.Observe(float64(n))
}

func (m *Metrics) PlanFinished(status string) {
	if m == nil {
		return
	}
	m.PlansExecuted.WithLabelValues(status).Inc()
}

func (m *Metrics) StepSucceeded(stepType string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsExecuted.WithLabelValues(stepType).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(seconds)
}

func (m *Metrics) StepFailed(stepType, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.StepFailures.WithLabelValues(stepType, kind).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(seconds)
}

func (m *Metrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(result).Inc()
}
