package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Outcome categories for operation counters. These mirror the error taxonomy
// the workflows surface to callers.
const (
	OutcomeOK           = "ok"
	OutcomeValidation   = "validation"
	OutcomeNotFound     = "not_found"
	OutcomeConcurrency  = "concurrency"
	OutcomeUnauthorized = "unauthorized"
	OutcomePeriodLocked = "period_locked"
	OutcomeInvalidState = "invalid_state"
	OutcomeInvariant    = "invariant"
	OutcomeError        = "error"
)

// OutcomeMetrics counts workflow operations by outcome category.
type OutcomeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var (
	outcomeMetricsOnce sync.Once
	outcomeMetrics     *OutcomeMetrics
)

// Outcomes returns the process-wide outcome metrics, registering them on
// first use.
func Outcomes() *OutcomeMetrics {
	outcomeMetricsOnce.Do(func() {
		outcomeMetrics = newOutcomeMetrics(prometheus.DefaultRegisterer)
	})
	return outcomeMetrics
}

// ResetForTest clears the singleton so tests can register against a fresh
// registry.
func ResetForTest() {
	outcomeMetricsOnce = sync.Once{}
	outcomeMetrics = nil
}

func newOutcomeMetrics(registerer prometheus.Registerer) *OutcomeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &OutcomeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "congno",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome category.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "congno",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	if existing, ok := registerCollector(registerer, m.operations).(*prometheus.CounterVec); ok {
		m.operations = existing
	}
	if existing, ok := registerCollector(registerer, m.duration).(*prometheus.HistogramVec); ok {
		m.duration = existing
	}
	return m
}

// registerCollector registers the collector and returns the one the registry
// ended up holding. On a duplicate registration the already-registered
// collector wins, so increments stay visible on the scrape endpoint.
func registerCollector(registerer prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector
	}
	zap.L().Warn("metrics registration failed", zap.Error(err))
	return collector
}

// Record counts one operation outcome and observes its duration.
func (m *OutcomeMetrics) Record(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}
