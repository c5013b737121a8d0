package rotation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       *prometheus.HistogramVec
	rotationRetriesTotal   *prometheus.CounterVec
	rollbackTotal          *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records rotation counters and timings. All recorders are no-ops
// until InitMetrics has run, so library use without a metrics endpoint
// stays free of global registry writes.
type Metrics struct{}

// NewMetrics creates a Metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers the Prometheus metrics once.
func InitMetrics() {
	metricsOnce.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_rotation_started_total",
				Help: "Total number of rotation cycles started",
			},
			[]string{"template", "operation"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_rotation_completed_total",
				Help: "Total number of rotation cycles finished, by outcome",
			},
			[]string{"template", "operation", "status"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotor_rotation_duration_seconds",
				Help:    "Duration of rotation cycles in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"template"},
		)

		rotationRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_rotation_retries_total",
				Help: "Total number of retried execute attempts",
			},
			[]string{"template"},
		)

		rollbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotor_rollback_total",
				Help: "Total number of best-effort rollback attempts, by outcome",
			},
			[]string{"template", "status"},
		)

		metricsRegistered = true
	})
}

// RecordStarted counts a cycle start.
func (m *Metrics) RecordStarted(template, operation string) {
	if !metricsRegistered || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues(template, operation).Inc()
}

// RecordCompleted counts a finished cycle and observes its duration.
func (m *Metrics) RecordCompleted(template, operation, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if rotationCompletedTotal != nil {
		rotationCompletedTotal.WithLabelValues(template, operation, status).Inc()
	}
	if rotationDuration != nil {
		rotationDuration.WithLabelValues(template).Observe(durationSeconds)
	}
}

// RecordRetry counts one retried execute attempt.
func (m *Metrics) RecordRetry(template string) {
	if !metricsRegistered || rotationRetriesTotal == nil {
		return
	}
	rotationRetriesTotal.WithLabelValues(template).Inc()
}

// RecordRollback counts a rollback attempt.
func (m *Metrics) RecordRollback(template, status string) {
	if !metricsRegistered || rollbackTotal == nil {
		return
	}
	rollbackTotal.WithLabelValues(template, status).Inc()
}

// MetricsRegistered reports whether InitMetrics has run.
func MetricsRegistered() bool {
	return metricsRegistered
}
