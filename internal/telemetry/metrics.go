package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProcessMetrics are the cross-cutting Prometheus collectors for heartbeat
// cadence, healing dispatch outcomes, and update apply/rollback outcomes.
// Only opscore-observer builds them, and it increments only HeartbeatsTotal;
// opscore-updater does not register them. Domain-specific metrics
// (P95 latencies, skill counts, …) are gathered by internal/metrics and
// reported in MetricsSnapshot instead of as separate gauges here.
type ProcessMetrics struct {
	HeartbeatsTotal    prometheus.Counter
	HealingActions     *prometheus.CounterVec
	UpdateAttempts     *prometheus.CounterVec
	UpdateDuration     *prometheus.HistogramVec
}

var (
	processMetricsOnce sync.Once
	processMetrics     *ProcessMetrics
)

// NewProcessMetrics returns the singleton ProcessMetrics, registering its
// collectors against the default registry exactly once per process —
// promauto panics on duplicate registration, so repeated calls return the
// same collectors.
func NewProcessMetrics() *ProcessMetrics {
	processMetricsOnce.Do(func() {
		processMetrics = &ProcessMetrics{
			HeartbeatsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "opscore",
				Name:      "observer_heartbeats_total",
				Help:      "Total number of observer heartbeat ticks processed.",
			}),
			HealingActions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "opscore",
				Name:      "healer_actions_total",
				Help:      "Total self-healing actions dispatched, by tag and outcome.",
			}, []string{"tag", "outcome"}),
			UpdateAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "opscore",
				Name:      "updater_attempts_total",
				Help:      "Total apply/rollback attempts, by operation and status.",
			}, []string{"operation", "status"}),
			UpdateDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "opscore",
				Name:      "updater_duration_seconds",
				Help:      "Duration of apply/rollback operations.",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			}, []string{"operation"}),
		}
	})
	return processMetrics
}

// Handler returns the Prometheus exposition HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpdate records one apply/rollback outcome.
func (m *ProcessMetrics) ObserveUpdate(operation, status string, duration time.Duration) {
	m.UpdateAttempts.WithLabelValues(operation, status).Inc()
	m.UpdateDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
