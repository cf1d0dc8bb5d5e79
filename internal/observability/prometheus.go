package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder implements MetricsRecorder on Prometheus
// collectors: an operation duration histogram, an operation result counter and
// a materialization cache lookup counter.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	cache     *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder builds the collectors and registers them with
// reg (defaulting to the global registry when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alphaforge_operation_duration_seconds",
				Help:    "Duration of core operations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alphaforge_operation_results_total",
				Help: "Core operation outcomes by status.",
			},
			[]string{"operation", "status"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alphaforge_cache_lookups_total",
				Help: "Materialization cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
	}
	for _, c := range []prometheus.Collector{r.durations, r.results, r.cache} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records one operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// IncCache records a cache lookup outcome ("hit" or "miss").
func (r *PrometheusMetricsRecorder) IncCache(outcome string) {
	r.cache.WithLabelValues(outcome).Inc()
}
