// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_backend_outcomes_total",
			Help: "Backend calls by backend and outcome kind.",
		},
		[]string{"backend", "outcome"},
	)
	backendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_backend_call_duration_seconds",
			Help:    "Wall-clock duration of backend calls.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"backend"},
	)
	evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_evaluations_total",
			Help: "Evaluation requests by result.",
		},
		[]string{"result"},
	)
	overallScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_overall_score",
			Help:    "Distribution of reported overall scores (0-100).",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)
	archived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_archived_reports_total",
			Help: "Archive attempts by status.",
		},
		[]string{"status"},
	)
)

// ObserveBackend records one finished backend call. Skips carry no latency.
func ObserveBackend(backend, outcome string, elapsed time.Duration) {
	backendOutcomes.WithLabelValues(backend, outcome).Inc()
	if elapsed > 0 {
		backendLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
	}
}

// ObserveEvaluation records a completed request; result is "completed",
// "malformed" or "error".
func ObserveEvaluation(result string, overall float64) {
	evaluations.WithLabelValues(result).Inc()
	if result == "completed" {
		overallScore.Observe(overall)
	}
}

func ObserveArchive(status string) {
	archived.WithLabelValues(status).Inc()
}
