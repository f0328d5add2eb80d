// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churnlens_uploads_total",
		Help: "Dataset uploads by outcome",
	}, []string{"outcome"})

	RowsPredicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "churnlens_rows_predicted_total",
		Help: "Rows scored by the classifier",
	})

	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "churnlens_upload_duration_seconds",
		Help:    "Time from receiving an upload to committing its session",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ExplanationCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churnlens_explanation_cache_total",
		Help: "Explanation lookups by result (hit, miss, shared)",
	}, []string{"result"})

	ExplanationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "churnlens_explanation_duration_seconds",
		Help:    "Duration of explanation stages",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})

	NarrativeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churnlens_narrative_failures_total",
		Help: "Text generations replaced by a fallback, by kind and reason",
	}, []string{"kind", "reason"})

	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "churnlens_stale_results_total",
		Help: "Explanations dropped because the session was replaced while computing",
	})

	SessionGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "churnlens_session_generation",
		Help: "Generation of the active session (0 when none)",
	})

	SessionRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "churnlens_session_rows",
		Help: "Rows in the active session",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
