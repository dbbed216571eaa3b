package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartbite"

var (
	once sync.Once

	// InferenceDurationSeconds is the time spent in a forward pass, including
	// preprocessing but excluding the wait for a free worker.
	InferenceDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "classifier",
		Name:      "inference_duration_seconds",
		Help:      "Time to preprocess an image and run the classifier, labeled by result.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"result"})

	// InferenceInFlight is the number of forward passes currently running.
	InferenceInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "classifier",
		Name:      "inference_in_flight",
		Help:      "Current number of forward passes holding a worker slot.",
	})

	// NutritionLookupsTotal counts nutrition API lookups by outcome.
	NutritionLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "nutrition",
		Name:      "lookups_total",
		Help:      "Total number of nutrition lookups, labeled by result (ok, mismatch, error, cache_hit).",
	}, []string{"result"})

	// NutritionLookupDurationSeconds is the latency of calls to the nutrition API.
	NutritionLookupDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "nutrition",
		Name:      "lookup_duration_seconds",
		Help:      "Latency of nutrition API requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// PipelineRequestsTotal counts classify-and-enrich runs by outcome.
	PipelineRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Total number of classify-and-enrich runs, labeled by result (ok, classify_error, nutrition_error).",
	}, []string{"result"})

	// HTTPRequestDurationSeconds is the server-side latency per route.
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency, labeled by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Register registers all collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			InferenceDurationSeconds,
			InferenceInFlight,
			NutritionLookupsTotal,
			NutritionLookupDurationSeconds,
			PipelineRequestsTotal,
			HTTPRequestDurationSeconds,
		)
	})
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
