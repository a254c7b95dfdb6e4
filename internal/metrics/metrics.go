// Package metrics provides Prometheus instrumentation for the evaluation
// service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts product evaluations by terminal status.
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "structprod_evaluations_total",
		Help: "Total product evaluations by status",
	}, []string{"status"})

	// EvaluationDuration tracks evaluation latency by template.
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "structprod_evaluation_duration_seconds",
		Help:    "Product evaluation latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"template"})

	// MissingPriceTotal counts evaluations aborted for missing closes.
	MissingPriceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "structprod_missing_price_total",
		Help: "Evaluations aborted because a required close was missing",
	})

	// PriceCacheHits counts Redis cache hits on price lookups.
	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "structprod_price_cache_hits_total",
		Help: "Price lookups served from cache",
	})

	// PriceCacheMisses counts Redis cache misses on price lookups.
	PriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "structprod_price_cache_misses_total",
		Help: "Price lookups that fell through to the primary store",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "structprod_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "structprod_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvaluation records one completed evaluation.
func ObserveEvaluation(template, status string, elapsed time.Duration) {
	EvaluationsTotal.WithLabelValues(status).Inc()
	EvaluationDuration.WithLabelValues(template).Observe(elapsed.Seconds())
}

// Middleware instruments HTTP handlers with request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// Label by route pattern, not raw path: path parameters like
		// product IDs would mint unbounded label values.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
