// Package telemetry exposes Prometheus metrics for the governance layer.
package telemetry

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
	governedCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcegate_governed_calls_total",
			Help: "Governed outbound calls, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sourcegate_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	circuitsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sourcegate_circuits_open",
			Help: "Number of source circuits currently open.",
		},
	)

	fetchSlotsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sourcegate_fetch_slots_active",
			Help: "Outbound fetches currently holding a semaphore slot.",
		},
	)

	fetchSlotsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sourcegate_fetch_slots_queued",
			Help: "Callers waiting for a semaphore slot.",
		},
	)

	robotsFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcegate_robots_fetches_total",
			Help: "robots.txt fetch attempts, labeled by result status.",
		},
		[]string{"status"},
	)

	provenancePurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sourcegate_provenance_purged_total",
			Help: "Expired provenance records removed by maintenance.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcegate_http_requests_total",
			Help: "Admin API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sourcegate_http_request_duration_seconds",
			Help:    "Histogram of admin API request latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.statusCode)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveGovernedCall records the outcome of one governed call.
func ObserveGovernedCall(source, outcome string) {
	governedCallsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// SetCircuitsOpen publishes the count of currently open circuits.
func SetCircuitsOpen(n int) {
	circuitsOpen.Set(float64(n))
}

// SetFetchSlots publishes semaphore occupancy.
func SetFetchSlots(active, queued int) {
	fetchSlotsActive.Set(float64(active))
	fetchSlotsQueued.Set(float64(queued))
}

// ObserveRobotsFetch records a robots.txt fetch attempt by result status.
func ObserveRobotsFetch(status string) {
	robotsFetchesTotal.WithLabelValues(status).Inc()
}

// ObserveProvenancePurge records how many expired rows maintenance removed.
func ObserveProvenancePurge(n int) {
	if n > 0 {
		provenancePurgedTotal.Add(float64(n))
	}
}
