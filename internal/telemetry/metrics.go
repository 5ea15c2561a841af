package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReviewsSubmitted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "reviewgate_reviews_submitted_total", Help: "Review jobs accepted"})
	ReviewTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reviewgate_review_transitions_total", Help: "Applied job status transitions by target status"}, []string{"status"})
	ReviewsInFlight   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reviewgate_reviews_inflight", Help: "Jobs not yet in a terminal state"})
	AuthFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "reviewgate_auth_failures_total", Help: "Requests rejected for a missing or wrong client key"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "reviewgate_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	HTTPRequests      = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reviewgate_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status code",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "code"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ReviewsSubmitted,
			ReviewTransitions,
			ReviewsInFlight,
			AuthFailures,
			RateLimitRejects,
			HTTPRequests,
		)
	})
	return promhttp.Handler()
}
