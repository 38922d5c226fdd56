// gateway/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Cache cluster metrics
	cacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_cache_op_duration_seconds",
			Help:    "Cache operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"op"},
	)

	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	cacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"op"},
	)

	cacheCompressionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_cache_compressions_total",
			Help: "Total number of values compressed before caching",
		},
	)

	// Circuit breaker metrics
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"dependency"},
	)

	breakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"dependency"},
	)

	breakerShortCircuitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_breaker_short_circuits_total",
			Help: "Total number of calls rejected by an open breaker",
		},
		[]string{"dependency"},
	)

	// Rate limiter metrics
	rateLimitAllowedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_allowed_total",
			Help: "Total number of requests allowed by the rate limiter",
		},
	)

	rateLimitRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	rateLimitDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_degraded_total",
			Help: "Total number of rate limit decisions taken in degraded mode",
		},
		[]string{"policy"},
	)

	// Session metrics
	sessionsAdmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_sessions_admitted_total",
			Help: "Total number of admitted session requests",
		},
	)

	sessionsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_sessions_rejected_total",
			Help: "Total number of session requests rejected at the concurrency limit",
		},
	)

	sessionsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_sessions_pruned_total",
			Help: "Total number of expired sessions pruned from session sets",
		},
	)

	// Validation metrics
	validationOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_validation_outcomes_total",
			Help: "Total number of request validation outcomes",
		},
		[]string{"schema", "outcome"},
	)

	// Authorization metrics
	authDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"decision", "reason"},
	)
)

// RecordRequest records one completed HTTP request.
func RecordRequest(method, route string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheOp records the latency of one cache operation.
func ObserveCacheOp(op string, duration time.Duration) {
	cacheOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordCacheHit()  { cacheHitsTotal.Inc() }
func RecordCacheMiss() { cacheMissesTotal.Inc() }

func RecordCacheError(op string) {
	cacheErrorsTotal.WithLabelValues(op).Inc()
}

func RecordCacheCompression() { cacheCompressionsTotal.Inc() }

// SetBreakerState publishes a breaker state change.
func SetBreakerState(dependency string, state int) {
	breakerState.WithLabelValues(dependency).Set(float64(state))
}

func RecordBreakerTrip(dependency string) {
	breakerTripsTotal.WithLabelValues(dependency).Inc()
}

func RecordBreakerShortCircuit(dependency string) {
	breakerShortCircuitsTotal.WithLabelValues(dependency).Inc()
}

// RecordRateLimit records one rate limit decision.
func RecordRateLimit(allowed bool) {
	if allowed {
		rateLimitAllowedTotal.Inc()
	} else {
		rateLimitRejectedTotal.Inc()
	}
}

// RecordRateLimitDegraded records a decision taken while the cache cluster is
// unreachable. policy is "fail_open" or "fail_closed".
func RecordRateLimitDegraded(policy string) {
	rateLimitDegradedTotal.WithLabelValues(policy).Inc()
}

// RecordSessionDecision records one session admission decision.
func RecordSessionDecision(admitted bool) {
	if admitted {
		sessionsAdmittedTotal.Inc()
	} else {
		sessionsRejectedTotal.Inc()
	}
}

func RecordSessionsPruned(n int) {
	sessionsPrunedTotal.Add(float64(n))
}

// RecordValidation records a request validation outcome for a named schema.
func RecordValidation(schema, outcome string) {
	validationOutcomesTotal.WithLabelValues(schema, outcome).Inc()
}

// RecordAuthDecision records a grant or denial, with the denial reason code.
func RecordAuthDecision(decision, reason string) {
	authDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
