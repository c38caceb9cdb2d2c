package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Authorization decision metrics
	accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"role", "module", "allowed", "reason"},
	)

	// Resolver cache metrics
	resolverCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_cache_total",
			Help: "Resolver cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// Override write metrics
	overrideWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "override_writes_total",
			Help: "Total number of permission override writes",
		},
		[]string{"operation", "status"},
	)

	// Database metrics
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"query_type"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		accessDecisionsTotal,
		resolverCacheTotal,
		overrideWritesTotal,
		dbQueryDuration,
	)
}

// RecordHTTPRequest records metrics for one HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAccessDecision records one authorization decision
func RecordAccessDecision(role, module string, allowed bool, reason string) {
	accessDecisionsTotal.WithLabelValues(role, module, strconv.FormatBool(allowed), reason).Inc()
}

// RecordCacheLookup records one resolver cache lookup ("hit" or "miss")
func RecordCacheLookup(outcome string) {
	resolverCacheTotal.WithLabelValues(outcome).Inc()
}

// RecordOverrideWrite records one override put or delete
func RecordOverrideWrite(operation string, succeeded bool) {
	status := "success"
	if !succeeded {
		status = "failure"
	}
	overrideWritesTotal.WithLabelValues(operation, status).Inc()
}

// RecordDBQuery records the duration of one database query
func RecordDBQuery(queryType string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// MetricsHandler returns the Prometheus metrics HTTP handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware instruments a handler with request metrics
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		RecordHTTPRequest(r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
