// Package metrics provides Prometheus metrics for repodrop.
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
	// Local HTTP front end
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repodrop_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Repository API
	apiCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_repository_api_calls_total",
			Help: "Total repository API calls by operation and status code",
		},
		[]string{"operation", "status"},
	)

	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repodrop_repository_api_call_duration_seconds",
			Help:    "Repository API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	repoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_current_repo_lookups_total",
			Help: "Current repository lookups, by cache result",
		},
		[]string{"result"},
	)

	// Auth
	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_token_refreshes_total",
			Help: "Token refresh attempts triggered by 401 responses",
		},
		[]string{"result"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_logins_total",
			Help: "Completed sign-in attempts",
		},
		[]string{"result"},
	)

	// Imports
	importsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_imports_total",
			Help: "Document imports by outcome",
		},
		[]string{"status"},
	)

	importBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repodrop_import_bytes_total",
			Help: "Total bytes of successfully imported documents",
		},
	)

	// Journal database
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repodrop_db_query_duration_seconds",
			Help:    "Journal database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// SSE
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repodrop_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repodrop_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repodrop_rate_limited_requests_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAPICall records one repository API operation. status 0 means the
// request never got a response.
func RecordAPICall(operation string, status int, duration time.Duration) {
	apiCallsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	apiCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRepoLookup records whether the current repository came from cache.
func RecordRepoLookup(cached bool) {
	result := "miss"
	if cached {
		result = "hit"
	}
	repoLookupsTotal.WithLabelValues(result).Inc()
}

// RecordTokenRefresh records a 401-triggered refresh.
func RecordTokenRefresh(success bool) {
	tokenRefreshesTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordLogin records a completed sign-in.
func RecordLogin(success bool) {
	loginsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordImport records a document import.
func RecordImport(bytes int64, success bool) {
	if success {
		importBytes.Add(float64(bytes))
	}
	importsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordDBQuery records a journal database query.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// The route pattern is used as the path label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
