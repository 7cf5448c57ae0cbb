// Package metrics registers the Prometheus metrics of the document store.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commonfiles_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commonfiles_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commonfiles_operations_total",
			Help: "Service operations by outcome",
		},
		[]string{"operation", "result"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commonfiles_upload_bytes_total",
			Help: "Bytes accepted by successful uploads",
		},
	)

	inconsistenciesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commonfiles_inconsistencies_total",
			Help: "Detected storage inconsistencies (cycles, missing blobs, corrupt chunks)",
		},
	)
)

// Operation results.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultDenied   = "forbidden"
	ResultInvalid  = "invalid"
)

// ObserveOperation counts one finished service operation.
func ObserveOperation(operation, result string) {
	operationsTotal.WithLabelValues(operation, result).Inc()
}

// AddUploadBytes adds n to the uploaded bytes counter.
func AddUploadBytes(n int64) {
	uploadBytesTotal.Add(float64(n))
}

// IncInconsistency counts one detected inconsistency.
func IncInconsistency() {
	inconsistenciesTotal.Inc()
}

// Middleware records request count and duration per route template, so
// ids in the path do not blow up label cardinality.
func Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := routeTemplate(r)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
