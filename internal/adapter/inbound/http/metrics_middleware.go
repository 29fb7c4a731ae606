package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// apiResources are the first path segments under /api/v1 used as the
// resource label. Anything else is counted as "other" to bound cardinality.
var apiResources = map[string]struct{}{
	"actions":   {},
	"decisions": {},
	"feedback":  {},
	"config":    {},
	"insights":  {},
	"metrics":   {},
	"tasks":     {},
	"stats":     {},
	"system":    {},
}

// MetricsMiddleware counts operator API requests by method, resource and
// status class, and observes their duration by method and resource.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			resource := apiResource(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(r.Method, resource).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, resource, statusClass(rec.status)).Inc()
		})
	}
}

// apiResource maps "/api/v1/actions/42/approve" to "actions".
func apiResource(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return "other"
	}
	first, _, _ := strings.Cut(rest, "/")
	if _, known := apiResources[first]; known {
		return first
	}
	return "other"
}

// statusClass maps 404 to "4xx".
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}
