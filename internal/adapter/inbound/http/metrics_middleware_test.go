package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestMetricsMiddleware_CountsByResourceAndClass(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		status   int
		resource string
		class    string
	}{
		{"approve", http.MethodPost, "/api/v1/actions/a-1/approve", http.StatusOK, "actions", "2xx"},
		{"pending propose", http.MethodPost, "/api/v1/actions", http.StatusAccepted, "actions", "2xx"},
		{"missing task", http.MethodGet, "/api/v1/tasks/nope", http.StatusNotFound, "tasks", "4xx"},
		{"journal failure", http.MethodGet, "/api/v1/decisions", http.StatusInternalServerError, "decisions", "5xx"},
		{"unknown resource", http.MethodGet, "/api/v1/wallet", http.StatusNotFound, "other", "4xx"},
		{"outside api", http.MethodGet, "/api/v2/actions", http.StatusNotFound, "other", "4xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := NewMetrics(prometheus.NewRegistry())
			handler := MetricsMiddleware(metrics)(statusHandler(tt.status))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(tt.method, tt.resource, tt.class)); got != 1 {
				t.Errorf("requests{%s,%s,%s} = %v, want 1", tt.method, tt.resource, tt.class, got)
			}
		})
	}
}

func TestMetricsMiddleware_ObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	handler := MetricsMiddleware(metrics)(statusHandler(http.StatusOK))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "dockpilot_http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetHistogram().GetSampleCount() == 1 {
				return
			}
		}
	}
	t.Error("no duration observation for GET stats")
}

func TestMetricsMiddleware_KeepsFirstStatus(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.WriteHeader(http.StatusOK) // superfluous, ignored by net/http
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/actions/pending", nil))

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(http.MethodGet, "actions", "4xx")); got != 1 {
		t.Errorf("4xx count = %v, want 1", got)
	}
}
