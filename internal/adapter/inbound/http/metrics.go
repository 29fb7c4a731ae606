package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/service"
)

const namespace = "dockpilot"

// Metrics holds the request metrics recorded by MetricsMiddleware.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the request metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of operator API requests",
			},
			[]string{"method", "resource", "code"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Operator API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "resource"},
		),
	}
}

// AgentSources are the components whose counters are exported. Nil fields
// are skipped.
type AgentSources struct {
	Stats       *service.StatsService
	Journal     *service.JournalService
	PendingFunc func() int
	RateLimitFn func() int
}

// RegisterAgentMetrics exports the agent's counters. Values are read at
// scrape time so the services stay free of Prometheus types.
func RegisterAgentMetrics(reg prometheus.Registerer, src AgentSources) {
	f := promauto.With(reg)

	if stats := src.Stats; stats != nil {
		verdicts := map[agent.Verdict]func(service.Stats) int64{
			agent.VerdictExecute:         func(s service.Stats) int64 { return s.Executed },
			agent.VerdictRequestApproval: func(s service.Stats) int64 { return s.ApprovalRequests },
			agent.VerdictSkip:            func(s service.Stats) int64 { return s.Skipped },
		}
		for verdict, get := range verdicts {
			get := get
			f.NewCounterFunc(prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "decisions_total",
				Help:        "Decisions made, by verdict",
				ConstLabels: prometheus.Labels{"verdict": string(verdict)},
			}, func() float64 { return float64(get(stats.GetStats())) })
		}

		counters := []struct {
			name, help string
			get        func(service.Stats) int64
		}{
			{"execution_failures_total", "Actions whose execution failed", func(s service.Stats) int64 { return s.ExecutionFailed }},
			{"budget_exhausted_total", "Execute verdicts downgraded by the auto-execution budget", func(s service.Stats) int64 { return s.BudgetExhausted }},
			{"approval_evictions_total", "Pending actions evicted from a full approval queue", func(s service.Stats) int64 { return s.Evicted }},
			{"feedback_total", "Feedback records learned from", func(s service.Stats) int64 { return s.Feedback }},
			{"insights_total", "Insights raised by the monitor", func(s service.Stats) int64 { return s.Insights }},
			{"errors_total", "Internal errors while deciding or learning", func(s service.Stats) int64 { return s.Errors }},
		}
		for _, c := range counters {
			get := c.get
			f.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      c.name,
				Help:      c.help,
			}, func() float64 { return float64(get(stats.GetStats())) })
		}
	}

	if j := src.Journal; j != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_drops_total",
			Help:      "Journal records dropped due to backpressure",
		}, func() float64 { return float64(j.DroppedRecords()) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_channel_depth",
			Help:      "Journal records waiting to be written",
		}, func() float64 { return float64(j.ChannelDepth()) })
	}

	if src.PendingFunc != nil {
		pending := src.PendingFunc
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_approvals",
			Help:      "Actions waiting for a human decision",
		}, func() float64 { return float64(pending()) })
	}

	if src.RateLimitFn != nil {
		keys := src.RateLimitFn
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_keys",
			Help:      "Number of active rate limit keys",
		}, func() float64 { return float64(keys()) })
	}
}
