package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/insight"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/port/inbound"
)

// DefaultMonitorInterval is how often the monitor runs its detectors.
const DefaultMonitorInterval = 5 * time.Minute

// MetricsSource supplies the platform metrics the detectors inspect.
type MetricsSource interface {
	Snapshot() (insight.Metrics, time.Time)
}

// MonitorService periodically runs insight detectors over platform and agent
// metrics, stores what they raise and proposes auto-executable suggestions
// to the agent.
type MonitorService struct {
	detectors []insight.Detector
	source    MetricsSource
	store     insight.Store
	agent     *AgentService
	logger    *slog.Logger
	interval  time.Duration
}

// MonitorOption configures MonitorService.
type MonitorOption func(*MonitorService)

// WithMonitorInterval sets the detection interval.
func WithMonitorInterval(d time.Duration) MonitorOption {
	return func(m *MonitorService) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitorService creates a MonitorService.
func NewMonitorService(detectors []insight.Detector, source MetricsSource, store insight.Store, agentSvc *AgentService, logger *slog.Logger, opts ...MonitorOption) *MonitorService {
	m := &MonitorService{
		detectors: detectors,
		source:    source,
		store:     store,
		agent:     agentSvc,
		logger:    logger,
		interval:  DefaultMonitorInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run detects on every tick until ctx is cancelled.
func (m *MonitorService) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", "interval", m.interval, "detectors", len(m.detectors))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.Error("monitoring pass failed", "error", err)
			}
		}
	}
}

// Metrics returns the platform metrics overlaid with the agent's own counters.
func (m *MonitorService) Metrics() insight.Metrics {
	var platform insight.Metrics
	if m.source != nil {
		platform, _ = m.source.Snapshot()
	}
	stats := m.agent.Stats().GetStats()
	return platform.Merge(insight.Metrics{
		"pending_approvals":  float64(len(m.agent.Pending(approval.StatusPending))),
		"decisions_total":    float64(stats.Decisions()),
		"execution_failures": float64(stats.ExecutionFailed),
		"budget_exhausted":   float64(stats.BudgetExhausted),
		"feedback_records":   float64(stats.Feedback),
	})
}

// RunOnce runs every detector once and returns the insights raised. Nothing
// runs while proactive monitoring is disabled. A detector whose previous
// insight is still unacknowledged is not raised again.
func (m *MonitorService) RunOnce(ctx context.Context) ([]insight.Insight, error) {
	cfg := m.agent.Config()
	if cfg == nil || !cfg.ProactiveMonitoring {
		return nil, nil
	}

	open, err := m.store.List(ctx, false)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(open))
	for _, in := range open {
		active[in.Detector] = true
	}

	metrics := m.Metrics()
	var raised []insight.Insight
	for _, d := range m.detectors {
		if active[d.Name()] {
			continue
		}
		in, err := d.Detect(ctx, metrics)
		if err != nil {
			m.logger.Warn("detector failed", "detector", d.Name(), "error", err)
			continue
		}
		if in == nil {
			continue
		}
		in.ID = uuid.New().String()
		if err := m.store.Add(ctx, *in); err != nil {
			return raised, err
		}
		m.agent.Stats().RecordInsight()
		raised = append(raised, *in)
		m.logger.Info("insight raised",
			"insight_id", in.ID,
			"detector", in.Detector,
			"type", in.Type,
			"severity", in.Severity,
		)

		if s := in.SuggestedAction; s != nil && s.AutoExecutable {
			res, err := m.agent.Propose(ctx, s.ToAction(in), journal.SourceInsight)
			if err != nil {
				m.logger.Warn("suggested action rejected", "insight_id", in.ID, "error", err)
				continue
			}
			m.logger.Info("suggested action proposed", "insight_id", in.ID, "action_id", res.Action.ID, "outcome", res.Outcome)
		}
	}
	return raised, nil
}

// Insights returns stored insights, newest first.
func (m *MonitorService) Insights(ctx context.Context, includeAcknowledged bool) ([]insight.Insight, error) {
	return m.store.List(ctx, includeAcknowledged)
}

// Acknowledge marks an insight as seen so its detector may raise it again.
func (m *MonitorService) Acknowledge(ctx context.Context, id string) (insight.Insight, error) {
	return m.store.Acknowledge(ctx, id)
}

// Compile-time interface verification.
var _ inbound.Runner = (*MonitorService)(nil)
