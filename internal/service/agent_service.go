package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/state"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/domain/ratelimit"
	"github.com/dockvault/dockpilot/internal/port/outbound"
	"github.com/dockvault/dockpilot/internal/tracing"
)

// ErrInvalidAction is returned when a proposed action fails validation.
var ErrInvalidAction = errors.New("invalid action")

// Outcome is what happened to a proposed action after the decision.
type Outcome string

const (
	OutcomeExecuted        Outcome = "executed"
	OutcomeExecutionFailed Outcome = "execution_failed"
	OutcomePendingApproval Outcome = "pending_approval"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeSkipped         Outcome = "skipped"
)

// ProposalResult reports the decision for a proposed action and what was done with it.
type ProposalResult struct {
	Action    agent.Action              `json:"action"`
	Decision  agent.Decision            `json:"decision"`
	Outcome   Outcome                   `json:"outcome"`
	Execution *outbound.ExecutionResult `json:"execution,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// ConfigPatch holds a partial autonomy configuration update. Nil fields are left unchanged.
type ConfigPatch struct {
	AutonomyLevel       *agent.AutonomyLevel `json:"autonomy_level,omitempty"`
	AutoExecute         *agent.Thresholds    `json:"auto_execute_threshold,omitempty"`
	LearningEnabled     *bool                `json:"learning_enabled,omitempty"`
	ProactiveMonitoring *bool                `json:"proactive_monitoring,omitempty"`
	TaskScheduling      *bool                `json:"task_scheduling,omitempty"`
	SelfImprovement     *bool                `json:"self_improvement,omitempty"`
}

// journalRecorder is the write side of JournalService.
type journalRecorder interface {
	Record(record journal.Record)
}

// AgentService runs proposed actions through the decision engine and routes
// them: execute now, queue for a human, or skip. Reviewer responses to
// queued actions feed back into the engine when learning is enabled.
type AgentService struct {
	engine   *agent.Engine
	queue    *approval.Queue
	executor outbound.ActionExecutor
	logger   *slog.Logger

	journal    journalRecorder
	stats      *StatsService
	stateStore *state.FileStateStore
	limiter    ratelimit.Limiter
	budget     ratelimit.Config
	tracer     trace.Tracer
	userID     string
	now        func() time.Time
}

// AgentOption configures AgentService.
type AgentOption func(*AgentService)

// WithJournal records every decision in j.
func WithJournal(j journalRecorder) AgentOption {
	return func(s *AgentService) { s.journal = j }
}

// WithStats counts decisions in stats.
func WithStats(stats *StatsService) AgentOption {
	return func(s *AgentService) { s.stats = stats }
}

// WithStateStore persists configuration updates to store.
func WithStateStore(store *state.FileStateStore) AgentOption {
	return func(s *AgentService) { s.stateStore = store }
}

// WithExecutionBudget caps automatic executions per category. An execute
// verdict over budget becomes request_approval.
func WithExecutionBudget(limiter ratelimit.Limiter, cfg ratelimit.Config) AgentOption {
	return func(s *AgentService) {
		s.limiter = limiter
		s.budget = cfg
	}
}

// WithTracer sets the tracer for decision spans.
func WithTracer(tracer trace.Tracer) AgentOption {
	return func(s *AgentService) { s.tracer = tracer }
}

// WithUserID sets the user a first configuration update is created for.
func WithUserID(userID string) AgentOption {
	return func(s *AgentService) { s.userID = userID }
}

// WithServiceClock overrides the time source for journal records.
func WithServiceClock(now func() time.Time) AgentOption {
	return func(s *AgentService) { s.now = now }
}

// NewAgentService creates an AgentService.
func NewAgentService(engine *agent.Engine, queue *approval.Queue, executor outbound.ActionExecutor, logger *slog.Logger, opts ...AgentOption) *AgentService {
	s := &AgentService{
		engine:   engine,
		queue:    queue,
		executor: executor,
		logger:   logger,
		stats:    NewStatsService(),
		tracer:   tracing.Tracer(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the service's counters.
func (s *AgentService) Stats() *StatsService {
	return s.stats
}

// Fingerprint identifies an action by content so that the same proposal is
// not queued twice. IDs and free-text reasoning are ignored.
func Fingerprint(a agent.Action) string {
	resources := append([]string(nil), a.AffectedResources...)
	sort.Strings(resources)
	params, err := json.Marshal(a.Parameters) // map keys are sorted by encoding/json
	if err != nil {
		params = []byte(fmt.Sprint(a.Parameters))
	}

	h := xxhash.New()
	_, _ = h.WriteString(string(a.Category))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(a.Impact))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(a.Title)
	_, _ = h.Write([]byte{0})
	for _, r := range resources {
		_, _ = h.WriteString(r)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(params)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Propose decides on action and carries the decision out.
func (s *AgentService) Propose(ctx context.Context, action agent.Action, source journal.Source) (ProposalResult, error) {
	if err := action.Validate(); err != nil {
		return ProposalResult{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	fingerprint := Fingerprint(action)
	if existing, ok := s.queue.FindPending(fingerprint); ok {
		s.logger.Debug("duplicate proposal", "action_id", existing.ID(), "source", source)
		return ProposalResult{Action: existing.Action, Decision: existing.Decision, Outcome: OutcomeDuplicate}, nil
	}
	if _, err := s.queue.Get(action.ID); err == nil {
		return ProposalResult{}, fmt.Errorf("%s: %w", action.ID, approval.ErrDuplicateID)
	}

	ctx, span := s.tracer.Start(ctx, "agent.propose", trace.WithAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.category", string(action.Category)),
		attribute.String("action.impact", string(action.Impact)),
		attribute.String("source", string(source)),
	))
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	decision, err := s.engine.Evaluate(ctx, action)
	if err != nil {
		s.stats.RecordError()
		spanErr = err
		return ProposalResult{}, fmt.Errorf("evaluate action: %w", err)
	}
	if decision.Verdict == agent.VerdictExecute {
		decision = s.applyBudget(ctx, action, decision)
	}
	span.SetAttributes(
		attribute.String("decision.verdict", string(decision.Verdict)),
		attribute.Float64("decision.confidence", decision.Confidence),
	)

	if decision.Verdict == agent.VerdictRequestApproval {
		existing, added, evicted, err := s.queue.AddIfAbsent(approval.PendingAction{
			Action:      action,
			Decision:    decision,
			Fingerprint: fingerprint,
			Source:      string(source),
		})
		if err != nil {
			spanErr = err
			return ProposalResult{}, err
		}
		if !added {
			s.logger.Debug("duplicate proposal", "action_id", existing.ID(), "source", source)
			return ProposalResult{Action: existing.Action, Decision: existing.Decision, Outcome: OutcomeDuplicate}, nil
		}
		if evicted != nil {
			s.stats.RecordEviction()
			s.logger.Warn("pending action evicted",
				"action_id", evicted.ID(),
				"status", evicted.Status,
			)
		}
	}

	s.record(source, action, decision)
	s.stats.RecordDecision(action.Category, decision.Verdict)
	s.logger.Info("action decided",
		"action_id", action.ID,
		"category", action.Category,
		"impact", action.Impact,
		"verdict", decision.Verdict,
		"confidence", decision.Confidence,
		"source", source,
	)

	result := ProposalResult{Action: action, Decision: decision}
	switch decision.Verdict {
	case agent.VerdictExecute:
		exec, err := s.executor.Execute(ctx, action)
		if err != nil {
			s.stats.RecordExecutionFailure()
			s.logger.Warn("action execution failed", "action_id", action.ID, "error", err)
			result.Outcome = OutcomeExecutionFailed
			result.Error = err.Error()
			spanErr = err
			break
		}
		result.Outcome = OutcomeExecuted
		result.Execution = &exec

	case agent.VerdictRequestApproval:
		result.Outcome = OutcomePendingApproval

	default:
		result.Outcome = OutcomeSkipped
	}
	return result, nil
}

// applyBudget downgrades an execute verdict when the category's
// auto-execution budget is exhausted.
func (s *AgentService) applyBudget(ctx context.Context, action agent.Action, d agent.Decision) agent.Decision {
	if s.limiter == nil || !s.budget.Enabled() {
		return d
	}
	res, err := s.limiter.Allow(ctx, ratelimit.Key(ratelimit.ScopeCategory, string(action.Category)), s.budget)
	if err != nil {
		s.logger.Error("execution budget check failed", "category", action.Category, "error", err)
		return d
	}
	if res.Allowed {
		return d
	}
	s.stats.RecordBudgetExhausted()
	d.Verdict = agent.VerdictRequestApproval
	d.Justification += fmt.Sprintf(" Auto-execution budget for %s is exhausted (retry in %s), so approval is required.",
		action.Category, res.RetryAfter.Round(time.Second))
	return d
}

// Evaluate returns the decision for action without executing or queueing it.
// The decision is journaled as a dry run.
func (s *AgentService) Evaluate(ctx context.Context, action agent.Action) (agent.Decision, error) {
	if err := action.Validate(); err != nil {
		return agent.Decision{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	ctx, span := s.tracer.Start(ctx, "agent.evaluate", trace.WithAttributes(
		attribute.String("action.category", string(action.Category)),
		attribute.String("action.impact", string(action.Impact)),
	))
	d, err := s.engine.Evaluate(ctx, action)
	tracing.EndSpan(span, err)
	if err != nil {
		return agent.Decision{}, fmt.Errorf("evaluate action: %w", err)
	}
	s.record(journal.SourceDryRun, action, d)
	return d, nil
}

func (s *AgentService) record(source journal.Source, action agent.Action, d agent.Decision) {
	if s.journal == nil {
		return
	}
	s.journal.Record(journal.Record{
		ID:         uuid.New().String(),
		Source:     source,
		Action:     action,
		Decision:   d,
		RecordedAt: s.now(),
	})
}

// Pending returns queued actions with the given status, or all when status is empty.
func (s *AgentService) Pending(status approval.Status) []approval.PendingAction {
	return s.queue.List(status)
}

// GetPending returns one queued action.
func (s *AgentService) GetPending(id string) (approval.PendingAction, error) {
	return s.queue.Get(id)
}

// Approve approves a queued action, learns from the response and executes
// the action. params, when non-nil, replace the action's parameters and
// count as a modification. An execution failure is reported on the returned
// entry, not as an error.
func (s *AgentService) Approve(ctx context.Context, id, reviewer string, params map[string]any) (approval.PendingAction, error) {
	p, err := s.queue.Approve(id, reviewer, params)
	if err != nil {
		return approval.PendingAction{}, err
	}
	verdict := agent.FeedbackApproved
	if p.Modified {
		verdict = agent.FeedbackModified
	}
	s.learn(ctx, p, verdict)

	exec, execErr := s.executor.Execute(ctx, p.Action)
	if execErr != nil {
		s.stats.RecordExecutionFailure()
		s.logger.Warn("approved action failed", "action_id", id, "reviewer", reviewer, "error", execErr)
		return s.queue.MarkFailed(id, execErr)
	}
	s.logger.Info("approved action executed", "action_id", id, "reviewer", reviewer, "detail", exec.Detail)
	return s.queue.MarkExecuted(id)
}

// Reject rejects a queued action and learns from the response.
func (s *AgentService) Reject(ctx context.Context, id, reviewer, reason string) (approval.PendingAction, error) {
	p, err := s.queue.Reject(id, reviewer, reason)
	if err != nil {
		return approval.PendingAction{}, err
	}
	s.learn(ctx, p, agent.FeedbackRejected)
	s.logger.Info("action rejected", "action_id", id, "reviewer", reviewer, "reason", reason)
	return p, nil
}

// learn records reviewer feedback when learning is enabled. Failures are
// logged; the review itself has already been applied.
func (s *AgentService) learn(ctx context.Context, p approval.PendingAction, verdict agent.FeedbackVerdict) {
	cfg := s.engine.Config()
	if cfg == nil || !cfg.LearningEnabled {
		return
	}
	fbCtx := map[string]any{
		"impact":    string(p.Action.Impact),
		"action_id": p.ID(),
	}
	if !p.CreatedAt.IsZero() && p.ReviewedAt != nil {
		fbCtx["response_time_seconds"] = p.ReviewedAt.Sub(p.CreatedAt).Seconds()
	}
	if _, err := s.engine.RecordFeedback(ctx, p.Action.Category, verdict, fbCtx); err != nil {
		s.stats.RecordError()
		s.logger.Error("failed to record feedback", "action_id", p.ID(), "error", err)
		return
	}
	s.stats.RecordFeedback()
}

// RecordFeedback records feedback given outside the approval queue.
func (s *AgentService) RecordFeedback(ctx context.Context, category agent.Category, verdict agent.FeedbackVerdict, fbCtx map[string]any) (agent.Feedback, error) {
	f, err := s.engine.RecordFeedback(ctx, category, verdict, fbCtx)
	if err != nil {
		return agent.Feedback{}, err
	}
	s.stats.RecordFeedback()
	return f, nil
}

// History returns all recorded feedback.
func (s *AgentService) History(ctx context.Context) ([]agent.Feedback, error) {
	return s.engine.History(ctx)
}

// FeedbackSummary returns the learned pattern for every category.
func (s *AgentService) FeedbackSummary(ctx context.Context) (map[agent.Category]agent.UserPattern, error) {
	history, err := s.engine.History(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[agent.Category]agent.UserPattern, len(agent.Categories))
	for _, c := range agent.Categories {
		out[c] = agent.AnalyzePattern(c, history)
	}
	return out, nil
}

// Config returns the current autonomy configuration, or nil when unset.
func (s *AgentService) Config() *agent.Config {
	return s.engine.Config()
}

// UpdateConfig applies patch to the current configuration, persists it and
// makes it active. Without a current configuration the patch is applied to
// the defaults.
func (s *AgentService) UpdateConfig(_ context.Context, patch ConfigPatch) (agent.Config, error) {
	var cfg agent.Config
	if cur := s.engine.Config(); cur != nil {
		cfg = *cur
	} else {
		cfg = agent.DefaultConfig(s.userID)
	}

	if patch.AutonomyLevel != nil {
		cfg.AutonomyLevel = *patch.AutonomyLevel
	}
	if patch.AutoExecute != nil {
		cfg.AutoExecute = *patch.AutoExecute
	}
	if patch.LearningEnabled != nil {
		cfg.LearningEnabled = *patch.LearningEnabled
	}
	if patch.ProactiveMonitoring != nil {
		cfg.ProactiveMonitoring = *patch.ProactiveMonitoring
	}
	if patch.TaskScheduling != nil {
		cfg.TaskScheduling = *patch.TaskScheduling
	}
	if patch.SelfImprovement != nil {
		cfg.SelfImprovement = *patch.SelfImprovement
	}
	if err := cfg.AutonomyLevel.Validate(); err != nil {
		return agent.Config{}, err
	}

	if s.stateStore != nil {
		saved := cfg
		if err := s.stateStore.Update(func(st *state.AppState) error {
			st.Agent = &saved
			return nil
		}); err != nil {
			return agent.Config{}, fmt.Errorf("persist agent config: %w", err)
		}
	}
	if err := s.engine.SetConfig(cfg); err != nil {
		return agent.Config{}, err
	}
	s.logger.Info("agent config updated",
		"autonomy_level", cfg.AutonomyLevel,
		"learning_enabled", cfg.LearningEnabled,
	)
	return cfg, nil
}
