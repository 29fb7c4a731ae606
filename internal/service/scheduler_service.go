package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/state"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/domain/task"
	"github.com/dockvault/dockpilot/internal/port/inbound"
)

// DefaultSchedulerInterval is how often the scheduler looks for due tasks.
const DefaultSchedulerInterval = time.Minute

// TaskRun reports one task run.
type TaskRun struct {
	TaskID string         `json:"task_id"`
	Result ProposalResult `json:"result"`
	Error  string         `json:"error,omitempty"`
}

// SchedulerService runs scheduled tasks when due and triggered tasks when
// their metric crosses the threshold. Each run proposes the task's action to
// the agent; tasks are persisted to the state file.
type SchedulerService struct {
	mu    sync.Mutex
	tasks map[string]*task.Task

	agent      *AgentService
	source     MetricsSource
	stateStore *state.FileStateStore
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time
}

// SchedulerOption configures SchedulerService.
type SchedulerOption func(*SchedulerService)

// WithSchedulerInterval sets the polling interval.
func WithSchedulerInterval(d time.Duration) SchedulerOption {
	return func(s *SchedulerService) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTaskStateStore persists tasks to store.
func WithTaskStateStore(store *state.FileStateStore) SchedulerOption {
	return func(s *SchedulerService) { s.stateStore = store }
}

// WithSchedulerClock overrides the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *SchedulerService) { s.now = now }
}

// NewSchedulerService creates a SchedulerService holding tasks.
func NewSchedulerService(agentSvc *AgentService, source MetricsSource, tasks []task.Task, logger *slog.Logger, opts ...SchedulerOption) *SchedulerService {
	s := &SchedulerService{
		tasks:    make(map[string]*task.Task, len(tasks)),
		agent:    agentSvc,
		source:   source,
		logger:   logger,
		interval: DefaultSchedulerInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range tasks {
		t := tasks[i]
		// A run interrupted by a crash is retried.
		if t.Status == task.StatusRunning {
			t.Status = task.StatusPending
		}
		s.tasks[t.ID] = &t
	}
	return s
}

// Run polls for due tasks on every tick until ctx is cancelled.
func (s *SchedulerService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval, "tasks", s.count())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduler pass failed", "error", err)
			}
		}
	}
}

func (s *SchedulerService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// AddTask validates t, assigns its ID and stores it as pending. A scheduled
// task without a next run time is due immediately.
func (s *SchedulerService) AddTask(_ context.Context, t task.Task) (task.Task, error) {
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}
	t.ID = uuid.New().String()
	t.Status = task.StatusPending
	t.CreatedAt = s.now()
	t.ExecutedCount = 0
	t.LastError = ""
	t.Latched = false
	t.Action.ID = ""
	if t.Schedule != nil && t.Schedule.NextRun.IsZero() {
		t.Schedule.NextRun = t.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = &t
	if err := s.persistLocked(); err != nil {
		delete(s.tasks, t.ID)
		return task.Task{}, err
	}
	s.logger.Info("task added", "task_id", t.ID, "type", t.Type, "priority", t.Priority)
	return t, nil
}

// ListTasks returns all tasks, highest priority first, then oldest first.
func (s *SchedulerService) ListTasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sortTasks(out)
	return out
}

// GetTask returns one task.
func (s *SchedulerService) GetTask(id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("%s: %w", id, task.ErrNotFound)
	}
	return *t, nil
}

// PauseTask stops a task from running.
func (s *SchedulerService) PauseTask(_ context.Context, id string) (task.Task, error) {
	return s.mutate(id, (*task.Task).Pause)
}

// ResumeTask makes a paused or failed task pending again.
func (s *SchedulerService) ResumeTask(_ context.Context, id string) (task.Task, error) {
	return s.mutate(id, (*task.Task).Resume)
}

// DeleteTask removes a task.
func (s *SchedulerService) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, task.ErrNotFound)
	}
	delete(s.tasks, id)
	if err := s.persistLocked(); err != nil {
		s.tasks[id] = t
		return err
	}
	return nil
}

func (s *SchedulerService) mutate(id string, fn func(*task.Task) error) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("%s: %w", id, task.ErrNotFound)
	}
	before := *t
	if err := fn(t); err != nil {
		return task.Task{}, err
	}
	if err := s.persistLocked(); err != nil {
		*t = before
		return task.Task{}, err
	}
	return *t, nil
}

// RunOnce runs every due scheduled task and every armed triggered task,
// highest priority first. Nothing runs while task scheduling is disabled.
func (s *SchedulerService) RunOnce(ctx context.Context) ([]TaskRun, error) {
	cfg := s.agent.Config()
	if cfg == nil || !cfg.TaskScheduling {
		return nil, nil
	}

	var metrics map[string]float64
	if s.source != nil {
		metrics, _ = s.source.Snapshot()
	}
	now := s.now()

	s.mu.Lock()
	var due []*task.Task
	changed := false
	for _, t := range s.tasks {
		switch t.Type {
		case task.TypeTriggered:
			v, ok := metrics[t.Trigger.Metric]
			if !ok {
				continue
			}
			latched := t.Latched
			if t.Armed(v) {
				due = append(due, t)
			}
			changed = changed || latched != t.Latched
		default:
			if t.Due(now) {
				due = append(due, t)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return runsBefore(due[i], due[j]) })
	for _, t := range due {
		t.Status = task.StatusRunning
	}
	s.mu.Unlock()

	runs := make([]TaskRun, 0, len(due))
	for _, t := range due {
		run := s.runTask(ctx, t, now)
		runs = append(runs, run)
	}

	if len(due) > 0 || changed {
		s.mu.Lock()
		err := s.persistLocked()
		s.mu.Unlock()
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// runTask proposes the task's action and records the result on the task.
// t is marked running, so no other pass touches it until this returns.
func (s *SchedulerService) runTask(ctx context.Context, t *task.Task, now time.Time) TaskRun {
	s.mu.Lock()
	action := t.Action
	id, typ := t.ID, t.Type
	s.mu.Unlock()

	action.ID = ""
	if action.Reasoning == "" {
		action.Reasoning = fmt.Sprintf("%s task %s", typ, id)
	}

	res, err := s.agent.Propose(ctx, action, journal.SourceScheduler)
	if err == nil && res.Outcome == OutcomeExecutionFailed {
		err = errors.New(res.Error)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run := TaskRun{TaskID: id, Result: res}
	if err != nil {
		t.Fail(err)
		run.Error = err.Error()
		s.logger.Warn("task failed", "task_id", id, "error", err)
		return run
	}
	t.Complete(now)
	s.logger.Info("task ran", "task_id", id, "outcome", res.Outcome, "status", t.Status)
	return run
}

// persistLocked saves all tasks. Caller must hold s.mu.
func (s *SchedulerService) persistLocked() error {
	if s.stateStore == nil {
		return nil
	}
	tasks := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	sortTasks(tasks)
	if err := s.stateStore.Update(func(st *state.AppState) error {
		st.Tasks = tasks
		return nil
	}); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	return nil
}

func sortTasks(tasks []task.Task) {
	sort.Slice(tasks, func(i, j int) bool { return runsBefore(&tasks[i], &tasks[j]) })
}

func runsBefore(a, b *task.Task) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Compile-time interface verification.
var _ inbound.Runner = (*SchedulerService)(nil)
