package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Engine binds the heuristic to a configuration and a feedback store.
// It is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	cfg   *Config
	store FeedbackStore

	// recordMu serializes count-then-append so that weights see a stable prior count.
	recordMu sync.Mutex
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source used for decision and feedback timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. cfg may be nil, in which case every decision
// requests approval until SetConfig is called.
func NewEngine(cfg *Config, store FeedbackStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if cfg != nil {
		c := *cfg
		e.cfg = &c
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns a copy of the current configuration, or nil when unset.
func (e *Engine) Config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cfg == nil {
		return nil
	}
	c := *e.cfg
	return &c
}

// SetConfig replaces the configuration after validating its autonomy level.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.AutonomyLevel.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = &cfg
	e.mu.Unlock()
	return nil
}

// Evaluate loads the feedback for the action's category and runs the heuristic.
func (e *Engine) Evaluate(ctx context.Context, action Action) (Decision, error) {
	if err := action.Validate(); err != nil {
		return Decision{}, err
	}
	history, err := e.store.List(ctx, action.Category)
	if err != nil {
		return Decision{}, fmt.Errorf("load feedback history: %w", err)
	}
	return Evaluate(action, e.Config(), history, e.now())
}

// RecordFeedback appends a feedback record for category and returns it.
func (e *Engine) RecordFeedback(ctx context.Context, category Category, verdict FeedbackVerdict, fbCtx map[string]any) (Feedback, error) {
	e.recordMu.Lock()
	defer e.recordMu.Unlock()

	if category == "" {
		return Feedback{}, ErrMissingCategory
	}
	prior, err := e.store.Count(ctx, category)
	if err != nil {
		return Feedback{}, fmt.Errorf("count feedback: %w", err)
	}

	var userID string
	if cfg := e.Config(); cfg != nil {
		userID = cfg.UserID
	}

	f, err := NewFeedback(userID, category, verdict, fbCtx, prior, e.now())
	if err != nil {
		return Feedback{}, err
	}
	if err := e.store.Append(ctx, f); err != nil {
		return Feedback{}, fmt.Errorf("append feedback: %w", err)
	}
	return f, nil
}

// History returns all recorded feedback.
func (e *Engine) History(ctx context.Context) ([]Feedback, error) {
	return e.store.List(ctx, "")
}
