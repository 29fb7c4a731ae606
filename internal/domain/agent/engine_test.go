package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// sliceStore is a minimal in-memory FeedbackStore for engine tests.
type sliceStore struct {
	mu      sync.Mutex
	records []Feedback
	listErr error
}

func (s *sliceStore) Append(_ context.Context, f Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, f)
	return nil
}

func (s *sliceStore) List(_ context.Context, category Category) ([]Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Feedback
	for _, f := range s.records {
		if category == "" || f.Category == category {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *sliceStore) Count(ctx context.Context, category Category) (int, error) {
	out, err := s.List(ctx, category)
	return len(out), err
}

func (s *sliceStore) Close() error { return nil }

func fixedClock() func() time.Time {
	return func() time.Time { return fixedNow }
}

func TestEngine_FeedbackShiftsVerdict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := DefaultConfig("user-1")
	engine := NewEngine(&cfg, &sliceStore{}, WithClock(fixedClock()))

	action := Action{ID: "a-1", Category: CategoryFileUpload, Impact: ImpactLow}
	d, err := engine.Evaluate(ctx, action)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Verdict != VerdictRequestApproval {
		t.Fatalf("initial verdict = %q, want request_approval", d.Verdict)
	}

	for i := 0; i < 6; i++ {
		if _, err := engine.RecordFeedback(ctx, CategoryFileUpload, FeedbackApproved, nil); err != nil {
			t.Fatalf("RecordFeedback() error: %v", err)
		}
	}

	d, err = engine.Evaluate(ctx, action)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Verdict != VerdictExecute {
		t.Errorf("verdict after approvals = %q, want execute", d.Verdict)
	}
	if !d.Timestamp.Equal(fixedNow) {
		t.Errorf("Timestamp = %v, want injected clock", d.Timestamp)
	}
}

func TestEngine_FeedbackIsolatedPerCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := DefaultConfig("user-1")
	engine := NewEngine(&cfg, &sliceStore{})

	for i := 0; i < 10; i++ {
		if _, err := engine.RecordFeedback(ctx, CategoryReportGeneration, FeedbackApproved, nil); err != nil {
			t.Fatalf("RecordFeedback() error: %v", err)
		}
	}

	d, err := engine.Evaluate(ctx, Action{ID: "a", Category: CategoryFileUpload, Impact: ImpactLow})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Pattern.HistoricalActions != 0 {
		t.Errorf("HistoricalActions = %d, want 0 for untouched category", d.Pattern.HistoricalActions)
	}
}

func TestEngine_RecordFeedbackWeightsByPriorCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &sliceStore{}
	engine := NewEngine(nil, store)

	for i := 0; i < 11; i++ {
		f, err := engine.RecordFeedback(ctx, CategoryDataDeletion, FeedbackRejected, nil)
		if err != nil {
			t.Fatalf("RecordFeedback() error: %v", err)
		}
		if f.Weight != 1.0 {
			t.Errorf("record %d weight = %v, want 1.0", i, f.Weight)
		}
	}
	f, err := engine.RecordFeedback(ctx, CategoryDataDeletion, FeedbackRejected, map[string]any{"impact": "high"})
	if err != nil {
		t.Fatalf("RecordFeedback() error: %v", err)
	}
	if !almostEqual(f.Weight, 1.8) {
		t.Errorf("12th record weight = %v, want 1.8", f.Weight)
	}

	all, err := engine.History(ctx)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(all) != 12 {
		t.Errorf("History() len = %d, want 12", len(all))
	}
}

func TestEngine_RecordFeedbackConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := NewEngine(nil, &sliceStore{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.RecordFeedback(ctx, CategoryBatchOperation, FeedbackApproved, nil)
		}()
	}
	wg.Wait()

	all, _ := engine.History(ctx)
	if len(all) != 50 {
		t.Errorf("History() len = %d, want 50", len(all))
	}
	var boosted int
	for _, f := range all {
		if f.Weight > 1.0 {
			boosted++
		}
	}
	if boosted != 39 {
		t.Errorf("boosted records = %d, want 39", boosted)
	}
}

func TestEngine_NilConfigAndSetConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := NewEngine(nil, &sliceStore{})
	action := Action{ID: "a", Category: CategoryFileUpload, Impact: ImpactLow}

	d, err := engine.Evaluate(ctx, action)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Justification != NotConfiguredJustification {
		t.Errorf("Justification = %q, want not-configured", d.Justification)
	}

	if err := engine.SetConfig(Config{AutonomyLevel: "reckless"}); !errors.Is(err, ErrUnrecognizedEnum) {
		t.Errorf("SetConfig(invalid) error = %v, want ErrUnrecognizedEnum", err)
	}
	if engine.Config() != nil {
		t.Error("Config() changed after rejected SetConfig")
	}

	if err := engine.SetConfig(Config{AutonomyLevel: AutonomyFull}); err != nil {
		t.Fatalf("SetConfig() error: %v", err)
	}
	d, err = engine.Evaluate(ctx, action)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Verdict != VerdictExecute {
		t.Errorf("Verdict = %q, want execute under full autonomy", d.Verdict)
	}
}

func TestEngine_ConfigReturnsCopy(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig("user-1")
	engine := NewEngine(&cfg, &sliceStore{})
	cfg.AutonomyLevel = AutonomyFull

	got := engine.Config()
	if got.AutonomyLevel != AutonomySemi {
		t.Errorf("AutonomyLevel = %q, want caller mutation ignored", got.AutonomyLevel)
	}
	got.AutonomyLevel = AutonomySupervised
	if engine.Config().AutonomyLevel != AutonomySemi {
		t.Error("Config() exposed internal state")
	}
}

func TestEngine_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk gone")
	engine := NewEngine(nil, &sliceStore{listErr: boom})
	_, err := engine.Evaluate(context.Background(), Action{ID: "a", Category: CategoryFileUpload, Impact: ImpactLow})
	if !errors.Is(err, boom) {
		t.Errorf("Evaluate() error = %v, want wrapped store error", err)
	}
}
