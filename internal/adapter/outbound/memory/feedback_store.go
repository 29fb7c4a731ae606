package memory

import (
	"context"
	"sync"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// FeedbackStore is an append-only in-memory feedback log.
type FeedbackStore struct {
	mu      sync.RWMutex
	records []agent.Feedback
	counts  map[agent.Category]int
}

// NewFeedbackStore creates an empty FeedbackStore.
func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{counts: make(map[agent.Category]int)}
}

// Append adds f to the log.
func (s *FeedbackStore) Append(_ context.Context, f agent.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, f)
	s.counts[f.Category]++
	return nil
}

// List returns copies of the records for category in insertion order, or
// every record when category is empty.
func (s *FeedbackStore) List(_ context.Context, category agent.Category) ([]agent.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if category == "" {
		out := make([]agent.Feedback, len(s.records))
		copy(out, s.records)
		return out, nil
	}
	out := make([]agent.Feedback, 0, s.counts[category])
	for _, f := range s.records {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out, nil
}

// Count returns the number of records for category.
func (s *FeedbackStore) Count(_ context.Context, category agent.Category) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[category], nil
}

// Close is a no-op.
func (s *FeedbackStore) Close() error {
	return nil
}

var _ agent.FeedbackStore = (*FeedbackStore)(nil)
