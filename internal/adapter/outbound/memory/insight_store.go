package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dockvault/dockpilot/internal/domain/insight"
)

const defaultInsightCap = 200

// InsightStore keeps the most recent insights, dropping the oldest at capacity.
type InsightStore struct {
	mu    sync.RWMutex
	items []insight.Insight
	cap   int
}

// NewInsightStore creates an InsightStore. capacity <= 0 uses the default.
func NewInsightStore(capacity int) *InsightStore {
	if capacity <= 0 {
		capacity = defaultInsightCap
	}
	return &InsightStore{items: make([]insight.Insight, 0, capacity), cap: capacity}
}

// Add stores in.
func (s *InsightStore) Add(_ context.Context, in insight.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.cap {
		copy(s.items, s.items[1:])
		s.items[len(s.items)-1] = in
		return nil
	}
	s.items = append(s.items, in)
	return nil
}

// List returns insights newest first.
func (s *InsightStore) List(_ context.Context, includeAcknowledged bool) ([]insight.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]insight.Insight, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		if !includeAcknowledged && s.items[i].Acknowledged {
			continue
		}
		out = append(out, s.items[i])
	}
	return out, nil
}

// Acknowledge marks the insight with id as acknowledged and returns it.
func (s *InsightStore) Acknowledge(_ context.Context, id string) (insight.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Acknowledged = true
			return s.items[i], nil
		}
	}
	return insight.Insight{}, fmt.Errorf("%s: %w", id, insight.ErrNotFound)
}

var _ insight.Store = (*InsightStore)(nil)
