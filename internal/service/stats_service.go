// Package service contains application services.
package service

import (
	"sync"
	"sync/atomic"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	executed         atomic.Int64
	approvalRequests atomic.Int64
	skipped          atomic.Int64
	executionFailed  atomic.Int64
	budgetExhausted  atomic.Int64
	evicted          atomic.Int64
	feedback         atomic.Int64
	insights         atomic.Int64
	errors           atomic.Int64

	// Per-category decision counts (mutex-protected map).
	mu             sync.Mutex
	categoryCounts map[agent.Category]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		categoryCounts: make(map[agent.Category]int64),
	}
}

// RecordDecision counts a decision by verdict and category.
func (s *StatsService) RecordDecision(category agent.Category, verdict agent.Verdict) {
	switch verdict {
	case agent.VerdictExecute:
		s.executed.Add(1)
	case agent.VerdictRequestApproval:
		s.approvalRequests.Add(1)
	case agent.VerdictSkip:
		s.skipped.Add(1)
	}
	if category == "" {
		return
	}
	s.mu.Lock()
	s.categoryCounts[category]++
	s.mu.Unlock()
}

// RecordExecutionFailure increments the failed-execution counter.
func (s *StatsService) RecordExecutionFailure() {
	s.executionFailed.Add(1)
}

// RecordBudgetExhausted counts an execute verdict downgraded because the
// category's auto-execution budget was used up.
func (s *StatsService) RecordBudgetExhausted() {
	s.budgetExhausted.Add(1)
}

// RecordEviction counts a pending action dropped from a full queue.
func (s *StatsService) RecordEviction() {
	s.evicted.Add(1)
}

// RecordFeedback increments the feedback counter.
func (s *StatsService) RecordFeedback() {
	s.feedback.Add(1)
}

// RecordInsight increments the raised-insight counter.
func (s *StatsService) RecordInsight() {
	s.insights.Add(1)
}

// RecordError increments the error counter.
func (s *StatsService) RecordError() {
	s.errors.Add(1)
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Executed         int64                    `json:"executed"`
	ApprovalRequests int64                    `json:"approval_requests"`
	Skipped          int64                    `json:"skipped"`
	ExecutionFailed  int64                    `json:"execution_failed"`
	BudgetExhausted  int64                    `json:"budget_exhausted"`
	Evicted          int64                    `json:"evicted"`
	Feedback         int64                    `json:"feedback"`
	Insights         int64                    `json:"insights"`
	Errors           int64                    `json:"errors"`
	CategoryCounts   map[agent.Category]int64 `json:"category_counts"`
}

// Decisions returns the total number of decisions in the snapshot.
func (s Stats) Decisions() int64 {
	return s.Executed + s.ApprovalRequests + s.Skipped
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	cc := make(map[agent.Category]int64, len(s.categoryCounts))
	for k, v := range s.categoryCounts {
		cc[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Executed:         s.executed.Load(),
		ApprovalRequests: s.approvalRequests.Load(),
		Skipped:          s.skipped.Load(),
		ExecutionFailed:  s.executionFailed.Load(),
		BudgetExhausted:  s.budgetExhausted.Load(),
		Evicted:          s.evicted.Load(),
		Feedback:         s.feedback.Load(),
		Insights:         s.insights.Load(),
		Errors:           s.errors.Load(),
		CategoryCounts:   cc,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.executed.Store(0)
	s.approvalRequests.Store(0)
	s.skipped.Store(0)
	s.executionFailed.Store(0)
	s.budgetExhausted.Store(0)
	s.evicted.Store(0)
	s.feedback.Store(0)
	s.insights.Store(0)
	s.errors.Store(0)

	s.mu.Lock()
	s.categoryCounts = make(map[agent.Category]int64)
	s.mu.Unlock()
}
