package memory

import (
	"sync"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/insight"
)

// MetricsBoard holds the latest platform metrics pushed by operators or
// collectors.
type MetricsBoard struct {
	mu      sync.RWMutex
	values  insight.Metrics
	updated time.Time
}

// NewMetricsBoard creates an empty board.
func NewMetricsBoard() *MetricsBoard {
	return &MetricsBoard{values: make(insight.Metrics)}
}

// Put merges m into the board. When replace is true the board is cleared first.
func (b *MetricsBoard) Put(m insight.Metrics, replace bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if replace {
		b.values = make(insight.Metrics, len(m))
	}
	for k, v := range m {
		b.values[k] = v
	}
	b.updated = time.Now().UTC()
}

// Snapshot returns a copy of the current metrics and when they last changed.
func (b *MetricsBoard) Snapshot() (insight.Metrics, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values.Merge(nil), b.updated
}
