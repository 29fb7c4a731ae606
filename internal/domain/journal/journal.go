// Package journal records every decision the agent makes.
package journal

import (
	"context"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// Source tells which entry point produced a decision.
type Source string

const (
	SourceAPI       Source = "api"
	SourceDryRun    Source = "dry_run"
	SourceScheduler Source = "scheduler"
	SourceInsight   Source = "insight"
	SourceCLI       Source = "cli"
)

// Record is one journaled decision.
type Record struct {
	ID         string         `json:"id"`
	Source     Source         `json:"source"`
	Action     agent.Action   `json:"action"`
	Decision   agent.Decision `json:"decision"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Store persists journal records.
type Store interface {
	// Append stores records.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter selects journal records. Zero fields match everything.
type Filter struct {
	Verdict  agent.Verdict
	Category agent.Category
	Source   Source
	Since    time.Time
	Until    time.Time
	// Limit caps the result size (default 100, max 1000).
	Limit int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// EffectiveLimit returns the limit clamped to the allowed range.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		return maxQueryLimit
	}
	return f.Limit
}

// Match reports whether r satisfies the filter.
func (f Filter) Match(r Record) bool {
	if f.Verdict != "" && r.Decision.Verdict != f.Verdict {
		return false
	}
	if f.Category != "" && r.Action.Category != f.Category {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && r.RecordedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.RecordedAt.After(f.Until) {
		return false
	}
	return true
}

// QueryStore reads journal records, newest first.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]Record, error)
}
