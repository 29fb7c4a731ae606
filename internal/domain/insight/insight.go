// Package insight defines proactive observations the agent raises about the
// platform and the detectors that produce them.
package insight

import (
	"context"
	"errors"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// ErrNotFound is returned when no insight exists for an ID.
var ErrNotFound = errors.New("insight not found")

// Type classifies an insight.
type Type string

const (
	TypeAnomaly        Type = "anomaly"
	TypeOpportunity    Type = "opportunity"
	TypeWarning        Type = "warning"
	TypeRecommendation Type = "recommendation"
)

// Severity ranks how urgently an insight should be looked at.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SuggestedAction is what the agent proposes doing about an insight.
// Auto-executable suggestions are proposed to the agent as actions of the
// given category and impact; the heuristic still decides what happens.
type SuggestedAction struct {
	Type           string         `json:"type"`
	Category       agent.Category `json:"category"`
	Impact         agent.Impact   `json:"impact"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	AutoExecutable bool           `json:"auto_executable"`
}

// ToAction converts the suggestion into an action raised by in.
func (s *SuggestedAction) ToAction(in *Insight) agent.Action {
	params := make(map[string]any, len(s.Parameters)+1)
	for k, v := range s.Parameters {
		params[k] = v
	}
	params["suggested_action"] = s.Type
	return agent.Action{
		Category:          s.Category,
		Impact:            s.Impact,
		Parameters:        params,
		AffectedResources: append([]string(nil), in.DataPoints...),
		Title:             in.Title,
		Description:       in.Description,
		Reasoning:         "Raised by insight " + in.ID,
	}
}

// Insight is one proactive observation.
type Insight struct {
	ID              string           `json:"id"`
	Detector        string           `json:"detector"`
	Type            Type             `json:"type"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Severity        Severity         `json:"severity"`
	Actionable      bool             `json:"actionable"`
	SuggestedAction *SuggestedAction `json:"suggested_action,omitempty"`
	DataPoints      []string         `json:"data_points"`
	Confidence      float64          `json:"confidence"`
	CreatedAt       time.Time        `json:"created_at"`
	Acknowledged    bool             `json:"acknowledged"`
}

// Metrics is a snapshot of named platform measurements.
type Metrics map[string]float64

// Merge returns a new snapshot holding m overlaid with other.
func (m Metrics) Merge(other Metrics) Metrics {
	out := make(Metrics, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Detector inspects a metrics snapshot and reports at most one insight.
// A nil insight with a nil error means nothing was found.
type Detector interface {
	Name() string
	Detect(ctx context.Context, m Metrics) (*Insight, error)
}

// Store keeps raised insights.
type Store interface {
	Add(ctx context.Context, in Insight) error
	List(ctx context.Context, includeAcknowledged bool) ([]Insight, error)
	Acknowledge(ctx context.Context, id string) (Insight, error)
}
