package agent

import (
	"context"
	"errors"
	"time"
)

// ErrMissingCategory is returned when feedback is recorded without a category.
var ErrMissingCategory = errors.New("feedback category is required")

const (
	baseFeedbackWeight = 1.0
	highImpactBoost    = 1.5
	consistencyBoost   = 1.2
	// consistencyThreshold is the number of prior same-category records that
	// must be exceeded before consistencyBoost applies.
	consistencyThreshold = 10
)

// FeedbackStore persists the append-only feedback log.
type FeedbackStore interface {
	// Append adds a record to the log.
	Append(ctx context.Context, f Feedback) error
	// List returns records for category in insertion order, or every record
	// when category is empty.
	List(ctx context.Context, category Category) ([]Feedback, error)
	// Count returns the number of records for category.
	Count(ctx context.Context, category Category) (int, error)
	// Close releases resources.
	Close() error
}

// NewFeedback builds a feedback record. prior is the number of records
// already stored for the same category.
func NewFeedback(userID string, category Category, verdict FeedbackVerdict, fbCtx map[string]any, prior int, now time.Time) (Feedback, error) {
	if category == "" {
		return Feedback{}, ErrMissingCategory
	}
	if err := category.Validate(); err != nil {
		return Feedback{}, err
	}
	if err := verdict.Validate(); err != nil {
		return Feedback{}, err
	}

	outcome := OutcomeFailure
	if verdict == FeedbackApproved {
		outcome = OutcomeSuccess
	}

	return Feedback{
		UserID:    userID,
		Category:  category,
		Verdict:   verdict,
		Context:   fbCtx,
		Outcome:   outcome,
		Weight:    FeedbackWeight(fbCtx, prior),
		Timestamp: now,
	}, nil
}

// FeedbackWeight returns how strongly a record should count. High and
// critical impact feedback and well-established categories weigh more.
func FeedbackWeight(fbCtx map[string]any, prior int) float64 {
	w := baseFeedbackWeight
	if impact, ok := fbCtx["impact"]; ok {
		switch toImpact(impact) {
		case ImpactHigh, ImpactCritical:
			w *= highImpactBoost
		}
	}
	if prior > consistencyThreshold {
		w *= consistencyBoost
	}
	return w
}

func toImpact(v any) Impact {
	switch t := v.(type) {
	case Impact:
		return t
	case string:
		return Impact(t)
	}
	return ""
}
