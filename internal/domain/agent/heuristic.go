package agent

import (
	"fmt"
	"strings"
	"time"
)

const (
	baseConfidence = 0.5
	// historyBonusWeight scales the approval rate once enough history exists.
	historyBonusWeight = 0.3
	// minHistoryForBonus is the number of feedback records that must be
	// exceeded before the approval rate influences confidence.
	minHistoryForBonus = 5
	// defaultApprovalRate is used when a category has no feedback yet.
	defaultApprovalRate = 0.5
	// assumedResponseTime is reported as the average human response time (seconds).
	assumedResponseTime = 300

	fullAutoConfidence   = 0.85
	fullAutoApprovalRate = 0.8
	skipBelowConfidence  = 0.5
	semiLowConfidence    = 0.9
	semiMediumConfidence = 0.85
	lowConfidenceNotice  = 0.7
)

// riskMitigations are reported on every assessment.
var riskMitigations = []string{
	"Reversible operation",
	"Backup available",
	"Validation checks in place",
}

// NotConfiguredJustification is the justification of a decision made without a config.
const NotConfiguredJustification = "Agent not configured."

// Evaluate decides what to do with action given cfg and the feedback history.
// It never mutates history. A nil cfg yields request_approval with zero
// confidence. Unrecognized enum values yield ErrUnrecognizedEnum.
func Evaluate(action Action, cfg *Config, history []Feedback, now time.Time) (Decision, error) {
	if err := action.Validate(); err != nil {
		return Decision{}, err
	}

	risk := AssessRisk(action)
	pattern := AnalyzePattern(action.Category, history)

	if cfg == nil {
		return Decision{
			ActionID:      action.ID,
			Verdict:       VerdictRequestApproval,
			Confidence:    0,
			Risk:          risk,
			Pattern:       pattern,
			Justification: NotConfiguredJustification,
			Timestamp:     now,
		}, nil
	}

	confidence := Confidence(action.Impact, pattern)
	verdict, err := chooseVerdict(cfg, action.Impact, confidence, pattern.ApprovalRate)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		ActionID:        action.ID,
		Verdict:         verdict,
		Confidence:      confidence,
		Risk:            risk,
		Pattern:         pattern,
		LearnedFromPast: pattern.HistoricalActions > 0,
		Justification:   Justify(verdict, risk.Level, pattern, confidence),
		Timestamp:       now,
	}, nil
}

// AssessRisk echoes the declared impact as the risk level and attaches
// descriptive factors. It does not assess risk independently.
func AssessRisk(action Action) RiskAssessment {
	estimate := action.EstimatedTime
	if estimate == "" {
		estimate = "unspecified"
	}
	mitigations := make([]string, len(riskMitigations))
	copy(mitigations, riskMitigations)
	return RiskAssessment{
		Level: action.Impact,
		Factors: []string{
			fmt.Sprintf("Affects %d resource(s)", len(action.AffectedResources)),
			fmt.Sprintf("Action type: %s", action.Category),
			fmt.Sprintf("Estimated time: %s", estimate),
		},
		Mitigations: mitigations,
	}
}

// AnalyzePattern computes the approval statistics for category.
func AnalyzePattern(category Category, history []Feedback) UserPattern {
	var total, approved int
	for _, f := range history {
		if f.Category != category {
			continue
		}
		total++
		if f.Verdict == FeedbackApproved {
			approved++
		}
	}
	if total == 0 {
		return UserPattern{ApprovalRate: defaultApprovalRate}
	}
	return UserPattern{
		ApprovalRate:        float64(approved) / float64(total),
		HistoricalActions:   total,
		AverageResponseTime: assumedResponseTime,
	}
}

// Confidence returns the clamped confidence for an action of the given impact.
func Confidence(impact Impact, pattern UserPattern) float64 {
	c := baseConfidence
	if pattern.HistoricalActions > minHistoryForBonus {
		c += pattern.ApprovalRate * historyBonusWeight
	}
	c += impactAdjustment(impact)
	return clamp01(c)
}

func impactAdjustment(impact Impact) float64 {
	switch impact {
	case ImpactLow:
		return 0.2
	case ImpactMedium:
		return 0.1
	case ImpactHigh:
		return -0.1
	case ImpactCritical:
		return -0.2
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func chooseVerdict(cfg *Config, impact Impact, confidence, approvalRate float64) (Verdict, error) {
	switch cfg.AutonomyLevel {
	case AutonomySupervised:
		return VerdictRequestApproval, nil

	case AutonomyFull:
		switch {
		case impact == ImpactCritical && !cfg.AutoExecute.Critical:
			return VerdictRequestApproval, nil
		case confidence > fullAutoConfidence && approvalRate > fullAutoApprovalRate:
			return VerdictExecute, nil
		case confidence < skipBelowConfidence:
			return VerdictSkip, nil
		default:
			return VerdictExecute, nil
		}

	case AutonomySemi:
		switch {
		case impact == ImpactLow && cfg.AutoExecute.Low && confidence > semiLowConfidence:
			return VerdictExecute, nil
		case impact == ImpactMedium && cfg.AutoExecute.Medium && confidence > semiMediumConfidence:
			return VerdictExecute, nil
		default:
			return VerdictRequestApproval, nil
		}
	}
	return "", cfg.AutonomyLevel.Validate()
}

// Justify renders the human-readable explanation for a verdict.
func Justify(verdict Verdict, level Impact, pattern UserPattern, confidence float64) string {
	var parts []string
	switch verdict {
	case VerdictExecute:
		parts = append(parts, fmt.Sprintf("Auto-executing with %s confidence.", percent(confidence)))
		if pattern.HistoricalActions > 0 {
			parts = append(parts, fmt.Sprintf("Similar actions approved %s of the time.", percent(pattern.ApprovalRate)))
		}
		parts = append(parts, fmt.Sprintf("Risk level: %s.", level))
	case VerdictRequestApproval:
		parts = append(parts, "Requesting human approval.")
		if confidence < lowConfidenceNotice {
			parts = append(parts, "Confidence too low for autonomous execution.")
		}
		if level == ImpactHigh || level == ImpactCritical {
			parts = append(parts, fmt.Sprintf("%s risk requires oversight.", level))
		}
	case VerdictSkip:
		parts = append(parts, "Skipping action - low confidence and unclear intent.")
	}
	return strings.Join(parts, " ")
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
