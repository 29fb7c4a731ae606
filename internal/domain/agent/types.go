// Package agent contains the autonomy heuristic that decides whether an
// action proposed by the platform's AI agent runs automatically, waits for a
// human, or is dropped.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnrecognizedEnum is returned when an enum-typed field carries a value
// outside its fixed set.
var ErrUnrecognizedEnum = errors.New("unrecognized enum value")

// Category classifies what kind of mutation an action performs.
type Category string

const (
	// CategoryDataModification changes stored docking data or project settings.
	CategoryDataModification Category = "data_modification"
	// CategoryFileUpload ingests new result files.
	CategoryFileUpload Category = "file_upload"
	// CategoryBlockchainTransaction writes a verification record to the ledger.
	CategoryBlockchainTransaction Category = "blockchain_transaction"
	// CategoryReportGeneration produces a report artifact.
	CategoryReportGeneration Category = "report_generation"
	// CategoryDataDeletion removes stored data.
	CategoryDataDeletion Category = "data_deletion"
	// CategoryBatchOperation groups several operations into one run.
	CategoryBatchOperation Category = "batch_operation"
)

// Categories lists every recognized category in display order.
var Categories = []Category{
	CategoryDataModification,
	CategoryFileUpload,
	CategoryBlockchainTransaction,
	CategoryReportGeneration,
	CategoryDataDeletion,
	CategoryBatchOperation,
}

// Validate returns ErrUnrecognizedEnum if c is not a known category.
func (c Category) Validate() error {
	switch c {
	case CategoryDataModification, CategoryFileUpload, CategoryBlockchainTransaction,
		CategoryReportGeneration, CategoryDataDeletion, CategoryBatchOperation:
		return nil
	}
	return fmt.Errorf("category %q: %w", string(c), ErrUnrecognizedEnum)
}

// Impact is the declared blast radius of an action. The heuristic also uses
// it as the risk level.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// Validate returns ErrUnrecognizedEnum if i is not a known impact level.
func (i Impact) Validate() error {
	switch i {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return nil
	}
	return fmt.Errorf("impact %q: %w", string(i), ErrUnrecognizedEnum)
}

// AutonomyLevel controls how much the agent may do without a human.
type AutonomyLevel string

const (
	// AutonomySupervised always asks a human.
	AutonomySupervised AutonomyLevel = "supervised"
	// AutonomySemi executes only low/medium impact actions with very high confidence.
	AutonomySemi AutonomyLevel = "semi-autonomous"
	// AutonomyFull executes unless confidence is low or a critical action is gated.
	AutonomyFull AutonomyLevel = "fully-autonomous"
)

// Validate returns ErrUnrecognizedEnum if l is not a known autonomy level.
func (l AutonomyLevel) Validate() error {
	switch l {
	case AutonomySupervised, AutonomySemi, AutonomyFull:
		return nil
	}
	return fmt.Errorf("autonomy level %q: %w", string(l), ErrUnrecognizedEnum)
}

// Verdict is the heuristic's ternary outcome.
type Verdict string

const (
	VerdictExecute         Verdict = "execute"
	VerdictRequestApproval Verdict = "request_approval"
	VerdictSkip            Verdict = "skip"
)

// FeedbackVerdict is a human's response to a surfaced action.
type FeedbackVerdict string

const (
	FeedbackApproved FeedbackVerdict = "approved"
	FeedbackRejected FeedbackVerdict = "rejected"
	FeedbackModified FeedbackVerdict = "modified"
)

// Validate returns ErrUnrecognizedEnum if v is not a known feedback verdict.
func (v FeedbackVerdict) Validate() error {
	switch v {
	case FeedbackApproved, FeedbackRejected, FeedbackModified:
		return nil
	}
	return fmt.Errorf("feedback verdict %q: %w", string(v), ErrUnrecognizedEnum)
}

// Outcome tags a feedback record as a success or a failure of the agent's proposal.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Action is an operation proposed by the agent.
type Action struct {
	ID                string         `json:"id" yaml:"id"`
	Category          Category       `json:"category" yaml:"category"`
	Impact            Impact         `json:"impact" yaml:"impact"`
	Parameters        map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	AffectedResources []string       `json:"affected_resources" yaml:"affected_resources"`

	Title         string `json:"title,omitempty" yaml:"title"`
	Description   string `json:"description,omitempty" yaml:"description"`
	Reasoning     string `json:"reasoning,omitempty" yaml:"reasoning"`
	EstimatedTime string `json:"estimated_time,omitempty" yaml:"estimated_time"`
	UserID        string `json:"user_id,omitempty" yaml:"user_id"`
}

// Validate checks the enum fields of the action.
func (a *Action) Validate() error {
	if err := a.Category.Validate(); err != nil {
		return err
	}
	return a.Impact.Validate()
}

// Thresholds gates auto-execution per impact level.
type Thresholds struct {
	Low      bool `json:"low" yaml:"low" mapstructure:"low"`
	Medium   bool `json:"medium" yaml:"medium" mapstructure:"medium"`
	High     bool `json:"high" yaml:"high" mapstructure:"high"`
	Critical bool `json:"critical" yaml:"critical" mapstructure:"critical"`
}

// Config is the per-user autonomy configuration.
type Config struct {
	UserID              string        `json:"user_id" yaml:"user_id"`
	AutonomyLevel       AutonomyLevel `json:"autonomy_level" yaml:"autonomy_level"`
	AutoExecute         Thresholds    `json:"auto_execute_threshold" yaml:"auto_execute_threshold"`
	LearningEnabled     bool          `json:"learning_enabled" yaml:"learning_enabled"`
	ProactiveMonitoring bool          `json:"proactive_monitoring" yaml:"proactive_monitoring"`
	TaskScheduling      bool          `json:"task_scheduling" yaml:"task_scheduling"`
	// SelfImprovement is stored and reported but does not alter decisions.
	SelfImprovement bool `json:"self_improvement" yaml:"self_improvement"`
}

// DefaultConfig returns the configuration a new user starts with.
func DefaultConfig(userID string) Config {
	return Config{
		UserID:              userID,
		AutonomyLevel:       AutonomySemi,
		AutoExecute:         Thresholds{Low: true},
		LearningEnabled:     true,
		ProactiveMonitoring: true,
		TaskScheduling:      true,
		SelfImprovement:     true,
	}
}

// RiskAssessment describes the risk attached to a decision.
type RiskAssessment struct {
	Level       Impact   `json:"level"`
	Factors     []string `json:"factors"`
	Mitigations []string `json:"mitigations"`
}

// UserPattern summarizes past feedback for one category.
type UserPattern struct {
	ApprovalRate        float64 `json:"approval_rate"`
	HistoricalActions   int     `json:"historical_actions"`
	AverageResponseTime float64 `json:"average_response_time_seconds"`
}

// Decision is the heuristic's verdict for one action.
type Decision struct {
	ActionID        string         `json:"action_id"`
	Verdict         Verdict        `json:"verdict"`
	Confidence      float64        `json:"confidence"`
	Risk            RiskAssessment `json:"risk"`
	Pattern         UserPattern    `json:"pattern"`
	LearnedFromPast bool           `json:"learned_from_past"`
	Justification   string         `json:"justification"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Feedback records a human's response to a past decision.
type Feedback struct {
	UserID    string          `json:"user_id,omitempty"`
	Category  Category        `json:"category"`
	Verdict   FeedbackVerdict `json:"verdict"`
	Context   map[string]any  `json:"context,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Weight    float64         `json:"weight"`
	Timestamp time.Time       `json:"timestamp"`
}
