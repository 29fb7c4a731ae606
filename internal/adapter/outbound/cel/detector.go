package cel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/insight"
)

// Rule describes an insight raised when Expression evaluates to true.
// Title and Description may reference metrics as {name}.
type Rule struct {
	Name        string
	Expression  string
	Type        insight.Type
	Severity    insight.Severity
	Title       string
	Description string
	Confidence  float64
	DataPoints  []string
	Suggested   *insight.SuggestedAction
}

func (r *Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.Type {
	case insight.TypeAnomaly, insight.TypeOpportunity, insight.TypeWarning, insight.TypeRecommendation:
	default:
		return fmt.Errorf("rule %s: unknown insight type %q", r.Name, r.Type)
	}
	switch r.Severity {
	case insight.SeverityInfo, insight.SeverityWarning, insight.SeverityCritical:
	default:
		return fmt.Errorf("rule %s: unknown severity %q", r.Name, r.Severity)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %s: confidence %v outside [0,1]", r.Name, r.Confidence)
	}
	if s := r.Suggested; s != nil {
		if err := s.Category.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if err := s.Impact.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return nil
}

// RuleDetector implements insight.Detector for one compiled Rule.
type RuleDetector struct {
	rule Rule
	prg  *Program
	now  func() time.Time
}

// NewDetector validates and compiles r.
func (e *Evaluator) NewDetector(r Rule) (*RuleDetector, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	prg, err := e.Compile(r.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return &RuleDetector{
		rule: r,
		prg:  prg,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewDetectors compiles every rule, failing on the first invalid one.
func (e *Evaluator) NewDetectors(rules []Rule) ([]insight.Detector, error) {
	out := make([]insight.Detector, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		d, err := e.NewDetector(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Name returns the rule name.
func (d *RuleDetector) Name() string {
	return d.rule.Name
}

// Detect evaluates the rule against m.
func (d *RuleDetector) Detect(ctx context.Context, m insight.Metrics) (*insight.Insight, error) {
	now := d.now()
	hit, err := d.prg.Eval(ctx, m, now)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", d.rule.Name, err)
	}
	if !hit {
		return nil, nil
	}

	in := &insight.Insight{
		Detector:    d.rule.Name,
		Type:        d.rule.Type,
		Title:       render(d.rule.Title, m),
		Description: render(d.rule.Description, m),
		Severity:    d.rule.Severity,
		DataPoints:  append([]string(nil), d.rule.DataPoints...),
		Confidence:  d.rule.Confidence,
		CreatedAt:   now,
	}
	if s := d.rule.Suggested; s != nil {
		c := *s
		c.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
		in.SuggestedAction = &c
		in.Actionable = true
	}
	return in, nil
}

// render substitutes {name} placeholders with metric values.
func render(tmpl string, m insight.Metrics) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(m))
	for k, v := range m {
		pairs = append(pairs, "{"+k+"}", strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// DefaultRules are the built-in platform checks: result anomalies, batch
// opportunities, unverified results and stale projects.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "binding_affinity_anomaly",
			Expression:  `metric(metrics, "affinity_outliers") >= 10.0`,
			Type:        insight.TypeAnomaly,
			Severity:    insight.SeverityWarning,
			Title:       "Unusual Binding Affinity Pattern Detected",
			Description: "{affinity_outliers} recent compounds show significantly lower binding affinities than the historical average. Docking parameters or the protein structure may have changed.",
			Confidence:  0.87,
			DataPoints:  []string{"affinity_outliers"},
			Suggested: &insight.SuggestedAction{
				Type:       "investigate_anomaly",
				Category:   agent.CategoryReportGeneration,
				Impact:     agent.ImpactLow,
				Parameters: map[string]any{"time_range": "last_24h", "metric": "binding_affinity"},
			},
		},
		{
			Name:        "batch_processing_opportunity",
			Expression:  `metric(metrics, "pending_files") >= 20.0`,
			Type:        insight.TypeOpportunity,
			Severity:    insight.SeverityInfo,
			Title:       "Batch Processing Optimization Available",
			Description: "{pending_files} pending files can be processed together in one parallel batch.",
			Confidence:  0.92,
			DataPoints:  []string{"processing_queue"},
			Suggested: &insight.SuggestedAction{
				Type:           "batch_optimize",
				Category:       agent.CategoryBatchOperation,
				Impact:         agent.ImpactLow,
				AutoExecutable: true,
			},
		},
		{
			Name:        "unverified_results",
			Expression:  `metric(metrics, "unverified_results") > 10.0`,
			Type:        insight.TypeWarning,
			Severity:    insight.SeverityWarning,
			Title:       "Blockchain Verification Recommended",
			Description: "{unverified_results} high-value docking results lack blockchain verification. Verifying them ensures data integrity and enables citation.",
			Confidence:  0.95,
			DataPoints:  []string{"unverified_results"},
			Suggested: &insight.SuggestedAction{
				Type:       "blockchain_verify",
				Category:   agent.CategoryBlockchainTransaction,
				Impact:     agent.ImpactMedium,
				Parameters: map[string]any{"priority": "medium"},
			},
		},
		{
			Name:        "stale_projects",
			Expression:  `metric(metrics, "stale_projects") > 0.0`,
			Type:        insight.TypeRecommendation,
			Severity:    insight.SeverityInfo,
			Title:       "Archive Old Project Data",
			Description: "{stale_projects} projects haven't been accessed in 90+ days. Archiving them frees active storage while keeping them retrievable.",
			Confidence:  0.88,
			DataPoints:  []string{"storage_usage"},
			Suggested: &insight.SuggestedAction{
				Type:           "archive_projects",
				Category:       agent.CategoryBatchOperation,
				Impact:         agent.ImpactLow,
				Parameters:     map[string]any{"age_threshold_days": 90},
				AutoExecutable: true,
			},
		},
	}
}
