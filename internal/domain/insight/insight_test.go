package insight

import (
	"testing"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

func TestMetrics_Merge(t *testing.T) {
	t.Parallel()

	base := Metrics{"a": 1, "b": 2}
	out := base.Merge(Metrics{"b": 3, "c": 4})

	if out["a"] != 1 || out["b"] != 3 || out["c"] != 4 {
		t.Errorf("Merge() = %v, want overlay", out)
	}
	if base["b"] != 2 {
		t.Error("Merge() mutated the receiver")
	}
}

func TestSuggestedAction_ToAction(t *testing.T) {
	t.Parallel()

	in := &Insight{
		ID:         "ins-1",
		Title:      "Archive Old Project Data",
		DataPoints: []string{"storage_usage"},
	}
	s := &SuggestedAction{
		Type:           "archive_projects",
		Category:       agent.CategoryBatchOperation,
		Impact:         agent.ImpactLow,
		Parameters:     map[string]any{"age_threshold": 90},
		AutoExecutable: true,
	}

	a := s.ToAction(in)
	if a.Category != agent.CategoryBatchOperation || a.Impact != agent.ImpactLow {
		t.Errorf("ToAction() = %s/%s, want batch_operation/low", a.Category, a.Impact)
	}
	if a.Parameters["suggested_action"] != "archive_projects" || a.Parameters["age_threshold"] != 90 {
		t.Errorf("Parameters = %v", a.Parameters)
	}
	if len(a.AffectedResources) != 1 || a.AffectedResources[0] != "storage_usage" {
		t.Errorf("AffectedResources = %v", a.AffectedResources)
	}
	if _, ok := s.Parameters["suggested_action"]; ok {
		t.Error("ToAction() mutated the suggestion parameters")
	}
}
