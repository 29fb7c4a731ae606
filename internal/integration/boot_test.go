package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/executor"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/memory"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/sqlite"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/state"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/task"
	"github.com/dockvault/dockpilot/internal/service"
)

// TestBoot_ConfigAndTasksSurviveRestart changes the autonomy level and adds
// a task, then reloads state.json as a restarted process would.
func TestBoot_ConfigAndTasksSurviveRestart(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()
	statePath := filepath.Join(t.TempDir(), "state.json")

	store := state.NewFileStateStore(statePath, logger)
	cfg := agent.DefaultConfig("lab-7")
	agentSvc := service.NewAgentService(
		agent.NewEngine(&cfg, memory.NewFeedbackStore()),
		approval.NewQueue(10),
		executor.NewLogExecutor(logger),
		logger,
		service.WithStateStore(store),
	)
	scheduler := service.NewSchedulerService(agentSvc, memory.NewMetricsBoard(), nil, logger,
		service.WithTaskStateStore(store))

	supervised := agent.AutonomySupervised
	if _, err := agentSvc.UpdateConfig(ctx, service.ConfigPatch{AutonomyLevel: &supervised}); err != nil {
		t.Fatalf("UpdateConfig() error: %v", err)
	}
	added, err := scheduler.AddTask(ctx, task.Task{
		Type:     task.TypeScheduled,
		Priority: task.PriorityHigh,
		Action:   agent.Action{Category: agent.CategoryReportGeneration, Impact: agent.ImpactLow, Title: "Nightly summary"},
		Schedule: &task.Schedule{Frequency: task.FrequencyDaily, NextRun: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("AddTask() error: %v", err)
	}

	reloaded, err := state.NewFileStateStore(statePath, logger).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if reloaded.Agent == nil || reloaded.Agent.AutonomyLevel != agent.AutonomySupervised {
		t.Errorf("reloaded agent = %+v, want supervised", reloaded.Agent)
	}
	if len(reloaded.Tasks) != 1 || reloaded.Tasks[0].ID != added.ID {
		t.Fatalf("reloaded tasks = %+v, want task %s", reloaded.Tasks, added.ID)
	}
	if reloaded.Tasks[0].Action.Title != "Nightly summary" || reloaded.Tasks[0].Status != task.StatusPending {
		t.Errorf("reloaded task = %+v", reloaded.Tasks[0])
	}

	// A restarted scheduler picks the saved tasks back up.
	restarted := service.NewSchedulerService(agentSvc, memory.NewMetricsBoard(), reloaded.Tasks, logger)
	if got := restarted.ListTasks(); len(got) != 1 || got[0].ID != added.ID {
		t.Errorf("restarted ListTasks() = %+v, want the saved task", got)
	}
}

// TestBoot_FeedbackSurvivesRestart learns six approvals, reopens the
// database and checks the learned pattern still lets low-impact uploads run.
func TestBoot_FeedbackSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "dockpilot.db")
	cfg := agent.DefaultConfig("lab-7")
	upload := agent.Action{ID: "a-1", Category: agent.CategoryFileUpload, Impact: agent.ImpactLow}

	first, err := sqlite.OpenFeedbackStore(dbPath)
	if err != nil {
		t.Fatalf("OpenFeedbackStore() error: %v", err)
	}
	engine := agent.NewEngine(&cfg, first)
	d, err := engine.Evaluate(ctx, upload)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Verdict != agent.VerdictRequestApproval {
		t.Fatalf("fresh verdict = %q, want request_approval", d.Verdict)
	}
	for i := 0; i < 6; i++ {
		if _, err := engine.RecordFeedback(ctx, agent.CategoryFileUpload, agent.FeedbackApproved, nil); err != nil {
			t.Fatalf("RecordFeedback() error: %v", err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	second, err := sqlite.OpenFeedbackStore(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	d, err = agent.NewEngine(&cfg, second).Evaluate(ctx, upload)
	if err != nil {
		t.Fatalf("Evaluate() after restart error: %v", err)
	}
	if d.Verdict != agent.VerdictExecute {
		t.Errorf("verdict after restart = %q, want execute", d.Verdict)
	}
	if d.Pattern.HistoricalActions != 6 {
		t.Errorf("HistoricalActions = %d, want 6", d.Pattern.HistoricalActions)
	}
}
