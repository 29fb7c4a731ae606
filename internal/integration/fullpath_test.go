// Package integration provides end-to-end tests that wire the decision
// engine, approval queue, journal, monitor and operator API together the
// way "dockpilot start" does.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dockvault/dockpilot/internal/adapter/inbound/api"
	dphttp "github.com/dockvault/dockpilot/internal/adapter/inbound/http"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/cel"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/executor"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/memory"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/sqlite"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/auth"
	"github.com/dockvault/dockpilot/internal/domain/insight"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/service"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const reviewerKey = "reviewer-key"

// platform records actions posted to the webhook executor.
type platform struct {
	mu      sync.Mutex
	actions []agent.Action
}

func (p *platform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload executor.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.actions = append(p.actions, payload.Action)
	p.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (p *platform) received() []agent.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]agent.Action(nil), p.actions...)
}

// stack is a fully wired dockpilot instance behind an httptest server.
type stack struct {
	agent    *service.AgentService
	monitor  *service.MonitorService
	board    *memory.MetricsBoard
	platform *platform
	server   *httptest.Server
}

func newStack(t *testing.T, cfg agent.Config, rules []cel.Rule) *stack {
	t.Helper()
	logger := testLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "dockpilot.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	plat := &platform{}
	webhook := httptest.NewServer(plat)
	t.Cleanup(webhook.Close)

	journalSvc := service.NewJournalService(sqlite.NewJournalStore(db), logger,
		service.WithFlushInterval(10*time.Millisecond))
	journalSvc.Start(ctx)
	t.Cleanup(journalSvc.Stop)

	queue := approval.NewQueue(10)
	agentSvc := service.NewAgentService(
		agent.NewEngine(&cfg, sqlite.NewFeedbackStore(db)),
		queue,
		executor.NewWebhookExecutor(webhook.URL, executor.WithTimeout(2*time.Second)),
		logger,
		service.WithJournal(journalSvc),
	)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		t.Fatalf("cel.NewEvaluator() error: %v", err)
	}
	detectors, err := evaluator.NewDetectors(rules)
	if err != nil {
		t.Fatalf("NewDetectors() error: %v", err)
	}
	board := memory.NewMetricsBoard()
	monitor := service.NewMonitorService(detectors, board, memory.NewInsightStore(10), agentSvc, logger)

	authn, err := auth.NewAuthenticator([]auth.Key{
		{Name: "ana", Hash: "sha256:" + auth.HashKey(reviewerKey), Role: auth.RoleReviewer},
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error: %v", err)
	}
	handler := api.NewHandler(agentSvc,
		api.WithJournal(journalSvc),
		api.WithMonitor(monitor),
		api.WithMetricsBoard(board),
		api.WithAuthenticator(authn),
		api.WithLogger(logger),
	)

	registry := dphttp.NewRegistry()
	dphttp.RegisterAgentMetrics(registry, dphttp.AgentSources{
		Stats:       agentSvc.Stats(),
		Journal:     journalSvc,
		PendingFunc: func() int { return queue.Len(approval.StatusPending) },
	})
	srv := dphttp.NewServer(
		dphttp.WithLogger(logger),
		dphttp.WithAPIHandler(handler.Routes()),
		dphttp.WithRegistry(registry),
		dphttp.WithHealthChecker(dphttp.NewHealthChecker(queue, journalSvc, "test")),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{agent: agentSvc, monitor: monitor, board: board, platform: plat, server: ts}
}

func (s *stack) call(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", reviewerKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// TestFullPath_ApprovalExecutesOnPlatform proposes a medium-impact action,
// approves it over HTTP and checks it reaches the platform webhook, the
// journal and the metrics endpoint.
func TestFullPath_ApprovalExecutesOnPlatform(t *testing.T) {
	s := newStack(t, agent.DefaultConfig("lab-7"), nil)

	resp, body := s.call(t, http.MethodPost, "/api/v1/actions",
		`{"category":"report_generation","impact":"medium","title":"Weekly affinity report","affected_resources":["project-12"]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("propose status = %d, want 202 (body %s)", resp.StatusCode, body)
	}
	var proposal service.ProposalResult
	if err := json.Unmarshal(body, &proposal); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if proposal.Outcome != service.OutcomePendingApproval {
		t.Fatalf("Outcome = %q, want pending_approval", proposal.Outcome)
	}
	if len(s.platform.received()) != 0 {
		t.Fatal("pending action reached the platform before approval")
	}

	id := proposal.Action.ID
	resp, body = s.call(t, http.MethodPost, "/api/v1/actions/"+id+"/approve", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, want 200 (body %s)", resp.StatusCode, body)
	}
	var entry approval.PendingAction
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("decode approval: %v", err)
	}
	if entry.Status != approval.StatusExecuted || entry.ReviewedBy != "ana" {
		t.Errorf("entry = %s by %q, want executed by ana", entry.Status, entry.ReviewedBy)
	}

	got := s.platform.received()
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("platform received %v, want action %s", got, id)
	}

	history, err := s.agent.History(context.Background())
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 1 || history[0].Verdict != agent.FeedbackApproved {
		t.Errorf("history = %+v, want one approval learned", history)
	}

	// The journal is written asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	var records []journal.Record
	for time.Now().Before(deadline) {
		_, body = s.call(t, http.MethodGet, "/api/v1/decisions?verdict=request_approval", "")
		records = nil
		_ = json.Unmarshal(body, &records)
		if len(records) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(records) != 1 || records[0].Action.ID != id || records[0].Source != journal.SourceAPI {
		t.Errorf("journal records = %+v, want the api decision for %s", records, id)
	}

	resp, body = s.call(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `dockpilot_decisions_total{verdict="request_approval"} 1`) {
		t.Errorf("/metrics missing decision counter:\n%s", body)
	}
}

// TestFullPath_RejectedKeyCannotApprove checks that the API refuses
// requests without a valid key even from localhost once keys are configured.
func TestFullPath_RejectedKeyCannotApprove(t *testing.T) {
	s := newStack(t, agent.DefaultConfig("lab-7"), nil)

	req, _ := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/actions/pending", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp, _ = s.call(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200 without auth", resp.StatusCode)
	}
}

// TestFullPath_InsightSuggestionAutoExecutes raises an insight from uploaded
// metrics and checks its auto-executable suggestion runs under full autonomy.
func TestFullPath_InsightSuggestionAutoExecutes(t *testing.T) {
	cfg := agent.DefaultConfig("lab-7")
	cfg.AutonomyLevel = agent.AutonomyFull
	rules := []cel.Rule{{
		Name:        "failed_jobs",
		Expression:  `metric(metrics, "failed_jobs") > 5.0`,
		Type:        insight.TypeWarning,
		Severity:    insight.SeverityWarning,
		Title:       "{failed_jobs} docking jobs failed",
		Description: "Jobs are failing above the usual rate.",
		Confidence:  0.9,
		DataPoints:  []string{"failed_jobs"},
		Suggested: &insight.SuggestedAction{
			Type:           "generate_failure_report",
			Category:       agent.CategoryReportGeneration,
			Impact:         agent.ImpactLow,
			AutoExecutable: true,
		},
	}}
	s := newStack(t, cfg, rules)

	resp, body := s.call(t, http.MethodPut, "/api/v1/metrics", `{"metrics":{"failed_jobs":9}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT metrics status = %d (body %s)", resp.StatusCode, body)
	}

	raised, err := s.monitor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if len(raised) != 1 || raised[0].Title != "9 docking jobs failed" {
		t.Fatalf("raised = %+v, want one rendered insight", raised)
	}

	got := s.platform.received()
	if len(got) != 1 || got[0].Parameters["suggested_action"] != "generate_failure_report" {
		t.Fatalf("platform received %+v, want the suggested report", got)
	}

	// The open insight suppresses its detector.
	again, err := s.monitor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second RunOnce() raised %d insights, want 0 while unacknowledged", len(again))
	}
}
