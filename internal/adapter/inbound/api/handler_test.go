package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/executor"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/memory"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/auth"
	"github.com/dockvault/dockpilot/internal/domain/insight"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/domain/ratelimit"
	"github.com/dockvault/dockpilot/internal/domain/task"
	"github.com/dockvault/dockpilot/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiFixture struct {
	handler   http.Handler
	agent     *service.AgentService
	journal   *service.JournalService
	board     *memory.MetricsBoard
	scheduler *service.SchedulerService
}

// newAPIFixture wires real services around in-memory stores. Extra options
// are applied after the defaults.
func newAPIFixture(t *testing.T, opts ...Option) *apiFixture {
	t.Helper()
	logger := discardLogger()
	cfg := agent.DefaultConfig("user-1")

	agentSvc := service.NewAgentService(
		agent.NewEngine(&cfg, memory.NewFeedbackStore()),
		approval.NewQueue(10),
		executor.NewLogExecutor(logger),
		logger,
	)
	js := service.NewJournalService(memory.NewJournalStore(), logger)
	board := memory.NewMetricsBoard()
	monitor := service.NewMonitorService(nil, board, memory.NewInsightStore(10), agentSvc, logger)
	scheduler := service.NewSchedulerService(agentSvc, board, nil, logger)

	opts = append([]Option{
		WithJournal(js),
		WithMonitor(monitor),
		WithScheduler(scheduler),
		WithMetricsBoard(board),
		WithLogger(logger),
	}, opts...)
	h := NewHandler(agentSvc, opts...)
	return &apiFixture{handler: h.Routes(), agent: agentSvc, journal: js, board: board, scheduler: scheduler}
}

// do sends a request from localhost unless a mutator changes RemoteAddr.
func (f *apiFixture) do(t *testing.T, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "127.0.0.1:40000"
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

const uploadBody = `{"category":"file_upload","impact":"low","title":"upload results","affected_resources":["project-1"]}`

func TestPropose_QueuesAndApproves(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/actions", uploadBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("propose status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	res := decode[service.ProposalResult](t, rec)
	if res.Outcome != service.OutcomePendingApproval || res.Action.ID == "" {
		t.Fatalf("propose = %+v, want pending_approval with an ID", res)
	}
	if res.Action.UserID != "local" {
		t.Errorf("UserID = %q, want the operator name", res.Action.UserID)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/actions/pending", "")
	pending := decode[[]approval.PendingAction](t, rec)
	if len(pending) != 1 || pending[0].ID() != res.Action.ID {
		t.Fatalf("pending = %+v, want the proposed action", pending)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/actions/"+res.Action.ID+"/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	p := decode[approval.PendingAction](t, rec)
	if p.Status != approval.StatusExecuted || p.ReviewedBy != "local" {
		t.Errorf("approve = %s by %q, want executed by local", p.Status, p.ReviewedBy)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/actions/"+res.Action.ID+"/approve", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", rec.Code)
	}
}

func TestPropose_ReusedIDConflicts(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"id":"client-1","category":"file_upload","impact":"low","title":"first"}`
	if rec := f.do(t, http.MethodPost, "/api/v1/actions", body); rec.Code != http.StatusAccepted {
		t.Fatalf("propose status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	body = `{"id":"client-1","category":"file_upload","impact":"low","title":"second"}`
	if rec := f.do(t, http.MethodPost, "/api/v1/actions", body); rec.Code != http.StatusConflict {
		t.Errorf("reused ID status = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/actions/client-1", "")
	if p := decode[approval.PendingAction](t, rec); p.Action.Title != "first" {
		t.Errorf("entry title = %q, want first", p.Action.Title)
	}
}

func TestPropose_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown category", `{"category":"mining","impact":"low"}`, "unknown category"},
		{"missing impact", `{"category":"file_upload"}`, "Impact is required"},
		{"empty resource", `{"category":"file_upload","impact":"low","affected_resources":[""]}`, "AffectedResources[0] is required"},
		{"unknown field", `{"category":"file_upload","impact":"low","risk":"none"}`, "invalid JSON body"},
		{"not json", `{`, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/actions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want it to mention %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestReject(t *testing.T) {
	f := newAPIFixture(t)
	res := decode[service.ProposalResult](t, f.do(t, http.MethodPost, "/api/v1/actions", uploadBody))

	rec := f.do(t, http.MethodPost, "/api/v1/actions/"+res.Action.ID+"/reject", `{"reason":"wrong project"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d: %s", rec.Code, rec.Body.String())
	}
	p := decode[approval.PendingAction](t, rec)
	if p.Status != approval.StatusRejected || p.Reason != "wrong project" {
		t.Errorf("reject = %s/%q, want rejected with reason", p.Status, p.Reason)
	}

	history, _ := f.agent.History(context.Background())
	if len(history) != 1 || history[0].Verdict != agent.FeedbackRejected {
		t.Errorf("history = %+v, want one rejection learned", history)
	}
}

func TestApprove_UnknownAction(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/actions/nope/approve", `{"parameters":{"a":1}}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEvaluate_DoesNotQueue(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/decisions/evaluate", uploadBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	d := decode[agent.Decision](t, rec)
	if d.Verdict != agent.VerdictRequestApproval || d.Justification == "" {
		t.Errorf("decision = %+v, want request_approval with a justification", d)
	}
	if n := len(f.agent.Pending(approval.StatusPending)); n != 0 {
		t.Errorf("pending = %d, want 0 after a dry run", n)
	}
}

func TestQueryDecisions(t *testing.T) {
	f := newAPIFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.journal.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.journal.Stop()
	})

	// The fixture agent has no journal attached; record directly.
	f.journal.Record(journal.Record{
		ID:       "r-1",
		Source:   journal.SourceAPI,
		Action:   agent.Action{ID: "a-1", Category: agent.CategoryFileUpload, Impact: agent.ImpactLow},
		Decision: agent.Decision{ActionID: "a-1", Verdict: agent.VerdictSkip},
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec := f.do(t, http.MethodGet, "/api/v1/decisions?verdict=skip&limit=5", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if records := decode[[]journal.Record](t, rec); len(records) == 1 {
			if records[0].Action.ID != "a-1" {
				t.Errorf("record = %+v, want a-1", records[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("journaled decision never became queryable")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/decisions?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}
}

func TestConfig_GetAndPatch(t *testing.T) {
	f := newAPIFixture(t)

	cfg := decode[agent.Config](t, f.do(t, http.MethodGet, "/api/v1/config", ""))
	if cfg.AutonomyLevel != agent.AutonomySemi {
		t.Fatalf("AutonomyLevel = %q, want semi", cfg.AutonomyLevel)
	}

	rec := f.do(t, http.MethodPatch, "/api/v1/config", `{"autonomy_level":"full","learning_enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	cfg = decode[agent.Config](t, rec)
	if cfg.AutonomyLevel != agent.AutonomyFull || cfg.LearningEnabled || !cfg.TaskScheduling {
		t.Errorf("patched config = %+v, want full, learning off, rest kept", cfg)
	}

	rec = f.do(t, http.MethodPut, "/api/v1/config", `{"autonomy_level":"reckless"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid level status = %d, want 400", rec.Code)
	}
}

func TestFeedback_RecordAndSummarize(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/feedback", `{"category":"report_generation","verdict":"approved"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/feedback", `{"category":"report_generation","verdict":"maybe"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid verdict status = %d, want 400", rec.Code)
	}

	history := decode[[]agent.Feedback](t, f.do(t, http.MethodGet, "/api/v1/feedback?category=file_upload", ""))
	if len(history) != 0 {
		t.Errorf("file_upload history = %d, want 0", len(history))
	}

	summary := decode[map[agent.Category]agent.UserPattern](t, f.do(t, http.MethodGet, "/api/v1/feedback/summary", ""))
	if p := summary[agent.CategoryReportGeneration]; p.HistoricalActions != 1 || p.ApprovalRate != 1 {
		t.Errorf("report_generation pattern = %+v, want one approval", p)
	}
}

func TestMetrics_PutAndGet(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/metrics", `{"metrics":{"queue_depth":42}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	m := decode[insight.Metrics](t, f.do(t, http.MethodGet, "/api/v1/metrics", ""))
	if m["queue_depth"] != 42 {
		t.Errorf("queue_depth = %v, want 42", m["queue_depth"])
	}
	if _, ok := m["pending_approvals"]; !ok {
		t.Error("agent counters missing from metrics view")
	}

	if rec := f.do(t, http.MethodPut, "/api/v1/metrics", `{"metrics":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty metrics status = %d, want 400", rec.Code)
	}
}

func TestTasks_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"type":"scheduled","priority":"high","schedule":{"frequency":"daily"},` +
		`"action":{"category":"report_generation","impact":"low","title":"daily report"}}`
	rec := f.do(t, http.MethodPost, "/api/v1/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[task.Task](t, rec)
	if created.ID == "" || created.Status != task.StatusPending {
		t.Fatalf("created = %+v, want pending with ID", created)
	}

	list := decode[[]task.Task](t, f.do(t, http.MethodGet, "/api/v1/tasks", ""))
	if len(list) != 1 {
		t.Fatalf("tasks = %d, want 1", len(list))
	}

	paused := decode[task.Task](t, f.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/pause", ""))
	if paused.Status != task.StatusPaused {
		t.Errorf("pause status = %s, want paused", paused.Status)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/pause", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("second pause status = %d, want 400", rec.Code)
	}
	resumed := decode[task.Task](t, f.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/resume", ""))
	if resumed.Status != task.StatusPending {
		t.Errorf("resume status = %s, want pending", resumed.Status)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/tasks/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
}

func TestTasks_TriggeredNeedsTrigger(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", `{"type":"triggered","action":{"category":"batch_operation","impact":"medium"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Trigger") {
		t.Errorf("body = %s, want it to mention the trigger", rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/actions", uploadBody)

	stats := decode[StatsResponse](t, f.do(t, http.MethodGet, "/api/v1/stats", ""))
	if stats.Decisions != 1 || stats.ApprovalRequests != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want one queued decision", stats)
	}
	if stats.AutonomyLevel != "semi" {
		t.Errorf("AutonomyLevel = %q, want semi", stats.AutonomyLevel)
	}
}

func TestUnconfiguredServices(t *testing.T) {
	logger := discardLogger()
	cfg := agent.DefaultConfig("user-1")
	agentSvc := service.NewAgentService(agent.NewEngine(&cfg, memory.NewFeedbackStore()),
		approval.NewQueue(0), executor.NewLogExecutor(logger), logger)
	h := NewHandler(agentSvc, WithLogger(logger)).Routes()

	for _, path := range []string{"/api/v1/insights", "/api/v1/tasks", "/api/v1/decisions"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "[::1]:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestSystemInfo(t *testing.T) {
	f := newAPIFixture(t, WithBuildInfo(&BuildInfo{Version: "1.2.3", Commit: "abc"}))

	var resp systemResponse
	if err := json.NewDecoder(f.do(t, http.MethodGet, "/api/v1/system", "").Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != "1.2.3" || resp.Commit != "abc" || resp.GoVersion == "" {
		t.Errorf("system = %+v, want build info and go version", resp)
	}
}

func TestAuth_LocalhostOnlyWithoutKeys(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/stats", "", func(r *http.Request) { r.RemoteAddr = "192.0.2.10:5555" })
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote status = %d, want 403", rec.Code)
	}
}

func TestAuth_APIKeysAndRoles(t *testing.T) {
	authn, err := auth.NewAuthenticator([]auth.Key{
		{Name: "viewer", Hash: auth.HashKey("view-key"), Role: auth.RoleViewer},
		{Name: "rev", Hash: "sha256:" + auth.HashKey("rev-key"), Role: auth.RoleReviewer},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := newAPIFixture(t, WithAuthenticator(authn))

	remote := func(r *http.Request) { r.RemoteAddr = "192.0.2.10:5555" }
	bearer := func(key string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) }
	}
	apiKey := func(key string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-API-Key", key) }
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		auth   func(*http.Request)
		want   int
	}{
		{"missing key", http.MethodGet, "/api/v1/stats", "", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/api/v1/stats", "", bearer("nope"), http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/stats", "", bearer("view-key"), http.StatusOK},
		{"viewer cannot propose", http.MethodPost, "/api/v1/actions", uploadBody, bearer("view-key"), http.StatusForbidden},
		{"reviewer proposes", http.MethodPost, "/api/v1/actions", uploadBody, apiKey("rev-key"), http.StatusAccepted},
		{"reviewer cannot change config", http.MethodPatch, "/api/v1/config", `{"learning_enabled":false}`, apiKey("rev-key"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, remote, tt.auth)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := f.do(t, http.MethodGet, "/api/v1/stats", "", remote)
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 without WWW-Authenticate header")
	}
}

func TestThrottle(t *testing.T) {
	limiter := memory.NewRateLimiter()
	defer limiter.Stop()
	authn, _ := auth.NewAuthenticator([]auth.Key{{Name: "v", Hash: auth.HashKey("k"), Role: auth.RoleViewer}})
	f := newAPIFixture(t,
		WithAuthenticator(authn),
		WithThrottle(limiter, ratelimit.Config{Rate: 1, Burst: 1, Period: time.Minute}),
	)

	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = ip + ":1000"
			r.Header.Set("X-API-Key", "k")
		}
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/stats", "", from("192.0.2.1")); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/stats", "", from("192.0.2.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/stats", "", from("192.0.2.2")); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
	for i := 0; i < 3; i++ {
		if rec := f.do(t, http.MethodGet, "/api/v1/stats", ""); rec.Code != http.StatusOK {
			t.Errorf("localhost request %d status = %d, want 200 (exempt)", i, rec.Code)
		}
	}
}
