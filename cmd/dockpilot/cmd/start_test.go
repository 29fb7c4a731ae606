package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/state"
	"github.com/dockvault/dockpilot/internal/config"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/journal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"start": false, "stop": false, "evaluate": false, "hash-key": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartCmd_DevFlagDefault(t *testing.T) {
	dev, err := startCmd.Flags().GetBool("dev")
	if err != nil {
		t.Fatalf("failed to get dev flag: %v", err)
	}
	if dev {
		t.Error("dev flag should default to false")
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBudgetConfig(t *testing.T) {
	t.Parallel()

	got := budgetConfig(config.BudgetConfig{Rate: 5, Period: "30m"})
	if got.Rate != 5 || got.Burst != 5 || got.Period != 30*time.Minute {
		t.Errorf("budgetConfig() = %+v, want rate 5 burst 5 per 30m", got)
	}
	if budgetConfig(config.BudgetConfig{Period: "1h"}).Enabled() {
		t.Error("zero rate budget should be disabled")
	}
}

func TestThrottleConfig(t *testing.T) {
	t.Parallel()

	on := throttleConfig(config.RateLimitConfig{Enabled: true, ClientRate: 60})
	if on.Rate != 60 || on.Period != time.Minute {
		t.Errorf("throttleConfig(enabled) = %+v", on)
	}
	if throttleConfig(config.RateLimitConfig{Enabled: false, ClientRate: 60}).Enabled() {
		t.Error("disabled throttle should yield a disabled config")
	}
}

func TestTracingConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Tracing: config.TracingConfig{Enabled: true, Output: "file:///var/log/dockpilot/traces.json"}}
	got := tracingConfig(cfg)
	if !got.Enabled || got.Output != "/var/log/dockpilot/traces.json" || got.ServiceName != "dockpilot" {
		t.Errorf("tracingConfig(file) = %+v", got)
	}

	cfg.Tracing.Output = "stdout"
	if got := tracingConfig(cfg); got.Output != "" {
		t.Errorf("tracingConfig(stdout).Output = %q, want empty", got.Output)
	}

	cfg.Tracing.Output = "none"
	if tracingConfig(cfg).Enabled {
		t.Error("tracing with output none should be disabled")
	}
}

func TestBuildDetectors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Monitoring.DefaultRules = true
	cfg.Monitoring.Rules = []config.RuleConfig{{
		Name:       "failed-jobs",
		Expression: `metric(metrics, "failed_jobs") > 5.0`,
		Type:       "anomaly",
		Severity:   "warning",
		Title:      "{failed_jobs} docking jobs failed",
		Confidence: 0.8,
		Suggested: &config.SuggestedActionConfig{
			Type: "rerun_failed", Category: "batch_operation", Impact: "medium", AutoExecutable: true,
		},
	}}

	detectors, err := buildDetectors(cfg)
	if err != nil {
		t.Fatalf("buildDetectors() error: %v", err)
	}
	var names []string
	for _, d := range detectors {
		names = append(names, d.Name())
	}
	if !strings.Contains(strings.Join(names, ","), "failed-jobs") {
		t.Errorf("detectors = %v, want failed-jobs included", names)
	}
	if len(detectors) <= 1 {
		t.Errorf("detectors len = %d, want built-in rules too", len(detectors))
	}

	cfg.Monitoring.DefaultRules = false
	cfg.Monitoring.Rules[0].Expression = "metric(metrics, "
	if _, err := buildDetectors(cfg); err == nil {
		t.Error("buildDetectors() accepted an invalid expression")
	}
}

func TestRuleFromConfig_Suggested(t *testing.T) {
	t.Parallel()

	r := ruleFromConfig(config.RuleConfig{
		Name: "r", Expression: "true", Type: "warning", Severity: "critical", Title: "t",
		Suggested: &config.SuggestedActionConfig{Type: "cleanup", Category: "data_deletion", Impact: "high"},
	})
	if r.Suggested == nil || r.Suggested.Category != agent.CategoryDataDeletion || r.Suggested.Impact != agent.ImpactHigh {
		t.Errorf("Suggested = %+v", r.Suggested)
	}
}

func TestBuildAuthenticator(t *testing.T) {
	t.Parallel()

	authn, err := buildAuthenticator(config.AuthConfig{})
	if err != nil {
		t.Fatalf("buildAuthenticator(empty) error: %v", err)
	}
	if authn.Enabled() {
		t.Error("empty auth config should not enable authentication")
	}

	if _, err := buildAuthenticator(config.AuthConfig{APIKeys: []config.APIKeyConfig{
		{Name: "x", KeyHash: devAPIKeyHashForTest, Role: "root"},
	}}); err == nil {
		t.Error("buildAuthenticator() accepted an unknown role")
	}

	authn, err = buildAuthenticator(config.AuthConfig{APIKeys: []config.APIKeyConfig{
		{Name: "dev", KeyHash: devAPIKeyHashForTest, Role: "admin"},
	}})
	if err != nil {
		t.Fatalf("buildAuthenticator() error: %v", err)
	}
	op, err := authn.Authenticate("dev-api-key")
	if err != nil || op.Name != "dev" {
		t.Errorf("Authenticate(dev-api-key) = %+v, %v", op, err)
	}
}

// devAPIKeyHashForTest is the sha256 of "dev-api-key".
const devAPIKeyHashForTest = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"

func TestResolveAgentConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.SetDefaults()

	fromFile, err := resolveAgentConfig(cfg, &state.AppState{}, discardLogger())
	if err != nil {
		t.Fatalf("resolveAgentConfig(no state) error: %v", err)
	}
	if fromFile.AutonomyLevel != agent.AutonomySemi {
		t.Errorf("AutonomyLevel = %q, want config file value", fromFile.AutonomyLevel)
	}

	persisted := agent.DefaultConfig("default")
	persisted.AutonomyLevel = agent.AutonomySupervised
	got, err := resolveAgentConfig(cfg, &state.AppState{Agent: &persisted}, discardLogger())
	if err != nil {
		t.Fatalf("resolveAgentConfig(state) error: %v", err)
	}
	if got.AutonomyLevel != agent.AutonomySupervised {
		t.Errorf("AutonomyLevel = %q, want persisted value", got.AutonomyLevel)
	}

	persisted.AutonomyLevel = "reckless"
	if _, err := resolveAgentConfig(cfg, &state.AppState{Agent: &persisted}, discardLogger()); err == nil {
		t.Error("resolveAgentConfig() accepted an invalid persisted level")
	}
}

func TestOpenStores_Memory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.log")
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "memory"},
		Journal: config.JournalConfig{Output: "file://" + path, BufferSize: 10},
	}
	stores, err := openStores(cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStores() error: %v", err)
	}
	defer stores.Close()

	ctx := context.Background()
	rec := journal.Record{
		ID:         "r-1",
		Source:     journal.SourceCLI,
		Action:     agent.Action{ID: "a", Category: agent.CategoryFileUpload, Impact: agent.ImpactLow},
		Decision:   agent.Decision{ActionID: "a", Verdict: agent.VerdictExecute},
		RecordedAt: time.Now().UTC(),
	}
	if err := stores.journal.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	qs, ok := stores.journal.(journal.QueryStore)
	if !ok {
		t.Fatal("memory journal store is not queryable")
	}
	got, err := qs.Query(ctx, journal.Filter{})
	if err != nil || len(got) != 1 {
		t.Errorf("Query() = %d records, %v; want 1", len(got), err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), `"r-1"`) {
		t.Errorf("journal file = %q, %v; want the record mirrored", data, err)
	}
}

func TestOpenStores_SQLite(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "dockpilot.db")}}
	stores, err := openStores(cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStores() error: %v", err)
	}
	defer stores.Close()

	ctx := context.Background()
	if err := stores.feedback.Append(ctx, agent.Feedback{Category: agent.CategoryFileUpload, Verdict: agent.FeedbackApproved, Weight: 1}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	n, err := stores.feedback.Count(ctx, agent.CategoryFileUpload)
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}
}

func TestJournalWriter(t *testing.T) {
	t.Parallel()

	if w, err := journalWriter("none"); w != nil || err != nil {
		t.Errorf("journalWriter(none) = %v, %v", w, err)
	}
	if _, err := journalWriter("kafka://x"); err == nil {
		t.Error("journalWriter() accepted an unknown target")
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.SetDefaults()
	var buf bytes.Buffer
	printBanner(&buf, "1.2.3", cfg, cfg.Agent.ToDomain(), 4, 2)

	out := buf.String()
	for _, want := range []string{"dockpilot 1.2.3", "http://127.0.0.1:8080/api/v1", "semi-autonomous", "localhost only"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "dockpilot.pid")
	if got := readPIDFile(path); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got <= 0 {
		t.Errorf("readPIDFile() = %d, want current PID", got)
	}
}

func TestReadPIDFile_Malformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, content := range map[string]string{
		"garbage":  "not-a-pid\n",
		"negative": "-4\n",
		"empty":    "",
	} {
		path := filepath.Join(dir, name+".pid")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if got := readPIDFile(path); got != 0 {
			t.Errorf("readPIDFile(%s) = %d, want 0", name, got)
		}
	}
}

func TestRunningServer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.pid")
	if _, err := runningServer(missing); !errors.Is(err, errNotRunning) {
		t.Errorf("runningServer(missing) error = %v, want errNotRunning", err)
	}

	self := filepath.Join(dir, "self.pid")
	if err := writePIDFile(self); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	proc, err := runningServer(self)
	if err != nil {
		t.Fatalf("runningServer(self) error: %v", err)
	}
	if proc.Pid != os.Getpid() {
		t.Errorf("Pid = %d, want %d", proc.Pid, os.Getpid())
	}
}

func TestWaitForExit_TimesOutOnLiveProcess(t *testing.T) {
	t.Parallel()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if waitForExit(proc, 50*time.Millisecond, 10*time.Millisecond) {
		t.Error("waitForExit() = true for the test process itself")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, want at least the timeout", elapsed)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() {
		versionCmd.SetOut(nil)
		versionShort = false
	})

	versionCmd.Run(versionCmd, nil)
	if out := buf.String(); !strings.Contains(out, "dockpilot "+Version) || !strings.Contains(out, "state schema: "+state.CurrentVersion) {
		t.Errorf("version output = %q", out)
	}

	buf.Reset()
	versionShort = true
	versionCmd.Run(versionCmd, nil)
	if got := buf.String(); got != Version+"\n" {
		t.Errorf("version --short = %q, want %q", got, Version+"\n")
	}
}
