package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dockvault/dockpilot/internal/adapter/inbound/api"
	"github.com/dockvault/dockpilot/internal/adapter/inbound/http"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/cel"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/executor"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/memory"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/sqlite"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/state"
	"github.com/dockvault/dockpilot/internal/config"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/auth"
	"github.com/dockvault/dockpilot/internal/domain/insight"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/domain/ratelimit"
	"github.com/dockvault/dockpilot/internal/port/inbound"
	"github.com/dockvault/dockpilot/internal/port/outbound"
	"github.com/dockvault/dockpilot/internal/service"
	"github.com/dockvault/dockpilot/internal/tracing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent and operator API",
	Long: `Start dockpilot: the decision engine, approval queue, proactive monitor,
task scheduler and the operator API.

Examples:
  # Start with config file settings
  dockpilot start

  # Start in development mode (debug logging, dev API key "dev-api-key")
  dockpilot start --dev

  # Start with a specific config file
  dockpilot --config /path/to/dockpilot.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, dev API key)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled: dev API key accepted, do not expose this instance")
	}

	pidPath := cfg.Server.PIDFile
	if proc, err := runningServer(pidPath); err == nil {
		return fmt.Errorf("dockpilot is already running as PID %d (pid file %s)", proc.Pid, pidPath)
	}
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("dockpilot stopped")
	return nil
}

// run wires all components together and blocks until ctx is cancelled or
// a runner fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	shutdownTracing, err := tracing.Init(tracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// ===== State: persisted agent config and tasks =====
	stateStore := state.NewFileStateStore(cfg.Storage.StateFile, logger)
	appState, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	agentCfg, err := resolveAgentConfig(cfg, appState, logger)
	if err != nil {
		return err
	}
	if appState.Agent == nil {
		appState.Agent = &agentCfg
		if err := stateStore.Save(appState); err != nil {
			return fmt.Errorf("failed to save initial state: %w", err)
		}
	}
	logger.Info("state loaded",
		"path", cfg.Storage.StateFile,
		"autonomy_level", agentCfg.AutonomyLevel,
		"tasks", len(appState.Tasks),
	)

	// ===== Stores =====
	stores, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	// ===== Decision engine and journal =====
	engine := agent.NewEngine(&agentCfg, stores.feedback)
	queue := approval.NewQueue(cfg.Agent.QueueCapacity)

	exec, err := newExecutor(cfg, logger)
	if err != nil {
		return err
	}

	journalSvc := service.NewJournalService(stores.journal, logger,
		service.WithChannelSize(cfg.Journal.ChannelSize),
		service.WithBatchSize(cfg.Journal.BatchSize),
		service.WithFlushInterval(durationOr(cfg.Journal.FlushInterval, time.Second)),
		service.WithSendTimeout(durationOr(cfg.Journal.SendTimeout, 100*time.Millisecond)),
		service.WithWarningThreshold(cfg.Journal.WarningThreshold),
	)
	journalSvc.Start(ctx)
	defer journalSvc.Stop()

	limiter := memory.NewRateLimiterWithConfig(
		durationOr(cfg.RateLimit.CleanupInterval, 5*time.Minute),
		durationOr(cfg.RateLimit.MaxTTL, time.Hour),
	)
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	stats := service.NewStatsService()
	agentSvc := service.NewAgentService(engine, queue, exec, logger,
		service.WithJournal(journalSvc),
		service.WithStats(stats),
		service.WithStateStore(stateStore),
		service.WithExecutionBudget(limiter, budgetConfig(cfg.Agent.Budget)),
		service.WithTracer(tracing.Tracer()),
		service.WithUserID(agentCfg.UserID),
	)

	// ===== Monitoring and scheduling =====
	board := memory.NewMetricsBoard()
	detectors, err := buildDetectors(cfg)
	if err != nil {
		return err
	}
	monitor := service.NewMonitorService(detectors, board,
		memory.NewInsightStore(cfg.Monitoring.InsightCapacity), agentSvc, logger,
		service.WithMonitorInterval(durationOr(cfg.Monitoring.Interval, service.DefaultMonitorInterval)),
	)
	scheduler := service.NewSchedulerService(agentSvc, board, appState.Tasks, logger,
		service.WithSchedulerInterval(durationOr(cfg.Scheduler.Interval, time.Minute)),
		service.WithTaskStateStore(stateStore),
	)

	// ===== Operator API =====
	authn, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}
	apiHandler := api.NewHandler(agentSvc,
		api.WithJournal(journalSvc),
		api.WithMonitor(monitor),
		api.WithScheduler(scheduler),
		api.WithMetricsBoard(board),
		api.WithAuthenticator(authn),
		api.WithThrottle(limiter, throttleConfig(cfg.RateLimit)),
		api.WithBuildInfo(&api.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		api.WithLogger(logger),
		api.WithStartTime(startTime),
	)

	registry := http.NewRegistry()
	http.RegisterAgentMetrics(registry, http.AgentSources{
		Stats:       stats,
		Journal:     journalSvc,
		PendingFunc: func() int { return queue.Len(approval.StatusPending) },
		RateLimitFn: limiter.Size,
	})

	server := http.NewServer(
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithLogger(logger),
		http.WithAPIHandler(apiHandler.Routes()),
		http.WithHealthChecker(newHealthChecker(queue, journalSvc, stores.db)),
		http.WithRegistry(registry),
	)

	logger.Info("dockpilot starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Driver,
		"executor", cfg.Executor.Type,
		"detectors", len(detectors),
		"api_keys", len(cfg.Auth.APIKeys),
		"rate_limit", cfg.RateLimit.Enabled,
	)
	printBanner(os.Stderr, Version, cfg, agentCfg, len(detectors), len(appState.Tasks))

	runners := []inbound.Runner{server, monitor, scheduler}
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	return g.Wait()
}

// resolveAgentConfig returns the persisted agent configuration when the
// state file has one, otherwise the agent section of the config file.
func resolveAgentConfig(cfg *config.Config, appState *state.AppState, logger *slog.Logger) (agent.Config, error) {
	if appState.Agent == nil {
		return cfg.Agent.ToDomain(), nil
	}
	restored := *appState.Agent
	if err := restored.AutonomyLevel.Validate(); err != nil {
		return agent.Config{}, fmt.Errorf("state file agent config: %w", err)
	}
	if restored.AutonomyLevel != agent.AutonomyLevel(cfg.Agent.AutonomyLevel) {
		logger.Info("agent config restored from state, overriding config file",
			"state", restored.AutonomyLevel, "config", cfg.Agent.AutonomyLevel)
	}
	return restored, nil
}

// newHealthChecker checks the database only when the sqlite backend is in use.
func newHealthChecker(queue *approval.Queue, journalSvc *service.JournalService, db *sql.DB) *http.HealthChecker {
	var opts []http.HealthOption
	if db != nil {
		opts = append(opts, http.WithDatabase(db))
	}
	return http.NewHealthChecker(queue, journalSvc, Version, opts...)
}

// storeSet bundles the feedback and journal stores with whatever must be
// closed when the process exits.
type storeSet struct {
	feedback agent.FeedbackStore
	journal  journal.Store
	// db is the shared sqlite handle, nil for the memory backend.
	db      *sql.DB
	closers []io.Closer
}

// Close closes the stores in reverse order of opening.
func (s *storeSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

// openStores opens the configured storage backend. SQLite keeps feedback
// and journal in one database; the memory backend optionally mirrors
// journal records to stdout or a file.
func openStores(cfg *config.Config, logger *slog.Logger) (*storeSet, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("storage: sqlite", "path", cfg.Storage.Path)
		return &storeSet{
			feedback: sqlite.NewFeedbackStore(db),
			journal:  sqlite.NewJournalStore(db),
			db:       db,
			closers:  []io.Closer{db},
		}, nil

	case "memory":
		w, err := journalWriter(cfg.Journal.Output)
		if err != nil {
			return nil, err
		}
		// The journal store closes a file writer itself.
		set := &storeSet{
			feedback: memory.NewFeedbackStore(),
			journal:  memory.NewJournalStoreWithWriter(w, cfg.Journal.BufferSize),
		}
		set.closers = []io.Closer{set.journal, set.feedback}
		logger.Warn("storage: memory, feedback and journal are lost on restart", "journal_output", cfg.Journal.Output)
		return set, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

// journalWriter resolves a journal output target. "none" yields a nil writer.
func journalWriter(output string) (io.Writer, error) {
	switch {
	case output == "" || output == "none":
		return nil, nil
	case output == "stdout":
		return os.Stdout, nil
	case strings.HasPrefix(output, "file://"):
		path := strings.TrimPrefix(output, "file://")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("invalid journal output: %s (must be 'none', 'stdout' or 'file://path')", output)
	}
}

// newExecutor returns the configured action executor.
func newExecutor(cfg *config.Config, logger *slog.Logger) (outbound.ActionExecutor, error) {
	switch cfg.Executor.Type {
	case "log":
		return executor.NewLogExecutor(logger), nil
	case "webhook":
		opts := []executor.WebhookOption{
			executor.WithTimeout(durationOr(cfg.Executor.Timeout, 10*time.Second)),
		}
		if cfg.Executor.BearerToken != "" {
			opts = append(opts, executor.WithBearerToken(cfg.Executor.BearerToken))
		}
		logger.Info("executor: webhook", "url", cfg.Executor.WebhookURL)
		return executor.NewWebhookExecutor(cfg.Executor.WebhookURL, opts...), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", cfg.Executor.Type)
	}
}

// buildDetectors compiles the built-in and configured CEL insight rules.
func buildDetectors(cfg *config.Config) ([]insight.Detector, error) {
	var rules []cel.Rule
	if cfg.Monitoring.DefaultRules {
		rules = append(rules, cel.DefaultRules()...)
	}
	for _, rc := range cfg.Monitoring.Rules {
		rules = append(rules, ruleFromConfig(rc))
	}
	if len(rules) == 0 {
		return nil, nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	detectors, err := evaluator.NewDetectors(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile monitoring rules: %w", err)
	}
	return detectors, nil
}

func ruleFromConfig(rc config.RuleConfig) cel.Rule {
	r := cel.Rule{
		Name:        rc.Name,
		Expression:  rc.Expression,
		Type:        insight.Type(rc.Type),
		Severity:    insight.Severity(rc.Severity),
		Title:       rc.Title,
		Description: rc.Description,
		Confidence:  rc.Confidence,
		DataPoints:  rc.DataPoints,
	}
	if s := rc.Suggested; s != nil {
		r.Suggested = &insight.SuggestedAction{
			Type:           s.Type,
			Category:       agent.Category(s.Category),
			Impact:         agent.Impact(s.Impact),
			Parameters:     s.Parameters,
			AutoExecutable: s.AutoExecutable,
		}
	}
	return r
}

// buildAuthenticator converts configured API keys into an Authenticator.
func buildAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	keys := make([]auth.Key, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.Key{Name: k.Name, Hash: k.KeyHash, Role: auth.Role(k.Role)})
	}
	return auth.NewAuthenticator(keys)
}

// budgetConfig converts the auto-execution budget. A zero rate disables it.
func budgetConfig(b config.BudgetConfig) ratelimit.Config {
	burst := b.Burst
	if burst == 0 {
		burst = b.Rate
	}
	return ratelimit.Config{Rate: b.Rate, Burst: burst, Period: durationOr(b.Period, time.Hour)}
}

// throttleConfig converts per-client API throttling. Disabled throttling
// yields a zero config, which the API treats as unlimited.
func throttleConfig(rl config.RateLimitConfig) ratelimit.Config {
	if !rl.Enabled {
		return ratelimit.Config{}
	}
	return ratelimit.Config{Rate: rl.ClientRate, Burst: rl.ClientRate, Period: time.Minute}
}

// tracingConfig maps the tracing section onto the tracer provider config.
func tracingConfig(cfg *config.Config) tracing.Config {
	output := ""
	if path, ok := strings.CutPrefix(cfg.Tracing.Output, "file://"); ok {
		output = path
	}
	return tracing.Config{
		Enabled:        cfg.Tracing.Enabled && cfg.Tracing.Output != "none",
		Output:         output,
		ServiceName:    "dockpilot",
		ServiceVersion: Version,
	}
}

// durationOr parses s, returning def when s is empty or invalid.
// Durations are validated with the config, so def is a last resort.
func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a startup summary to w.
func printBanner(w io.Writer, version string, cfg *config.Config, agentCfg agent.Config, detectors, tasks int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	scheme := "http"
	if cfg.Server.TLSCertFile != "" {
		scheme = "https"
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset + dim + " (dev API key)" + reset
	}
	authStr := fmt.Sprintf("%d API keys", len(cfg.Auth.APIKeys))
	if len(cfg.Auth.APIKeys) == 0 {
		authStr = "localhost only"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s dockpilot %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s://%s%s\n", "API:", scheme, addr, api.Prefix)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Autonomy:", agentCfg.AutonomyLevel)
	fmt.Fprintf(w, "  %-14s %s\n", "Auth:", authStr)
	fmt.Fprintf(w, "  %-14s %d active\n", "Detectors:", detectors)
	fmt.Fprintf(w, "  %-14s %d loaded\n", "Tasks:", tasks)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
