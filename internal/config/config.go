// Package config provides configuration types for dockpilot.
//
// Configuration is file-based (dockpilot.yaml) with environment overrides
// (DOCKPILOT_*). The agent section seeds the autonomy configuration on
// first start; later changes made through the API are persisted in the
// state file and take precedence.
package config

import (
	"github.com/spf13/viper"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// Config is the top-level dockpilot configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Agent seeds the autonomy configuration and limits automatic execution.
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// Storage selects where feedback, journal and state live.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Journal configures the asynchronous decision journal.
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`

	// Executor selects how approved and auto-executed actions are carried out.
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// Monitoring configures the proactive insight detectors.
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`

	// Scheduler configures the task scheduler.
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Auth configures operator API keys.
	// Optional: when empty, the API is only reachable from localhost.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// RateLimit configures per-client API throttling.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// DevMode enables development features (debug logging, a dev API key).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// PIDFile is where "dockpilot start" records its process ID for "dockpilot stop".
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`
}

// AgentConfig seeds the per-user autonomy configuration.
type AgentConfig struct {
	// UserID identifies whose configuration and feedback this instance serves.
	UserID string `yaml:"user_id" mapstructure:"user_id" validate:"required"`

	// AutonomyLevel is one of "supervised", "semi-autonomous", "fully-autonomous".
	AutonomyLevel string `yaml:"autonomy_level" mapstructure:"autonomy_level" validate:"required,autonomy_level"`

	// AutoExecute gates automatic execution per impact level.
	// Defaults to low only.
	AutoExecute agent.Thresholds `yaml:"auto_execute_threshold" mapstructure:"auto_execute_threshold"`

	LearningEnabled     bool `yaml:"learning_enabled" mapstructure:"learning_enabled"`
	ProactiveMonitoring bool `yaml:"proactive_monitoring" mapstructure:"proactive_monitoring"`
	TaskScheduling      bool `yaml:"task_scheduling" mapstructure:"task_scheduling"`
	SelfImprovement     bool `yaml:"self_improvement" mapstructure:"self_improvement"`

	// QueueCapacity bounds the approval queue. Defaults to 100.
	QueueCapacity int `yaml:"queue_capacity" mapstructure:"queue_capacity" validate:"omitempty,min=1"`

	// Budget limits automatic executions per category. Over budget, an
	// execute verdict becomes request_approval.
	Budget BudgetConfig `yaml:"budget" mapstructure:"budget"`
}

// BudgetConfig is a per-category auto-execution rate.
type BudgetConfig struct {
	// Rate is the number of automatic executions allowed per Period. 0 disables the budget.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=0"`
	// Burst defaults to Rate.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=0"`
	// Period is a duration string. Defaults to "1h".
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty,duration"`
}

// ToDomain returns the autonomy configuration described by c.
func (c *AgentConfig) ToDomain() agent.Config {
	return agent.Config{
		UserID:              c.UserID,
		AutonomyLevel:       agent.AutonomyLevel(c.AutonomyLevel),
		AutoExecute:         c.AutoExecute,
		LearningEnabled:     c.LearningEnabled,
		ProactiveMonitoring: c.ProactiveMonitoring,
		TaskScheduling:      c.TaskScheduling,
		SelfImprovement:     c.SelfImprovement,
	}
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" (lost on restart) or "sqlite". Defaults to "sqlite".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=memory sqlite"`

	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `yaml:"path" mapstructure:"path" validate:"required_if=Driver sqlite"`

	// StateFile holds the persisted agent configuration and tasks.
	StateFile string `yaml:"state_file" mapstructure:"state_file" validate:"required"`
}

// JournalConfig configures decision journaling.
type JournalConfig struct {
	// Output specifies where memory-backed journal records are mirrored.
	// Valid values: "none", "stdout" or "file:///absolute/path/to/journal.log".
	// Ignored with the sqlite driver, which stores records in the database.
	Output string `yaml:"output" mapstructure:"output" validate:"required,output_target"`

	// ChannelSize is the buffer size for the journal channel. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records. Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long to block when the channel is full.
	// "0" = drop immediately. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage (0-100) at which to log warnings.
	// Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is how many records the memory journal keeps for queries. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// ExecutorConfig selects the action executor.
type ExecutorConfig struct {
	// Type is "log" (record only) or "webhook". Defaults to "log".
	Type string `yaml:"type" mapstructure:"type" validate:"required,oneof=log webhook"`

	// WebhookURL receives executed actions as JSON POSTs.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`

	// Timeout bounds one webhook call. Defaults to "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// BearerToken is sent as "Authorization: Bearer <token>" when set.
	BearerToken string `yaml:"bearer_token" mapstructure:"bearer_token"`
}

// MonitoringConfig configures proactive monitoring.
type MonitoringConfig struct {
	// Interval between detector runs. Defaults to "5m".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`

	// DefaultRules enables the built-in detectors. Defaults to true.
	DefaultRules bool `yaml:"default_rules" mapstructure:"default_rules"`

	// Rules are additional CEL detectors.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// InsightCapacity bounds stored insights. Defaults to 200.
	InsightCapacity int `yaml:"insight_capacity" mapstructure:"insight_capacity" validate:"omitempty,min=1"`
}

// RuleConfig defines a CEL insight detector.
type RuleConfig struct {
	// Name is the unique detector name.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Expression is a boolean CEL expression over metrics, e.g.
	// `has_metric(metrics, "failed_jobs") && metric(metrics, "failed_jobs") > 5.0`.
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`

	Type        string   `yaml:"type" mapstructure:"type" validate:"required,oneof=anomaly opportunity warning recommendation"`
	Severity    string   `yaml:"severity" mapstructure:"severity" validate:"required,oneof=info warning critical"`
	Title       string   `yaml:"title" mapstructure:"title" validate:"required"`
	Description string   `yaml:"description" mapstructure:"description"`
	Confidence  float64  `yaml:"confidence" mapstructure:"confidence" validate:"min=0,max=1"`
	DataPoints  []string `yaml:"data_points" mapstructure:"data_points"`

	// Suggested, when set, is proposed to the agent when the rule fires
	// and AutoExecutable is true.
	Suggested *SuggestedActionConfig `yaml:"suggested_action" mapstructure:"suggested_action"`
}

// SuggestedActionConfig is the action a rule proposes.
type SuggestedActionConfig struct {
	Type           string         `yaml:"type" mapstructure:"type" validate:"required"`
	Category       string         `yaml:"category" mapstructure:"category" validate:"required,category"`
	Impact         string         `yaml:"impact" mapstructure:"impact" validate:"required,impact"`
	Parameters     map[string]any `yaml:"parameters" mapstructure:"parameters"`
	AutoExecutable bool           `yaml:"auto_executable" mapstructure:"auto_executable"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	// Interval between scheduler ticks. Defaults to "1m".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Output is "stdout" or "file://<absolute-path>". Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,output_target"`
}

// AuthConfig configures operator authentication.
type AuthConfig struct {
	// APIKeys lists the accepted keys.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// APIKeyConfig defines an operator API key.
type APIKeyConfig struct {
	// Name identifies the operator in logs and review records.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// KeyHash is an Argon2id PHC string ("dockpilot hash-key <key>") or a
	// SHA-256 hex digest prefixed with "sha256:".
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// Role is "admin", "reviewer" or "viewer".
	Role string `yaml:"role" mapstructure:"role" validate:"required,oneof=admin reviewer viewer"`
}

// RateLimitConfig configures API throttling.
type RateLimitConfig struct {
	// Enabled turns throttling on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ClientRate is the maximum requests per minute per client address.
	// Defaults to 120.
	ClientRate int `yaml:"client_rate" mapstructure:"client_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often idle keys are swept. Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is how long an idle key is kept. Defaults to "1h".
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// devAPIKeyHash is the SHA-256 of "dev-api-key".
const devAPIKeyHash = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// Provide a default admin key if none configured.
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{Name: "dev", KeyHash: devAPIKeyHash, Role: "admin"},
		}
	}
	if c.Journal.Output == "" || c.Journal.Output == "none" {
		c.Journal.Output = "stdout"
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.PIDFile == "" {
		c.Server.PIDFile = "dockpilot.pid"
	}

	// Agent defaults mirror agent.DefaultConfig. viper.IsSet distinguishes
	// "not set" from "explicitly false".
	def := agent.DefaultConfig("")
	if c.Agent.UserID == "" {
		c.Agent.UserID = "default"
	}
	if c.Agent.AutonomyLevel == "" {
		c.Agent.AutonomyLevel = string(def.AutonomyLevel)
	}
	if !viper.IsSet("agent.auto_execute_threshold") {
		c.Agent.AutoExecute = def.AutoExecute
	}
	if !viper.IsSet("agent.learning_enabled") {
		c.Agent.LearningEnabled = def.LearningEnabled
	}
	if !viper.IsSet("agent.proactive_monitoring") {
		c.Agent.ProactiveMonitoring = def.ProactiveMonitoring
	}
	if !viper.IsSet("agent.task_scheduling") {
		c.Agent.TaskScheduling = def.TaskScheduling
	}
	if !viper.IsSet("agent.self_improvement") {
		c.Agent.SelfImprovement = def.SelfImprovement
	}
	if c.Agent.QueueCapacity == 0 {
		c.Agent.QueueCapacity = 100
	}
	if c.Agent.Budget.Period == "" {
		c.Agent.Budget.Period = "1h"
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "dockpilot.db"
	}
	if c.Storage.StateFile == "" {
		c.Storage.StateFile = "state.json"
	}

	// Journal defaults
	if c.Journal.Output == "" {
		c.Journal.Output = "none"
	}
	if c.Journal.ChannelSize == 0 {
		c.Journal.ChannelSize = 1000
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = 100
	}
	if c.Journal.FlushInterval == "" {
		c.Journal.FlushInterval = "1s"
	}
	if c.Journal.SendTimeout == "" {
		c.Journal.SendTimeout = "100ms"
	}
	if c.Journal.WarningThreshold == 0 {
		c.Journal.WarningThreshold = 80
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 1000
	}

	// Executor defaults
	if c.Executor.Type == "" {
		c.Executor.Type = "log"
	}
	if c.Executor.Timeout == "" {
		c.Executor.Timeout = "10s"
	}

	// Monitoring and scheduling
	if c.Monitoring.Interval == "" {
		c.Monitoring.Interval = "5m"
	}
	if !viper.IsSet("monitoring.default_rules") {
		c.Monitoring.DefaultRules = true
	}
	if c.Monitoring.InsightCapacity == 0 {
		c.Monitoring.InsightCapacity = 200
	}
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = "1m"
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stdout"
	}

	// Rate limit defaults: enabled unless explicitly turned off.
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.ClientRate == 0 {
		c.RateLimit.ClientRate = 120
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}
}
