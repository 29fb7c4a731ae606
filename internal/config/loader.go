package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for dockpilot.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself, which
// shares the base name, is never picked up as a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("dockpilot")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: DOCKPILOT_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("DOCKPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches ".", "~/.dockpilot" and the system config directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".dockpilot"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "dockpilot"))
		}
	} else {
		paths = append(paths, "/etc/dockpilot")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first dockpilot.yaml or .yml found in
// paths, or "" if none exists.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "dockpilot"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar config keys for environment variable support.
// Example: DOCKPILOT_AGENT_AUTONOMY_LEVEL overrides agent.autonomy_level
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")
	_ = viper.BindEnv("server.pid_file")

	// Agent config
	_ = viper.BindEnv("agent.user_id")
	_ = viper.BindEnv("agent.autonomy_level")
	_ = viper.BindEnv("agent.learning_enabled")
	_ = viper.BindEnv("agent.proactive_monitoring")
	_ = viper.BindEnv("agent.task_scheduling")
	_ = viper.BindEnv("agent.self_improvement")
	_ = viper.BindEnv("agent.queue_capacity")
	_ = viper.BindEnv("agent.budget.rate")
	_ = viper.BindEnv("agent.budget.burst")
	_ = viper.BindEnv("agent.budget.period")

	// Storage and journal
	_ = viper.BindEnv("storage.driver")
	_ = viper.BindEnv("storage.path")
	_ = viper.BindEnv("storage.state_file")
	_ = viper.BindEnv("journal.output")
	_ = viper.BindEnv("journal.channel_size")
	_ = viper.BindEnv("journal.buffer_size")

	// Executor
	_ = viper.BindEnv("executor.type")
	_ = viper.BindEnv("executor.webhook_url")
	_ = viper.BindEnv("executor.timeout")
	_ = viper.BindEnv("executor.bearer_token")

	// Monitoring, scheduling, tracing
	_ = viper.BindEnv("monitoring.interval")
	_ = viper.BindEnv("monitoring.default_rules")
	_ = viper.BindEnv("scheduler.interval")
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.output")

	// Rate limit config
	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.client_rate")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.max_ttl")

	// Note: auth.api_keys, monitoring.rules and agent.auto_execute_threshold
	// are structured; set them in the config file.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, applies dev defaults and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
