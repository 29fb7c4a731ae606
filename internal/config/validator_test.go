package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a defaulted, valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{
		Auth: AuthConfig{
			APIKeys: []APIKeyConfig{{Name: "ops", KeyHash: devAPIKeyHash, Role: "admin"}},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// "dockpilot start" with no config file at all.
	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown autonomy level",
			mutate:  func(c *Config) { c.Agent.AutonomyLevel = "reckless" },
			wantErr: "supervised semi-autonomous fully-autonomous",
		},
		{
			name:    "relative journal file",
			mutate:  func(c *Config) { c.Journal.Output = "file://journal.log" },
			wantErr: "file://<absolute-path>",
		},
		{
			name:    "unknown journal scheme",
			mutate:  func(c *Config) { c.Journal.Output = "kafka://events" },
			wantErr: "Journal.Output",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Monitoring.Interval = "often" },
			wantErr: "Monitoring.Interval must be a duration",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Executor.Type = "webhook" },
			wantErr: "webhook_url is required",
		},
		{
			name:    "unknown executor",
			mutate:  func(c *Config) { c.Executor.Type = "ssh" },
			wantErr: "must be one of: log webhook",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "Storage.Path is required",
		},
		{
			name:    "bad key hash",
			mutate:  func(c *Config) { c.Auth.APIKeys[0].KeyHash = "plaintext" },
			wantErr: "argon2id PHC string",
		},
		{
			name:    "unknown role",
			mutate:  func(c *Config) { c.Auth.APIKeys[0].Role = "root" },
			wantErr: "admin reviewer viewer",
		},
		{
			name: "duplicate key name",
			mutate: func(c *Config) {
				c.Auth.APIKeys = append(c.Auth.APIKeys, c.Auth.APIKeys[0])
			},
			wantErr: `duplicate name "ops"`,
		},
		{
			name: "rule with unknown category",
			mutate: func(c *Config) {
				c.Monitoring.Rules = []RuleConfig{{
					Name: "r", Expression: "true", Type: "anomaly", Severity: "info", Title: "t",
					Suggested: &SuggestedActionConfig{Type: "mine", Category: "mining", Impact: "low"},
				}}
			},
			wantErr: `unknown category "mining"`,
		},
		{
			name: "rule confidence out of range",
			mutate: func(c *Config) {
				c.Monitoring.Rules = []RuleConfig{{
					Name: "r", Expression: "true", Type: "anomaly", Severity: "info", Title: "t", Confidence: 1.5,
				}}
			},
			wantErr: "Confidence must be at most 1",
		},
		{
			name: "budget burst below rate",
			mutate: func(c *Config) {
				c.Agent.Budget.Rate = 10
				c.Agent.Budget.Burst = 2
			},
			wantErr: "burst (2) must be at least rate (10)",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.Server.TLSCertFile = "/etc/dockpilot/cert.pem" },
			wantErr: "TLSKeyFile is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_AcceptedVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"journal stdout", func(c *Config) { c.Journal.Output = "stdout" }},
		{"journal file", func(c *Config) { c.Journal.Output = "file:///var/log/dockpilot/journal.log" }},
		{"memory driver", func(c *Config) { c.Storage.Driver, c.Storage.Path = "memory", "" }},
		{"webhook", func(c *Config) {
			c.Executor.Type = "webhook"
			c.Executor.WebhookURL = "https://ops.example.com/dockpilot"
		}},
		{"no keys", func(c *Config) { c.Auth.APIKeys = nil }},
		{"zero send timeout", func(c *Config) { c.Journal.SendTimeout = "0" }},
		{"budget", func(c *Config) { c.Agent.Budget = BudgetConfig{Rate: 5, Burst: 10, Period: "1h"} }},
		{"rule", func(c *Config) {
			c.Monitoring.Rules = []RuleConfig{{
				Name: "queue", Expression: `metric(metrics, "queue_depth") > 50.0`, Type: "warning",
				Severity: "warning", Title: "Docking queue backing up", Confidence: 0.7,
				Suggested: &SuggestedActionConfig{Type: "scale", Category: "batch_operation", Impact: "medium"},
			}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
