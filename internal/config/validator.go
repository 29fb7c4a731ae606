package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/auth"
)

// RegisterCustomValidators registers dockpilot-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"output_target":  validateOutputTarget,
		"autonomy_level": validateAutonomyLevel,
		"category":       validateCategory,
		"impact":         validateImpact,
		"duration":       validateDuration,
		"key_hash":       validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateOutputTarget accepts "none", "stdout" or "file://<absolute-path>".
func validateOutputTarget(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" || output == "none" {
		return true
	}
	if path, ok := strings.CutPrefix(output, "file://"); ok {
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

func validateAutonomyLevel(fl validator.FieldLevel) bool {
	return agent.AutonomyLevel(fl.Field().String()).Validate() == nil
}

func validateCategory(fl validator.FieldLevel) bool {
	return agent.Category(fl.Field().String()).Validate() == nil
}

func validateImpact(fl validator.FieldLevel) bool {
	return agent.Impact(fl.Field().String()).Validate() == nil
}

// validateDuration accepts any positive time.ParseDuration string, or "0".
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashUnknown
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUniqueNames(); err != nil {
		return err
	}

	if err := c.validateBudget(); err != nil {
		return err
	}

	if c.Executor.Type == "webhook" && c.Executor.WebhookURL == "" {
		return errors.New("executor: webhook_url is required when type is webhook")
	}

	return nil
}

// validateUniqueNames ensures API key names and rule names are not reused.
func (c *Config) validateUniqueNames() error {
	keys := make(map[string]struct{}, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if _, dup := keys[k.Name]; dup {
			return fmt.Errorf("auth.api_keys[%d]: duplicate name %q", i, k.Name)
		}
		keys[k.Name] = struct{}{}
	}

	rules := make(map[string]struct{}, len(c.Monitoring.Rules))
	for i, r := range c.Monitoring.Rules {
		if _, dup := rules[r.Name]; dup {
			return fmt.Errorf("monitoring.rules[%d]: duplicate name %q", i, r.Name)
		}
		rules[r.Name] = struct{}{}
	}
	return nil
}

// validateBudget rejects a burst smaller than the rate it is meant to absorb.
func (c *Config) validateBudget() error {
	b := c.Agent.Budget
	if b.Rate > 0 && b.Burst > 0 && b.Burst < b.Rate {
		return fmt.Errorf("agent.budget: burst (%d) must be at least rate (%d)", b.Burst, b.Rate)
	}
	if b.Rate > 0 {
		if d, _ := time.ParseDuration(b.Period); d <= 0 {
			return errors.New("agent.budget: period must be positive when rate is set")
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "output_target":
		return fmt.Sprintf("%s must be 'none', 'stdout' or 'file://<absolute-path>'", field)
	case "autonomy_level":
		return fmt.Sprintf("%s must be one of: supervised semi-autonomous fully-autonomous", field)
	case "category", "impact":
		return fmt.Sprintf("%s: unknown %s %q", field, tag, e.Value())
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"30s\" or \"5m\"", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id PHC string or a sha256 hex digest", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
