// Package executor provides ActionExecutor adapters: a log-only executor for
// dry deployments and a webhook executor that posts actions to the platform.
package executor

import (
	"context"
	"log/slog"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/port/outbound"
)

// LogExecutor records actions in the log instead of running them.
type LogExecutor struct {
	logger *slog.Logger
}

// NewLogExecutor creates a LogExecutor.
func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	return &LogExecutor{logger: logger}
}

// Execute logs the action and reports success.
func (e *LogExecutor) Execute(ctx context.Context, action agent.Action) (outbound.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return outbound.ExecutionResult{}, err
	}
	e.logger.Info("action executed",
		"action_id", action.ID,
		"category", action.Category,
		"impact", action.Impact,
		"title", action.Title,
		"resources", action.AffectedResources,
	)
	return outbound.ExecutionResult{Executor: "log", Detail: "logged"}, nil
}

// Compile-time interface verification.
var _ outbound.ActionExecutor = (*LogExecutor)(nil)
