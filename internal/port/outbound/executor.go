// Package outbound defines the outbound port interfaces through which the
// agent acts on the platform.
package outbound

import (
	"context"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// ExecutionResult is what an executor reports for a completed action.
type ExecutionResult struct {
	// Executor names the adapter that ran the action.
	Executor string `json:"executor"`
	// Detail is an adapter-specific summary, e.g. an HTTP status line.
	Detail string `json:"detail,omitempty"`
}

// ActionExecutor carries out approved or auto-executed actions.
// Adapters implement this to reach the platform (webhook, log only).
type ActionExecutor interface {
	// Execute runs the action. A non-nil error marks the action failed.
	Execute(ctx context.Context, action agent.Action) (ExecutionResult, error)
}
