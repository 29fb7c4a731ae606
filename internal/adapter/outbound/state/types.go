// Package state persists the agent's mutable runtime state (autonomy
// configuration and scheduled tasks) in a single JSON file.
package state

import (
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/task"
)

// CurrentVersion is the state file format version written by Save. Load
// refuses files with a higher version.
const CurrentVersion = "1"

const currentVersionNumber = 1

// AppState is the content of state.json.
type AppState struct {
	Version string `json:"version"`
	// Agent is nil until the configuration is first saved; the process
	// then falls back to its static configuration.
	Agent     *agent.Config `json:"agent,omitempty"`
	Tasks     []task.Task   `json:"tasks"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
