package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/service"
)

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	service.Stats
	Decisions      int64  `json:"decisions"`
	Pending        int    `json:"pending"`
	JournalDropped int64  `json:"journal_dropped"`
	JournalBacklog int    `json:"journal_backlog"`
	Tasks          int    `json:"tasks"`
	OpenInsights   int    `json:"open_insights"`
	AutonomyLevel  string `json:"autonomy_level,omitempty"`
}

// handleGetStats returns decision counters and queue sizes.
// GET /api/v1/stats
func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.agent.Stats().GetStats()
	resp := StatsResponse{
		Stats:     stats,
		Decisions: stats.Decisions(),
		Pending:   len(h.agent.Pending(approval.StatusPending)),
	}
	if resp.CategoryCounts == nil {
		resp.CategoryCounts = make(map[agent.Category]int64)
	}
	if h.journal != nil {
		resp.JournalDropped = h.journal.DroppedRecords()
		resp.JournalBacklog = h.journal.ChannelDepth()
	}
	if h.scheduler != nil {
		resp.Tasks = len(h.scheduler.ListTasks())
	}
	if h.monitor != nil {
		if open, err := h.monitor.Insights(r.Context(), false); err == nil {
			resp.OpenInsights = len(open)
		}
	}
	if cfg := h.agent.Config(); cfg != nil {
		resp.AutonomyLevel = string(cfg.AutonomyLevel)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// systemResponse describes the running process.
type systemResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Uptime    string `json:"uptime"`
	StartedAt string `json:"started_at"`
}

// handleSystemInfo returns build and runtime information.
// GET /api/v1/system
func (h *Handler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	resp := systemResponse{
		Version:   "dev",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		StartedAt: h.startTime.Format(time.RFC3339),
	}
	if h.buildInfo != nil {
		resp.Version = h.buildInfo.Version
		resp.Commit = h.buildInfo.Commit
		resp.BuildDate = h.buildInfo.BuildDate
	}
	h.respondJSON(w, http.StatusOK, resp)
}
