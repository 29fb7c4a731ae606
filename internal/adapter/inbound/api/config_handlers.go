package api

import (
	"net/http"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/service"
)

// configPatchRequest is a partial autonomy configuration update.
type configPatchRequest struct {
	AutonomyLevel       *agent.AutonomyLevel `json:"autonomy_level" validate:"omitempty,autonomy_level"`
	AutoExecute         *agent.Thresholds    `json:"auto_execute_threshold"`
	LearningEnabled     *bool                `json:"learning_enabled"`
	ProactiveMonitoring *bool                `json:"proactive_monitoring"`
	TaskScheduling      *bool                `json:"task_scheduling"`
	SelfImprovement     *bool                `json:"self_improvement"`
}

// handleGetConfig returns the active autonomy configuration.
// GET /api/v1/config
func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.agent.Config()
	if cfg == nil {
		h.respondError(w, http.StatusNotFound, "agent is not configured")
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig applies a partial update, persists and activates it.
// PUT|PATCH /api/v1/config
func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configPatchRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.agent.UpdateConfig(r.Context(), service.ConfigPatch{
		AutonomyLevel:       req.AutonomyLevel,
		AutoExecute:         req.AutoExecute,
		LearningEnabled:     req.LearningEnabled,
		ProactiveMonitoring: req.ProactiveMonitoring,
		TaskScheduling:      req.TaskScheduling,
		SelfImprovement:     req.SelfImprovement,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}
