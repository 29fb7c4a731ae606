package api

import (
	"net/http"

	"github.com/dockvault/dockpilot/internal/domain/task"
	"github.com/dockvault/dockpilot/internal/service"
)

// taskRequest defines a new task.
type taskRequest struct {
	Type     task.Type      `json:"type" validate:"required,oneof=scheduled triggered proactive"`
	Action   actionRequest  `json:"action"`
	Schedule *task.Schedule `json:"schedule" validate:"required_unless=Type triggered"`
	Trigger  *task.Trigger  `json:"trigger" validate:"required_if=Type triggered"`
	Priority task.Priority  `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

// handleListTasks lists every task.
// GET /api/v1/tasks
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}
	list := h.scheduler.ListTasks()
	if list == nil {
		list = []task.Task{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// handleCreateTask adds a task.
// POST /api/v1/tasks
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}

	var req taskRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.scheduler.AddTask(r.Context(), task.Task{
		Type:     req.Type,
		Action:   req.Action.toAction(),
		Schedule: req.Schedule,
		Trigger:  req.Trigger,
		Priority: req.Priority,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, t)
}

// handleRunTasks runs every due task now.
// POST /api/v1/tasks/run
func (h *Handler) handleRunTasks(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}

	runs, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []service.TaskRun{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

// handleGetTask returns one task.
// GET /api/v1/tasks/{id}
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}
	t, err := h.scheduler.GetTask(r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, t)
}

// handleDeleteTask removes a task.
// DELETE /api/v1/tasks/{id}
func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}
	if err := h.scheduler.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePauseTask stops a task from running.
// POST /api/v1/tasks/{id}/pause
func (h *Handler) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}
	t, err := h.scheduler.PauseTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, t)
}

// handleResumeTask makes a paused or failed task pending again.
// POST /api/v1/tasks/{id}/resume
func (h *Handler) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.unavailable(w, "task scheduling")
		return
	}
	t, err := h.scheduler.ResumeTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, t)
}
