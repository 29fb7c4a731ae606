package api

import (
	"net/http"
	"strconv"

	"github.com/dockvault/dockpilot/internal/domain/insight"
)

// handleListInsights lists raised insights, newest first.
// GET /api/v1/insights?all=true
func (h *Handler) handleListInsights(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		h.unavailable(w, "monitoring")
		return
	}

	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	list, err := h.monitor.Insights(r.Context(), all)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []insight.Insight{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// handleScanInsights runs every detector now.
// POST /api/v1/insights/scan
func (h *Handler) handleScanInsights(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		h.unavailable(w, "monitoring")
		return
	}

	raised, err := h.monitor.RunOnce(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if raised == nil {
		raised = []insight.Insight{}
	}
	h.respondJSON(w, http.StatusOK, raised)
}

// handleAcknowledgeInsight marks an insight as seen.
// POST /api/v1/insights/{id}/acknowledge
func (h *Handler) handleAcknowledgeInsight(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		h.unavailable(w, "monitoring")
		return
	}

	in, err := h.monitor.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, in)
}

// handleGetMetrics returns the metrics detectors and triggers see.
// GET /api/v1/metrics
func (h *Handler) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.monitor != nil {
		h.respondJSON(w, http.StatusOK, h.monitor.Metrics())
		return
	}
	if h.board != nil {
		m, _ := h.board.Snapshot()
		h.respondJSON(w, http.StatusOK, m)
		return
	}
	h.unavailable(w, "metrics board")
}

// metricsRequest pushes platform metrics.
type metricsRequest struct {
	Metrics insight.Metrics `json:"metrics" validate:"required,min=1,dive,keys,required,max=128,endkeys"`
	Replace bool            `json:"replace"`
}

// handlePutMetrics merges pushed metrics into the board.
// PUT /api/v1/metrics
func (h *Handler) handlePutMetrics(w http.ResponseWriter, r *http.Request) {
	if h.board == nil {
		h.unavailable(w, "metrics board")
		return
	}

	var req metricsRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.board.Put(req.Metrics, req.Replace)
	snapshot, updated := h.board.Snapshot()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"metrics":    snapshot,
		"updated_at": updated,
	})
}
