package api

import (
	"net/http"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// feedbackRequest is feedback given outside the approval queue.
type feedbackRequest struct {
	Category agent.Category        `json:"category" validate:"required,category"`
	Verdict  agent.FeedbackVerdict `json:"verdict" validate:"required,feedback_verdict"`
	Context  map[string]any        `json:"context"`
}

// handleRecordFeedback records a feedback record.
// POST /api/v1/feedback
func (h *Handler) handleRecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := h.agent.RecordFeedback(r.Context(), req.Category, req.Verdict, req.Context)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, f)
}

// handleFeedbackHistory returns every feedback record, optionally for one category.
// GET /api/v1/feedback?category=
func (h *Handler) handleFeedbackHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.agent.History(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	out := make([]agent.Feedback, 0, len(history))
	category := agent.Category(r.URL.Query().Get("category"))
	for _, f := range history {
		if category == "" || f.Category == category {
			out = append(out, f)
		}
	}
	h.respondJSON(w, http.StatusOK, out)
}

// handleFeedbackSummary returns the learned pattern per category.
// GET /api/v1/feedback/summary
func (h *Handler) handleFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.agent.FeedbackSummary(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}
