package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/journal"
	"github.com/dockvault/dockpilot/internal/service"
)

// actionRequest is the JSON body describing an action.
type actionRequest struct {
	ID                string         `json:"id" validate:"omitempty,max=128"`
	Category          agent.Category `json:"category" validate:"required,category"`
	Impact            agent.Impact   `json:"impact" validate:"required,impact"`
	Parameters        map[string]any `json:"parameters"`
	AffectedResources []string       `json:"affected_resources" validate:"dive,required"`
	Title             string         `json:"title" validate:"max=200"`
	Description       string         `json:"description" validate:"max=2000"`
	Reasoning         string         `json:"reasoning" validate:"max=2000"`
	EstimatedTime     string         `json:"estimated_time" validate:"max=64"`
}

func (a actionRequest) toAction() agent.Action {
	return agent.Action{
		ID:                a.ID,
		Category:          a.Category,
		Impact:            a.Impact,
		Parameters:        a.Parameters,
		AffectedResources: a.AffectedResources,
		Title:             a.Title,
		Description:       a.Description,
		Reasoning:         a.Reasoning,
		EstimatedTime:     a.EstimatedTime,
	}
}

// handlePropose decides on an action and carries the decision out.
// POST /api/v1/actions
func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	action := req.toAction()
	action.UserID = OperatorFromContext(r.Context()).Name
	result, err := h.agent.Propose(r.Context(), action, journal.SourceAPI)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomePendingApproval {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, result)
}

// handleEvaluate returns the decision for an action without acting on it.
// POST /api/v1/decisions/evaluate
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.agent.Evaluate(r.Context(), req.toAction())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}

// handleQueryDecisions returns journaled decisions, newest first.
// GET /api/v1/decisions?verdict=&category=&source=&since=&until=&limit=
func (h *Handler) handleQueryDecisions(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.unavailable(w, "decision journal")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Verdict:  agent.Verdict(q.Get("verdict")),
		Category: agent.Category(q.Get("category")),
		Source:   journal.Source(q.Get("source")),
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				h.respondError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	records, err := h.journal.Query(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	h.respondJSON(w, http.StatusOK, records)
}

// handleListPending lists queued actions.
// GET /api/v1/actions/pending?status=pending|approved|rejected|executed|failed|all
func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	status := approval.Status(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = approval.StatusPending
	case "all":
		status = ""
	case approval.StatusPending, approval.StatusApproved, approval.StatusRejected,
		approval.StatusExecuted, approval.StatusFailed:
	default:
		h.respondError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}

	list := h.agent.Pending(status)
	if list == nil {
		list = []approval.PendingAction{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// handleGetPending returns one queued action.
// GET /api/v1/actions/{id}
func (h *Handler) handleGetPending(w http.ResponseWriter, r *http.Request) {
	p, err := h.agent.GetPending(r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// approveRequest optionally replaces the action's parameters.
type approveRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// handleApprove approves and executes a queued action.
// POST /api/v1/actions/{id}/approve
func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := h.readOptionalJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.agent.Approve(r.Context(), r.PathValue("id"), OperatorFromContext(r.Context()).Name, req.Parameters)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// rejectRequest carries an optional rejection reason.
type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// handleReject rejects a queued action.
// POST /api/v1/actions/{id}/reject
func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := h.readOptionalJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected by operator"
	}

	p, err := h.agent.Reject(r.Context(), r.PathValue("id"), OperatorFromContext(r.Context()).Name, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// readOptionalJSON is readJSON for routes whose body may be empty.
func (h *Handler) readOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := h.readJSON(w, r, v)
	if err != nil && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
