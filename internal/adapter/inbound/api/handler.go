// Package api serves the operator JSON API: proposing and reviewing actions,
// feedback, autonomy configuration, insights, tasks and statistics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/memory"
	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/domain/auth"
	"github.com/dockvault/dockpilot/internal/domain/insight"
	"github.com/dockvault/dockpilot/internal/domain/ratelimit"
	"github.com/dockvault/dockpilot/internal/domain/task"
	"github.com/dockvault/dockpilot/internal/service"
)

// Prefix is the path prefix of every route.
const Prefix = "/api/v1"

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Handler serves the operator API.
type Handler struct {
	agent     *service.AgentService
	journal   *service.JournalService
	monitor   *service.MonitorService
	scheduler *service.SchedulerService
	board     *memory.MetricsBoard
	auth      *auth.Authenticator
	limiter   ratelimit.Limiter
	throttle  ratelimit.Config
	validate  *validator.Validate
	buildInfo *BuildInfo
	logger    *slog.Logger
	startTime time.Time
}

// Option configures a Handler dependency.
type Option func(*Handler)

// WithJournal enables GET /decisions.
func WithJournal(j *service.JournalService) Option {
	return func(h *Handler) { h.journal = j }
}

// WithMonitor enables the insight routes.
func WithMonitor(m *service.MonitorService) Option {
	return func(h *Handler) { h.monitor = m }
}

// WithScheduler enables the task routes.
func WithScheduler(s *service.SchedulerService) Option {
	return func(h *Handler) { h.scheduler = s }
}

// WithMetricsBoard enables PUT /metrics.
func WithMetricsBoard(b *memory.MetricsBoard) Option {
	return func(h *Handler) { h.board = b }
}

// WithAuthenticator requires API keys. Without configured keys the API is
// only reachable from localhost.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

// WithThrottle limits requests per client.
func WithThrottle(limiter ratelimit.Limiter, cfg ratelimit.Config) Option {
	return func(h *Handler) {
		h.limiter = limiter
		h.throttle = cfg
	}
}

// WithBuildInfo sets the version reported by GET /system.
func WithBuildInfo(info *BuildInfo) Option {
	return func(h *Handler) { h.buildInfo = info }
}

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) Option {
	return func(h *Handler) { h.startTime = t }
}

// NewHandler creates a Handler around the agent service.
func NewHandler(agentSvc *service.AgentService, opts ...Option) *Handler {
	h := &Handler{
		agent:     agentSvc,
		validate:  newValidator(),
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with every route registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Actions and approvals.
	mux.Handle("POST "+Prefix+"/actions", h.require(auth.RoleReviewer, h.handlePropose))
	mux.Handle("POST "+Prefix+"/decisions/evaluate", h.require(auth.RoleReviewer, h.handleEvaluate))
	mux.Handle("GET "+Prefix+"/decisions", h.require(auth.RoleViewer, h.handleQueryDecisions))
	mux.Handle("GET "+Prefix+"/actions/pending", h.require(auth.RoleViewer, h.handleListPending))
	mux.Handle("GET "+Prefix+"/actions/{id}", h.require(auth.RoleViewer, h.handleGetPending))
	mux.Handle("POST "+Prefix+"/actions/{id}/approve", h.require(auth.RoleReviewer, h.handleApprove))
	mux.Handle("POST "+Prefix+"/actions/{id}/reject", h.require(auth.RoleReviewer, h.handleReject))

	// Learning and configuration.
	mux.Handle("POST "+Prefix+"/feedback", h.require(auth.RoleReviewer, h.handleRecordFeedback))
	mux.Handle("GET "+Prefix+"/feedback", h.require(auth.RoleViewer, h.handleFeedbackHistory))
	mux.Handle("GET "+Prefix+"/feedback/summary", h.require(auth.RoleViewer, h.handleFeedbackSummary))
	mux.Handle("GET "+Prefix+"/config", h.require(auth.RoleViewer, h.handleGetConfig))
	mux.Handle("PUT "+Prefix+"/config", h.require(auth.RoleAdmin, h.handleUpdateConfig))
	mux.Handle("PATCH "+Prefix+"/config", h.require(auth.RoleAdmin, h.handleUpdateConfig))

	// Monitoring.
	mux.Handle("GET "+Prefix+"/insights", h.require(auth.RoleViewer, h.handleListInsights))
	mux.Handle("POST "+Prefix+"/insights/scan", h.require(auth.RoleAdmin, h.handleScanInsights))
	mux.Handle("POST "+Prefix+"/insights/{id}/acknowledge", h.require(auth.RoleReviewer, h.handleAcknowledgeInsight))
	mux.Handle("GET "+Prefix+"/metrics", h.require(auth.RoleViewer, h.handleGetMetrics))
	mux.Handle("PUT "+Prefix+"/metrics", h.require(auth.RoleReviewer, h.handlePutMetrics))

	// Tasks.
	mux.Handle("GET "+Prefix+"/tasks", h.require(auth.RoleViewer, h.handleListTasks))
	mux.Handle("POST "+Prefix+"/tasks", h.require(auth.RoleAdmin, h.handleCreateTask))
	mux.Handle("POST "+Prefix+"/tasks/run", h.require(auth.RoleAdmin, h.handleRunTasks))
	mux.Handle("GET "+Prefix+"/tasks/{id}", h.require(auth.RoleViewer, h.handleGetTask))
	mux.Handle("DELETE "+Prefix+"/tasks/{id}", h.require(auth.RoleAdmin, h.handleDeleteTask))
	mux.Handle("POST "+Prefix+"/tasks/{id}/pause", h.require(auth.RoleAdmin, h.handlePauseTask))
	mux.Handle("POST "+Prefix+"/tasks/{id}/resume", h.require(auth.RoleAdmin, h.handleResumeTask))

	// Stats and system info.
	mux.Handle("GET "+Prefix+"/stats", h.require(auth.RoleViewer, h.handleGetStats))
	mux.Handle("GET "+Prefix+"/system", h.require(auth.RoleViewer, h.handleSystemInfo))

	return h.throttleMiddleware(h.authMiddleware(mux))
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors to status codes. Unexpected
// errors are logged and reported without detail.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, task.ErrNotFound),
		errors.Is(err, insight.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, approval.ErrDuplicateID):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, agent.ErrUnrecognizedEnum),
		errors.Is(err, task.ErrInvalidTask):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrJournalNotQueryable):
		h.respondError(w, http.StatusNotImplemented, err.Error())
	default:
		loggerFrom(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readJSON decodes the request body into v and validates it.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := h.validate.Struct(v); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// unavailable reports a route whose backing service is not configured.
func (h *Handler) unavailable(w http.ResponseWriter, what string) {
	h.respondError(w, http.StatusServiceUnavailable, what+" is not enabled")
}
