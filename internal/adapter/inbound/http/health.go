package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/approval"
	"github.com/dockvault/dockpilot/internal/service"
)

// Health statuses. Degraded still answers 200; unhealthy answers 503.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	// journalUnhealthyPercent is the channel fill level at which decisions
	// start being dropped from the journal.
	journalUnhealthyPercent = 90
	defaultPingTimeout      = 2 * time.Second
)

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Pinger is a database the health check can reach, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker reports on the approval queue, the decision journal and,
// for the sqlite backend, the database.
type HealthChecker struct {
	queue       *approval.Queue
	journal     *service.JournalService
	db          Pinger
	version     string
	pingTimeout time.Duration
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithDatabase adds a connectivity check for db.
func WithDatabase(db Pinger) HealthOption {
	return func(h *HealthChecker) {
		h.db = db
	}
}

// NewHealthChecker creates a HealthChecker. Nil components are reported as
// not configured.
func NewHealthChecker(queue *approval.Queue, journal *service.JournalService, version string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		queue:       queue,
		journal:     journal,
		version:     version,
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check runs every check. An approval queue filled with pending actions
// degrades the service, since the next request_approval decision evicts the
// oldest of them. A
// backed-up journal or an unreachable database makes it unhealthy.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	status := StatusHealthy
	worsen := func(to string) {
		if to == StatusUnhealthy || status == StatusHealthy {
			status = to
		}
	}

	if h.queue != nil {
		pending, capacity := h.queue.Len(approval.StatusPending), h.queue.Capacity()
		if pending >= capacity {
			checks["approval_queue"] = fmt.Sprintf("degraded: full (%d pending of %d)", pending, capacity)
			worsen(StatusDegraded)
		} else {
			checks["approval_queue"] = fmt.Sprintf("ok: %d pending", pending)
		}
	} else {
		checks["approval_queue"] = "not configured"
	}

	if h.journal != nil {
		depth, capacity := h.journal.ChannelDepth(), h.journal.ChannelCapacity()
		percent := 0
		if capacity > 0 {
			percent = depth * 100 / capacity
		}
		if percent > journalUnhealthyPercent {
			checks["journal"] = fmt.Sprintf("unhealthy: %d/%d (%d%%)", depth, capacity, percent)
			worsen(StatusUnhealthy)
		} else {
			checks["journal"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percent)
		}
		if drops := h.journal.DroppedRecords(); drops > 0 {
			checks["journal_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["journal"] = "not configured"
	}

	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		err := h.db.PingContext(pingCtx)
		cancel()
		if err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			worsen(StatusUnhealthy)
		} else {
			checks["database"] = "ok"
		}
	}

	checks["goroutines"] = strconv.Itoa(runtime.NumGoroutine())

	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves Check as JSON.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	})
}
