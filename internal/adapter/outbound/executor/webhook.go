package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
	"github.com/dockvault/dockpilot/internal/port/outbound"
)

const (
	// DefaultTimeout bounds a single webhook call.
	DefaultTimeout = 10 * time.Second

	// maxResponseBodySize caps how much of the webhook response is read.
	maxResponseBodySize = 64 * 1024

	// maxDetailLen caps the response excerpt kept in results and errors.
	maxDetailLen = 256
)

// ErrWebhookStatus is returned when the webhook answers with a non-2xx status.
var ErrWebhookStatus = errors.New("webhook returned non-success status")

// WebhookPayload is the JSON body posted for each action.
type WebhookPayload struct {
	Action     agent.Action `json:"action"`
	ExecutedAt time.Time    `json:"executed_at"`
}

// WebhookExecutor posts actions as JSON to a platform endpoint.
type WebhookExecutor struct {
	url        string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

// WebhookOption configures a WebhookExecutor.
type WebhookOption func(*WebhookExecutor)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(e *WebhookExecutor) {
		e.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(e *WebhookExecutor) {
		if d > 0 {
			e.httpClient.Timeout = d
		}
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) WebhookOption {
	return func(e *WebhookExecutor) {
		e.token = token
	}
}

// NewWebhookExecutor creates an executor posting to url.
func NewWebhookExecutor(url string, opts ...WebhookOption) *WebhookExecutor {
	e := &WebhookExecutor{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute posts the action. Any 2xx status counts as success.
func (e *WebhookExecutor) Execute(ctx context.Context, action agent.Action) (outbound.ExecutionResult, error) {
	body, err := json.Marshal(WebhookPayload{Action: action, ExecutedAt: e.now()})
	if err != nil {
		return outbound.ExecutionResult{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return outbound.ExecutionResult{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dockpilot-Action-Id", action.ID)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return outbound.ExecutionResult{}, fmt.Errorf("webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	detail := resp.Status
	if s := truncate(string(bytes.TrimSpace(excerpt)), maxDetailLen); s != "" {
		detail += ": " + s
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outbound.ExecutionResult{Executor: "webhook", Detail: detail}, fmt.Errorf("%w: %s", ErrWebhookStatus, detail)
	}
	return outbound.ExecutionResult{Executor: "webhook", Detail: detail}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Compile-time interface verification.
var _ outbound.ActionExecutor = (*WebhookExecutor)(nil)
