// Package http serves the dockpilot operator API over HTTP.
//
// The Server mounts three kinds of routes on one listener:
//
//	/api/v1/...  - operator API (actions, approvals, feedback, insights, tasks)
//	/health      - component health as JSON, 503 when degraded
//	/metrics     - Prometheus exposition
//
// # Middleware Chain
//
// Requests pass through middleware in this order (outermost first):
//
//  1. MetricsMiddleware - request count and duration
//  2. RequestIDMiddleware - X-Request-ID propagation and an enriched logger
//  3. RealIPMiddleware - client address from proxy headers
//  4. DNSRebindingProtection - Origin allowlist
//  5. API handler - authentication, throttling and routing
//
// # Security
//
// With WithTLS the server enforces TLS 1.2 or newer. Requests carrying an
// Origin header outside the allowlist are refused, so browsers on other
// sites cannot drive the API.
package http
