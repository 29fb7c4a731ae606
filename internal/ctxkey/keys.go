// Package ctxkey holds the context key types shared by the HTTP server and
// the operator API. It imports nothing from internal/.
package ctxkey

// LoggerKey carries the request-scoped *slog.Logger. The server stores one
// tagged with request_id; the API re-stores it tagged with the operator.
type LoggerKey struct{}

// ClientIPKey carries the client address resolved from proxy headers. The
// operator API throttles callers by it.
type ClientIPKey struct{}

// RequestIDKey carries the X-Request-ID of the current request.
type RequestIDKey struct{}
