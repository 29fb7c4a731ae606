package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/dockvault/dockpilot/internal/ctxkey"
	"github.com/dockvault/dockpilot/internal/domain/auth"
)

type operatorContextKey struct{}

// localOperator is the identity given to localhost callers when no API keys are configured.
var localOperator = &auth.Operator{Name: "local", Role: auth.RoleAdmin}

// OperatorFromContext returns the authenticated operator, or nil.
func OperatorFromContext(ctx context.Context) *auth.Operator {
	op, _ := ctx.Value(operatorContextKey{}).(*auth.Operator)
	return op
}

// loggerFrom returns the request-scoped logger set by the HTTP middleware.
func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is intentionally NOT trusted here.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// apiKeyFromRequest reads the key from "Authorization: Bearer" or X-API-Key.
func apiKeyFromRequest(r *http.Request) string {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// authMiddleware resolves the operator. With API keys configured every
// request needs a valid key; otherwise only localhost is served.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var op *auth.Operator
		if h.auth == nil || !h.auth.Enabled() {
			if !isLocalhost(r) {
				h.respondError(w, http.StatusForbidden, "API requires localhost access when no API keys are configured")
				return
			}
			op = localOperator
		} else {
			var err error
			op, err = h.auth.Authenticate(apiKeyFromRequest(r))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dockpilot"`)
				h.respondError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}

		ctx := context.WithValue(r.Context(), operatorContextKey{}, op)
		logger := loggerFrom(ctx, h.logger).With("operator", op.Name)
		ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require wraps fn so it only runs for operators holding role.
func (h *Handler) require(role auth.Role, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !OperatorFromContext(r.Context()).Allows(role) {
			h.respondError(w, http.StatusForbidden, "requires "+string(role)+" role")
			return
		}
		fn(w, r)
	})
}
