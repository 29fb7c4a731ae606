package api

import (
	"fmt"
	"math"
	"net"
	"net/http"

	"github.com/dockvault/dockpilot/internal/ctxkey"
	"github.com/dockvault/dockpilot/internal/domain/ratelimit"
)

// clientKey identifies the caller for throttling: the address resolved by
// the HTTP middleware, else the connection's remote host.
func clientKey(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxkey.ClientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// throttleMiddleware limits requests per client and answers 429 with a
// Retry-After header when the limit is exceeded. Localhost is exempt.
func (h *Handler) throttleMiddleware(next http.Handler) http.Handler {
	if h.limiter == nil || !h.throttle.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}

		res, err := h.limiter.Allow(r.Context(), ratelimit.Key(ratelimit.ScopeClient, clientKey(r)), h.throttle)
		if err != nil {
			// Fail open on limiter errors.
			loggerFrom(r.Context(), h.logger).Warn("throttle check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
