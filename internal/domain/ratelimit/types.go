// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the rate limiting parameters.
type Config struct {
	// Rate is the number of allowed events in the period.
	Rate int

	// Burst is the maximum number of events that can occur at once.
	// Defaults to Rate.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// Enabled reports whether the config limits anything.
func (c Config) Enabled() bool {
	return c.Rate > 0 && c.Period > 0
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the event is allowed.
	Allowed bool

	// Remaining is the number of remaining events in the current window.
	Remaining int

	// RetryAfter is the duration until the next event will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Scope identifies what a rate limit key counts.
type Scope string

const (
	// ScopeCategory counts automatic executions per action category.
	ScopeCategory Scope = "category"

	// ScopeClient counts API requests per client address.
	ScopeClient Scope = "client"
)

// Key returns a structured rate limit key, e.g. "category:file_upload".
func Key(scope Scope, value string) string {
	return fmt.Sprintf("%s:%s", scope, value)
}
