package ratelimit

import "context"

// Limiter decides whether an event identified by key fits within a Config.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// events evenly over the period instead of resetting at window boundaries.
type Limiter interface {
	// Allow consumes one event for key if the limit permits it.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}
