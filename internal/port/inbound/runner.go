// Package inbound defines the inbound port interfaces driven by the
// process entry point.
package inbound

import (
	"context"
)

// Runner is a background loop owned by the server process (monitoring,
// scheduling).
type Runner interface {
	// Run blocks until ctx is cancelled.
	// Returns nil on graceful shutdown, error on failure.
	Run(ctx context.Context) error
}
