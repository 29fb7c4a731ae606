package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter using GCRA in memory.
// A background sweep removes idle keys so memory stays bounded.
type RateLimiter struct {
	cells map[string]time.Time // theoretical arrival time per key
	mu    sync.Mutex
	now   func() time.Time

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// NewRateLimiter creates a limiter that sweeps every 5 minutes and drops
// keys idle for an hour.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, time.Hour)
}

// NewRateLimiterWithConfig creates a limiter with custom sweep settings.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		cells:           make(map[string]time.Time),
		now:             time.Now,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
	}
}

// Allow consumes one event for key under cfg. A disabled cfg always allows.
func (r *RateLimiter) Allow(_ context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	if !cfg.Enabled() {
		return ratelimit.Result{Allowed: true}, nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	emission := cfg.Period / time.Duration(cfg.Rate)
	burstOffset := time.Duration(cfg.Burst) * emission

	tat, ok := r.cells[key]
	if !ok || tat.Before(now) {
		tat = now
	}

	allowAt := tat.Add(emission - burstOffset)
	if now.Before(allowAt) {
		return ratelimit.Result{Allowed: false, RetryAfter: allowAt.Sub(now)}, nil
	}

	newTAT := tat.Add(emission)
	r.cells[key] = newTAT

	remaining := int((burstOffset - newTAT.Sub(now)) / emission)
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{Allowed: true, Remaining: remaining}, nil
}

// StartCleanup starts the background sweep. It stops when ctx is cancelled
// or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	cleaned := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.cells))
	}
}

// Stop stops the sweep and waits for it to exit. Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)
