package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds the token-bucket parameters for one provider.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimits are conservative per-provider defaults, well below the
// published API limits so parallel fragment processing does not trip quotas.
var DefaultRateLimits = map[string]RateLimitConfig{
	"openai":    {RequestsPerSecond: 3.0, BurstSize: 6},
	"anthropic": {RequestsPerSecond: 2.0, BurstSize: 4},
	"gemini":    {RequestsPerSecond: 2.0, BurstSize: 4},
}

// RateLimiter gates outbound requests to one provider. It combines a token
// bucket with a backoff window recorded from 429 responses.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter creates a limiter for the named provider, falling back to a
// generic configuration when the provider has no entry in DefaultRateLimits.
func NewRateLimiter(providerName string) *RateLimiter {
	cfg, ok := DefaultRateLimits[providerName]
	if !ok {
		cfg = RateLimitConfig{RequestsPerSecond: 5.0, BurstSize: 10}
	}
	return NewRateLimiterWithConfig(cfg)
}

// NewRateLimiterWithConfig creates a limiter with explicit parameters.
func NewRateLimiterWithConfig(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// Wait blocks until a request may be sent, honouring both any recorded 429
// backoff window and the token bucket. It returns early if ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(retryAt)):
		}
	}

	return r.limiter.Wait(ctx)
}

// RecordRateLimitError records a 429 from the provider and opens a backoff
// window. retryAfterSeconds ≤ 0 falls back to 60 seconds.
func (r *RateLimiter) RecordRateLimitError(retryAfterSeconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if retryAfterSeconds <= 0 {
		retryAfterSeconds = 60
	}
	r.retryAt = time.Now().Add(time.Duration(retryAfterSeconds) * time.Second)
}

// Allow reports whether a request may be sent right now without blocking.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}
