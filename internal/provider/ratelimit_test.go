package provider

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if rl.Allow() {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiter_BackoffWindowBlocks(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100})

	rl.RecordRateLimitError(30)
	if rl.Allow() {
		t.Error("Allow should be false inside the recorded backoff window")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should fail when the backoff window outlasts the context")
	}
}

func TestRateLimiter_ZeroRetryAfterDefaultsTo60s(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100})

	rl.RecordRateLimitError(0)

	rl.mu.Lock()
	remaining := time.Until(rl.retryAt)
	rl.mu.Unlock()

	if remaining < 55*time.Second || remaining > 60*time.Second {
		t.Errorf("backoff window = %v, want ~60s", remaining)
	}
}

func TestNewRateLimiter_UnknownProviderGetsDefaults(t *testing.T) {
	rl := NewRateLimiter("something-else")
	if rl == nil {
		t.Fatal("expected non-nil limiter")
	}
	if !rl.Allow() {
		t.Error("fresh limiter should allow a request")
	}
}
