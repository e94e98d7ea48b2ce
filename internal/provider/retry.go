package provider

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls how a failed generate call is retried. Only kinds for
// which ErrorKind.Retryable is true are attempted again; auth failures and
// malformed responses surface immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; each subsequent
	// delay doubles, capped at MaxDelay. Full jitter is applied.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches the production settings: three attempts,
// exponential backoff from 2s capped at 10s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    10 * time.Second,
}

// delay returns the backoff before attempt n (n starts at 1 for the first
// retry), with full jitter.
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

// Retry invokes call until it succeeds, fails with a non-retryable kind, or
// the policy's attempts are exhausted. The context bounds the total time
// including backoff sleeps; when it expires the last error is returned, or a
// timeout if no attempt completed.
func Retry(ctx context.Context, providerName string, policy RetryPolicy, call func(ctx context.Context) (*GenerateResult, error)) (*GenerateResult, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastResult *GenerateResult
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastResult, lastErr
			}
			return nil, NewError(providerName, KindTimeout, err)
		}

		res, err := call(ctx)
		if err == nil {
			return res, nil
		}
		lastResult, lastErr = res, err

		if !KindOf(err).Retryable() || attempt == attempts {
			return lastResult, lastErr
		}

		select {
		case <-ctx.Done():
			return lastResult, lastErr
		case <-time.After(policy.delay(attempt)):
		}
	}

	return lastResult, lastErr
}
