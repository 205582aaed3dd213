package auth

import (
	"context"
	"time"
)

// RetryPolicy bounds the 401-then-refresh retry loop of the request client.
// The policy is a value so tests can exercise it independently of any HTTP
// machinery.
type RetryPolicy struct {
	// MaxAttempts is the number of refresh-and-retry cycles permitted after
	// the initial request.
	MaxAttempts int

	// Cap bounds the exponential backoff between cycles.
	Cap time.Duration

	// Sleep waits for the given duration. Nil uses a context-aware
	// time.After sleep; tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the documented defaults: three retries with
// backoff capped at eight seconds, for a worst case of roughly 1+2+4 seconds
// of added latency.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Cap: 8 * time.Second}
}

// Backoff returns the delay before retry cycle attempt (zero-based):
// min(2^attempt, Cap) seconds.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1 << attempt would overflow for absurd attempt values; the cap makes
	// anything past a handful of cycles equivalent anyway.
	if attempt > 30 {
		return p.Cap
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

// Wait sleeps for the attempt's backoff, honoring context cancellation.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
