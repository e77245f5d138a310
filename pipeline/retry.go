package pipeline

import (
	"context"
	"time"
)

// RetryOptions configures RetryDeliver's exponential backoff.
type RetryOptions struct {
	// MaxAttempts bounds the number of calls to deliver, including the
	// first. Defaults to 5 when zero.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles after each
	// subsequent failure. Defaults to 200ms when zero.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay. Defaults to 10s when zero.
	MaxDelay time.Duration
}

// RetryDeliver calls deliver until it succeeds, ctx is canceled, or
// MaxAttempts is exhausted, backing off exponentially between attempts. It
// returns the last error on exhaustion.
func RetryDeliver(ctx context.Context, opts RetryOptions, deliver func(ctx context.Context) error) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	delay := base
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		lastErr = deliver(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
