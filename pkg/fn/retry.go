package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// ShouldRetry reports whether a failed attempt is worth repeating.
	// nil retries every error.
	ShouldRetry func(error) bool
}

// DefaultRetry provides sensible retry defaults.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Retry retries f up to MaxAttempts times with exponential backoff.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(result.err) {
			break
		}

		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleepDur > opts.MaxWait {
			sleepDur = opts.MaxWait
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(sleepDur):
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}
