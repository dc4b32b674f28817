package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is the single gate every remote request of a run passes through.
// Successive Wait returns are spaced at least Delay apart process-wide,
// however many goroutines share the throttle.
//
// Pacing is done by a burst-1 rate.Limiter (FIFO reservations, context
// aware); the mutex-guarded last-start floor makes the spacing a hard
// guarantee even when a reservation fires late for one caller and on time
// for the next.
type Throttle struct {
	delay time.Duration
	lim   *rate.Limiter

	mu   sync.Mutex
	last time.Time
	n    int

	now       func() time.Time
	onAcquire func(time.Time) // for testing
}

// NewThrottle creates a throttle enforcing delay between request starts.
// A non-positive delay disables throttling.
func NewThrottle(delay time.Duration) *Throttle {
	lim := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &Throttle{delay: delay, lim: lim, now: time.Now}
}

// Delay returns the configured minimum spacing.
func (t *Throttle) Delay() time.Duration { return t.delay }

// Wait blocks until the caller may start a request or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() {
		if gap := t.delay - t.now().Sub(t.last); gap > 0 {
			timer := time.NewTimer(gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	t.last = t.now()
	t.n++
	if t.onAcquire != nil {
		t.onAcquire(t.last)
	}
	return nil
}

// Acquired returns how many requests have passed the gate.
func (t *Throttle) Acquired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}
