// Package resilience provides the request throttle and circuit breaker shared
// by every call a run makes against the remote search endpoint.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/WessleyAI/reddit-monitor/pkg/fn"
)

// Circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, reject calls
	StateHalfOpen              // allowing a probe call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
	// IsFailure reports whether an error counts against the endpoint. Errors
	// it rejects are returned unchanged and count as a healthy response. Nil
	// counts every error.
	IsFailure func(error) bool
	// OnStateChange is called (outside the lock) after every transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, _ := b.currentState()
	return st
}

// currentState returns state, transitioning open→half-open if timeout
// elapsed. The second value reports whether that transition happened. Must
// hold mu.
func (b *Breaker) currentState() (State, bool) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
		return b.state, true
	}
	return b.state, false
}

func (b *Breaker) notify(from, to State) {
	if b.opts.OnStateChange != nil && from != to {
		b.opts.OnStateChange(from, to)
	}
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	r := CallResult(b, ctx, func(ctx context.Context) fn.Result[struct{}] {
		if err := f(ctx); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	_, err := r.Unwrap()
	return err
}

// CallResult is a generic version of Call that works with fn.Result.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	return CallClassified(b, ctx, b.opts.IsFailure, f)
}

// CallClassified is CallResult with a per-call failure classifier that
// overrides BreakerOpts.IsFailure.
func CallClassified[T any](b *Breaker, ctx context.Context, isFailure func(error) bool, f func(context.Context) fn.Result[T]) fn.Result[T] {
	b.mu.Lock()
	st, probed := b.currentState()

	switch st {
	case StateOpen:
		b.mu.Unlock()
		return fn.Err[T](ErrCircuitOpen)
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			b.mu.Unlock()
			return fn.Err[T](ErrCircuitOpen)
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()
	if probed {
		b.notify(StateOpen, StateHalfOpen)
	}

	result := f(ctx)
	failed := result.IsErr()
	if failed && isFailure != nil {
		_, err := result.Unwrap()
		failed = isFailure(err)
	}

	b.mu.Lock()
	from := b.state
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return result
}
