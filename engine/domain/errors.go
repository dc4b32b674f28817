package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrTotalSearchFailure = errors.New("every query failed")
	ErrNoQueries          = errors.New("no queries configured")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// FetchError is a network, HTTP or decode failure on a single request.
type FetchError struct {
	Op         string // "search" or "comments"
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: http %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed: transport
// errors, 429 and 5xx are retryable, other statuses and decode errors are not.
func (e *FetchError) Retryable() bool {
	var perm *permanentError
	if errors.As(e.Err, &perm) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return true
	}
	return false
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying even without a status code.
func Permanent(err error) error { return &permanentError{err: err} }

// IsRetryable reports whether err is a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable()
}

// StateCorruptError means persisted dedup state could not be parsed.
type StateCorruptError struct {
	Path string
	Err  error
}

func (e *StateCorruptError) Error() string {
	return fmt.Sprintf("state %s is corrupt: %v", e.Path, e.Err)
}

func (e *StateCorruptError) Unwrap() error { return e.Err }
