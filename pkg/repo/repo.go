// Package repo defines the generic node repository used by the graph sink.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node has the requested id.
var ErrNotFound = errors.New("not found")

// Repository is a generic keyed store of entities that supports idempotent
// writes: upserting the same entity twice leaves one record.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	Upsert(ctx context.Context, entity T) error
}
