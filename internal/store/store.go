// Package store persists the cached user collection.
//
// A Store holds at most one collection of records under its key. WriteAll
// replaces the collection wholesale; there is no append and no per-record
// versioning. Stores do not serialize their own writers; callers that can
// race must funnel writes through a single writer.
package store

import (
	"context"
	"errors"

	"github.com/klauern/usersync/internal/model"
)

// DefaultKey is the logical key the user collection is stored under.
const DefaultKey = "users"

var (
	// ErrLoad is returned when the collection is absent or cannot be decoded.
	ErrLoad = errors.New("store: load failed")
	// ErrInsert is returned when the collection cannot be written.
	ErrInsert = errors.New("store: insert failed")
	// ErrDelete is returned when the collection cannot be removed.
	ErrDelete = errors.New("store: delete failed")
)

// Store is the cache store consumed by the repository.
type Store interface {
	// ReadAll returns the persisted collection.
	ReadAll(ctx context.Context) ([]model.Record, error)
	// WriteAll overwrites the persisted collection.
	WriteAll(ctx context.Context, records []model.Record) error
	// Clear removes the persisted collection. Clearing an absent collection
	// is not an error.
	Clear(ctx context.Context) error
}
