// Package recordstore exposes the single-row conditional primitives the rest
// of the system is built on: get, insert-if-absent and compare-and-set on a
// per-key version counter. No cross-key atomicity is offered anywhere; callers
// must treat reads as advisory and resolve races at CAS time.
package recordstore

import (
	"context"
	"errors"
)

var (
	ErrKeyNotFound     = errors.New("record not found")
	ErrKeyExists       = errors.New("record already exists")
	ErrVersionMismatch = errors.New("version mismatch, no rows were affected")
)

// Record is a stored value together with the version token writers must
// present to mutate it. Versions start at 1 and increase by one per write.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

type Store interface {
	// Get returns the current record for key, which may be stale relative to
	// a write on another node.
	Get(ctx context.Context, key string) (Record, error)

	// InsertIfAbsent creates the record at version 1, failing with
	// ErrKeyExists if any writer got there first.
	InsertIfAbsent(ctx context.Context, key string, value []byte) (Record, error)

	// CompareAndSet replaces the value only if the stored version equals
	// expectedVersion. Exactly one of N concurrent writers presenting the
	// same version wins; the rest receive ErrVersionMismatch.
	CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (Record, error)

	// Delete removes the record, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Scan lists all records whose key starts with prefix, ordered by key.
	// The snapshot is not atomic with respect to concurrent writers.
	Scan(ctx context.Context, prefix string) ([]Record, error)
}
