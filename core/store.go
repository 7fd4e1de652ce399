package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

var (
	ErrStreamNotFound  = errors.New("stream not found")
	ErrVersionConflict = errors.New("version conflict")
)

// VersionConflictError reports a rejected append with the version the
// stream required next and the version the append actually carried.
type VersionConflictError struct {
	ID       string
	Expected Version
	Actual   Version
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: stream=%s, expected=%d, actual=%d", e.ID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// Iterator lazily yields records in ascending version order.
type Iterator = iter.Seq2[Record, error]

// Store is a storage backend holding named keyspaces of per-id event
// streams.
type Store interface {
	Open(ctx context.Context, keyspace string) (Session, error)
}

// Session is a scoped handle to one keyspace. Callers must close it on
// all paths.
type Session interface {
	// GetStream returns every record stored for id in ascending version
	// order, or ErrStreamNotFound.
	GetStream(ctx context.Context, id string) (Iterator, error)
	// AppendToStream durably appends records, which must continue the
	// stream's version sequence contiguously starting at the stored
	// head plus one. It writes nothing and reports a version conflict
	// when another writer has advanced the stream past that point.
	AppendToStream(ctx context.Context, id string, records []Record) error
	// All enumerates every stream of the keyspace. Order is backend
	// defined.
	All(ctx context.Context) iter.Seq2[Stream, error]
	Close() error
}
