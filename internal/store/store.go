// Package store abstracts the shared key-value store behind a narrow
// interface. The production implementation is a single Redis connection
// shared process-wide by request handlers and the reconciler; an in-memory
// implementation backs tests and local development.
//
// Error semantics:
//   - A missing key is ErrNotFound. Callers decide whether a miss is an
//     error (cache layers treat it as a fallback signal, not a failure).
//   - Connectivity or server failures are wrapped in ErrUnavailable and
//     surfaced to the caller; the store never retries internally.
//
// A Batch groups writes into one round trip for network efficiency. It
// provides no isolation or atomicity across keys.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist (or has expired).
var ErrNotFound = errors.New("key not found")

// ErrUnavailable indicates the store could not be reached or failed to
// execute a command.
var ErrUnavailable = errors.New("store unavailable")

// Batch accumulates writes that are flushed together in one round trip.
type Batch interface {
	// SetEx queues a write with an expiry.
	SetEx(key, value string, ttl time.Duration)
	// Exec sends all queued commands. Partial application is possible on
	// failure; callers treat any error as the whole operation failing.
	Exec(ctx context.Context) error
}

// Store is the key-value contract the cache layers are written against.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetEx writes value at key with an expiry, resetting any previous TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Set writes value at key with no expiry.
	Set(ctx context.Context, key, value string) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan returns one page of keys matching pattern, starting at cursor.
	// A returned cursor of 0 means the iteration is complete. The count is
	// a paging hint, not a guarantee.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, next uint64, err error)
	// Batch starts a new write batch.
	Batch() Batch
	// Ping verifies connectivity, for readiness probes.
	Ping(ctx context.Context) error
}
