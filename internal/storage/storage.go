// Package storage implements the node's local, time-bounded, multi-valued
// key/value store (put/get/extract_range/merge/expire_tick).
package storage

import (
	"errors"
	"time"

	"dhtnode/internal/domain"
)

var ErrNotFound = errors.New("key not found")

// Store defines the operations a local key/value store must support.
type Store interface {
	// Put inserts a new value under key with the given TTL. Existing values
	// under the same key are kept: the store is multi-valued. Fails if
	// rec.TTL exceeds domain.MaxTTL; a non-positive TTL is treated as
	// unspecified and resolves to domain.MaxTTL.
	Put(rec domain.StoredRecord) error

	// Get returns every live (non-expired) value currently stored under
	// key.
	Get(key domain.ID) []domain.StoredRecord

	// ExtractRange returns every live record whose key lies in the
	// circular interval (from, to], used to hand off a key range to a new
	// owner on predecessor change. Read-only: the caller removes a key
	// with Delete only after confirming the transfer succeeded.
	ExtractRange(from, to domain.ID) []domain.StoredRecord

	// Delete removes every value stored under key.
	Delete(key domain.ID)

	// Merge adds a batch of records into the store, e.g. the receiving
	// side of a handoff. Records already expired by the time they arrive
	// are dropped.
	Merge(records []domain.StoredRecord)

	// ExpireTick purges every record whose TTL has elapsed as of now, and
	// reports how many were removed.
	ExpireTick(now time.Time) int

	// All returns a snapshot of every live record currently stored.
	All() []domain.StoredRecord

	// DebugLog emits a structured debug-level dump of the store contents.
	DebugLog()
}
