// Package kvstore defines the ordered key/value store contract objdb
// consumes and the iterator type range scans return. It is deliberately
// small: a sorted byte key/value map with get/put/remove, range scan, and
// transactional begin/commit/rollback.
//
// objdb never depends on a concrete backend directly; kvstore/boltkv,
// kvstore/memkv and kvstore/dynamokv each implement Store and Tx for a different
// deployment shape (embedded, in-memory/snapshot, remote).
package kvstore

import "context"

// KVPair is one key/value pair yielded by a range scan.
type KVPair struct {
	Key   []byte
	Value []byte
}

// Iterator is a closeable cursor over a range scan. Implementations must
// release any underlying resource on Close, and Close must be safe to call
// more than once and after the iterator is exhausted.
type Iterator interface {
	// Next advances the iterator and reports whether a pair is available.
	Next() bool
	// Pair returns the current key/value pair. Only valid after a call to
	// Next that returned true.
	Pair() KVPair
	// Err returns the first error encountered during iteration, if any.
	Err() error
	// Close releases the iterator's resources.
	Close() error
}

// Store opens transactions against a KV namespace.
type Store interface {
	// Begin starts a new transaction. writable selects a read-write
	// transaction; at most one writable transaction may be active at a
	// time, but any number of read-only transactions may run concurrently
	// with each other (not with a writable one), matching BoltDB's model.
	Begin(ctx context.Context, writable bool) (Tx, error)

	// Close releases resources held by the store (file handles, network
	// connections). Close after any transaction is still open is
	// implementation-defined.
	Close() error
}

// Tx is a single KV transaction. It is not safe for concurrent use from
// multiple goroutines.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// DeleteRange removes every key k with lo <= k < hi.
	DeleteRange(lo, hi []byte) error

	// GetRange returns an iterator over every pair with lo <= k < hi, in
	// ascending order, or descending when reverse is true (in which case
	// iteration starts just below hi and ends at lo).
	GetRange(lo, hi []byte, reverse bool) (Iterator, error)

	// NextSequence returns the next value from a per-namespace
	// monotonically increasing counter, for backends that can offer one
	// natively (boltkv, via BoltDB's bucket sequence). Backends that
	// cannot (memkv, dynamokv) return ErrNoSequence so callers fall back to
	// an externally-supplied allocator (see objdb's use of
	// github.com/google/uuid for that fallback).
	NextSequence(namespace []byte) (uint64, error)

	Commit() error
	Rollback() error
}
