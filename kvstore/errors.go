package kvstore

import "errors"

// ErrNoSequence is returned by Tx.NextSequence on backends that have no
// native autoincrement counter.
var ErrNoSequence = errors.New("kvstore: backend has no native sequence")

// ErrStale is returned once a transaction's underlying resource (a context,
// a connection, a file handle) has been invalidated; objdb maps this to
// ErrStaleTransaction and stops issuing further calls on that handle.
var ErrStale = errors.New("kvstore: stale transaction")

// ErrReadOnly is returned by a write method called against a read-only
// transaction.
var ErrReadOnly = errors.New("kvstore: read-only transaction")
