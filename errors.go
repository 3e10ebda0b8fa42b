package objdb

import "errors"

// Stable error kinds, checked by callers with errors.Is. Wrapped with
// fmt.Errorf("%w: ...", ErrX, ...) so messages carry detail without losing
// the sentinel.
var (
	// ErrSchemaMismatch is returned when two schema versions disagree on the
	// kind or shape of a shared storage-id.
	ErrSchemaMismatch = errors.New("objdb: schema mismatch")

	// ErrUnknownType is returned when an ObjId's storage-id has no
	// ObjectType in the schema bound to the transaction.
	ErrUnknownType = errors.New("objdb: unknown type")

	// ErrDeletedObject is returned when a read or write targets an object
	// that does not exist (or no longer exists).
	ErrDeletedObject = errors.New("objdb: deleted object")

	// ErrUnknownField is returned when a field storage-id is not part of
	// the object's current type.
	ErrUnknownField = errors.New("objdb: unknown field")

	// ErrTypeMismatch is returned when a value does not match a field's
	// declared element type.
	ErrTypeMismatch = errors.New("objdb: type mismatch")

	// ErrReferencedObject is returned when a delete is blocked by an
	// EXCEPTION-dispositioned reverse reference.
	ErrReferencedObject = errors.New("objdb: object is still referenced")

	// ErrStaleTransaction is returned once the underlying KV store has
	// rejected an operation; the transaction handle must not be used
	// further.
	ErrStaleTransaction = errors.New("objdb: stale transaction")

	// ErrInvalidSchema is returned when the catalog rejects a proposed
	// schema outright (duplicate storage-id for an incompatible kind,
	// cyclic composite index, and the like).
	ErrInvalidSchema = errors.New("objdb: invalid schema")

	// ErrReadOnly is returned for a write attempted against a read-only
	// transaction.
	ErrReadOnly = errors.New("objdb: read-only transaction")

	// ErrParam is returned for caller errors that aren't one of the above
	// stable kinds: bad arguments, nil pointers, and similar programmer
	// mistakes.
	ErrParam = errors.New("objdb: bad parameter")

	// ErrStore signals an internal inconsistency detected while reading
	// back what should be well-formed on-disk state.
	ErrStore = errors.New("objdb: store inconsistency")
)
