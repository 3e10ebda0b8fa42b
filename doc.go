/*
Package objdb is a typed, versioned object-persistence engine on top of an
ordered byte key/value store.

Objdb is designed as a small, pure Go library occupying the same niche as an
embedded object database: typed fields, automatic secondary indexes,
referential integrity with configurable cascade behaviour, and incremental
schema migration, without requiring a SQL engine or a separate server
process.

Unlike a reflection-driven struct database, objdb's schema is built
explicitly: every object type, field, sub-field and composite index is given
a small positive integer, its storage-id, and that id — not the Go type's
name — is what appears in keys. This keeps the on-disk key space stable
across renames and lets heterogeneous schema versions coexist in one store.

# Storage ids and object ids

A storage-id is a process-wide unique small positive integer naming an
object type, a field, a sub-field, or a composite index. An ObjId is an
8-byte value whose leading variable-length-encoded prefix is the storage-id
of the object's type; Create allocates the remaining bytes.

# Key layout

  - Object metadata key: ObjId -> schema version as a 4-byte big-endian
    integer; no flag bytes are stored.
  - Simple field key: ObjId, field storage-id -> encoded value.
  - Complex field content keys: ObjId, field storage-id, per-kind suffix ->
    encoded element(s).
  - Simple index key: field storage-id, encoded value, ObjId -> empty.
  - Composite index key: composite storage-id, encoded value(s), ObjId ->
    empty.

The byte codec (codec.go) is order-preserving for every type objdb lets you
index, so range scans over the index key space correspond exactly to range
queries over value space.

# Schema evolution

A Schema is an immutable, versioned description of a set of ObjectTypes.
Versions are recorded in a catalog stored in the same KV namespace; a new
version is added the first time a transaction targets it, provided it is
compatible with every existing version sharing a storage-id (same kind, same
element type, compatible sub-fields). Objects are migrated lazily: the first
access to an object whose recorded version differs from the transaction's
target version upgrades it in place, inside that transaction, running the
configured hooks. Objects nobody touches stay on their old version
indefinitely; there is no blocking whole-database migration.

# Reference integrity

Reference fields may declare an on-delete disposition: NOTHING leaves a
dangling reference in place, EXCEPTION aborts the delete, UNREFERENCE clears
the field (or collection element), and DELETE cascades. Cascades run from a
FIFO worklist so the result is the same transitive closure regardless of
iteration order, and a single ReferencedObject error anywhere in the
worklist aborts the entire cascade atomically.

# Concurrency

A Tx is a single-threaded unit of work; distinct transactions may run on
distinct goroutines in parallel, with isolation provided by the underlying
KV store. Listener callbacks for a mutation fire after all of that
mutation's key updates (content and index) have been applied, on the same
goroutine, before the next operation on the transaction proceeds.

# Backends

objdb talks to the KV store only through the kvstore.Store and kvstore.Tx
interfaces (kvstore/kv.go). Three implementations ship with this module:
kvstore/boltkv (embedded, ACID, the default), kvstore/memkv (in-memory, used
by snapshot transactions), and kvstore/dynamokv (remote, for deployments
that already standardize on DynamoDB).

# Limitations

Interface-valued fields cannot be stored. Collections cannot nest (a
complex field's element type must be a simple type or reference, never
another collection). Filtering/sorting is limited to what the index engine
can serve from a range scan; objdb does not implement a query planner or
joins.
*/
package objdb
