package objdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mjl-/objdb/kvstore"
)

// DB is a handle on a KV store bound to a particular target Schema. Most
// callers use DB.Read/DB.Write for one-shot transactions and DB.Begin only
// when a transaction must span several logically separate steps.
type DB struct {
	store  kvstore.Store
	schema *Schema
	Log    *logrus.Logger // receives a debug entry when Open binds the schema version; defaults to a logger at warn level.

	mu        sync.Mutex
	stats     Stats
	listeners []registeredListener
}

// Option configures Open.
type Option func(*DB)

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(db *DB) { db.Log = l }
}

// Open binds store to the given target schema: the schema is recorded in
// the catalog (creating a new version if needed, or reusing an existing
// byte-identical one) and a *DB ready to start transactions is returned.
//
// schema should be freshly built with NewSchema/AddType/AddField and not
// reused as the target of a second Open against a different store: once
// ensureSchema assigns it a Version, that value is specific to this store's
// catalog.
func Open(ctx context.Context, store kvstore.Store, schema *Schema, opts ...Option) (*DB, error) {
	db := &DB{store: store, schema: schema, Log: logrus.New()}
	db.Log.SetLevel(logrus.WarnLevel)
	for _, o := range opts {
		o(db)
	}

	ktx, err := store.Begin(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("beginning schema-binding transaction: %w", err)
	}
	bound, err := ensureSchema(ktx, schema)
	if err != nil {
		ktx.Rollback()
		return nil, err
	}
	if err := ktx.Commit(); err != nil {
		return nil, fmt.Errorf("committing schema version: %w", err)
	}
	db.schema = bound
	db.Log.WithField("version", bound.Version).Debug("objdb: schema bound")
	return db, nil
}

// Begin starts a new transaction against the database's bound schema
// version.
func (db *DB) Begin(ctx context.Context, writable bool) (*Tx, error) {
	ktx, err := db.store.Begin(ctx, writable)
	if err != nil {
		return nil, err
	}
	return &Tx{db: db, ktx: ktx, writable: writable, schema: db.schema}, nil
}

// Read runs fn in a new read-only transaction, rolling it back afterward
// regardless of outcome (there is nothing to commit for a read).
func (db *DB) Read(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return nil
}

// Write runs fn in a new writable transaction, committing on success and
// rolling back if fn or the commit itself fails.
func (db *DB) Write(ctx context.Context, fn func(tx *Tx) error) (rerr error) {
	tx, err := db.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if rerr != nil {
			tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Schema returns the schema version this DB is bound to.
func (db *DB) Schema() *Schema { return db.schema }

// Stats returns the accumulated operation counters across every completed
// transaction.
func (db *DB) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.stats
}

func (db *DB) recordStats(s Stats) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stats.add(s)
}

// Close releases the underlying store.
func (db *DB) Close() error { return db.store.Close() }

// Listen registers a database-wide listener, fired for every transaction's
// mutations as each one is applied, before the transaction commits. Use
// Tx.Listen for a listener scoped to one transaction only.
func (db *DB) Listen(l Listener, path ...uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners = append(db.listeners, registeredListener{listener: l, path: path})
}
