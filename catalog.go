package objdb

import (
	"context"
	"fmt"

	"github.com/mjl-/objdb/kvstore"
)

// storageIDEntry is whatever a single storage-id names within a schema: an
// ObjectType, a simple/complex Field, a collection's SimpleSubField, or a
// CompositeIndex. A storage-id is a process-wide small positive integer
// uniquely identifying one of these within a schema.
type storageIDEntry struct {
	objectType *ObjectType
	field      *Field
	subField   *SimpleSubField
	composite  *CompositeIndex
}

func (s *Schema) storageIDEntries() map[uint64]storageIDEntry {
	out := map[uint64]storageIDEntry{}
	for p := s.Types.Oldest(); p != nil; p = p.Next() {
		t := p.Value
		out[t.StorageID] = storageIDEntry{objectType: t}
		for fp := t.Fields.Oldest(); fp != nil; fp = fp.Next() {
			f := fp.Value
			out[f.StorageID] = storageIDEntry{field: f}
			if f.Complex != nil {
				out[f.Complex.Elem.StorageID] = storageIDEntry{subField: &f.Complex.Elem}
				if f.Complex.Key != nil {
					out[f.Complex.Key.StorageID] = storageIDEntry{subField: f.Complex.Key}
				}
			}
		}
		for cp := t.Composites.Oldest(); cp != nil; cp = cp.Next() {
			c := cp.Value
			out[c.StorageID] = storageIDEntry{composite: c}
		}
	}
	return out
}

func (e storageIDEntry) kindName() string {
	switch {
	case e.objectType != nil:
		return "object type"
	case e.field != nil:
		return "field"
	case e.subField != nil:
		return "sub-field"
	case e.composite != nil:
		return "composite index"
	default:
		return "unknown"
	}
}

// compatibleWith checks the compatibility rules for a single shared
// storage-id appearing in two schemas.
func (e storageIDEntry) compatibleWith(o storageIDEntry) error {
	switch {
	case e.objectType != nil:
		if o.objectType == nil {
			return fmt.Errorf("%w: storage-id denotes object type in one schema, %s in another", ErrSchemaMismatch, o.kindName())
		}
		return nil // object type identity itself carries no element-type shape beyond its fields, checked separately.
	case e.field != nil:
		if o.field == nil {
			return fmt.Errorf("%w: storage-id denotes a field in one schema, %s in another", ErrSchemaMismatch, o.kindName())
		}
		if !e.field.typeEqual(o.field) {
			return fmt.Errorf("%w: field %q changed incompatibly", ErrSchemaMismatch, e.field.Name)
		}
		return nil
	case e.subField != nil:
		if o.subField == nil {
			return fmt.Errorf("%w: storage-id denotes a sub-field in one schema, %s in another", ErrSchemaMismatch, o.kindName())
		}
		if !e.subField.typeEqual(*o.subField) {
			return fmt.Errorf("%w: sub-field %q changed incompatibly", ErrSchemaMismatch, e.subField.Name)
		}
		return nil
	case e.composite != nil:
		if o.composite == nil {
			return fmt.Errorf("%w: storage-id denotes a composite index in one schema, %s in another", ErrSchemaMismatch, o.kindName())
		}
		if !e.composite.typeEqual(o.composite) {
			return fmt.Errorf("%w: composite index %q changed arity", ErrSchemaMismatch, e.composite.Name)
		}
		return nil
	default:
		return nil
	}
}

// checkCompatible verifies a over every storage-id it shares with b.
func checkCompatible(a, b *Schema) error {
	ae := a.storageIDEntries()
	be := b.storageIDEntries()
	for id, ee := range ae {
		if oe, ok := be[id]; ok {
			if err := ee.compatibleWith(oe); err != nil {
				return err
			}
		}
	}
	return nil
}

// readCatalog loads every recorded schema version from tx.
func readCatalog(ktx kvstore.Tx) (map[uint32]*Schema, error) {
	lo, hi := catalogRange()
	it, err := ktx.GetRange(lo, hi, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	out := map[uint32]*Schema{}
	for it.Next() {
		p := it.Pair()
		s, err := DeserializeSchema(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parsing catalog entry: %w", err)
		}
		out[s.Version] = s
		if err := it.Err(); err != nil {
			return nil, err
		}
	}
	return out, it.Err()
}

// ReadCatalog loads every schema version recorded in store's catalog, keyed
// by version, without requiring the caller to supply a schema of its own.
// Tooling that inspects a store it didn't create (see cmd/objdb) uses this
// to discover what's there instead of hard-coding an ObjectType layout.
func ReadCatalog(ctx context.Context, store kvstore.Store) (map[uint32]*Schema, error) {
	ktx, err := store.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer ktx.Rollback()
	return readCatalog(ktx)
}

// LatestSchema returns the highest-versioned schema recorded in store's
// catalog.
func LatestSchema(ctx context.Context, store kvstore.Store) (*Schema, error) {
	versions, err := ReadCatalog(ctx, store)
	if err != nil {
		return nil, err
	}
	var latest *Schema
	for _, s := range versions {
		if latest == nil || s.Version > latest.Version {
			latest = s
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: store has no recorded schema", ErrStore)
	}
	return latest, nil
}

// ensureSchema finds or creates the catalog entry matching the unversioned
// wanted schema. If an existing version is byte-identical (after its
// version field is normalized), that version is returned. Otherwise wanted
// is checked for compatibility against every existing version for every
// storage-id they share, and if compatible, recorded as a new version one
// greater than the highest recorded so far.
func ensureSchema(ktx kvstore.Tx, wanted *Schema) (*Schema, error) {
	wanted.reindexReferences()
	existing, err := readCatalog(ktx)
	if err != nil {
		return nil, err
	}
	var maxVersion uint32
	for v, s := range existing {
		if v > maxVersion {
			maxVersion = v
		}
		candidate := *wanted
		candidate.Version = v
		if string(candidate.Serialize()) == string(s.Serialize()) {
			return s, nil
		}
	}
	for _, s := range existing {
		if err := checkCompatible(wanted, s); err != nil {
			return nil, err
		}
	}
	wanted.Version = maxVersion + 1
	key := catalogKey(wanted.Version)
	if err := ktx.Put(key, wanted.Serialize()); err != nil {
		return nil, fmt.Errorf("storing new schema version: %w", err)
	}
	return wanted, nil
}
