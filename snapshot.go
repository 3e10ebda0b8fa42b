package objdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/mjl-/objdb/kvstore/memkv"
)

// Snapshot is an in-memory transaction with the same read/write surface as
// Tx, embedded here so every Create/ReadSimple/WriteSimple/Delete/ListAppend
// and so on is available directly on a *Snapshot. It exists to let a caller
// detach a consistent, independently mutable copy of part of an object graph
// to work with off to the side: Commit and Rollback are overridden below to
// always fail, so nothing a Snapshot does ever reaches the backing store.
type Snapshot struct {
	*Tx

	store *memkv.Store

	mu      sync.Mutex
	handles map[ObjId]*Handle
}

// NewSnapshot opens a snapshot transaction bound to db's current schema. The
// snapshot starts with its own copy of every catalog entry db currently
// holds, so an object copied in at an older recorded version still migrates
// the same way it would under a regular transaction.
func NewSnapshot(ctx context.Context, db *DB) (*Snapshot, error) {
	store := memkv.New()
	ktx, err := store.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := seedCatalog(ctx, db, ktx.Put); err != nil {
		ktx.Rollback()
		return nil, err
	}
	tx := &Tx{db: db, ktx: ktx, writable: true, schema: db.schema, isSnapshot: true}
	return &Snapshot{Tx: tx, store: store, handles: map[ObjId]*Handle{}}, nil
}

// seedCatalog copies every catalog entry currently recorded in db's store
// into put, using a throwaway read-only transaction against db's own store.
func seedCatalog(ctx context.Context, db *DB, put func(key, value []byte) error) error {
	src, err := db.store.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer src.Rollback()
	lo, hi := catalogRange()
	it, err := src.GetRange(lo, hi, false)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		p := it.Pair()
		if err := put(p.Key, p.Value); err != nil {
			return err
		}
	}
	return it.Err()
}

// Commit always fails: a snapshot transaction's mutations never reach the
// backing store.
func (sn *Snapshot) Commit() error {
	return fmt.Errorf("%w: snapshot transactions cannot commit", ErrReadOnly)
}

// Rollback always fails, the same as Commit. Unlike a regular Tx, a failed
// Rollback does not mark the snapshot done; every other operation keeps
// working.
func (sn *Snapshot) Rollback() error {
	return fmt.Errorf("%w: snapshot transactions cannot roll back", ErrReadOnly)
}

// reset clears every content and index key the snapshot holds, preserving
// its catalog entries, and drops the cached handle table. The snapshot
// itself stays open and usable afterward.
func (sn *Snapshot) reset() error {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	saved := map[string][]byte{}
	lo, hi := catalogRange()
	it, err := sn.Tx.ktx.GetRange(lo, hi, false)
	if err != nil {
		return err
	}
	for it.Next() {
		p := it.Pair()
		saved[string(p.Key)] = append([]byte(nil), p.Value...)
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()

	sn.store.Reset()

	for k, v := range saved {
		if err := sn.Tx.ktx.Put([]byte(k), v); err != nil {
			return err
		}
	}
	sn.handles = map[ObjId]*Handle{}
	return nil
}

// Object returns the cached Handle for id, creating one on first use.
// Repeated calls for the same ObjId on the same Snapshot return the
// identical Handle.
func (sn *Snapshot) Object(id ObjId) *Handle {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if h, ok := sn.handles[id]; ok {
		return h
	}
	h := &Handle{sn: sn, ID: id}
	sn.handles[id] = h
	return h
}

// CopyFrom copies id's current metadata version and every field value out
// of src into the snapshot, reusing id unchanged, and returns the cached
// Handle for it. Values are rewritten through the same ReadSimple/WriteSimple
// and List/Set/Map entry points a live transaction uses, so the copy's index
// and composite-index entries come out exactly as they would from writing
// those values directly, rather than from a raw key-range copy.
func (sn *Snapshot) CopyFrom(src *Tx, id ObjId) (*Handle, error) {
	exists, err := src.Exists(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeletedObject
	}
	ver, err := src.GetVersion(id)
	if err != nil {
		return nil, err
	}
	t, ok := src.schema.TypeByID(id.StorageID())
	if !ok {
		return nil, fmt.Errorf("%w: storage-id %d", ErrUnknownType, id.StorageID())
	}

	sn.mu.Lock()
	already, err := sn.Tx.Exists(id)
	sn.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !already {
		if err := sn.Tx.ktx.Put(metadataKey(id), putUint32(nil, ver)); err != nil {
			return nil, err
		}
	}

	for p := t.Fields.Oldest(); p != nil; p = p.Next() {
		f := p.Value
		if f.Simple != nil {
			v, err := src.ReadSimple(id, f.StorageID)
			if err != nil {
				return nil, err
			}
			if err := sn.Tx.WriteSimple(id, f.StorageID, v); err != nil {
				return nil, err
			}
			continue
		}
		if f.Complex == nil {
			continue
		}
		els, err := iterComplex(src.ktx, id, f)
		if err != nil {
			return nil, err
		}
		switch f.Complex.Collection {
		case CollectionList:
			for _, el := range els {
				if err := sn.Tx.ListAppend(id, f, el.Value); err != nil {
					return nil, err
				}
			}
		case CollectionSet:
			for _, el := range els {
				if err := sn.Tx.SetAdd(id, f, el.Value); err != nil {
					return nil, err
				}
			}
		case CollectionMap:
			for _, el := range els {
				if err := sn.Tx.MapSet(id, f, el.Key, el.Value); err != nil {
					return nil, err
				}
			}
		}
	}
	return sn.Object(id), nil
}

// Handle is a cached per-object accessor bound to one Snapshot and ObjId,
// returned by Snapshot.Object and Snapshot.CopyFrom.
type Handle struct {
	sn *Snapshot
	ID ObjId
}

// ReadSimple reads a scalar field's current value through the owning
// snapshot.
func (h *Handle) ReadSimple(fieldStorageID uint64) (any, error) {
	return h.sn.Tx.ReadSimple(h.ID, fieldStorageID)
}

// WriteSimple writes a scalar field's value through the owning snapshot.
func (h *Handle) WriteSimple(fieldStorageID uint64, value any) error {
	return h.sn.Tx.WriteSimple(h.ID, fieldStorageID, value)
}

// Delete removes the handle's object (and cascades) within the snapshot.
func (h *Handle) Delete() (bool, error) {
	return h.sn.Tx.Delete(h.ID)
}
