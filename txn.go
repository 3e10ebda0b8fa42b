package objdb

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mjl-/objdb/kvstore"
)

// Tx is a single transaction against a DB, pairing the underlying KV
// transaction with the schema version it was opened against. Like the
// teacher library's *bstore.Tx, callers normally get one from DB.Read or
// DB.Write rather than constructing it directly.
type Tx struct {
	db       *DB
	ktx      kvstore.Tx
	writable bool
	schema   *Schema

	stats      Stats
	listeners  []registeredListener
	done       bool
	isSnapshot bool // true for a Tx embedded in a Snapshot; suppresses listener dispatch
}

func (tx *Tx) checkWritable() error {
	if tx.done {
		return ErrStaleTransaction
	}
	if !tx.writable {
		return ErrReadOnly
	}
	return nil
}

func (tx *Tx) checkLive() error {
	if tx.done {
		return ErrStaleTransaction
	}
	return nil
}

// Commit finalizes the transaction, recording accumulated stats on the
// owning DB either way.
func (tx *Tx) Commit() error {
	if err := tx.checkLive(); err != nil {
		return err
	}
	tx.done = true
	tx.db.recordStats(tx.stats)
	return tx.ktx.Commit()
}

// Rollback discards the transaction. Safe to call after Commit or a prior
// Rollback; it is a no-op in that case.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.recordStats(tx.stats)
	return tx.ktx.Rollback()
}

// Stats returns the operation counters accumulated so far by this
// transaction.
func (tx *Tx) Stats() Stats { return tx.stats }

// allocateSuffix produces the allocator-assigned suffix half of a new
// ObjId. boltkv offers a native per-bucket sequence; backends that can't
// (memkv, dynamokv) report kvstore.ErrNoSequence, and objdb falls back to a
// random 64-bit value carved out of a UUIDv4.
func allocateSuffix(ktx kvstore.Tx, typeStorageID uint64) (uint64, error) {
	namespace := putStorageID(nil, typeStorageID)
	seq, err := ktx.NextSequence(namespace)
	if err == nil {
		return seq, nil
	}
	if err != kvstore.ErrNoSequence {
		return 0, err
	}
	u := uuid.New()
	var v uint64
	for _, b := range u[:8] {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Create allocates a new object of the given object type and writes its
// metadata entry. Fields are left unset; ReadSimple on an unset field
// returns the field's zero value until WriteSimple first touches it.
func (tx *Tx) Create(typeStorageID uint64) (ObjId, error) {
	if err := tx.checkWritable(); err != nil {
		return ObjId{}, err
	}
	if _, ok := tx.schema.TypeByID(typeStorageID); !ok {
		return ObjId{}, fmt.Errorf("%w: storage-id %d", ErrUnknownType, typeStorageID)
	}
	suffix, err := allocateSuffix(tx.ktx, typeStorageID)
	if err != nil {
		return ObjId{}, err
	}
	id := newObjID(typeStorageID, suffix)
	if err := tx.ktx.Put(metadataKey(id), putUint32(nil, tx.schema.Version)); err != nil {
		return ObjId{}, err
	}
	tx.stats.Content.Put++
	(&dispatcher{tx: tx}).fireCreate(id)
	return id, nil
}

// ScanType calls fn for every existing object of typeStorageID, in ObjId
// order, stopping at the first error fn returns. Not used by the core
// mutation path (migration is lazy, never bulk) but exposed for tooling
// (see cmd/objdb) and tests that need to enumerate every instance of a
// type.
func (tx *Tx) ScanType(typeStorageID uint64, fn func(id ObjId) error) error {
	lo, hi := objectTypeContentRange(typeStorageID)
	it, err := tx.ktx.GetRange(lo, hi, false)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		p := it.Pair()
		if len(p.Key) != 9 {
			continue // not a metadata key, a field or complex-element key sharing the same type prefix
		}
		var id ObjId
		copy(id[:], p.Key[1:])
		tx.stats.Content.Get++
		if err := fn(id); err != nil {
			return err
		}
	}
	return it.Err()
}

// Exists reports whether id currently has a metadata entry.
func (tx *Tx) Exists(id ObjId) (bool, error) {
	if err := tx.checkLive(); err != nil {
		return false, err
	}
	v, err := tx.ktx.Get(metadataKey(id))
	if err != nil {
		return false, err
	}
	tx.stats.Content.Get++
	return v != nil, nil
}

// GetVersion returns the schema version id's metadata was last written
// under.
func (tx *Tx) GetVersion(id ObjId) (uint32, error) {
	v, err := tx.ktx.Get(metadataKey(id))
	if err != nil {
		return 0, err
	}
	tx.stats.Content.Get++
	if v == nil {
		return 0, ErrDeletedObject
	}
	ver, _, ok := getUint32(v)
	if !ok {
		return 0, fmt.Errorf("%w: truncated metadata value", ErrStore)
	}
	return ver, nil
}

// lookupField resolves id's object type and a field by storage-id, first
// migrating id to the transaction's schema version if it lags behind.
func (tx *Tx) lookupField(id ObjId, fieldStorageID uint64) (*ObjectType, *Field, error) {
	if err := tx.migrateIfNeeded(id); err != nil {
		return nil, nil, err
	}
	t, ok := tx.schema.TypeByID(id.StorageID())
	if !ok {
		return nil, nil, fmt.Errorf("%w: storage-id %d", ErrUnknownType, id.StorageID())
	}
	f, ok := t.FieldByID(fieldStorageID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: storage-id %d in type %q", ErrUnknownField, fieldStorageID, t.Name)
	}
	return t, f, nil
}

// ReadSimple returns the current value of a scalar field, or its zero
// value if never written.
func (tx *Tx) ReadSimple(id ObjId, fieldStorageID uint64) (any, error) {
	if err := tx.checkLive(); err != nil {
		return nil, err
	}
	exists, err := tx.Exists(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeletedObject
	}
	_, f, err := tx.lookupField(id, fieldStorageID)
	if err != nil {
		return nil, err
	}
	if f.Simple == nil {
		return nil, fmt.Errorf("%w: field is not a simple field", ErrParam)
	}
	raw, err := tx.ktx.Get(simpleFieldKey(id, fieldStorageID))
	if err != nil {
		return nil, err
	}
	tx.stats.Content.Get++
	if raw == nil {
		return f.Simple.zero(), nil
	}
	v, _, err := decodeValue(raw, f.Simple.Kind, f.Simple.UserType)
	return v, err
}

// WriteSimple sets a scalar field's value, maintaining its simple index
// entry and any composite indexes it participates in.
func (tx *Tx) WriteSimple(id ObjId, fieldStorageID uint64, value any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	exists, err := tx.Exists(id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrDeletedObject
	}
	_, f, err := tx.lookupField(id, fieldStorageID)
	if err != nil {
		return err
	}
	if f.Simple == nil {
		return fmt.Errorf("%w: field is not a simple field", ErrParam)
	}
	sub := f.Simple
	if sub.Kind == KindReference {
		ref, ok := value.(ObjId)
		if !ok {
			return typeMismatch(sub.Kind, value)
		}
		if !ref.IsZero() {
			if err := tx.checkReferent(ref, sub.RefTypes); err != nil {
				return err
			}
		}
	}
	key := simpleFieldKey(id, fieldStorageID)
	oldRaw, err := tx.ktx.Get(key)
	if err != nil {
		return err
	}
	tx.stats.Content.Get++
	var oldValue any = sub.zero()
	if oldRaw != nil {
		oldValue, _, err = decodeValue(oldRaw, sub.Kind, sub.UserType)
		if err != nil {
			return err
		}
	}
	newRaw, err := encodeValue(nil, sub.Kind, sub.UserType, value)
	if err != nil {
		return err
	}
	if err := tx.ktx.Put(key, newRaw); err != nil {
		return err
	}
	tx.stats.Content.Put++
	if sub.Indexed {
		if oldRaw != nil {
			if err := indexDelete(tx.ktx, simpleIndexKey(fieldStorageID, oldRaw, id)); err != nil {
				return err
			}
			tx.stats.Index.Delete++
		}
		if err := indexPut(tx.ktx, simpleIndexKey(fieldStorageID, newRaw, id)); err != nil {
			return err
		}
		tx.stats.Index.Put++
	}
	if err := tx.updateCompositesForField(id, f.Name); err != nil {
		return err
	}
	(&dispatcher{tx: tx}).fireChange(id, fieldStorageID, oldValue, value)
	return nil
}

// checkReferent verifies ref exists and, if allowed is non-empty, that
// ref's type storage-id is among allowed.
func (tx *Tx) checkReferent(ref ObjId, allowed []uint64) error {
	if len(allowed) > 0 {
		ok := false
		for _, a := range allowed {
			if a == ref.StorageID() {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: reference to type storage-id %d not permitted", ErrTypeMismatch, ref.StorageID())
		}
	}
	exists, err := tx.Exists(ref)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: reference target %s does not exist", ErrParam, ref)
	}
	return nil
}

// updateCompositesForField refreshes every composite index of id's type that
// includes fieldName, for id: any existing entry for id is removed and
// replaced with one built from the field's current content values. A no-op
// for fieldName naming a complex field, since composite indexes are
// restricted to simple fields.
func (tx *Tx) updateCompositesForField(id ObjId, fieldName string) error {
	t, ok := tx.schema.TypeByID(id.StorageID())
	if !ok {
		return fmt.Errorf("%w: storage-id %d", ErrUnknownType, id.StorageID())
	}
	for p := t.Composites.Oldest(); p != nil; p = p.Next() {
		idx := p.Value
		participates := false
		for _, fn := range idx.Fields {
			if fn == fieldName {
				participates = true
				break
			}
		}
		if !participates {
			continue
		}
		if err := tx.reindexComposite(id, t, idx); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) reindexComposite(id ObjId, t *ObjectType, idx *CompositeIndex) error {
	lo, hi := compositeIndexRange(idx.StorageID)
	it, err := tx.ktx.GetRange(lo, hi, false)
	if err != nil {
		return err
	}
	var oldKey []byte
	for it.Next() {
		p := it.Pair()
		if len(p.Key) >= 8 && string(p.Key[len(p.Key)-8:]) == string(id[:]) {
			oldKey = append([]byte(nil), p.Key...)
			break
		}
	}
	if cerr := it.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if oldKey != nil {
		if err := indexDelete(tx.ktx, oldKey); err != nil {
			return err
		}
		tx.stats.Index.Delete++
	}
	encValues := make([][]byte, 0, len(idx.Fields))
	for _, fn := range idx.Fields {
		f, _ := t.Fields.Get(fn)
		raw, err := tx.ktx.Get(simpleFieldKey(id, f.StorageID))
		if err != nil {
			return err
		}
		encValues = append(encValues, encodeIndexComponent(raw != nil, raw))
	}
	if err := indexPut(tx.ktx, compositeIndexKey(idx.StorageID, encValues, id)); err != nil {
		return err
	}
	tx.stats.Index.Put++
	return nil
}

// Delete removes id and cascades to every object whose reference to it
// (directly or transitively) is dispositioned OnDeleteDelete, applying
// OnDeleteUnreference and rejecting on OnDeleteException along the way. The
// worklist is processed breadth-first and each object is visited at most
// once, so the result is independent of which reference triggered the
// visit first.
func (tx *Tx) Delete(id ObjId) (bool, error) {
	if err := tx.checkWritable(); err != nil {
		return false, err
	}
	existed, err := tx.Exists(id)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	seen := newObjIDSet()
	seen.Add(id)
	worklist := []ObjId{id}
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		more, err := tx.deleteOne(cur, seen)
		if err != nil {
			return false, err
		}
		worklist = append(worklist, more...)
	}
	return true, nil
}

// deleteOne applies reference dispositions for everything that points at
// id, then removes id's own content, index, and complex-field entries, and
// returns the further objects OnDeleteDelete queued for cascade.
func (tx *Tx) deleteOne(id ObjId, seen *objIDSet) ([]ObjId, error) {
	exists, err := tx.Exists(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	entries := tx.schema.storageIDEntries()
	var next []ObjId
	for fieldSID := range tx.schema.referencingFields(id.StorageID()) {
		holderSet, err := reverseReferenceHolders(tx.ktx, fieldSID, id)
		if err != nil {
			return nil, err
		}
		for _, holder := range holderSet.Items() {
			entry, ok := entries[fieldSID]
			if !ok {
				continue
			}
			var onDelete OnDelete
			switch {
			case entry.field != nil && entry.field.Simple != nil:
				onDelete = entry.field.Simple.OnDelete
			case entry.subField != nil:
				onDelete = entry.subField.OnDelete
			default:
				continue
			}
			switch onDelete {
			case OnDeleteNothing:
			case OnDeleteException:
				return nil, fmt.Errorf("%w: %s referenced by %s via field storage-id %d", ErrReferencedObject, id, holder, fieldSID)
			case OnDeleteUnreference:
				if err := tx.unreference(holder, entry, id); err != nil {
					return nil, err
				}
			case OnDeleteDelete:
				if !seen.Contains(holder) {
					seen.Add(holder)
					next = append(next, holder)
				}
			}
		}
	}
	if err := tx.purgeObject(id); err != nil {
		return nil, err
	}
	(&dispatcher{tx: tx}).fireDelete(id)
	return next, nil
}

// unreference clears holder's reference to target through the field or
// sub-field named by entry.
func (tx *Tx) unreference(holder ObjId, entry storageIDEntry, target ObjId) error {
	ht, ok := tx.schema.TypeByID(holder.StorageID())
	if !ok {
		return fmt.Errorf("%w: storage-id %d", ErrUnknownType, holder.StorageID())
	}
	if entry.field != nil && entry.field.Simple != nil {
		return tx.WriteSimple(holder, entry.field.StorageID, ObjId{})
	}
	if entry.subField == nil {
		return nil
	}
	parent, ok := ht.parentOfSubField(entry.subField.StorageID)
	if !ok {
		return nil
	}
	switch parent.Complex.Collection {
	case CollectionSet:
		return tx.SetRemove(holder, parent, target)
	case CollectionMap:
		if parent.Complex.Key != nil && parent.Complex.Key.StorageID == entry.subField.StorageID {
			// A referenced map key can't be "cleared" in place; drop the entry.
			keys, _, err := tx.MapGet(holder, parent)
			if err != nil {
				return err
			}
			for _, k := range keys {
				if ref, ok := k.(ObjId); ok && ref == target {
					if err := tx.MapDelete(holder, parent, k); err != nil {
						return err
					}
				}
			}
			return nil
		}
		keys, values, err := tx.MapGet(holder, parent)
		if err != nil {
			return err
		}
		for i, v := range values {
			if ref, ok := v.(ObjId); ok && ref == target {
				if err := tx.MapDelete(holder, parent, keys[i]); err != nil {
					return err
				}
			}
		}
		return nil
	case CollectionList:
		for {
			els, err := iterComplex(tx.ktx, holder, parent)
			if err != nil {
				return err
			}
			removed := false
			for _, el := range els {
				if ref, ok := el.Value.(ObjId); ok && ref == target {
					if err := tx.ListRemoveAt(holder, parent, int(el.Pos)); err != nil {
						return err
					}
					removed = true
					break
				}
			}
			if !removed {
				return nil
			}
		}
	}
	return nil
}

// purgeObject removes id's metadata, every simple-field content and index
// key, and every complex-field content and index key.
func (tx *Tx) purgeObject(id ObjId) error {
	t, ok := tx.schema.TypeByID(id.StorageID())
	if ok {
		for p := t.Fields.Oldest(); p != nil; p = p.Next() {
			f := p.Value
			if err := tx.purgeField(id, t, f); err != nil {
				return err
			}
		}
		for p := t.Composites.Oldest(); p != nil; p = p.Next() {
			idx := p.Value
			lo, hi := compositeIndexRange(idx.StorageID)
			it, err := tx.ktx.GetRange(lo, hi, false)
			if err != nil {
				return err
			}
			var stale []byte
			for it.Next() {
				kp := it.Pair()
				if len(kp.Key) >= 8 && string(kp.Key[len(kp.Key)-8:]) == string(id[:]) {
					stale = append([]byte(nil), kp.Key...)
					break
				}
			}
			it.Close()
			if stale != nil {
				if err := indexDelete(tx.ktx, stale); err != nil {
					return err
				}
				tx.stats.Index.Delete++
			}
		}
	}
	lo, hi := objectContentRange(id)
	if err := tx.ktx.DeleteRange(lo, hi); err != nil {
		return err
	}
	tx.stats.Content.Delete++
	return nil
}

func (tx *Tx) purgeField(id ObjId, t *ObjectType, f *Field) error {
	if f.Simple != nil {
		key := simpleFieldKey(id, f.StorageID)
		raw, err := tx.ktx.Get(key)
		if err != nil {
			return err
		}
		if raw != nil && f.Simple.Indexed {
			if err := indexDelete(tx.ktx, simpleIndexKey(f.StorageID, raw, id)); err != nil {
				return err
			}
			tx.stats.Index.Delete++
		}
		return nil
	}
	if f.Complex == nil {
		return nil
	}
	els, err := iterComplex(tx.ktx, id, f)
	if err != nil {
		return err
	}
	for _, el := range els {
		if err := indexComplexElement(tx.ktx, id, f, el, false); err != nil {
			return err
		}
	}
	return nil
}
