package objdb

import (
	"fmt"

	"github.com/mjl-/objdb/kvstore"
)

// Complex-field content key suffixes: a set element's suffix is its own
// encoded value, a list element's suffix is its 4-byte big-endian
// position, a map entry's suffix is its encoded key.
const maxListLength = 1<<31 - 1

func listSuffix(pos uint32) []byte { return putUint32(nil, pos) }

func elementKey(id ObjId, field *Field, suffix []byte) []byte {
	buf := simpleFieldPrefix(id, field.StorageID)
	return append(buf, suffix...)
}

// complexElement is one decoded entry of a complex field: for List, Pos is
// meaningful and Key is nil; for Set, Value is both the key and payload;
// for Map, Key and Value are both populated.
type complexElement struct {
	Pos   uint32
	Key   any
	Value any
}

// iterComplex streams the raw key/value pairs of field within id's content
// range, in key order (list: position order, set/map: encoded-key order),
// decoding each with field's element (and, for maps, key) sub-field codec.
// Results are materialized into a slice rather than streamed lazily, so a
// caller mutating the same field mid-iteration (list repacking, cascade
// unreference) never observes its own writes.
func iterComplex(ktx kvstore.Tx, id ObjId, field *Field) ([]complexElement, error) {
	lo, hi := complexFieldRange(id, field.StorageID)
	it, err := ktx.GetRange(lo, hi, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []complexElement
	for it.Next() {
		p := it.Pair()
		suffix := p.Key[len(lo):]
		switch field.Complex.Collection {
		case CollectionList:
			pos, _, ok := getUint32(suffix)
			if !ok {
				return nil, fmt.Errorf("%w: truncated list position", ErrStore)
			}
			v, _, err := decodeValue(p.Value, field.Complex.Elem.Kind, field.Complex.Elem.UserType)
			if err != nil {
				return nil, err
			}
			out = append(out, complexElement{Pos: pos, Value: v})
		case CollectionSet:
			v, _, err := decodeValue(suffix, field.Complex.Elem.Kind, field.Complex.Elem.UserType)
			if err != nil {
				return nil, err
			}
			out = append(out, complexElement{Value: v})
		case CollectionMap:
			k, _, err := decodeValue(suffix, field.Complex.Key.Kind, field.Complex.Key.UserType)
			if err != nil {
				return nil, err
			}
			v, _, err := decodeValue(p.Value, field.Complex.Elem.Kind, field.Complex.Elem.UserType)
			if err != nil {
				return nil, err
			}
			out = append(out, complexElement{Key: k, Value: v})
		}
	}
	return out, it.Err()
}

// indexComplexElement adds or removes the index entries for one element of
// a complex field, emitting an add/remove index-entry operation for every
// indexed sub-field. For list sub-fields the disambiguator is the
// position, so repeated values at different indices each get their own
// entry; for map sub-fields, key and value are indexed independently,
// disambiguated by the map key.
func indexComplexElement(ktx kvstore.Tx, id ObjId, field *Field, el complexElement, add bool) error {
	apply := func(key []byte) error {
		if add {
			return indexPut(ktx, key)
		}
		return indexDelete(ktx, key)
	}
	cf := field.Complex
	switch cf.Collection {
	case CollectionList:
		if cf.Elem.Indexed {
			enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, el.Value)
			if err != nil {
				return err
			}
			if err := apply(subFieldIndexKey(cf.Elem.StorageID, enc, id, listSuffix(el.Pos))); err != nil {
				return err
			}
		}
	case CollectionSet:
		if cf.Elem.Indexed {
			enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, el.Value)
			if err != nil {
				return err
			}
			if err := apply(subFieldIndexKey(cf.Elem.StorageID, enc, id, nil)); err != nil {
				return err
			}
		}
	case CollectionMap:
		if cf.Key.Indexed {
			enc, err := encodeValue(nil, cf.Key.Kind, cf.Key.UserType, el.Key)
			if err != nil {
				return err
			}
			if err := apply(subFieldIndexKey(cf.Key.StorageID, enc, id, nil)); err != nil {
				return err
			}
		}
		if cf.Elem.Indexed {
			encKey, err := encodeValue(nil, cf.Key.Kind, cf.Key.UserType, el.Key)
			if err != nil {
				return err
			}
			encVal, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, el.Value)
			if err != nil {
				return err
			}
			if err := apply(subFieldIndexKey(cf.Elem.StorageID, encVal, id, encKey)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListAppend adds value at the end of field's list.
func (tx *Tx) ListAppend(id ObjId, field *Field, value any) error {
	return tx.ListInsert(id, field, -1, value)
}

// ListInsert inserts value at pos (0-based), or appends when pos < 0,
// shifting every existing element at or after pos up by one position. Only
// the suffix range for shifted positions is rewritten.
func (tx *Tx) ListInsert(id ObjId, field *Field, pos int, value any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	cf := field.Complex
	if cf == nil || cf.Collection != CollectionList {
		return fmt.Errorf("%w: field %q is not a list", ErrParam, field.Name)
	}
	els, err := iterComplex(tx.ktx, id, field)
	if err != nil {
		return err
	}
	n := len(els)
	if pos < 0 || pos > n {
		pos = n
	}
	if n+1 > maxListLength {
		return fmt.Errorf("%w: list field %q exceeds maximum length", ErrParam, field.Name)
	}
	// Shift positions >= pos up by one, highest first so we never
	// overwrite a not-yet-moved key.
	for i := n - 1; i >= pos; i-- {
		old := els[i]
		oldKey := elementKey(id, field, listSuffix(old.Pos))
		newPos := old.Pos + 1
		newKey := elementKey(id, field, listSuffix(newPos))
		enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, old.Value)
		if err != nil {
			return err
		}
		if err := tx.ktx.Delete(oldKey); err != nil {
			return err
		}
		if err := tx.ktx.Put(newKey, enc); err != nil {
			return err
		}
		tx.stats.Content.Put++
		if cf.Elem.Indexed {
			if err := indexComplexElement(tx.ktx, id, field, complexElement{Pos: old.Pos, Value: old.Value}, false); err != nil {
				return err
			}
			if err := indexComplexElement(tx.ktx, id, field, complexElement{Pos: newPos, Value: old.Value}, true); err != nil {
				return err
			}
		}
		if err := tx.updateCompositesForField(id, field.Name); err != nil {
			return err
		}
	}
	var insertPos uint32
	if pos == 0 {
		insertPos = 0
	} else {
		insertPos = els[pos-1].Pos + 1
	}
	if n > 0 && pos < n {
		insertPos = els[pos].Pos
	}
	enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, value)
	if err != nil {
		return err
	}
	if err := tx.ktx.Put(elementKey(id, field, listSuffix(insertPos)), enc); err != nil {
		return err
	}
	tx.stats.Content.Put++
	if cf.Elem.Indexed {
		if err := indexComplexElement(tx.ktx, id, field, complexElement{Pos: insertPos, Value: value}, true); err != nil {
			return err
		}
	}
	return nil
}

// ListRemoveAt removes the element at pos, shifting later elements down by
// one.
func (tx *Tx) ListRemoveAt(id ObjId, field *Field, pos int) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	cf := field.Complex
	if cf == nil || cf.Collection != CollectionList {
		return fmt.Errorf("%w: field %q is not a list", ErrParam, field.Name)
	}
	els, err := iterComplex(tx.ktx, id, field)
	if err != nil {
		return err
	}
	if pos < 0 || pos >= len(els) {
		return fmt.Errorf("%w: list index %d out of range", ErrParam, pos)
	}
	removed := els[pos]
	if err := tx.ktx.Delete(elementKey(id, field, listSuffix(removed.Pos))); err != nil {
		return err
	}
	tx.stats.Content.Delete++
	if cf.Elem.Indexed {
		if err := indexComplexElement(tx.ktx, id, field, removed, false); err != nil {
			return err
		}
	}
	for i := pos + 1; i < len(els); i++ {
		old := els[i]
		newPos := old.Pos - 1
		enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, old.Value)
		if err != nil {
			return err
		}
		if err := tx.ktx.Delete(elementKey(id, field, listSuffix(old.Pos))); err != nil {
			return err
		}
		if err := tx.ktx.Put(elementKey(id, field, listSuffix(newPos)), enc); err != nil {
			return err
		}
		tx.stats.Content.Put++
		if cf.Elem.Indexed {
			if err := indexComplexElement(tx.ktx, id, field, old, false); err != nil {
				return err
			}
			if err := indexComplexElement(tx.ktx, id, field, complexElement{Pos: newPos, Value: old.Value}, true); err != nil {
				return err
			}
		}
	}
	return tx.updateCompositesForField(id, field.Name)
}

// ListGet returns the decoded elements of field, in position order.
func (tx *Tx) ListGet(id ObjId, field *Field) ([]any, error) {
	els, err := iterComplex(tx.ktx, id, field)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(els))
	for i, e := range els {
		out[i] = e.Value
	}
	return out, nil
}

// SetAdd adds value to field's set, a no-op if already present.
func (tx *Tx) SetAdd(id ObjId, field *Field, value any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	cf := field.Complex
	if cf == nil || cf.Collection != CollectionSet {
		return fmt.Errorf("%w: field %q is not a set", ErrParam, field.Name)
	}
	enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, value)
	if err != nil {
		return err
	}
	key := elementKey(id, field, enc)
	existing, err := tx.ktx.Get(key)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := tx.ktx.Put(key, nil); err != nil {
		return err
	}
	tx.stats.Content.Put++
	if cf.Elem.Indexed {
		if err := indexComplexElement(tx.ktx, id, field, complexElement{Value: value}, true); err != nil {
			return err
		}
	}
	return tx.updateCompositesForField(id, field.Name)
}

// SetRemove removes value from field's set, a no-op if absent.
func (tx *Tx) SetRemove(id ObjId, field *Field, value any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	cf := field.Complex
	if cf == nil || cf.Collection != CollectionSet {
		return fmt.Errorf("%w: field %q is not a set", ErrParam, field.Name)
	}
	enc, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, value)
	if err != nil {
		return err
	}
	key := elementKey(id, field, enc)
	existing, err := tx.ktx.Get(key)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if err := tx.ktx.Delete(key); err != nil {
		return err
	}
	tx.stats.Content.Delete++
	if cf.Elem.Indexed {
		if err := indexComplexElement(tx.ktx, id, field, complexElement{Value: value}, false); err != nil {
			return err
		}
	}
	return tx.updateCompositesForField(id, field.Name)
}

// SetMembers returns the decoded elements of field, in key (encoded-value)
// order.
func (tx *Tx) SetMembers(id ObjId, field *Field) ([]any, error) {
	els, err := iterComplex(tx.ktx, id, field)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(els))
	for i, e := range els {
		out[i] = e.Value
	}
	return out, nil
}

// MapSet sets key -> value in field's map, overwriting any existing entry.
func (tx *Tx) MapSet(id ObjId, field *Field, key, value any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	cf := field.Complex
	if cf == nil || cf.Collection != CollectionMap {
		return fmt.Errorf("%w: field %q is not a map", ErrParam, field.Name)
	}
	encKey, err := encodeValue(nil, cf.Key.Kind, cf.Key.UserType, key)
	if err != nil {
		return err
	}
	storageKey := elementKey(id, field, encKey)
	oldRaw, err := tx.ktx.Get(storageKey)
	if err != nil {
		return err
	}
	var oldValue any
	hadOld := oldRaw != nil
	if hadOld {
		oldValue, _, err = decodeValue(oldRaw, cf.Elem.Kind, cf.Elem.UserType)
		if err != nil {
			return err
		}
	}
	encVal, err := encodeValue(nil, cf.Elem.Kind, cf.Elem.UserType, value)
	if err != nil {
		return err
	}
	if err := tx.ktx.Put(storageKey, encVal); err != nil {
		return err
	}
	tx.stats.Content.Put++
	if hadOld {
		if err := indexComplexElement(tx.ktx, id, field, complexElement{Key: key, Value: oldValue}, false); err != nil {
			return err
		}
	} else if cf.Key.Indexed {
		if err := indexPut(tx.ktx, subFieldIndexKey(cf.Key.StorageID, encKey, id, nil)); err != nil {
			return err
		}
	}
	if cf.Elem.Indexed {
		if err := indexComplexElement(tx.ktx, id, field, complexElement{Key: key, Value: value}, true); err != nil {
			return err
		}
	}
	return tx.updateCompositesForField(id, field.Name)
}

// MapDelete removes key from field's map, a no-op if absent.
func (tx *Tx) MapDelete(id ObjId, field *Field, key any) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	cf := field.Complex
	if cf == nil || cf.Collection != CollectionMap {
		return fmt.Errorf("%w: field %q is not a map", ErrParam, field.Name)
	}
	encKey, err := encodeValue(nil, cf.Key.Kind, cf.Key.UserType, key)
	if err != nil {
		return err
	}
	storageKey := elementKey(id, field, encKey)
	oldRaw, err := tx.ktx.Get(storageKey)
	if err != nil {
		return err
	}
	if oldRaw == nil {
		return nil
	}
	oldValue, _, err := decodeValue(oldRaw, cf.Elem.Kind, cf.Elem.UserType)
	if err != nil {
		return err
	}
	if err := tx.ktx.Delete(storageKey); err != nil {
		return err
	}
	tx.stats.Content.Delete++
	if err := indexComplexElement(tx.ktx, id, field, complexElement{Key: key, Value: oldValue}, false); err != nil {
		return err
	}
	return tx.updateCompositesForField(id, field.Name)
}

// MapGet returns the decoded entries of field.
func (tx *Tx) MapGet(id ObjId, field *Field) (keys, values []any, err error) {
	els, err := iterComplex(tx.ktx, id, field)
	if err != nil {
		return nil, nil, err
	}
	keys = make([]any, len(els))
	values = make([]any, len(els))
	for i, e := range els {
		keys[i], values[i] = e.Key, e.Value
	}
	return keys, values, nil
}

// unreferenceRemovedObjectTypes scans field's collection content for
// reference elements whose referent storage-id is in removedTypes and
// removes them as if the unreference disposition applied, used by
// migration when a field's allowed-reference-types set shrinks.
func unreferenceRemovedObjectTypes(tx *Tx, id ObjId, field *Field, removedTypes map[uint64]bool) error {
	cf := field.Complex
	if cf == nil || cf.Elem.Kind != KindReference {
		return nil
	}
	els, err := iterComplex(tx.ktx, id, field)
	if err != nil {
		return err
	}
	removedFromList := 0
	for _, el := range els {
		ref, ok := el.Value.(ObjId)
		if !ok || !removedTypes[ref.StorageID()] {
			continue
		}
		switch cf.Collection {
		case CollectionSet:
			if err := tx.SetRemove(id, field, el.Value); err != nil {
				return err
			}
		case CollectionMap:
			if err := tx.MapDelete(id, field, el.Key); err != nil {
				return err
			}
		case CollectionList:
			// Each earlier removal shifted the later elements down by one,
			// so el's current position is its original one minus the
			// number of elements removed before it.
			if err := tx.ListRemoveAt(id, field, int(el.Pos)-removedFromList); err != nil {
				return err
			}
			removedFromList++
		}
	}
	return nil
}
