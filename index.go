package objdb

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/mjl-/objdb/kvstore"
)

// IndexEntry is one (value, object) pair read back from a simple index.
type IndexEntry struct {
	Value any
	ID    ObjId
}

// CompositeEntry is one (tuple, object) pair read back from a composite
// index. A nil element of Values represents the canonical null-sort-first
// encoding for an absent component value.
type CompositeEntry struct {
	Values []any
	ID     ObjId
}

// indexPut/indexDelete are the low-level single-entry mutators the object
// layer (txn.go) and complex-field engine (complex.go) call directly;
// IndexCursor below is the read side.

func indexPut(ktx kvstore.Tx, key []byte) error {
	return ktx.Put(key, nil)
}

func indexDelete(ktx kvstore.Tx, key []byte) error {
	return ktx.Delete(key)
}

// IndexCursor streams simple-index entries for one field in ascending key
// order. Construction is O(1); Close releases the underlying range-scan
// resource and must be called on every exit path.
type IndexCursor struct {
	it       kvstore.Iterator
	kind     ElementKind
	userType string
}

// QueryIndex opens a cursor over every (value, ObjId) pair stored for
// field's simple index, in ascending value order with ties broken by
// ObjId's raw big-endian bytes.
func (tx *Tx) QueryIndex(field *SimpleSubField) (*IndexCursor, error) {
	if !field.Indexed {
		return nil, fmt.Errorf("%w: field %q is not indexed", ErrParam, field.Name)
	}
	lo, hi := simpleIndexRange(field.StorageID)
	it, err := tx.ktx.GetRange(lo, hi, false)
	if err != nil {
		return nil, err
	}
	tx.stats.Index.Cursor++
	return &IndexCursor{it: it, kind: field.Kind, userType: field.UserType}, nil
}

func (c *IndexCursor) Next() bool { return c.it.Next() }

// Entry decodes the current pair. The key layout is
// <field-storage-id> <encoded-value> <ObjId>; the storage-id prefix length
// is fixed per query so the value bytes are whatever remains before the
// trailing 8-byte ObjId.
func (c *IndexCursor) Entry() (IndexEntry, error) {
	p := c.it.Pair()
	if len(p.Key) < 8 {
		return IndexEntry{}, fmt.Errorf("%w: truncated index key", ErrStore)
	}
	valueBytes := p.Key[:len(p.Key)-8]
	// Skip the field-storage-id prefix bytes (partition marker + uvarint);
	// we don't know its exact length without re-deriving it, so decode the
	// value greedily from after that prefix by re-deriving prefix length.
	_, rest, ok := getStorageID(valueBytes[1:])
	if !ok {
		return IndexEntry{}, fmt.Errorf("%w: corrupt index key", ErrStore)
	}
	v, _, err := decodeValue(rest, c.kind, c.userType)
	if err != nil {
		return IndexEntry{}, err
	}
	var id ObjId
	copy(id[:], p.Key[len(p.Key)-8:])
	return IndexEntry{Value: v, ID: id}, nil
}

func (c *IndexCursor) Close() error { return c.it.Close() }

// CompositeCursor streams composite-index entries for one CompositeIndex,
// in tuple order, ties broken left-to-right by component then by ObjId.
type CompositeCursor struct {
	it     kvstore.Iterator
	fields []*SimpleSubField
}

// QueryComposite opens a cursor over a composite index's entries. fields
// must be given in the same order as idx.Fields.
func (tx *Tx) QueryComposite(idx *CompositeIndex, fields []*SimpleSubField) (*CompositeCursor, error) {
	lo, hi := compositeIndexRange(idx.StorageID)
	it, err := tx.ktx.GetRange(lo, hi, false)
	if err != nil {
		return nil, err
	}
	tx.stats.Index.Cursor++
	return &CompositeCursor{it: it, fields: fields}, nil
}

func (c *CompositeCursor) Next() bool { return c.it.Next() }

func (c *CompositeCursor) Entry() (CompositeEntry, error) {
	p := c.it.Pair()
	if len(p.Key) < 8 {
		return CompositeEntry{}, fmt.Errorf("%w: truncated composite index key", ErrStore)
	}
	body := p.Key[:len(p.Key)-8]
	_, rest, ok := getStorageID(body[1:])
	if !ok {
		return CompositeEntry{}, fmt.Errorf("%w: corrupt composite index key", ErrStore)
	}
	values := make([]any, 0, len(c.fields))
	for _, f := range c.fields {
		if len(rest) == 0 {
			return CompositeEntry{}, fmt.Errorf("%w: truncated composite tuple", ErrStore)
		}
		present := rest[0] == nonNullMarker
		rest = rest[1:]
		if !present {
			values = append(values, nil)
			continue
		}
		v, r2, err := decodeValue(rest, f.Kind, f.UserType)
		if err != nil {
			return CompositeEntry{}, err
		}
		rest = r2
		values = append(values, v)
	}
	var id ObjId
	copy(id[:], p.Key[len(p.Key)-8:])
	return CompositeEntry{Values: values, ID: id}, nil
}

func (c *CompositeCursor) Close() error { return c.it.Close() }

// objIDToUint64/uint64ToObjID let the index engine keep compact object-id
// set membership structures as roaring bitmaps rather than Go maps/slices,
// for the cascade worklist and for composite-index tuple comparisons over
// large result sets.
func objIDToUint64(id ObjId) uint64 { return binary.BigEndian.Uint64(id[:]) }
func uint64ToObjID(v uint64) ObjId {
	var id ObjId
	binary.BigEndian.PutUint64(id[:], v)
	return id
}

// objIDSet is a compact, sorted set of ObjId backed by a roaring64 bitmap.
type objIDSet struct {
	bm *roaring64.Bitmap
}

func newObjIDSet() *objIDSet { return &objIDSet{bm: roaring64.New()} }

func (s *objIDSet) Add(id ObjId)           { s.bm.Add(objIDToUint64(id)) }
func (s *objIDSet) Remove(id ObjId)        { s.bm.Remove(objIDToUint64(id)) }
func (s *objIDSet) Contains(id ObjId) bool { return s.bm.Contains(objIDToUint64(id)) }
func (s *objIDSet) Len() int               { return int(s.bm.GetCardinality()) }

// Items drains the set in ascending ObjId order, giving the cascade
// worklist a deterministic traversal order regardless of the underlying KV
// store's native scan order.
func (s *objIDSet) Items() []ObjId {
	out := make([]ObjId, 0, s.Len())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, uint64ToObjID(it.Next()))
	}
	return out
}

// reverseReferenceHolders returns every ObjId that currently holds a
// reference to referent through subField's index; reverse lookup is
// performed via the reference field's own index, same as a forward lookup.
// The result set is collected via a roaring bitmap purely to give the
// cascade worklist a compact, order-stable structure; values are then
// drained in ascending ObjId order to keep cascade iteration deterministic
// regardless of the underlying KV store's scan order.
func reverseReferenceHolders(ktx kvstore.Tx, subFieldStorageID uint64, referent ObjId) (*objIDSet, error) {
	set := newObjIDSet()
	lo, hi := simpleIndexValueRange(subFieldStorageID, referent[:])
	it, err := ktx.GetRange(lo, hi, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for it.Next() {
		p := it.Pair()
		if len(p.Key) < 8 {
			continue
		}
		var holder ObjId
		copy(holder[:], p.Key[len(p.Key)-8:])
		set.Add(holder)
	}
	return set, it.Err()
}
