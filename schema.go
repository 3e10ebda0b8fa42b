package objdb

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CollectionKind distinguishes a simple field from the three complex
// (collection) field layouts.
type CollectionKind int

const (
	CollectionNone CollectionKind = iota
	CollectionList
	CollectionSet
	CollectionMap
)

func (k CollectionKind) String() string {
	switch k {
	case CollectionList:
		return "list"
	case CollectionSet:
		return "set"
	case CollectionMap:
		return "map"
	default:
		return "simple"
	}
}

// OnDelete is the disposition applied to a reverse reference when its
// referent is deleted.
type OnDelete int

const (
	OnDeleteNothing OnDelete = iota
	OnDeleteException
	OnDeleteUnreference
	OnDeleteDelete
)

func (d OnDelete) String() string {
	switch d {
	case OnDeleteException:
		return "exception"
	case OnDeleteUnreference:
		return "unreference"
	case OnDeleteDelete:
		return "delete"
	default:
		return "nothing"
	}
}

// SimpleSubField describes one scalar storage location: a plain Field, or
// one of a ComplexField's element/key/value sub-fields. Every sub-field
// carries its own storage-id because a map's key sub-field and value
// sub-field are indexed independently.
type SimpleSubField struct {
	Name      string
	StorageID uint64
	Kind      ElementKind
	UserType  string   // set when Kind == KindUser
	RefTypes  []uint64 // allowed referent storage-ids, set when Kind == KindReference
	Indexed   bool
	OnDelete  OnDelete // meaningful only when Kind == KindReference
}

func (f SimpleSubField) zero() any {
	return defaultValueFor(f.Kind, f.UserType)
}

// typeEqual reports whether two sub-field definitions describe the same
// on-disk shape: same element type. Indexed and RefTypes/OnDelete may
// differ across schema versions without creating an incompatibility.
func (f SimpleSubField) typeEqual(o SimpleSubField) bool {
	return f.Kind == o.Kind && f.UserType == o.UserType
}

// scalarTypeCompatible reports whether a top-level Simple field (as
// opposed to a complex field's Elem/Key sub-field) may change from o to f
// across a schema version: either the same on-disk shape, or a widening
// numeric promotion migration knows how to re-encode in place. See
// isCompatiblePromotion for why this latitude is withheld from Complex
// fields' Elem/Key.
func (f SimpleSubField) scalarTypeCompatible(o SimpleSubField) bool {
	if f.typeEqual(o) {
		return true
	}
	return isCompatiblePromotion(o.Kind, f.Kind)
}

// ComplexField is the collection-specific payload of a Field whose
// Collection is List, Set, or Map.
type ComplexField struct {
	Collection CollectionKind
	Elem       SimpleSubField  // list/set value, or map value
	Key        *SimpleSubField // only set for CollectionMap
}

// Field is one declared field of an ObjectType: either a scalar
// (Complex == nil), a counter, or a collection (Complex != nil).
type Field struct {
	Name      string
	StorageID uint64
	Counter   bool            // monotonically-incrementing counter field
	Simple    *SimpleSubField // non-nil unless Complex is set
	Complex   *ComplexField   // non-nil for list/set/map fields
}

// IsComplex reports whether the field is a collection.
func (f *Field) IsComplex() bool { return f.Complex != nil }

// typeEqual checks the on-disk shape compatibility of two versions of the
// same field: same kind (simple/complex/counter), matching element
// type(s). A top-level Simple field may additionally change via a
// compatible numeric promotion (see scalarTypeCompatible); a Complex
// field's Elem/Key may not.
func (f *Field) typeEqual(o *Field) bool {
	if f.Counter != o.Counter {
		return false
	}
	if (f.Complex == nil) != (o.Complex == nil) {
		return false
	}
	if f.Complex != nil {
		if f.Complex.Collection != o.Complex.Collection {
			return false
		}
		if !f.Complex.Elem.typeEqual(o.Complex.Elem) {
			return false
		}
		if (f.Complex.Key == nil) != (o.Complex.Key == nil) {
			return false
		}
		if f.Complex.Key != nil && !f.Complex.Key.typeEqual(*o.Complex.Key) {
			return false
		}
		return true
	}
	if f.Simple == nil || o.Simple == nil {
		return f.Simple == o.Simple
	}
	return f.Simple.scalarTypeCompatible(*o.Simple)
}

// CompositeIndex is an ordered tuple of simple fields of the same
// ObjectType, sharing one storage-id.
type CompositeIndex struct {
	Name      string
	StorageID uint64
	Fields    []string // ordered field names within the owning ObjectType
}

func (c *CompositeIndex) typeEqual(o *CompositeIndex) bool {
	return len(c.Fields) == len(o.Fields)
}

// ObjectType describes one object type within a Schema: its field set (in
// declaration order) and its composite indexes.
type ObjectType struct {
	Name       string
	StorageID  uint64
	Fields     *orderedmap.OrderedMap[string, *Field]
	fieldsByID map[uint64]*Field
	Composites *orderedmap.OrderedMap[string, *CompositeIndex]
	compByID   map[uint64]*CompositeIndex
}

// NewObjectType creates an empty ObjectType ready to have fields and
// composite indexes added via AddField/AddComposite, in the order they
// should sort into the canonical schema serialization.
func NewObjectType(name string, storageID uint64) *ObjectType {
	return &ObjectType{
		Name:       name,
		StorageID:  storageID,
		Fields:     orderedmap.New[string, *Field](),
		fieldsByID: map[uint64]*Field{},
		Composites: orderedmap.New[string, *CompositeIndex](),
		compByID:   map[uint64]*CompositeIndex{},
	}
}

// AddField appends a field to the object type.
func (t *ObjectType) AddField(f *Field) *ObjectType {
	t.Fields.Set(f.Name, f)
	t.fieldsByID[f.StorageID] = f
	return t
}

// AddComposite appends a composite index to the object type. Every name in
// idx.Fields must already have been added via AddField and must name a
// simple (non-collection) field: a composite tuple component has exactly
// one value per object, which only a simple field can provide.
func (t *ObjectType) AddComposite(idx *CompositeIndex) (*ObjectType, error) {
	for _, fn := range idx.Fields {
		f, ok := t.Fields.Get(fn)
		if !ok {
			return t, fmt.Errorf("%w: composite index %q references unknown field %q", ErrInvalidSchema, idx.Name, fn)
		}
		if f.Complex != nil {
			return t, fmt.Errorf("%w: composite index %q references collection field %q", ErrInvalidSchema, idx.Name, fn)
		}
	}
	t.Composites.Set(idx.Name, idx)
	t.compByID[idx.StorageID] = idx
	return t, nil
}

// parentOfSubField finds the Field owning a complex field's sub-field,
// identified by the sub-field's own storage-id.
func (t *ObjectType) parentOfSubField(subStorageID uint64) (*Field, bool) {
	for p := t.Fields.Oldest(); p != nil; p = p.Next() {
		f := p.Value
		if f.Complex == nil {
			continue
		}
		if f.Complex.Elem.StorageID == subStorageID {
			return f, true
		}
		if f.Complex.Key != nil && f.Complex.Key.StorageID == subStorageID {
			return f, true
		}
	}
	return nil, false
}

// FieldByID looks up a field by its storage-id.
func (t *ObjectType) FieldByID(id uint64) (*Field, bool) {
	f, ok := t.fieldsByID[id]
	return f, ok
}

// CompositeByID looks up a composite index by its storage-id.
func (t *ObjectType) CompositeByID(id uint64) (*CompositeIndex, bool) {
	c, ok := t.compByID[id]
	return c, ok
}

// Schema is an immutable, versioned set of ObjectTypes.
type Schema struct {
	Version      uint32
	Types        *orderedmap.OrderedMap[string, *ObjectType]
	typesByID    map[uint64]*ObjectType
	references   map[uint64]map[uint64]bool // referent storage-id -> set of referencing field storage-ids
	anyRefFields map[uint64]bool            // reference fields with RefTypes == nil: may point at any type
}

// NewSchema creates an empty, unversioned Schema. Version is assigned by
// the catalog (C4) when the schema is added.
func NewSchema() *Schema {
	return &Schema{
		Types:        orderedmap.New[string, *ObjectType](),
		typesByID:    map[uint64]*ObjectType{},
		references:   map[uint64]map[uint64]bool{},
		anyRefFields: map[uint64]bool{},
	}
}

// AddType registers an ObjectType within the schema being built.
func (s *Schema) AddType(t *ObjectType) *Schema {
	s.Types.Set(t.Name, t)
	s.typesByID[t.StorageID] = t
	return s
}

// TypeByID looks up an ObjectType by its storage-id.
func (s *Schema) TypeByID(id uint64) (*ObjectType, bool) {
	t, ok := s.typesByID[id]
	return t, ok
}

// TypeByName looks up an ObjectType by name.
func (s *Schema) TypeByName(name string) (*ObjectType, bool) {
	t, ok := s.Types.Get(name)
	return t, ok
}

// allSimpleFields walks a Field, yielding every SimpleSubField it
// ultimately stores: itself if simple, or its element/key sub-fields if
// complex. Shared by the index engine and migration.
func (f *Field) allSimpleFields() []*SimpleSubField {
	if f.Complex == nil {
		if f.Simple == nil {
			return nil
		}
		return []*SimpleSubField{f.Simple}
	}
	out := []*SimpleSubField{&f.Complex.Elem}
	if f.Complex.Key != nil {
		out = append(out, f.Complex.Key)
	}
	return out
}
