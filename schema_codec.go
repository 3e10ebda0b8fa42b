package objdb

import (
	"fmt"
)

// Serialize produces the canonical stable byte form of s, used as both the
// catalog's stored value and the basis for a byte-comparison equality
// check: two schemas are the same version iff their serialized forms are
// identical. Iteration order over s.Types and
// each ObjectType's Fields/Composites is the wk8/go-ordered-map insertion
// order, i.e. declaration order, so two schemas built the same way produce
// identical bytes.
func (s *Schema) Serialize() []byte {
	var buf []byte
	buf = putUint32(buf, s.Version)
	buf = putUvarint(buf, uint64(s.Types.Len()))
	for p := s.Types.Oldest(); p != nil; p = p.Next() {
		buf = serializeType(buf, p.Value)
	}
	return buf
}

func serializeType(buf []byte, t *ObjectType) []byte {
	buf = putString(buf, t.Name)
	buf = putStorageID(buf, t.StorageID)
	buf = putUvarint(buf, uint64(t.Fields.Len()))
	for p := t.Fields.Oldest(); p != nil; p = p.Next() {
		buf = serializeField(buf, p.Value)
	}
	buf = putUvarint(buf, uint64(t.Composites.Len()))
	for p := t.Composites.Oldest(); p != nil; p = p.Next() {
		buf = serializeComposite(buf, p.Value)
	}
	return buf
}

const (
	fieldKindSimple  byte = 0
	fieldKindComplex byte = 1
	fieldKindCounter byte = 2
)

func serializeField(buf []byte, f *Field) []byte {
	buf = putString(buf, f.Name)
	buf = putStorageID(buf, f.StorageID)
	switch {
	case f.Counter:
		buf = append(buf, fieldKindCounter)
	case f.Complex != nil:
		buf = append(buf, fieldKindComplex)
		buf = append(buf, byte(f.Complex.Collection))
		buf = serializeSubField(buf, f.Complex.Elem)
		if f.Complex.Key != nil {
			buf = append(buf, 1)
			buf = serializeSubField(buf, *f.Complex.Key)
		} else {
			buf = append(buf, 0)
		}
	default:
		buf = append(buf, fieldKindSimple)
		var sub SimpleSubField
		if f.Simple != nil {
			sub = *f.Simple
		}
		buf = serializeSubField(buf, sub)
	}
	return buf
}

func serializeSubField(buf []byte, f SimpleSubField) []byte {
	buf = putString(buf, f.Name)
	buf = putStorageID(buf, f.StorageID)
	buf = append(buf, byte(f.Kind))
	buf = putString(buf, f.UserType)
	buf = putBool(buf, f.Indexed)
	buf = append(buf, byte(f.OnDelete))
	buf = putUvarint(buf, uint64(len(f.RefTypes)))
	for _, r := range f.RefTypes {
		buf = putStorageID(buf, r)
	}
	return buf
}

func serializeComposite(buf []byte, c *CompositeIndex) []byte {
	buf = putString(buf, c.Name)
	buf = putStorageID(buf, c.StorageID)
	buf = putUvarint(buf, uint64(len(c.Fields)))
	for _, fn := range c.Fields {
		buf = putString(buf, fn)
	}
	return buf
}

// DeserializeSchema parses the bytes produced by Schema.Serialize.
func DeserializeSchema(buf []byte) (*Schema, error) {
	s := NewSchema()
	v, rest, ok := getUint32(buf)
	if !ok {
		return nil, fmt.Errorf("%w: truncated schema version", ErrStore)
	}
	s.Version = v
	buf = rest
	ntypes, rest, ok := getUvarint(buf)
	if !ok {
		return nil, fmt.Errorf("%w: truncated schema type count", ErrStore)
	}
	buf = rest
	for i := uint64(0); i < ntypes; i++ {
		t, rest, err := deserializeType(buf)
		if err != nil {
			return nil, err
		}
		buf = rest
		s.AddType(t)
	}
	s.reindexReferences()
	return s, nil
}

func deserializeType(buf []byte) (*ObjectType, []byte, error) {
	name, buf, ok := getString(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated type name", ErrStore)
	}
	sid, buf, ok := getStorageID(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated type storage-id", ErrStore)
	}
	t := NewObjectType(name, sid)
	nfields, buf, ok := getUvarint(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated field count", ErrStore)
	}
	for i := uint64(0); i < nfields; i++ {
		f, rest, err := deserializeField(buf)
		if err != nil {
			return nil, buf, err
		}
		buf = rest
		t.AddField(f)
	}
	ncomp, buf2, ok := getUvarint(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated composite count", ErrStore)
	}
	buf = buf2
	for i := uint64(0); i < ncomp; i++ {
		c, rest, err := deserializeComposite(buf)
		if err != nil {
			return nil, buf, err
		}
		buf = rest
		if _, err := t.AddComposite(c); err != nil {
			return nil, buf, err
		}
	}
	return t, buf, nil
}

func deserializeField(buf []byte) (*Field, []byte, error) {
	name, buf, ok := getString(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated field name", ErrStore)
	}
	sid, buf, ok := getStorageID(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated field storage-id", ErrStore)
	}
	if len(buf) == 0 {
		return nil, buf, fmt.Errorf("%w: truncated field kind", ErrStore)
	}
	kind := buf[0]
	buf = buf[1:]
	f := &Field{Name: name, StorageID: sid}
	switch kind {
	case fieldKindCounter:
		f.Counter = true
	case fieldKindComplex:
		if len(buf) == 0 {
			return nil, buf, fmt.Errorf("%w: truncated collection kind", ErrStore)
		}
		ck := CollectionKind(buf[0])
		buf = buf[1:]
		elem, rest, err := deserializeSubField(buf)
		if err != nil {
			return nil, buf, err
		}
		buf = rest
		cf := &ComplexField{Collection: ck, Elem: elem}
		if len(buf) == 0 {
			return nil, buf, fmt.Errorf("%w: truncated map-key flag", ErrStore)
		}
		hasKey := buf[0] == 1
		buf = buf[1:]
		if hasKey {
			key, rest, err := deserializeSubField(buf)
			if err != nil {
				return nil, buf, err
			}
			buf = rest
			cf.Key = &key
		}
		f.Complex = cf
	default:
		sub, rest, err := deserializeSubField(buf)
		if err != nil {
			return nil, buf, err
		}
		buf = rest
		f.Simple = &sub
	}
	return f, buf, nil
}

func deserializeSubField(buf []byte) (SimpleSubField, []byte, error) {
	var f SimpleSubField
	name, buf, ok := getString(buf)
	if !ok {
		return f, buf, fmt.Errorf("%w: truncated subfield name", ErrStore)
	}
	sid, buf, ok := getStorageID(buf)
	if !ok {
		return f, buf, fmt.Errorf("%w: truncated subfield storage-id", ErrStore)
	}
	if len(buf) == 0 {
		return f, buf, fmt.Errorf("%w: truncated subfield kind", ErrStore)
	}
	kind := ElementKind(buf[0])
	buf = buf[1:]
	userType, buf, ok := getString(buf)
	if !ok {
		return f, buf, fmt.Errorf("%w: truncated subfield user type", ErrStore)
	}
	indexed, buf, ok := getBool(buf)
	if !ok {
		return f, buf, fmt.Errorf("%w: truncated subfield indexed flag", ErrStore)
	}
	if len(buf) == 0 {
		return f, buf, fmt.Errorf("%w: truncated subfield on-delete", ErrStore)
	}
	onDelete := OnDelete(buf[0])
	buf = buf[1:]
	nrefs, buf, ok := getUvarint(buf)
	if !ok {
		return f, buf, fmt.Errorf("%w: truncated subfield ref count", ErrStore)
	}
	refs := make([]uint64, 0, nrefs)
	for i := uint64(0); i < nrefs; i++ {
		var r uint64
		r, buf, ok = getStorageID(buf)
		if !ok {
			return f, buf, fmt.Errorf("%w: truncated subfield ref", ErrStore)
		}
		refs = append(refs, r)
	}
	f = SimpleSubField{
		Name: name, StorageID: sid, Kind: kind, UserType: userType,
		Indexed: indexed, OnDelete: onDelete, RefTypes: refs,
	}
	return f, buf, nil
}

func deserializeComposite(buf []byte) (*CompositeIndex, []byte, error) {
	name, buf, ok := getString(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated composite name", ErrStore)
	}
	sid, buf, ok := getStorageID(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated composite storage-id", ErrStore)
	}
	n, buf, ok := getUvarint(buf)
	if !ok {
		return nil, buf, fmt.Errorf("%w: truncated composite field count", ErrStore)
	}
	fields := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		var fn string
		fn, buf, ok = getString(buf)
		if !ok {
			return nil, buf, fmt.Errorf("%w: truncated composite field name", ErrStore)
		}
		fields = append(fields, fn)
	}
	return &CompositeIndex{Name: name, StorageID: sid, Fields: fields}, buf, nil
}

// reindexReferences rebuilds the referent -> referencing-field-storage-id
// map used to find reverse references quickly during delete. A reference
// field with no RefTypes may point at any type, so it can't be keyed by a
// specific referent storage-id; those fields are tracked separately in
// anyRefFields and unioned into every referencingFields lookup.
func (s *Schema) reindexReferences() {
	s.references = map[uint64]map[uint64]bool{}
	s.anyRefFields = map[uint64]bool{}
	for p := s.Types.Oldest(); p != nil; p = p.Next() {
		t := p.Value
		for fp := t.Fields.Oldest(); fp != nil; fp = fp.Next() {
			for _, sub := range fp.Value.allSimpleFields() {
				if sub.Kind != KindReference {
					continue
				}
				if len(sub.RefTypes) == 0 {
					s.anyRefFields[sub.StorageID] = true
					continue
				}
				for _, refType := range sub.RefTypes {
					if s.references[refType] == nil {
						s.references[refType] = map[uint64]bool{}
					}
					s.references[refType][sub.StorageID] = true
				}
			}
		}
	}
}

// referencingFields returns the set of field storage-ids across the schema
// that may hold a reference to objects of type referentStorageID, including
// fields with no RefTypes restriction (they may reference any type).
func (s *Schema) referencingFields(referentStorageID uint64) map[uint64]bool {
	if len(s.references[referentStorageID]) == 0 && len(s.anyRefFields) == 0 {
		return nil
	}
	out := map[uint64]bool{}
	for sid := range s.references[referentStorageID] {
		out[sid] = true
	}
	for sid := range s.anyRefFields {
		out[sid] = true
	}
	return out
}
