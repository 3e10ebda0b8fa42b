package objdb

// Key partitions. Every key in the store starts with one of these marker
// bytes: rather than carving up the storage-id numeric space, objdb gives
// content, index, and catalog keys disjoint leading bytes so no encoding of
// a storage-id or value can ever straddle partitions.
const (
	partitionContent byte = 0x01
	partitionIndex   byte = 0x02
	partitionCatalog byte = 0x03
)

// metadataKey is also the prefix of every content key belonging to id: the
// metadata key itself, every simple field key, and every complex field's
// content keys.
func metadataKey(id ObjId) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, partitionContent)
	buf = append(buf, id[:]...)
	return buf
}

// objectContentRange bounds every key belonging to id: the metadata key
// plus every field's content key.
func objectContentRange(id ObjId) (lo, hi []byte) {
	lo = metadataKey(id)
	hi = keyAfterPrefix(lo)
	return
}

// simpleFieldPrefix is the prefix shared by a field's simple-value key (for
// scalar fields) and every content key of a complex field (for
// collections): metadataKey(id) followed by the field's storage-id.
func simpleFieldPrefix(id ObjId, fieldStorageID uint64) []byte {
	buf := metadataKey(id)
	return putStorageID(buf, fieldStorageID)
}

func simpleFieldKey(id ObjId, fieldStorageID uint64) []byte {
	return simpleFieldPrefix(id, fieldStorageID)
}

// complexFieldRange bounds every content key of one complex field within
// one object.
func complexFieldRange(id ObjId, fieldStorageID uint64) (lo, hi []byte) {
	lo = simpleFieldPrefix(id, fieldStorageID)
	hi = keyAfterPrefix(lo)
	return
}

// objectTypeContentRange bounds the content keys of every object of a given
// storage-id. Not used by the core mutation path (migration is lazy, never
// bulk) but exposed for the CLI and for tests that need to enumerate all
// instances of a type.
func objectTypeContentRange(typeStorageID uint64) (lo, hi []byte) {
	lo = append([]byte{partitionContent}, putStorageID(nil, typeStorageID)...)
	hi = keyAfterPrefix(lo)
	return
}

// simpleIndexPrefix is shared by every index entry for one field.
func simpleIndexPrefix(fieldStorageID uint64) []byte {
	buf := []byte{partitionIndex}
	return putStorageID(buf, fieldStorageID)
}

func simpleIndexRange(fieldStorageID uint64) (lo, hi []byte) {
	lo = simpleIndexPrefix(fieldStorageID)
	hi = keyAfterPrefix(lo)
	return
}

// simpleIndexKey builds the key for one (field, value, object) index
// entry.
func simpleIndexKey(fieldStorageID uint64, encValue []byte, id ObjId) []byte {
	buf := simpleIndexPrefix(fieldStorageID)
	buf = append(buf, encValue...)
	buf = append(buf, id[:]...)
	return buf
}

// simpleIndexValueRange bounds every object id sharing one indexed value,
// used for reverse-reference lookup under a non-NOTHING on-delete
// disposition.
func simpleIndexValueRange(fieldStorageID uint64, encValue []byte) (lo, hi []byte) {
	lo = append(simpleIndexPrefix(fieldStorageID), encValue...)
	hi = keyAfterPrefix(lo)
	return
}

// subFieldIndexKey is a simple index key for a collection element's
// sub-field, carrying a disambiguator (the list index, or nothing for a
// set/map value whose ObjId+element pair is already unique) so repeated
// values at different positions all appear.
func subFieldIndexKey(subFieldStorageID uint64, encElement []byte, id ObjId, disambiguator []byte) []byte {
	buf := simpleIndexPrefix(subFieldStorageID)
	buf = append(buf, encElement...)
	buf = append(buf, id[:]...)
	buf = append(buf, disambiguator...)
	return buf
}

// compositeIndexKey builds a composite index entry: storage-id, then each
// component's encoded value in order, then the object id.
func compositeIndexKey(compositeStorageID uint64, encValues [][]byte, id ObjId) []byte {
	buf := simpleIndexPrefix(compositeStorageID)
	for _, v := range encValues {
		buf = append(buf, v...)
	}
	buf = append(buf, id[:]...)
	return buf
}

func compositeIndexRange(compositeStorageID uint64) (lo, hi []byte) {
	return simpleIndexRange(compositeStorageID)
}

// catalogKey addresses the stored serialization of one schema version.
func catalogKey(version uint32) []byte {
	buf := []byte{partitionCatalog}
	return putUint32(buf, version)
}

func catalogRange() (lo, hi []byte) {
	lo = []byte{partitionCatalog}
	hi = keyAfterPrefix(lo)
	return
}

// nullMarker is the canonical encoding standing in for an absent component
// value in a composite index tuple: a single byte followed by nothing. A
// present component is written as nonNullMarker followed by its encoded
// value, so an absent component sorts before every present one whatever
// the value encoding's first byte is.
const nullMarker = 0x00
const nonNullMarker = 0x01

func encodeIndexComponent(present bool, enc []byte) []byte {
	if !present {
		return []byte{nullMarker}
	}
	buf := []byte{nonNullMarker}
	return append(buf, enc...)
}
