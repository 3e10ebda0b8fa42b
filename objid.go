package objdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ObjId is an object identifier: an 8-byte value whose leading
// variable-length-encoded prefix is the storage-id of the object's type.
// The remaining bytes are an allocator-assigned suffix, unique among
// objects of that storage-id.
type ObjId [8]byte

// StorageID returns the object type's storage-id encoded in id.
func (id ObjId) StorageID() uint64 {
	sid, _, ok := getStorageID(id[:])
	if !ok {
		return 0
	}
	return sid
}

// Bytes returns the raw 8 bytes of id, in the big-endian order used for
// ObjId tie-breaks in index keys.
func (id ObjId) Bytes() []byte {
	b := make([]byte, 8)
	copy(b, id[:])
	return b
}

func (id ObjId) String() string {
	return fmt.Sprintf("%x", id[:])
}

// IsZero reports whether id is the zero ObjId, used as the canonical "no
// reference" sentinel for reference fields.
func (id ObjId) IsZero() bool {
	return id == ObjId{}
}

// ParseObjId parses the hex form produced by ObjId.String back into an
// ObjId, for tooling that accepts one as a command-line argument.
func ParseObjId(s string) (ObjId, error) {
	var id ObjId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrParam, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("%w: object id must be %d bytes, got %d", ErrParam, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// newObjID builds an ObjId from a storage-id and an allocator-assigned
// suffix, packing the storage-id with putStorageID and filling the
// remaining bytes of the fixed 8-byte array with the low-order big-endian
// bytes of the suffix; higher-order suffix bytes that do not fit are
// dropped. It panics if the storage-id's encoding alone exceeds 8 bytes.
// 8 bytes comfortably holds realistic schemas (storage-ids below 2^16 take
// 1-3 bytes here) with an 5-7 byte allocator suffix.
func newObjID(storageID uint64, suffix uint64) ObjId {
	var id ObjId
	prefix := putStorageID(nil, storageID)
	if len(prefix) > 8 {
		panic("objdb: storage-id too large to fit in ObjId")
	}
	copy(id[:], prefix)
	rem := 8 - len(prefix)
	var sufbuf [8]byte
	binary.BigEndian.PutUint64(sufbuf[:], suffix)
	copy(id[len(prefix):], sufbuf[8-rem:])
	return id
}
