package objdb

import (
	"fmt"
	"sync"
)

// ElementKind enumerates the primitive and structural kinds a Field's value
// can take. Reference and user-defined types still carry one of these as
// their underlying wire kind.
type ElementKind int

const (
	KindBool ElementKind = iota
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindReference // stores an ObjId
	KindEnum      // stores the ordinal as a uvarint
	KindUser      // user-defined type, delegates to a registered Codec
)

// Codec is what the type registry (C2) associates with a named user-defined
// type: an order-preserving encoder/decoder pair plus a default value.
// Builtin kinds have codecs baked into encodeValue/decodeValue; Codec is
// only consulted for KindUser.
type Codec struct {
	Encode  func(buf []byte, v any) ([]byte, error)
	Decode  func(buf []byte) (any, []byte, error)
	Default func() any
}

// TypeRegistry is the process-wide catalog of named user-defined element
// types. It is populated once at startup and is safe for concurrent reads
// after that; register is typically only called from package init
// functions or early in main.
type TypeRegistry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// globalTypes is the default, process-wide registry used when a Schema
// doesn't specify its own. The registry is process-wide and treated as
// immutable after initialization.
var globalTypes = NewTypeRegistry()

// NewTypeRegistry creates an empty registry. Most programs use the package
// level RegisterType function against globalTypes instead of creating
// their own.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{codecs: map[string]Codec{}}
}

// Register adds a named codec to the registry. Re-registering the same
// name with an identical codec value is not checked for equality (function
// values aren't comparable); callers should register each user type name
// exactly once, typically from an init function.
func (r *TypeRegistry) Register(typeName string, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[typeName] = codec
}

// Lookup returns the codec registered for typeName.
func (r *TypeRegistry) Lookup(typeName string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[typeName]
	return c, ok
}

// DefaultValue returns the zero value the registry associates with
// typeName, or nil if the name isn't registered.
func (r *TypeRegistry) DefaultValue(typeName string) any {
	c, ok := r.Lookup(typeName)
	if !ok || c.Default == nil {
		return nil
	}
	return c.Default()
}

// RegisterType registers a user-defined type on the global registry.
func RegisterType(typeName string, codec Codec) { globalTypes.Register(typeName, codec) }

// defaultValueFor returns the canonical zero value for a builtin
// ElementKind, used when a migration initializes a newly-added field.
func defaultValueFor(k ElementKind, userType string) any {
	switch k {
	case KindBool:
		return false
	case KindInt32:
		return int32(0)
	case KindInt64:
		return int64(0)
	case KindUint32:
		return uint32(0)
	case KindUint64:
		return uint64(0)
	case KindFloat32:
		return float32(0)
	case KindFloat64:
		return float64(0)
	case KindString:
		return ""
	case KindBytes:
		return []byte(nil)
	case KindReference:
		return ObjId{}
	case KindEnum:
		return uint64(0)
	case KindUser:
		return globalTypes.DefaultValue(userType)
	default:
		return nil
	}
}

func (k ElementKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindReference:
		return "reference"
	case KindEnum:
		return "enum"
	case KindUser:
		return "user"
	default:
		return fmt.Sprintf("ElementKind(%d)", int(k))
	}
}

// promotionTargets maps an old element kind to the new kind it may widen
// to across a schema version: the old encoding's value range fits entirely
// within the new one, so migration can re-encode existing content in place
// without loss. Only top-level Simple fields get this latitude (see
// SimpleSubField.scalarTypeCompatible); a complex field's Elem or Key
// sub-field keeps strict kind equality because their encoded bytes often
// double as part of the content key itself (Set values, Map keys), and
// migration has no support for rewriting those keys.
var promotionTargets = map[ElementKind]ElementKind{
	KindInt32:   KindInt64,
	KindUint32:  KindUint64,
	KindFloat32: KindFloat64,
}

// isCompatiblePromotion reports whether a field may change from oldKind to
// newKind across a schema version.
func isCompatiblePromotion(oldKind, newKind ElementKind) bool {
	return promotionTargets[oldKind] == newKind
}

// indexable reports whether a value of kind k can participate in a simple
// or composite index: only scalar, order-comparable kinds may be indexed.
// Bytes are excluded because their order-preserving comparison is already
// their raw byte order and including them would invite confusion with
// string escaping.
func (k ElementKind) indexable() bool {
	switch k {
	case KindBool, KindInt32, KindInt64, KindUint32, KindUint64, KindFloat32, KindFloat64, KindString, KindReference, KindEnum:
		return true
	default:
		return false
	}
}
