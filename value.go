package objdb

import "fmt"

// encodeValue order-preservingly encodes v, appending to buf. It returns an
// ErrTypeMismatch error when v's Go type does not match kind.
func encodeValue(buf []byte, kind ElementKind, userType string, v any) ([]byte, error) {
	switch kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putBool(buf, b), nil
	case KindInt32:
		n, ok := v.(int32)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putInt32(buf, n), nil
	case KindInt64:
		n, ok := v.(int64)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putInt64(buf, n), nil
	case KindUint32:
		n, ok := v.(uint32)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putUint32(buf, n), nil
	case KindUint64:
		n, ok := v.(uint64)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putUint64(buf, n), nil
	case KindFloat32:
		n, ok := v.(float32)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putFloat32(buf, n), nil
	case KindFloat64:
		n, ok := v.(float64)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putFloat64(buf, n), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putString(buf, s), nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		buf = putUvarint(buf, uint64(len(b)))
		return append(buf, b...), nil
	case KindReference:
		id, ok := v.(ObjId)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return append(buf, id[:]...), nil
	case KindEnum:
		n, ok := v.(uint64)
		if !ok {
			return nil, typeMismatch(kind, v)
		}
		return putUvarint(buf, n), nil
	case KindUser:
		c, ok := globalTypes.Lookup(userType)
		if !ok || c.Encode == nil {
			return nil, fmt.Errorf("%w: no codec registered for user type %q", ErrTypeMismatch, userType)
		}
		return c.Encode(buf, v)
	default:
		return nil, fmt.Errorf("%w: unsupported element kind %v", ErrTypeMismatch, kind)
	}
}

func decodeValue(buf []byte, kind ElementKind, userType string) (any, []byte, error) {
	switch kind {
	case KindBool:
		v, rest, ok := getBool(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindInt32:
		v, rest, ok := getInt32(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindInt64:
		v, rest, ok := getInt64(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindUint32:
		v, rest, ok := getUint32(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindUint64:
		v, rest, ok := getUint64(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindFloat32:
		v, rest, ok := getFloat32(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindFloat64:
		v, rest, ok := getFloat64(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindString:
		v, rest, ok := getString(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindBytes:
		n, rest, ok := getUvarint(buf)
		if !ok || uint64(len(rest)) < n {
			return nil, buf, truncated(kind)
		}
		v := make([]byte, n)
		copy(v, rest[:n])
		return v, rest[n:], nil
	case KindReference:
		if len(buf) < 8 {
			return nil, buf, truncated(kind)
		}
		var id ObjId
		copy(id[:], buf[:8])
		return id, buf[8:], nil
	case KindEnum:
		v, rest, ok := getUvarint(buf)
		if !ok {
			return nil, buf, truncated(kind)
		}
		return v, rest, nil
	case KindUser:
		c, ok := globalTypes.Lookup(userType)
		if !ok || c.Decode == nil {
			return nil, buf, fmt.Errorf("%w: no codec registered for user type %q", ErrTypeMismatch, userType)
		}
		return c.Decode(buf)
	default:
		return nil, buf, fmt.Errorf("%w: unsupported element kind %v", ErrTypeMismatch, kind)
	}
}

// promoteValue converts v from oldKind's Go representation to newKind's.
// Only called once isCompatiblePromotion(oldKind, newKind) has already
// approved the pair, so the switch below is exhaustive over what that
// table allows.
func promoteValue(oldKind, newKind ElementKind, v any) (any, error) {
	switch {
	case oldKind == KindInt32 && newKind == KindInt64:
		n, _ := v.(int32)
		return int64(n), nil
	case oldKind == KindUint32 && newKind == KindUint64:
		n, _ := v.(uint32)
		return uint64(n), nil
	case oldKind == KindFloat32 && newKind == KindFloat64:
		n, _ := v.(float32)
		return float64(n), nil
	default:
		return nil, fmt.Errorf("%w: no supported promotion from %v to %v", ErrTypeMismatch, oldKind, newKind)
	}
}

func typeMismatch(kind ElementKind, v any) error {
	return fmt.Errorf("%w: value %v (%T) does not match declared type %v", ErrTypeMismatch, v, v, kind)
}

func truncated(kind ElementKind) error {
	return fmt.Errorf("%w: truncated %v value", ErrStore, kind)
}

// isZero reports whether v is the zero value for kind.
func isZero(kind ElementKind, v any) bool {
	switch kind {
	case KindBool:
		b, _ := v.(bool)
		return !b
	case KindInt32:
		n, _ := v.(int32)
		return n == 0
	case KindInt64:
		n, _ := v.(int64)
		return n == 0
	case KindUint32:
		n, _ := v.(uint32)
		return n == 0
	case KindUint64, KindEnum:
		n, _ := v.(uint64)
		return n == 0
	case KindFloat32:
		n, _ := v.(float32)
		return n == 0
	case KindFloat64:
		n, _ := v.(float64)
		return n == 0
	case KindString:
		s, _ := v.(string)
		return s == ""
	case KindBytes:
		b, _ := v.([]byte)
		return len(b) == 0
	case KindReference:
		id, _ := v.(ObjId)
		return id.IsZero()
	default:
		return v == nil
	}
}
