package objdb

import (
	"bytes"
	"math"
	"math/rand"
	"sort"
	"testing"
)

func TestUvarintRoundtrip(t *testing.T) {
	vs := []uint64{0, 1, 0xf7, 0xf8, 0xff, 0x100, 0xffff, 0x10000, math.MaxUint32, math.MaxUint64}
	for _, v := range vs {
		buf := putUvarint(nil, v)
		got, rest, ok := getUvarint(buf)
		if !ok || len(rest) != 0 || got != v {
			t.Fatalf("uvarint roundtrip %d: got %d, rest %v, ok %v", v, got, rest, ok)
		}
	}
}

func TestUvarintOrderPreserving(t *testing.T) {
	vs := make([]uint64, 0, 200)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		vs = append(vs, rng.Uint64()>>uint(rng.Intn(64)))
	}
	encoded := make([][]byte, len(vs))
	for i, v := range vs {
		encoded[i] = putUvarint(nil, v)
	}
	idx := make([]int, len(vs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return vs[idx[i]] < vs[idx[j]] })
	sortedBytes := make([][]byte, len(idx))
	for i, j := range idx {
		sortedBytes[i] = encoded[j]
	}
	for i := 1; i < len(sortedBytes); i++ {
		if bytes.Compare(sortedBytes[i-1], sortedBytes[i]) > 0 {
			t.Fatalf("uvarint encoding not order-preserving at %d", i)
		}
	}
}

func TestInt32OrderPreserving(t *testing.T) {
	vs := []int32{math.MinInt32, -1000, -1, 0, 1, 1000, math.MaxInt32}
	var prev []byte
	for _, v := range vs {
		b := putInt32(nil, v)
		if prev != nil && bytes.Compare(prev, b) >= 0 {
			t.Fatalf("int32 %d did not sort after previous", v)
		}
		prev = b
		got, rest, ok := getInt32(b)
		if !ok || len(rest) != 0 || got != v {
			t.Fatalf("int32 roundtrip %d: got %d", v, got)
		}
	}
}

func TestFloat64OrderPreserving(t *testing.T) {
	vs := []float64{math.Inf(-1), -1e300, -1.5, -0.0, 0.0, 1.5, 1e300, math.Inf(1)}
	var prev []byte
	for _, v := range vs {
		b := putFloat64(nil, v)
		if prev != nil && bytes.Compare(prev, b) > 0 {
			t.Fatalf("float64 %v did not sort after previous", v)
		}
		prev = b
		got, rest, ok := getFloat64(b)
		if !ok || len(rest) != 0 || got != v {
			t.Fatalf("float64 roundtrip %v: got %v", v, got)
		}
	}
}

func TestStringEscapeRoundtrip(t *testing.T) {
	vs := []string{"", "a", "hello", "with\x00nul", "\x00\x00leading", "trailing\x00", string([]byte{0xff, 0x00, 0xff})}
	for _, s := range vs {
		b := putString(nil, s)
		got, rest, ok := getString(b)
		if !ok || len(rest) != 0 || got != s {
			t.Fatalf("string roundtrip %q: got %q ok %v", s, got, ok)
		}
	}
}

func TestStringOrderPreserving(t *testing.T) {
	vs := []string{"", "a", "aa", "ab", "b", "ba"}
	var prev []byte
	for _, s := range vs {
		b := putString(nil, s)
		if prev != nil && bytes.Compare(prev, b) >= 0 {
			t.Fatalf("string %q did not sort after previous", s)
		}
		prev = b
	}
}

func TestKeyAfterPrefix(t *testing.T) {
	p := []byte{0x01, 0x02}
	next := keyAfterPrefix(p)
	if bytes.Compare(next, p) <= 0 {
		t.Fatalf("keyAfterPrefix(%v) = %v, want > p", p, next)
	}
	if bytes.Compare(next, append(append([]byte{}, p...), 0x00)) <= 0 {
		t.Fatalf("keyAfterPrefix(%v) = %v should exceed any key with prefix p", p, next)
	}
	allFF := []byte{0xff, 0xff}
	next2 := keyAfterPrefix(allFF)
	if bytes.Compare(next2, allFF) <= 0 {
		t.Fatalf("keyAfterPrefix(all 0xff) did not produce a greater key")
	}
}
