// Package memkv is an in-memory ordered key/value store. It backs objdb's
// snapshot transactions and is handy directly in tests.
//
// This implementation is deliberately simple standard-library code (a
// sorted slice of keys with binary search) rather than grounded on a
// third-party ordered-map structure; see DESIGN.md for that justification.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/mjl-/objdb/kvstore"
)

// Store is a single in-memory ordered map shared by all transactions
// opened against it. Unlike boltkv it allows multiple concurrent writable
// transactions; callers that need BoltDB-like single-writer semantics
// should serialize externally (snapshot transactions, memkv's main use,
// never commit at all, so the distinction rarely matters in practice).
type Store struct {
	mu   sync.Mutex
	keys [][]byte
	vals map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{vals: map[string][]byte{}}
}

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context, writable bool) (kvstore.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{ctx: ctx, s: s, writable: writable}, nil
}

// Reset clears all content and index keys. Used by the snapshot
// transaction's reset() to drop accumulated state while the caller keeps
// the same handle. A caller wanting to preserve a catalog across reset
// should copy catalog keys out first; memkv itself has no notion of a
// catalog partition (that's an objdb-level convention over the flat key
// space).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
	s.vals = map[string][]byte{}
}

func (s *Store) find(key []byte) (int, bool) {
	i := sort.Search(len(s.keys), func(i int) bool {
		return compareBytes(s.keys[i], key) >= 0
	})
	if i < len(s.keys) && compareBytes(s.keys[i], key) == 0 {
		return i, true
	}
	return i, false
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

type tx struct {
	ctx      context.Context
	s        *Store
	writable bool
	done     bool
}

func (t *tx) checkLive() error {
	if t.done {
		return kvstore.ErrStale
	}
	return t.ctx.Err()
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return kvstore.ErrReadOnly
	}
	return nil
}

func (t *tx) Get(key []byte) ([]byte, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	v, ok := t.s.vals[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *tx) Put(key, value []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	i, found := t.s.find(key)
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if !found {
		t.s.keys = append(t.s.keys, nil)
		copy(t.s.keys[i+1:], t.s.keys[i:])
		t.s.keys[i] = k
	}
	t.s.vals[string(k)] = v
	return nil
}

func (t *tx) Delete(key []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	i, found := t.s.find(key)
	if !found {
		return nil
	}
	delete(t.s.vals, string(t.s.keys[i]))
	t.s.keys = append(t.s.keys[:i], t.s.keys[i+1:]...)
	return nil
}

func (t *tx) DeleteRange(lo, hi []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	lo_, _ := t.s.find(lo)
	var hi_ int
	if hi == nil {
		hi_ = len(t.s.keys)
	} else {
		hi_, _ = t.s.find(hi)
	}
	for i := lo_; i < hi_; i++ {
		delete(t.s.vals, string(t.s.keys[i]))
	}
	t.s.keys = append(t.s.keys[:lo_], t.s.keys[hi_:]...)
	return nil
}

func (t *tx) GetRange(lo, hi []byte, reverse bool) (kvstore.Iterator, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	lo_, _ := t.s.find(lo)
	var hi_ int
	if hi == nil {
		hi_ = len(t.s.keys)
	} else {
		hi_, _ = t.s.find(hi)
	}
	pairs := make([]kvstore.KVPair, 0, hi_-lo_)
	for i := lo_; i < hi_; i++ {
		k := t.s.keys[i]
		pairs = append(pairs, kvstore.KVPair{Key: append([]byte(nil), k...), Value: append([]byte(nil), t.s.vals[string(k)]...)})
	}
	if reverse {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	return &iterator{pairs: pairs, i: -1}, nil
}

type iterator struct {
	pairs []kvstore.KVPair
	i     int
}

func (it *iterator) Next() bool {
	it.i++
	return it.i < len(it.pairs)
}
func (it *iterator) Pair() kvstore.KVPair { return it.pairs[it.i] }
func (it *iterator) Err() error           { return nil }
func (it *iterator) Close() error         { return nil }

func (t *tx) NextSequence(namespace []byte) (uint64, error) {
	return 0, kvstore.ErrNoSequence
}

func (t *tx) Commit() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	// memkv applies writes immediately rather than buffering them, so
	// commit is just a liveness check; objdb's snapshot transaction (C9)
	// is the layer responsible for always failing commit/rollback, not
	// this backend.
	t.done = true
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	return nil
}
