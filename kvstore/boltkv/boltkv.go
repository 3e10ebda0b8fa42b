// Package boltkv is the default objdb backend: an embedded, ACID, ordered
// key/value store on top of go.etcd.io/bbolt. Rather than one bolt bucket
// per object type, boltkv keeps objdb's entire flat byte-key namespace in a
// single top-level bucket, because objdb's own storage-id prefixes already
// partition content, index, and catalog keys.
package boltkv

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mjl-/objdb/kvstore"
)

var rootBucket = []byte("objdb")
var seqBucket = []byte("objdb.seq")

// Store wraps a *bolt.DB.
type Store struct {
	bdb *bolt.DB
}

// Open opens (creating if necessary) a BoltDB file at path as an objdb
// backend.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	err = bdb.Update(func(btx *bolt.Tx) error {
		if _, err := btx.CreateBucketIfNotExists(rootBucket); err != nil {
			return err
		}
		_, err := btx.CreateBucketIfNotExists(seqBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("preparing root buckets: %w", err)
	}
	return &Store{bdb: bdb}, nil
}

func (s *Store) Close() error { return s.bdb.Close() }

func (s *Store) Begin(ctx context.Context, writable bool) (kvstore.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("beginning bolt transaction: %w", err)
	}
	return &tx{ctx: ctx, btx: btx, writable: writable}, nil
}

type tx struct {
	ctx      context.Context
	btx      *bolt.Tx
	writable bool
	done     bool
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return kvstore.ErrReadOnly
	}
	return nil
}

func (t *tx) checkLive() error {
	if t.done {
		return kvstore.ErrStale
	}
	return t.ctx.Err()
}

func (t *tx) Get(key []byte) ([]byte, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	b := t.btx.Bucket(rootBucket)
	v := b.Get(key)
	if v == nil {
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
	return t.btx.Bucket(rootBucket).Put(key, value)
}

func (t *tx) Delete(key []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.btx.Bucket(rootBucket).Delete(key)
}

func (t *tx) DeleteRange(lo, hi []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	b := t.btx.Bucket(rootBucket)
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(lo); k != nil && lessThan(k, hi); k, _ = c.Next() {
		kk := make([]byte, len(k))
		copy(kk, k)
		keys = append(keys, kk)
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func lessThan(a, b []byte) bool {
	if b == nil {
		return true
	}
	return compareBytes(a, b) < 0
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

func (t *tx) GetRange(lo, hi []byte, reverse bool) (kvstore.Iterator, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	b := t.btx.Bucket(rootBucket)
	c := b.Cursor()
	return &iterator{c: c, lo: lo, hi: hi, reverse: reverse, started: false}, nil
}

type iterator struct {
	c         *bolt.Cursor
	lo, hi    []byte
	reverse   bool
	started   bool
	k, v      []byte
	exhausted bool
}

func (it *iterator) Next() bool {
	if it.exhausted {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		if it.reverse {
			if it.hi == nil {
				k, v = it.c.Last()
			} else {
				k, v = it.c.Seek(it.hi)
				if k == nil {
					k, v = it.c.Last()
				} else if !lessThan(k, it.hi) {
					k, v = it.c.Prev()
				}
			}
		} else {
			k, v = it.c.Seek(it.lo)
		}
	} else if it.reverse {
		k, v = it.c.Prev()
	} else {
		k, v = it.c.Next()
	}
	if k == nil {
		it.exhausted = true
		return false
	}
	if it.reverse {
		if it.lo != nil && compareBytes(k, it.lo) < 0 {
			it.exhausted = true
			return false
		}
	} else if it.hi != nil && !lessThan(k, it.hi) {
		it.exhausted = true
		return false
	}
	it.k = append([]byte(nil), k...)
	it.v = append([]byte(nil), v...)
	return true
}

func (it *iterator) Pair() kvstore.KVPair { return kvstore.KVPair{Key: it.k, Value: it.v} }
func (it *iterator) Err() error           { return nil }
func (it *iterator) Close() error         { return nil }

func (t *tx) NextSequence(namespace []byte) (uint64, error) {
	if err := t.checkLive(); err != nil {
		return 0, err
	}
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	sb := t.btx.Bucket(seqBucket)
	nb, err := sb.CreateBucketIfNotExists(namespace)
	if err != nil {
		return 0, err
	}
	return nb.NextSequence()
}

func (t *tx) Commit() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.done = true
	return t.btx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.btx.Rollback()
}
