package boltkv

import (
	"context"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/mjl-/objdb/kvstore"
)

func openTest(c *qt.C) *Store {
	path := filepath.Join(c.Mkdir(), "objdb.db")
	s, err := Open(path)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	c := qt.New(t)
	s := openTest(c)
	ctx := context.Background()

	tx, err := s.Begin(ctx, true)
	c.Assert(err, qt.IsNil)
	c.Assert(tx.Put([]byte("a"), []byte("1")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	tx2, err := s.Begin(ctx, false)
	c.Assert(err, qt.IsNil)
	v, err := tx2.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "1")
	c.Assert(tx2.Rollback(), qt.IsNil)

	tx3, err := s.Begin(ctx, true)
	c.Assert(err, qt.IsNil)
	c.Assert(tx3.Delete([]byte("a")), qt.IsNil)
	c.Assert(tx3.Commit(), qt.IsNil)

	tx4, err := s.Begin(ctx, false)
	c.Assert(err, qt.IsNil)
	v, err = tx4.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.IsNil)
}

func TestGetRangeBounds(t *testing.T) {
	c := qt.New(t)
	s := openTest(c)
	ctx := context.Background()

	tx, err := s.Begin(ctx, true)
	c.Assert(err, qt.IsNil)
	for _, k := range []string{"a", "b", "c", "d"} {
		c.Assert(tx.Put([]byte(k), []byte(k)), qt.IsNil)
	}
	c.Assert(tx.Commit(), qt.IsNil)

	tx2, err := s.Begin(ctx, false)
	c.Assert(err, qt.IsNil)
	it, err := tx2.GetRange([]byte("b"), []byte("d"), false)
	c.Assert(err, qt.IsNil)
	var got []string
	for it.Next() {
		got = append(got, string(it.Pair().Key))
	}
	c.Assert(got, qt.DeepEquals, []string{"b", "c"})
}

func TestNextSequenceIncrements(t *testing.T) {
	c := qt.New(t)
	s := openTest(c)
	ctx := context.Background()

	tx, err := s.Begin(ctx, true)
	c.Assert(err, qt.IsNil)
	ns := []byte("objects")
	n1, err := tx.NextSequence(ns)
	c.Assert(err, qt.IsNil)
	n2, err := tx.NextSequence(ns)
	c.Assert(err, qt.IsNil)
	c.Assert(n2, qt.Equals, n1+1)
	c.Assert(tx.Commit(), qt.IsNil)
}

func TestReadOnlyTxRejectsWrites(t *testing.T) {
	c := qt.New(t)
	s := openTest(c)
	ctx := context.Background()

	tx, err := s.Begin(ctx, false)
	c.Assert(err, qt.IsNil)
	c.Assert(tx.Put([]byte("a"), []byte("1")), qt.ErrorIs, kvstore.ErrReadOnly)
}
