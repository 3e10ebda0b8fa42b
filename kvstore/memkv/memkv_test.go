package memkv

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/mjl-/objdb/kvstore"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Put([]byte("b"), []byte("2")))

	v, err := tx.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, tx.Delete([]byte("a")))
	v, err = tx.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, tx.Commit())
}

func TestGetRangeOrderingAndReverse(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, tx.Put([]byte(k), []byte(k+k)))
	}

	it, err := tx.GetRange([]byte("a"), nil, false)
	require.NoError(t, err)
	var got []kvstore.KVPair
	for it.Next() {
		got = append(got, it.Pair())
	}
	require.NoError(t, it.Close())

	want := []kvstore.KVPair{
		{Key: []byte("a"), Value: []byte("aa")},
		{Key: []byte("b"), Value: []byte("bb")},
		{Key: []byte("c"), Value: []byte("cc")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ascending range mismatch (-want +got):\n%s", diff)
	}

	itRev, err := tx.GetRange([]byte("a"), nil, true)
	require.NoError(t, err)
	var gotRev []kvstore.KVPair
	for itRev.Next() {
		gotRev = append(gotRev, itRev.Pair())
	}
	require.NoError(t, itRev.Close())

	wantRev := []kvstore.KVPair{want[2], want[1], want[0]}
	if diff := cmp.Diff(wantRev, gotRev); diff != "" {
		t.Fatalf("reverse range mismatch (-want +got):\n%s", diff)
	}
}

func TestReadOnlyTxRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx, false)
	require.NoError(t, err)
	require.ErrorIs(t, tx.Put([]byte("a"), []byte("1")), kvstore.ErrReadOnly)
	require.ErrorIs(t, tx.Delete([]byte("a")), kvstore.ErrReadOnly)
}

func TestNextSequenceUnsupported(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = tx.NextSequence([]byte("ns"))
	require.ErrorIs(t, err, kvstore.ErrNoSequence)
}

func TestResetClearsStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Commit())

	s.Reset()

	tx2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	v, err := tx2.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v, "Reset should drop all prior content")
}

func TestStaleTransactionRejectsCalls(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.Get([]byte("a"))
	require.ErrorIs(t, err, kvstore.ErrStale)
}
