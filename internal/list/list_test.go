package list

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Voskan/multimap/internal/blockarena"
	"github.com/Voskan/multimap/internal/store"
)

func newTestStore(t *testing.T, blockSize uint32) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "t.values"), blockSize, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func collectValues(t *testing.T, it *Iterator) [][]byte {
	t.Helper()
	var got [][]byte
	for it.Next() {
		got = append(got, append([]byte(nil), it.Value()...))
	}
	require.NoError(t, it.Err())
	return got
}

func TestAppendAndIterateSimpleValues(t *testing.T) {
	st := newTestStore(t, 64)
	ar := blockarena.New(64, 256)
	l := New()

	values := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, v := range values {
		require.NoError(t, l.Append(v, st, ar))
	}
	require.NoError(t, l.Flush(st))
	require.EqualValues(t, 3, l.NumValuesAdded())
	require.EqualValues(t, 3, l.NumValuesValid())

	got := collectValues(t, l.Iterate(st))
	require.Equal(t, values, got)
}

func TestAppendSplitsValueAcrossBlocks(t *testing.T) {
	st := newTestStore(t, 8)
	ar := blockarena.New(8, 64)
	l := New()

	require.NoError(t, l.Append([]byte("hello"), st, ar)) // header(1)+5 = 6, fits in block
	big := bytes.Repeat([]byte("x"), 10)
	require.NoError(t, l.Append(big, st, ar)) // forces header+payload split
	require.NoError(t, l.Flush(st))

	got := collectValues(t, l.Iterate(st))
	require.Len(t, got, 2)
	require.Equal(t, []byte("hello"), got[0])
	require.Equal(t, big, got[1])
}

func TestIterateAfterReopenFromHead(t *testing.T) {
	st := newTestStore(t, 16)
	ar := blockarena.New(16, 64)
	l := New()
	require.NoError(t, l.Append([]byte("one"), st, ar))
	require.NoError(t, l.Append([]byte("two"), st, ar))
	require.NoError(t, l.Flush(st))

	head := l.Head()
	reopened := FromHead(head)
	got := collectValues(t, reopened.Iterate(st))
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
}

func TestRemoveMarksDeletedAndSkipsOnIterate(t *testing.T) {
	st := newTestStore(t, 32)
	ar := blockarena.New(32, 128)
	l := New()
	require.NoError(t, l.Append([]byte("keep-1"), st, ar))
	require.NoError(t, l.Append([]byte("drop-me"), st, ar))
	require.NoError(t, l.Append([]byte("keep-2"), st, ar))
	require.NoError(t, l.Flush(st))

	it := l.IterateExclusive(st)
	var kept [][]byte
	for it.Next() {
		v := it.Value()
		if bytes.Equal(v, []byte("drop-me")) {
			require.NoError(t, it.Remove())
			continue
		}
		kept = append(kept, append([]byte(nil), v...))
	}
	require.NoError(t, it.Err())
	require.Equal(t, [][]byte{[]byte("keep-1"), []byte("keep-2")}, kept)
	require.EqualValues(t, 1, l.NumValuesRemoved())
	require.EqualValues(t, 2, l.NumValuesValid())

	got := collectValues(t, l.Iterate(st))
	require.Equal(t, [][]byte{[]byte("keep-1"), []byte("keep-2")}, got)
}

func TestRemoveInOpenBlock(t *testing.T) {
	st := newTestStore(t, 64)
	ar := blockarena.New(64, 256)
	l := New()
	require.NoError(t, l.Append([]byte("a"), st, ar))
	require.NoError(t, l.Append([]byte("b"), st, ar))
	// Do not flush: both values live in the open block.

	it := l.IterateExclusive(st)
	require.True(t, it.Next())
	require.Equal(t, []byte("a"), it.Value())
	require.NoError(t, it.Remove())
	require.True(t, it.Next())
	require.Equal(t, []byte("b"), it.Value())
	require.False(t, it.Next())

	got := collectValues(t, l.Iterate(st))
	require.Equal(t, [][]byte{[]byte("b")}, got)
}

func TestAvailableDecreasesAsIteratorYields(t *testing.T) {
	st := newTestStore(t, 64)
	ar := blockarena.New(64, 256)
	l := New()
	require.NoError(t, l.Append([]byte("1"), st, ar))
	require.NoError(t, l.Append([]byte("2"), st, ar))
	require.NoError(t, l.Append([]byte("3"), st, ar))

	it := l.Iterate(st)
	require.EqualValues(t, 3, it.Available())
	require.True(t, it.Next())
	require.EqualValues(t, 2, it.Available())
	require.True(t, it.Next())
	require.True(t, it.Next())
	require.EqualValues(t, 0, it.Available())
	require.False(t, it.Next())
}

func TestAppendRejectsOversizedValue(t *testing.T) {
	st := newTestStore(t, 64)
	ar := blockarena.New(64, 256)
	l := New()
	err := l.Append(make([]byte, MaxValueSize+1), st, ar)
	require.Error(t, err)
}

func TestRewriteSortsLiveValues(t *testing.T) {
	st := newTestStore(t, 32)
	ar := blockarena.New(32, 128)
	l := New()
	for _, v := range []string{"charlie", "alpha", "delta", "bravo"} {
		require.NoError(t, l.Append([]byte(v), st, ar))
	}
	require.NoError(t, l.Flush(st))

	require.NoError(t, l.Rewrite(st, ar, func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	}))

	got := collectValues(t, l.Iterate(st))
	require.Equal(t, [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie"), []byte("delta")}, got)
}

func TestRewriteExcludesRemovedValues(t *testing.T) {
	st := newTestStore(t, 32)
	ar := blockarena.New(32, 128)
	l := New()
	for _, v := range []string{"b", "a", "c"} {
		require.NoError(t, l.Append([]byte(v), st, ar))
	}
	require.NoError(t, l.Flush(st))

	it := l.IterateExclusive(st)
	for it.Next() {
		if bytes.Equal(it.Value(), []byte("a")) {
			require.NoError(t, it.Remove())
		}
	}
	require.NoError(t, it.Err())

	require.NoError(t, l.Rewrite(st, ar, func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	}))
	got := collectValues(t, l.Iterate(st))
	require.Equal(t, [][]byte{[]byte("b"), []byte("c")}, got)
}

func TestHeadRoundTripsThroughWriteToReadHead(t *testing.T) {
	st := newTestStore(t, 16)
	ar := blockarena.New(16, 64)
	l := New()
	require.NoError(t, l.Append([]byte("x"), st, ar))
	require.NoError(t, l.Append([]byte("y"), st, ar))
	require.NoError(t, l.Flush(st))

	head := l.Head()
	var buf bytes.Buffer
	_, err := head.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadHead(&buf)
	require.NoError(t, err)
	require.Equal(t, head.NumValuesAdded, got.NumValuesAdded)
	require.Equal(t, head.NumValuesRemoved, got.NumValuesRemoved)
	require.Equal(t, head.BlockIDs.Unpack(), got.BlockIDs.Unpack())
}
