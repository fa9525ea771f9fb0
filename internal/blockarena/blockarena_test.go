package blockarena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateZeroedBlockOfConfiguredSize(t *testing.T) {
	a := New(64, 256)
	b := a.Allocate()
	require.Equal(t, 64, b.Size())
	require.Zero(t, b.Position())
	for _, byt := range b.Data() {
		require.Zero(t, byt)
	}
}

func TestAllocateSpansChunksWithoutOverlap(t *testing.T) {
	a := New(64, 256)
	blocks := make([]Block, 8)
	for i := range blocks {
		blocks[i] = a.Allocate()
	}
	require.Equal(t, 2, a.NumChunks())
	require.EqualValues(t, 8, a.NumBlocks())

	blocks[0].WriteData([]byte("first"))
	blocks[7].WriteData([]byte("last"))
	require.NotEqual(t, blocks[0].Data()[:5], blocks[7].Data()[:4])
}

func TestWriteSizeWithFlagThenDataAdvancesCursor(t *testing.T) {
	a := New(16, 32)
	b := a.Allocate()

	n := b.WriteSizeWithFlag(5, false)
	require.Equal(t, 1, n)
	m := b.WriteData([]byte("hello"))
	require.Equal(t, 5, m)
	require.EqualValues(t, 6, b.Position())
}

func TestWriteDataTruncatesAtCapacity(t *testing.T) {
	a := New(4, 8)
	b := a.Allocate()
	n := b.WriteData([]byte("abcdefgh"))
	require.Equal(t, 4, n)
	require.EqualValues(t, 4, b.Position())
}

func TestFillUpWithZerosDoesNotMoveCursor(t *testing.T) {
	a := New(8, 16)
	b := a.Allocate()
	b.WriteData([]byte("ab"))
	b.FillUpWithZeros()
	require.EqualValues(t, 2, b.Position())
	for _, byt := range b.Data()[2:] {
		require.Zero(t, byt)
	}
}

func TestRewindResetsCursorNotData(t *testing.T) {
	a := New(8, 16)
	b := a.Allocate()
	b.WriteData([]byte("ab"))
	b.Rewind()
	require.Zero(t, b.Position())
}

func TestLoadFactor(t *testing.T) {
	a := New(10, 20)
	b := a.Allocate()
	require.Zero(t, b.LoadFactor())
	b.WriteData(make([]byte, 5))
	require.InDelta(t, 0.5, b.LoadFactor(), 1e-9)
}

func TestMaxValueSize(t *testing.T) {
	a := New(10, 20)
	b := a.Allocate()
	require.EqualValues(t, 6, b.MaxValueSize())
}

func TestNewPanicsOnZeroBlockSize(t *testing.T) {
	require.Panics(t, func() { New(0, 16) })
	require.Panics(t, func() { New(0, 0) })
}

func TestNewRoundsUpNonMultipleChunkSize(t *testing.T) {
	a := New(5, 16) // 16 is not a multiple of 5; rounds up to 20
	blocks := make([]Block, 4)
	for i := range blocks {
		blocks[i] = a.Allocate()
	}
	require.Equal(t, 1, a.NumChunks())
	require.EqualValues(t, 4, a.NumBlocks())
}

func TestNewTreatsZeroChunkSizeAsOneBlockPerChunk(t *testing.T) {
	a := New(16, 0)
	b := a.Allocate()
	require.Equal(t, 16, b.Size())
	require.Equal(t, 1, a.NumChunks())
}

func TestAllocateConcurrentlyProducesDistinctBlocks(t *testing.T) {
	a := New(32, 1024)
	const n = 64
	results := make(chan Block, n)
	for i := 0; i < n; i++ {
		go func() { results <- a.Allocate() }()
	}
	seen := make(map[*byte]bool)
	for i := 0; i < n; i++ {
		b := <-results
		ptr := &b.Data()[0]
		require.False(t, seen[ptr])
		seen[ptr] = true
	}
}
