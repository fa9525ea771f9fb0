package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocBytesCopiesInput(t *testing.T) {
	a := New(64)
	src := []byte("hello")
	got := a.AllocBytes(src)
	require.Equal(t, src, got)

	src[0] = 'X'
	require.Equal(t, byte('h'), got[0], "arena copy must not alias caller buffer")
}

func TestAllocBytesEmptyReturnsNil(t *testing.T) {
	a := New(64)
	require.Nil(t, a.AllocBytes(nil))
	require.Nil(t, a.AllocBytes([]byte{}))
}

func TestAllocBytesSpansChunks(t *testing.T) {
	a := New(8)
	a.AllocBytes([]byte("abcd"))
	a.AllocBytes([]byte("efgh")) // fills first chunk exactly
	a.AllocBytes([]byte("i"))    // must start a new chunk
	require.Equal(t, 2, a.NumChunks())
}

func TestAllocBytesOversizedGetsOwnChunk(t *testing.T) {
	a := New(4)
	big := make([]byte, 100)
	for i := range big {
		big[i] = byte(i)
	}
	got := a.AllocBytes(big)
	require.Equal(t, big, got)
	require.Equal(t, 1, a.NumChunks())
}

func TestAllocBytesConcurrentSafe(t *testing.T) {
	a := New(1024)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.AllocBytes([]byte{byte(i)})
		}(i)
	}
	wg.Wait()
}

func TestNewPanicsOnNonPositiveChunkSize(t *testing.T) {
	require.Panics(t, func() { New(0) })
	require.Panics(t, func() { New(-1) })
}
