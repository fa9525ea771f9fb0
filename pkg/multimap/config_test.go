package multimap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithLessFuncSuppliesShardDefaultComparator(t *testing.T) {
	p := prefix(t)
	less := func(a, b []byte) bool { return string(a) < string(b) }
	s, err := Open(p, WithCreateIfMissing(), WithLessFunc(less))
	require.NoError(t, err)
	defer s.Close()

	for _, v := range []string{"b", "a"} {
		require.NoError(t, s.Put([]byte("k"), []byte(v)))
	}
	require.NoError(t, s.Rewrite([]byte("k"), nil)) // falls back to the configured LessFunc

	h := s.Get([]byte("k"))
	require.True(t, h.Next())
	require.Equal(t, "a", string(h.Value()))
	h.Release()
}

func TestWithBufferSizeSmallBufferKeepsValues(t *testing.T) {
	p := prefix(t)
	s, err := Open(p, WithCreateIfMissing(), WithBlockSize(64), WithBufferSize(128))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Put([]byte("k"), []byte("v")))
	}
	h := s.Get([]byte("k"))
	require.EqualValues(t, 50, h.Available())
	h.Release()
}

func TestWithLoggerAcceptsNilWithoutOverridingDefault(t *testing.T) {
	p := prefix(t)
	s, err := Open(p, WithCreateIfMissing(), WithLogger(nil))
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.logger)
}

func TestWithBlockSizeRejectsNonPowerOfTwo(t *testing.T) {
	p := prefix(t)
	_, err := Open(p, WithCreateIfMissing(), WithBlockSize(100))
	require.Error(t, err)
	var de *DomainError
	require.ErrorAs(t, err, &de)
}

func TestWithBlockSizeAboveDefaultChunkSizeDoesNotPanic(t *testing.T) {
	p := prefix(t)
	// 8 MiB doesn't evenly divide blockarena.DefaultChunkSize (100 MiB);
	// Open must still succeed instead of panicking inside the arena.
	s, err := Open(p, WithCreateIfMissing(), WithBlockSize(1<<23))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
}

func TestWithLoggerOverridesDefault(t *testing.T) {
	p := prefix(t)
	custom := zap.NewExample()
	s, err := Open(p, WithCreateIfMissing(), WithLogger(custom))
	require.NoError(t, err)
	defer s.Close()
	require.Same(t, custom, s.logger)
}
