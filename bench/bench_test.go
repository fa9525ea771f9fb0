// Package bench provides reproducible micro‑benchmarks for multimap.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a *single* key/value shape so results are
// comparable across versions:
//   • Key   – 8-byte big-endian uint64 (cheap to format, fixed width)
//   • Value – 64-byte payload (large enough to matter, small enough to fit
//     comfortably inside one block)
//
// We measure:
//   1. Put            – append-only workload
//   2. Get             – shared-iterator read workload (after warm‑up)
//   3. GetParallel     – highly concurrent reads (b.RunParallel)
//   4. RemoveFirstEqual – exclusive-lock mutation workload
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is *only* for performance.
//
// © 2025 arena‑cache authors. MIT License.

package bench

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Voskan/multimap/pkg/multimap"
)

/* -------------------------------------------------------------------------
   Test harness helpers
   ------------------------------------------------------------------------- */

const (
	blockSize = 512
	keys      = 1 << 16 // 65536 keys for the benchmark dataset
)

var value64 = make([]byte, 64)

func newTestShard(b *testing.B) *multimap.Shard {
	b.Helper()
	dir := b.TempDir()
	s, err := multimap.Open(filepath.Join(dir, "shard"),
		multimap.WithCreateIfMissing(),
		multimap.WithBlockSize(blockSize),
	)
	if err != nil {
		b.Fatalf("shard open: %v", err)
	}
	return s
}

func keyBytes(i uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return buf[:]
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []uint64 {
	rnd := rand.New(rand.NewSource(42))
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = rnd.Uint64()
	}
	return arr
}()

/* -------------------------------------------------------------------------
   Benchmarks
   ------------------------------------------------------------------------- */

func BenchmarkPut(b *testing.B) {
	s := newTestShard(b)
	defer s.Close()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := keyBytes(ds[i&(keys-1)])
		if err := s.Put(key, value64); err != nil {
			b.Fatalf("put: %v", err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	s := newTestShard(b)
	defer s.Close()
	for _, k := range ds {
		if err := s.Put(keyBytes(k), value64); err != nil {
			b.Fatalf("warm-up put: %v", err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keyBytes(ds[i&(keys-1)])
		h := s.Get(k)
		for h.Next() {
		}
		h.Release()
	}
}

func BenchmarkGetParallel(b *testing.B) {
	s := newTestShard(b)
	defer s.Close()
	for _, k := range ds {
		if err := s.Put(keyBytes(k), value64); err != nil {
			b.Fatalf("warm-up put: %v", err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			h := s.Get(keyBytes(ds[idx]))
			for h.Next() {
			}
			h.Release()
		}
	})
}

func BenchmarkRemoveFirstEqual(b *testing.B) {
	s := newTestShard(b)
	defer s.Close()
	for _, k := range ds {
		if err := s.Put(keyBytes(k), value64); err != nil {
			b.Fatalf("warm-up put: %v", err)
		}
		if err := s.Put(keyBytes(k), value64); err != nil {
			b.Fatalf("warm-up put: %v", err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keyBytes(ds[i&(keys-1)])
		if _, err := s.RemoveFirstEqual(k, value64); err != nil {
			b.Fatalf("remove: %v", err)
		}
		// replace what was removed so the benchmark doesn't drain the list
		if err := s.Put(k, value64); err != nil {
			b.Fatalf("put: %v", err)
		}
	}
}

/* -------------------------------------------------------------------------
   Utility – seed the global Rand and pin GOMAXPROCS
   ------------------------------------------------------------------------- */

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}
