// Package blockarena implements the fixed-size write block and the
// bump-allocating arena that hands blocks out, one per key's open write
// buffer.
//
// A Block wraps a byte slice carved out of an Arena chunk together with a
// write cursor. Values are appended as a varint size-plus-flag header
// followed by the payload; the header records whether the value is live
// or has been marked deleted. The arena never frees an individual block —
// chunks are released only when the whole arena is dropped; a shard keeps
// one arena for all of its lists, so that happens when the shard goes
// away.
package blockarena

import (
	"sync"

	"github.com/Voskan/multimap/internal/varint"
)

// DefaultChunkSize is the default chunk allocation size: 100 MiB.
const DefaultChunkSize = 100 << 20

// Block is a fixed-size read-write region carved out of an Arena chunk.
// Block is not safe for concurrent use; callers serialize access through
// the owning list's lock.
type Block struct {
	data     []byte
	position uint32
}

// NewBlock wraps an existing byte slice as a Block with a zero write
// cursor. Used to materialize a Block view over bytes read back from the
// store (e.g. for in-place deletion of a committed block).
func NewBlock(data []byte) Block {
	return Block{data: data}
}

// Data returns the block's full backing slice, including any unused
// tail.
func (b *Block) Data() []byte { return b.data }

// Size returns the block's total size in bytes.
func (b *Block) Size() int { return len(b.data) }

// Position returns the write cursor: the number of bytes written so far.
func (b *Block) Position() uint32 { return b.position }

// LoadFactor returns position/size, or 0 for a zero-size block.
func (b *Block) LoadFactor() float64 {
	if len(b.data) == 0 {
		return 0
	}
	return float64(b.position) / float64(len(b.data))
}

// MaxValueSize returns the largest payload that could ever fit in a
// freshly rewound block of this size: size minus the widest possible
// varint header.
func (b *Block) MaxValueSize() uint32 {
	size := uint32(len(b.data))
	const headerWidth = 4
	if size <= headerWidth {
		return 0
	}
	return size - headerWidth
}

// WriteSizeWithFlag writes the varint size-plus-flag header at the
// current position. Returns the number of bytes written, or 0 if the
// header does not fit in the remaining space.
func (b *Block) WriteSizeWithFlag(size uint32, flag bool) int {
	n := varint.WriteUintWithFlag(size, flag, b.data[b.position:])
	b.position += uint32(n)
	return n
}

// WriteData copies up to len(p) bytes of p into the block starting at the
// current position, advancing the cursor by the amount actually written.
// It never writes a partial value tail across the header boundary; the
// caller splits values across blocks itself.
func (b *Block) WriteData(p []byte) int {
	free := uint32(len(b.data)) - b.position
	n := uint32(len(p))
	if n > free {
		n = free
	}
	copy(b.data[b.position:b.position+n], p[:n])
	b.position += n
	return int(n)
}

// FillUpWithZeros zeroes out [position, size) without advancing the
// cursor, so the block's unused tail never carries stale bytes on disk.
func (b *Block) FillUpWithZeros() {
	for i := b.position; i < uint32(len(b.data)); i++ {
		b.data[i] = 0
	}
}

// Rewind resets the write cursor to 0, readying the block for reuse as a
// fresh open block (callers must FillUpWithZeros or otherwise commit the
// prior contents first).
func (b *Block) Rewind() { b.position = 0 }

// Arena is a thread-safe bump allocator handing out Blocks carved from
// chunk-sized byte slabs. It never reclaims an individual block; the
// entire arena is dropped together with the shard that owns it.
type Arena struct {
	mu        sync.Mutex
	blockSize uint32
	chunkSize uint32
	chunks    [][]byte
	offset    uint32
}

// New returns an Arena handing out blocks of blockSize bytes from chunks
// of chunkSize bytes. chunkSize is rounded up to the nearest positive
// multiple of blockSize (a zero chunkSize yields one block per chunk),
// so any blockSize the store accepts — power of two or not — gets a
// usable arena instead of a rejected construction.
func New(blockSize, chunkSize uint32) *Arena {
	if blockSize == 0 {
		panic("blockarena: blockSize must be positive")
	}
	if chunkSize == 0 {
		chunkSize = blockSize
	} else if rem := chunkSize % blockSize; rem != 0 {
		chunkSize += blockSize - rem
	}
	return &Arena{
		blockSize: blockSize,
		chunkSize: chunkSize,
		offset:    chunkSize, // triggers chunk allocation on first Allocate
	}
}

// Allocate returns a fresh, zeroed Block of the arena's configured block
// size.
func (a *Arena) Allocate() Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offset == a.chunkSize {
		a.chunks = append(a.chunks, make([]byte, a.chunkSize))
		a.offset = 0
	}
	chunk := a.chunks[len(a.chunks)-1]
	data := chunk[a.offset : a.offset+a.blockSize : a.offset+a.blockSize]
	a.offset += a.blockSize
	return Block{data: data}
}

// BlockSize returns the configured block size.
func (a *Arena) BlockSize() uint32 { return a.blockSize }

// NumBlocks returns the number of blocks allocated so far.
func (a *Arena) NumBlocks() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	fullChunks := uint64(0)
	if len(a.chunks) > 0 {
		fullChunks = uint64(len(a.chunks) - 1)
	}
	blocksPerChunk := uint64(a.chunkSize / a.blockSize)
	blocksInLast := uint64(a.offset / a.blockSize)
	return fullChunks*blocksPerChunk + blocksInLast
}

// NumChunks returns the number of chunk slabs allocated so far.
func (a *Arena) NumChunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}
