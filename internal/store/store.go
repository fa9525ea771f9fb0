// Package store implements the append-only block file backing a shard's
// values: {prefix}.values. A Store assigns monotonically increasing
// block ids, buffers newly written blocks in memory until a flush
// commits them with one vectored write, and serves reads of committed
// blocks from a memory-mapped view of the file.
package store

import (
	"os"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/Voskan/multimap/internal/mmerr"
)

// AccessPattern is a hint passed to AdviseAccessPattern, translated into
// a posix_fadvise(2) call on the file descriptor on unix platforms.
type AccessPattern int

const (
	// AccessNormal is the default access pattern: no particular hint.
	AccessNormal AccessPattern = iota
	// AccessWillNeed hints that the mapped region will be accessed soon,
	// encouraging the OS to page it in eagerly.
	AccessWillNeed
	// AccessSequential hints that the mapped region will be scanned
	// start to end.
	AccessSequential
)

// DefaultBufferSize is the default number of bytes the store buffers in
// memory before an implicit flush, absent an explicit buffer size.
const DefaultBufferSize = 1 << 20

// maxBatchBlocks caps the number of buffered blocks at the writev(2)
// iovec limit (IOV_MAX, 1024 on Linux), so one flush stays one vectored
// write.
const maxBatchBlocks = 1024

// Store owns a single append-only file of fixed-size blocks.
type Store struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	blockSize uint32
	maxBatch  uint32 // blocks buffered before an implicit flush

	numCommitted uint32
	buffer       [][]byte // uncommitted blocks, each exactly blockSize bytes

	// ra maps the region of the file that was already committed when
	// Open ran. Blocks committed by this process afterward are served
	// from the file descriptor directly (pread) rather than re-mapping
	// on every flush.
	ra              *mmap.ReaderAt
	committedAtOpen uint32
}

// Open opens (or creates) the values file at path, a bare concatenation
// of blockSize-byte blocks, buffering up to bufferSize bytes (rounded
// down to a whole number of blocks, minimum one, maximum 1024 blocks)
// before an implicit flush. If the file already exists and its length is not a multiple of
// blockSize, returns CorruptionError. The caller is responsible for
// cross-checking blockSize against the shard's recorded stats and
// returning IncompatibleError itself, since Store has no notion of the
// stats file.
func Open(path string, blockSize uint32, bufferSize uint32) (*Store, error) {
	if blockSize == 0 {
		return nil, mmerr.NewDomain("store: blockSize must be positive")
	}
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	maxBatch := bufferSize / blockSize
	if maxBatch == 0 {
		maxBatch = 1
	}
	if maxBatch > maxBatchBlocks {
		maxBatch = maxBatchBlocks
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, mmerr.NewIo("open "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mmerr.NewIo("stat "+path, err)
	}
	size := info.Size()
	if size%int64(blockSize) != 0 {
		f.Close()
		return nil, mmerr.NewCorruption("store: %s length %d is not a multiple of block size %d", path, size, blockSize)
	}
	numCommitted := uint32(size / int64(blockSize))

	s := &Store{
		file:            f,
		path:            path,
		blockSize:       blockSize,
		maxBatch:        maxBatch,
		numCommitted:    numCommitted,
		committedAtOpen: numCommitted,
	}
	if numCommitted > 0 {
		ra, err := mmap.Open(path)
		if err != nil {
			f.Close()
			return nil, mmerr.NewIo("mmap "+path, err)
		}
		s.ra = ra
	}
	return s, nil
}

// BlockSize returns the store's fixed block size.
func (s *Store) BlockSize() uint32 { return s.blockSize }

// NumBlocks returns the number of blocks committed plus buffered.
func (s *Store) NumBlocks() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numCommitted + uint32(len(s.buffer))
}

// BufferedBytes returns the number of bytes currently held in the
// in-memory buffer, not yet committed by a flush.
func (s *Store) BufferedBytes() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.buffer)) * s.blockSize
}

// Put copies block into the store's in-memory buffer and returns its
// assigned id. block must be exactly BlockSize() bytes. When the buffer
// reaches its configured capacity, Put flushes it first.
func (s *Store) Put(block []byte) (uint32, error) {
	if uint32(len(block)) != s.blockSize {
		return 0, mmerr.NewDomain("store: block size %d does not match store block size %d", len(block), s.blockSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint32(len(s.buffer)) >= s.maxBatch {
		if err := s.flushLocked(); err != nil {
			return 0, err
		}
	}
	owned := make([]byte, s.blockSize)
	copy(owned, block)
	s.buffer = append(s.buffer, owned)
	return s.numCommitted + uint32(len(s.buffer)) - 1, nil
}

// PutBatch is like Put for a contiguous sequence of blocks, each exactly
// BlockSize() bytes; assigned ids are contiguous and returned in order.
func (s *Store) PutBatch(blocks [][]byte) ([]uint32, error) {
	for _, b := range blocks {
		if uint32(len(b)) != s.blockSize {
			return nil, mmerr.NewDomain("store: block size %d does not match store block size %d", len(b), s.blockSize)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, len(blocks))
	for i, b := range blocks {
		if uint32(len(s.buffer)) >= s.maxBatch {
			if err := s.flushLocked(); err != nil {
				return nil, err
			}
		}
		owned := make([]byte, s.blockSize)
		copy(owned, b)
		s.buffer = append(s.buffer, owned)
		ids[i] = s.numCommitted + uint32(len(s.buffer)) - 1
	}
	return ids, nil
}

// Get copies the block identified by id into out, which must be exactly
// BlockSize() bytes.
func (s *Store) Get(id uint32, out []byte) error {
	if uint32(len(out)) != s.blockSize {
		return mmerr.NewDomain("store: output buffer size %d does not match block size %d", len(out), s.blockSize)
	}
	s.mu.Lock()
	numCommitted := s.numCommitted
	bufLen := uint32(len(s.buffer))
	if id >= numCommitted && id < numCommitted+bufLen {
		copy(out, s.buffer[id-numCommitted])
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if id >= numCommitted+bufLen {
		return mmerr.NewOutOfRange("store: block id %d beyond end (committed=%d buffered=%d)", id, numCommitted, bufLen)
	}
	return s.readCommitted(id, out)
}

func (s *Store) readCommitted(id uint32, out []byte) error {
	offset := int64(id) * int64(s.blockSize)
	if id < s.committedAtOpen {
		n, err := s.ra.ReadAt(out, offset)
		if err != nil && n != len(out) {
			return mmerr.NewIo("mmap read", err)
		}
		return nil
	}
	n, err := s.file.ReadAt(out, offset)
	if err != nil && n != len(out) {
		return mmerr.NewIo("pread", err)
	}
	return nil
}

// Replace overwrites an already-committed block's bytes in place. Used
// by the list when it marks a value deleted in a previously flushed
// block.
func (s *Store) Replace(id uint32, block []byte) error {
	if uint32(len(block)) != s.blockSize {
		return mmerr.NewDomain("store: block size %d does not match store block size %d", len(block), s.blockSize)
	}
	s.mu.Lock()
	numCommitted := s.numCommitted
	bufLen := uint32(len(s.buffer))
	if id >= numCommitted && id < numCommitted+bufLen {
		copy(s.buffer[id-numCommitted], block)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if id >= numCommitted {
		return mmerr.NewOutOfRange("store: block id %d beyond committed range %d", id, numCommitted)
	}
	offset := int64(id) * int64(s.blockSize)
	if _, err := s.file.WriteAt(block, offset); err != nil {
		return mmerr.NewIo("pwrite", err)
	}
	return nil
}

// AdviseAccessPattern hints the OS about the upcoming access pattern
// over the portion of the file mapped at Open time. A no-op if nothing
// was committed yet, or on platforms without fadvise support.
func (s *Store) AdviseAccessPattern(p AccessPattern) error {
	s.mu.Lock()
	length := int64(s.committedAtOpen) * int64(s.blockSize)
	s.mu.Unlock()
	if length == 0 {
		return nil
	}
	if err := adviseAccessPattern(s.file, length, p); err != nil {
		return mmerr.NewIo("fadvise", err)
	}
	return nil
}

// Flush forces all buffered blocks to disk in a single vectored write
// and advances the committed counter.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := writevAt(s.file, s.buffer, int64(s.numCommitted)*int64(s.blockSize)); err != nil {
		return mmerr.NewIo("writev", err)
	}
	s.numCommitted += uint32(len(s.buffer))
	s.buffer = s.buffer[:0]
	return nil
}

// Close flushes any buffered blocks, unmaps the file, and closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	err := s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.ra != nil {
		if cerr := s.ra.Close(); cerr != nil {
			err = mmerr.NewIo("munmap", cerr)
		}
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = mmerr.NewIo("close", cerr)
	}
	return err
}

// Path returns the underlying file path, for diagnostics.
func (s *Store) Path() string { return s.path }
