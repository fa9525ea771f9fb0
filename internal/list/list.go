// Package list implements the per-key value list: a head (value counts
// plus the delta-coded sequence of committed block ids) and at most one
// open, still-being-written block. Values are appended as a varint
// size-plus-flag header followed by payload bytes, split transparently
// across block boundaries; deletion flips the flag bit in the header of
// an already-committed block in place.
package list

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/Voskan/multimap/internal/blockarena"
	"github.com/Voskan/multimap/internal/idvec"
	"github.com/Voskan/multimap/internal/mmerr"
	"github.com/Voskan/multimap/internal/sharedmutex"
	"github.com/Voskan/multimap/internal/store"
	"github.com/Voskan/multimap/internal/varint"
)

// MaxValueSize is the largest single value Append accepts: the widest
// value representable by a with-flag varint header.
const MaxValueSize = varint.MaxValueWithFlag

// Head is the persisted, per-key state written to the .keys file: value
// counts plus the list's committed block ids.
type Head struct {
	NumValuesAdded   uint64
	NumValuesRemoved uint64
	BlockIDs         idvec.Vector
}

// ReadHead reads a Head as written by Head.WriteTo.
func ReadHead(r io.Reader) (Head, error) {
	var h Head
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Head{}, err
	}
	h.NumValuesAdded = binary.LittleEndian.Uint64(buf[0:8])
	h.NumValuesRemoved = binary.LittleEndian.Uint64(buf[8:16])
	if _, err := h.BlockIDs.ReadFrom(r); err != nil {
		return Head{}, err
	}
	return h, nil
}

// WriteTo writes the head in the format ReadHead expects:
// {num_values_added: u64 LE}{num_values_removed: u64 LE}{block_ids}.
func (h *Head) WriteTo(w io.Writer) (int64, error) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.NumValuesAdded)
	binary.LittleEndian.PutUint64(buf[8:16], h.NumValuesRemoved)
	n1, err := w.Write(buf[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := h.BlockIDs.WriteTo(w)
	return int64(n1) + n2, err
}

// List is a key's value list: its persisted Head plus an optional open
// write block. A zero List is empty and ready to Append into. List is
// not safe for concurrent use without external locking — callers take
// the list's own Lock/RLock before touching it.
type List struct {
	mu   sharedmutex.Mutex
	head Head
	open *blockarena.Block
}

// New returns an empty list.
func New() *List { return &List{} }

// FromHead returns a list resuming from a previously persisted head
// (e.g. reconstructed while streaming a .keys file at shard open).
func FromHead(h Head) *List { return &List{head: h} }

// Lock acquires the list exclusively (for Append, Remove, Rewrite).
func (l *List) Lock() { l.mu.Lock() }

// Unlock releases an exclusive lock.
func (l *List) Unlock() { l.mu.Unlock() }

// RLock acquires the list for shared (concurrent-reader) access.
func (l *List) RLock() { l.mu.RLock() }

// RUnlock releases a shared lock.
func (l *List) RUnlock() { l.mu.RUnlock() }

// TryLock attempts to acquire the list exclusively without blocking.
func (l *List) TryLock() bool { return l.mu.TryLock() }

// TryRLock attempts to acquire the list for shared access without
// blocking. Used by best-effort scans (ForEachKey/ForEachEntry).
func (l *List) TryRLock() bool { return l.mu.TryRLock() }

// NumValuesAdded returns the total number of values ever appended,
// including ones since marked deleted.
func (l *List) NumValuesAdded() uint64 { return l.head.NumValuesAdded }

// NumValuesRemoved returns the number of values marked deleted.
func (l *List) NumValuesRemoved() uint64 { return l.head.NumValuesRemoved }

// NumValuesValid returns the number of currently-live values.
func (l *List) NumValuesValid() uint64 {
	return l.head.NumValuesAdded - l.head.NumValuesRemoved
}

// Empty reports whether the list has never had a value appended.
func (l *List) Empty() bool { return l.head.NumValuesAdded == 0 }

// Head returns a snapshot of the list's persisted head, for writing to
// the .keys file or feeding Stats.
func (l *List) Head() Head { return l.head }

// Append adds value to the list, allocating write blocks from ar and
// committing full blocks to st as needed. Values whose payload does not
// fit entirely in the current open block are split transparently across
// as many freshly committed blocks as required.
func (l *List) Append(value []byte, st *store.Store, ar *blockarena.Arena) error {
	if uint32(len(value)) > MaxValueSize {
		return mmerr.NewDomain("list: value size %d exceeds maximum %d", len(value), MaxValueSize)
	}

	if l.open == nil {
		b := ar.Allocate()
		l.open = &b
	}

	n := l.open.WriteSizeWithFlag(uint32(len(value)), false)
	if n == 0 {
		if err := l.Flush(st); err != nil {
			return err
		}
		n = l.open.WriteSizeWithFlag(uint32(len(value)), false)
		if n == 0 {
			return mmerr.NewCapacity("list: header does not fit even in a freshly rewound block")
		}
	}

	written := l.open.WriteData(value)
	if written < len(value) {
		if err := l.Flush(st); err != nil {
			return err
		}

		blockSize := l.open.Size()
		tail := value[written:]
		var fullBlocks [][]byte
		for len(tail) >= blockSize {
			fullBlocks = append(fullBlocks, tail[:blockSize])
			tail = tail[blockSize:]
		}
		if len(fullBlocks) > 0 {
			ids, err := st.PutBatch(fullBlocks)
			if err != nil {
				return err
			}
			for _, id := range ids {
				l.head.BlockIDs.Add(id)
			}
		}
		if len(tail) > 0 {
			m := l.open.WriteData(tail)
			if m != len(tail) {
				return mmerr.NewCapacity("list: final slice does not fit in a fresh block")
			}
		}
	}

	l.head.NumValuesAdded++
	return nil
}

// Flush commits the open block, if it holds any data, zeroing its
// unused tail first and rewinding it for reuse.
func (l *List) Flush(st *store.Store) error {
	if l.open == nil || l.open.Position() == 0 {
		return nil
	}
	l.open.FillUpWithZeros()
	id, err := st.Put(l.open.Data())
	if err != nil {
		return err
	}
	l.head.BlockIDs.Add(id)
	l.open.Rewind()
	return nil
}

// Iterate returns a read-only cursor over the list's live values, in
// insertion order. Callers must hold at least a shared lock for the
// cursor's lifetime.
func (l *List) Iterate(st *store.Store) *Iterator {
	return l.newIterator(st, false)
}

// IterateExclusive returns a cursor over the list's live values that
// additionally permits Remove. Callers must hold an exclusive lock for
// the cursor's lifetime.
func (l *List) IterateExclusive(st *store.Store) *Iterator {
	return l.newIterator(st, true)
}

func (l *List) newIterator(st *store.Store, exclusive bool) *Iterator {
	blockSize := st.BlockSize()
	return &Iterator{
		list:           l,
		store:          st,
		exclusive:      exclusive,
		blockIDs:       l.head.BlockIDs.Unpack(),
		blockSize:      blockSize,
		blockIdx:       -1,
		totalToParse:   l.head.NumValuesAdded,
		initialRemoved: l.head.NumValuesRemoved,
		curHeaderIdx:   -1,
	}
}

// Rewrite replaces the list's contents in place with all currently-live
// values sorted by less. st is both the source and the destination: the
// values are read from the list's blocks in st and re-appended through
// st and ar, and the old blocks stay in st unreferenced. Rewriting into
// a different store is not supported. Callers must hold an exclusive
// lock.
func (l *List) Rewrite(st *store.Store, ar *blockarena.Arena, less func(a, b []byte) bool) error {
	it := l.newIterator(st, false)
	var values [][]byte
	for it.Next() {
		values = append(values, append([]byte(nil), it.Value()...))
	}
	if it.err != nil {
		return it.err
	}

	sort.Slice(values, func(i, j int) bool { return less(values[i], values[j]) })

	l.head = Head{}
	l.open = nil
	for _, v := range values {
		if err := l.Append(v, st, ar); err != nil {
			return err
		}
	}
	return l.Flush(st)
}

// Iterator is a cursor over a list's live values, produced by Iterate or
// IterateExclusive.
type Iterator struct {
	list      *List
	store     *store.Store
	exclusive bool

	blockIDs  []uint32
	blockSize uint32

	blockIdx int
	buf      []byte
	pos      uint32

	totalParsed    uint64
	totalToParse   uint64
	initialRemoved uint64
	yielded        uint64

	curValue     []byte
	curHeaderIdx int
	curHeaderPos uint32

	err error
}

// Next advances the cursor to the next live value, skipping over values
// already marked deleted. Returns false at the end of the list or on
// error (check Err).
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.totalParsed < it.totalToParse {
		if it.buf == nil || it.pos >= it.blockSize {
			if !it.advanceBlock() {
				return false
			}
		}

		headerBlockIdx := it.blockIdx
		headerPos := it.pos
		size, flag, n := varint.ReadUintWithFlag(it.buf[it.pos:])
		if n == 0 {
			it.err = mmerr.NewCorruption("list: unreadable value header at block index %d offset %d", it.blockIdx, it.pos)
			return false
		}
		it.pos += uint32(n)
		it.totalParsed++

		payload, err := it.readPayload(size)
		if err != nil {
			it.err = err
			return false
		}

		if flag {
			continue // deleted: counted, not yielded
		}

		it.curValue = payload
		it.curHeaderIdx = headerBlockIdx
		it.curHeaderPos = headerPos
		it.yielded++
		return true
	}
	return false
}

// Value returns the value at the cursor, valid after Next returns true
// until the next call to Next.
func (it *Iterator) Value() []byte { return it.curValue }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Available returns the number of live values not yet yielded by this
// cursor, based on the head counters captured when the cursor was
// created.
func (it *Iterator) Available() uint64 {
	total := it.totalToParse - it.initialRemoved
	if it.yielded >= total {
		return 0
	}
	return total - it.yielded
}

// Remove marks the value at the cursor deleted by flipping its header's
// flag bit. Only valid on a cursor obtained from IterateExclusive, and
// only once per value. Committed blocks are read-modify-written back to
// the store immediately; the open block is mutated in place.
func (it *Iterator) Remove() error {
	if !it.exclusive {
		panic("list: Remove called on a non-exclusive iterator")
	}
	if it.curHeaderIdx < 0 {
		panic("list: Remove called without a preceding successful Next")
	}
	if it.curHeaderIdx < len(it.blockIDs) {
		id := it.blockIDs[it.curHeaderIdx]
		tmp := make([]byte, it.blockSize)
		if err := it.store.Get(id, tmp); err != nil {
			return err
		}
		varint.SetFlag(tmp[it.curHeaderPos:], true)
		if err := it.store.Replace(id, tmp); err != nil {
			return err
		}
	} else {
		varint.SetFlag(it.list.open.Data()[it.curHeaderPos:], true)
	}
	it.list.head.NumValuesRemoved++
	it.curHeaderIdx = -1
	return nil
}

func (it *Iterator) advanceBlock() bool {
	next := it.blockIdx + 1
	total := len(it.blockIDs)
	if it.list.open != nil && it.list.open.Position() > 0 {
		total++
	}
	if next >= total {
		return false
	}
	if next < len(it.blockIDs) {
		if it.buf == nil {
			it.buf = make([]byte, it.blockSize)
		}
		if err := it.store.Get(it.blockIDs[next], it.buf); err != nil {
			it.err = err
			return false
		}
	} else {
		it.buf = it.list.open.Data()
	}
	it.blockIdx = next
	it.pos = 0
	return true
}

func (it *Iterator) readPayload(size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	out := make([]byte, size)
	written := uint32(0)
	for written < size {
		avail := it.blockSize - it.pos
		if avail == 0 {
			if !it.advanceBlock() {
				if it.err != nil {
					return nil, it.err
				}
				return nil, mmerr.NewCorruption("list: value truncated at end of block sequence")
			}
			avail = it.blockSize - it.pos
		}
		n := size - written
		if n > avail {
			n = avail
		}
		copy(out[written:written+n], it.buf[it.pos:it.pos+n])
		it.pos += n
		written += n
	}
	return out, nil
}
