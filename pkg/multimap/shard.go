// Package multimap implements a persistent, embeddable on-disk
// multimap: a key to ordered-list-of-values store sharded by the
// caller. A Shard owns one independent key space backed by three files
// sharing a path prefix — {prefix}.stats, {prefix}.keys, and
// {prefix}.values.
package multimap

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Voskan/multimap/internal/arena"
	"github.com/Voskan/multimap/internal/blockarena"
	"github.com/Voskan/multimap/internal/list"
	"github.com/Voskan/multimap/internal/mmerr"
	"github.com/Voskan/multimap/internal/stats"
	"github.com/Voskan/multimap/internal/store"
)

// MaxKeySize is the largest key Put/Get accept: the widest length
// representable by a plain (no-flag) varint.
const MaxKeySize = 1<<30 - 1

// MaxValueSize is the largest single value Put accepts.
const MaxValueSize = list.MaxValueSize

type shardState int32

const (
	stateInit shardState = iota
	stateOpen
	stateFailed
	stateClosed
)

type entry struct {
	key  []byte // arena-owned
	list *list.List
}

// Shard is a concurrent key to list-of-values map backed by one
// {prefix}.values/.keys/.stats file triple.
type Shard struct {
	mu    sync.RWMutex
	index map[string]*entry

	keyArena   *arena.Arena
	blockArena *blockarena.Arena
	store      *store.Store

	prefix   string
	readonly bool
	less     LessFunc

	unownedValues atomic.Uint64
	state         atomic.Int32

	metrics metricsSink
	logger  *zap.Logger
}

// Open opens (or creates) the shard rooted at prefix, per opts.
func Open(prefix string, opts ...Option) (*Shard, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	statsPath := prefix + ".stats"
	keysPath := prefix + ".keys"
	valuesPath := prefix + ".values"

	s := &Shard{
		index:    make(map[string]*entry),
		keyArena: arena.New(arena.DefaultChunkSize),
		prefix:   prefix,
		readonly: cfg.readonly,
		less:     cfg.less,
		logger:   cfg.logger,
	}

	_, err = os.Stat(statsPath)
	switch {
	case err == nil:
		if cfg.errorIfExists {
			s.state.Store(int32(stateFailed))
			return nil, mmerr.NewDomain("multimap: %s already exists", statsPath)
		}
		if openErr := s.openExisting(statsPath, keysPath, valuesPath, cfg); openErr != nil {
			s.state.Store(int32(stateFailed))
			return nil, openErr
		}
	case os.IsNotExist(err):
		if !cfg.createIfMissing {
			s.state.Store(int32(stateFailed))
			return nil, mmerr.NewNotFound("multimap: %s does not exist", statsPath)
		}
		st, openErr := store.Open(valuesPath, cfg.blockSize, cfg.bufferSize)
		if openErr != nil {
			s.state.Store(int32(stateFailed))
			return nil, openErr
		}
		s.store = st
		s.blockArena = blockarena.New(st.BlockSize(), blockarena.DefaultChunkSize)
	default:
		s.state.Store(int32(stateFailed))
		return nil, mmerr.NewIo("stat "+statsPath, err)
	}

	s.metrics = newMetricsSink(prefix, cfg.registry)
	s.state.Store(int32(stateOpen))
	return s, nil
}

func (s *Shard) openExisting(statsPath, keysPath, valuesPath string, cfg *config) error {
	st0, err := stats.ReadFile(statsPath)
	if err != nil {
		return err
	}
	blockSize := uint32(st0.BlockSize)

	st, err := store.Open(valuesPath, blockSize, cfg.bufferSize)
	if err != nil {
		return err
	}
	s.store = st
	s.blockArena = blockarena.New(blockSize, blockarena.DefaultChunkSize)
	s.unownedValues.Store(st0.NumValuesUnowned)

	f, err := os.Open(keysPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // a shard with zero live keys has no .keys file content to stream
		}
		return mmerr.NewIo("open "+keysPath, err)
	}
	defer f.Close()

	return streamKeys(f, func(key []byte, h list.Head) {
		owned := s.keyArena.AllocBytes(key)
		s.index[string(owned)] = &entry{key: owned, list: list.FromHead(h)}
	})
}

func streamKeys(r io.Reader, add func(key []byte, h list.Head)) error {
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return mmerr.NewCorruption("multimap: reading key length: %v", err)
		}
		keyLen := binary.LittleEndian.Uint32(lenBuf[:])
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return mmerr.NewCorruption("multimap: reading %d key bytes: %v", keyLen, err)
		}
		head, err := list.ReadHead(r)
		if err != nil {
			return mmerr.NewCorruption("multimap: reading head for key: %v", err)
		}
		add(key, head)
	}
}

// Put appends value under key, creating the key's list if necessary.
func (s *Shard) Put(key, value []byte) error {
	if s.readonly {
		return mmerr.NewReadOnly("multimap: Put on a read-only shard")
	}
	if len(key) == 0 || len(key) > MaxKeySize {
		return mmerr.NewDomain("multimap: key size %d out of range [1, %d]", len(key), MaxKeySize)
	}
	h := s.getUniqueOrCreate(key)
	defer h.Release()
	if err := h.Append(value); err != nil {
		return err
	}
	s.metrics.incValuesAdded(1)
	s.metrics.setStoreBufferBytes(float64(s.store.BufferedBytes()))
	return nil
}

// Get returns a shared handle over key's values. The handle's Found
// method reports false if the key is absent; an absent-key handle
// holds no lock and Release is a no-op.
func (s *Shard) Get(key []byte) *SharedListHandle {
	s.metrics.incGets()
	s.mu.RLock()
	e, ok := s.index[string(key)]
	s.mu.RUnlock()
	if !ok {
		return &SharedListHandle{}
	}
	e.list.RLock()
	return &SharedListHandle{l: e.list, it: e.list.Iterate(s.store)}
}

// GetUnique returns an exclusive handle over key's values, permitting
// Append, Remove, and Rewrite. Found reports false if the key is
// absent. Fails with ReadOnlyError on a read-only shard.
func (s *Shard) GetUnique(key []byte) (*UniqueListHandle, error) {
	if s.readonly {
		return nil, mmerr.NewReadOnly("multimap: GetUnique on a read-only shard")
	}
	s.metrics.incGets()
	s.mu.RLock()
	e, ok := s.index[string(key)]
	s.mu.RUnlock()
	if !ok {
		return &UniqueListHandle{}, nil
	}
	e.list.Lock()
	return &UniqueListHandle{l: e.list, st: s.store, blockArena: s.blockArena}, nil
}

// getUniqueOrCreate returns an exclusive handle over key's list,
// creating an empty one first if necessary. Callers must already have
// confirmed the shard is writable.
func (s *Shard) getUniqueOrCreate(key []byte) *UniqueListHandle {
	s.mu.Lock()
	e, ok := s.index[string(key)]
	if !ok {
		owned := s.keyArena.AllocBytes(key)
		e = &entry{key: owned, list: list.New()}
		s.index[string(owned)] = e
	}
	s.mu.Unlock()

	e.list.Lock()
	return &UniqueListHandle{l: e.list, st: s.store, blockArena: s.blockArena}
}

// RemoveFirstEqual marks the first live value under key equal to value
// as deleted, reporting whether one was found.
func (s *Shard) RemoveFirstEqual(key, value []byte) (bool, error) {
	h, err := s.GetUnique(key)
	if err != nil {
		return false, err
	}
	defer h.Release()
	if !h.Found() {
		return false, nil
	}
	for h.Next() {
		if bytes.Equal(h.Value(), value) {
			if err := h.Remove(); err != nil {
				return false, err
			}
			s.metrics.incValuesRemoved(1)
			return true, nil
		}
	}
	return false, h.Err()
}

// RemoveAll marks every live value under key for which pred returns
// true as deleted, returning the count removed.
func (s *Shard) RemoveAll(key []byte, pred func(value []byte) bool) (int, error) {
	h, err := s.GetUnique(key)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	if !h.Found() {
		return 0, nil
	}
	n := 0
	for h.Next() {
		if pred(h.Value()) {
			if err := h.Remove(); err != nil {
				return n, err
			}
			n++
		}
	}
	if err := h.Err(); err != nil {
		return n, err
	}
	s.metrics.incValuesRemoved(uint64(n))
	return n, nil
}

// Rewrite sorts key's live values by less (or the shard's configured
// LessFunc if less is nil) and replaces the list's contents in place.
func (s *Shard) Rewrite(key []byte, less LessFunc) error {
	if less == nil {
		less = s.less
	}
	if less == nil {
		return mmerr.NewDomain("multimap: Rewrite requires a LessFunc")
	}
	h, err := s.GetUnique(key)
	if err != nil {
		return err
	}
	defer h.Release()
	if !h.Found() {
		return nil
	}
	return h.Rewrite(less)
}

// ForEachKey invokes proc for every key currently observable without
// blocking on a concurrent writer. The scan is best-effort: keys locked
// exclusively by another goroutine at the moment of the scan are
// skipped, not waited for.
func (s *Shard) ForEachKey(proc func(key []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.index {
		if !e.list.TryRLock() {
			continue
		}
		empty := e.list.NumValuesValid() == 0
		e.list.RUnlock()
		if empty {
			continue
		}
		if err := proc(e.key); err != nil {
			return err
		}
	}
	return nil
}

// ForEachEntry invokes proc for every key currently observable,
// passing a shared handle over its values. Like ForEachKey, the scan
// is best-effort over concurrently locked lists.
func (s *Shard) ForEachEntry(proc func(key []byte, h *SharedListHandle) error) error {
	if err := s.store.AdviseAccessPattern(store.AccessWillNeed); err != nil {
		return err
	}
	defer s.store.AdviseAccessPattern(store.AccessNormal)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.index {
		if !e.list.TryRLock() {
			continue
		}
		if e.list.NumValuesValid() == 0 {
			e.list.RUnlock()
			continue
		}
		h := &SharedListHandle{l: e.list, it: e.list.Iterate(s.store)}
		err := proc(e.key, h)
		h.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats computes the shard's current statistics by scanning every key.
func (s *Shard) Stats() (stats.Stats, error) {
	var (
		numKeys                        uint64
		valuesAdded, valuesRemoved     uint64
		keySizeMin, keySizeMax         uint64
		keySizeSum                     uint64
		listSizeMin, listSizeMax       uint64
		listSizeSum                    uint64
		first                          = true
	)
	err := s.ForEachEntry(func(key []byte, h *SharedListHandle) error {
		numKeys++
		ks := uint64(len(key))
		ls := h.l.NumValuesValid()
		valuesAdded += h.l.NumValuesAdded()
		valuesRemoved += h.l.NumValuesRemoved()
		keySizeSum += ks
		listSizeSum += ls
		if first {
			keySizeMin, keySizeMax = ks, ks
			listSizeMin, listSizeMax = ls, ls
			first = false
		} else {
			if ks < keySizeMin {
				keySizeMin = ks
			}
			if ks > keySizeMax {
				keySizeMax = ks
			}
			if ls < listSizeMin {
				listSizeMin = ls
			}
			if ls > listSizeMax {
				listSizeMax = ls
			}
		}
		return nil
	})
	if err != nil {
		return stats.Stats{}, err
	}

	out := stats.Stats{
		BlockSize:        uint64(s.store.BlockSize()),
		NumBlocks:        uint64(s.store.NumBlocks()),
		NumKeys:          numKeys,
		NumValuesAdded:   valuesAdded,
		NumValuesRemoved: valuesRemoved,
		NumValuesUnowned: s.unownedValues.Load(),
		KeySizeMin:       keySizeMin,
		KeySizeMax:       keySizeMax,
		ListSizeMin:      listSizeMin,
		ListSizeMax:      listSizeMax,
	}
	if numKeys > 0 {
		out.KeySizeAvg = keySizeSum / numKeys
		out.ListSizeAvg = listSizeSum / numKeys
	}
	s.metrics.setKeys(float64(numKeys))
	s.metrics.setBlocks(float64(out.NumBlocks))
	s.metrics.setStoreBufferBytes(float64(s.store.BufferedBytes()))
	return out, nil
}

// Close flushes every list, rewrites the keys and stats files, and
// closes the store. A read-only shard skips the rewrite. Close is
// idempotent; calling it more than once returns nil without repeating
// the work.
func (s *Shard) Close() error {
	if !s.state.CompareAndSwap(int32(stateOpen), int32(stateClosed)) {
		return nil
	}
	if s.readonly {
		return s.store.Close()
	}

	keysPath := s.prefix + ".keys"
	oldPath := keysPath + ".old"
	if _, err := os.Stat(keysPath); err == nil {
		if err := os.Rename(keysPath, oldPath); err != nil {
			s.logger.Error("multimap: renaming keys file to anchor", zap.Error(err))
			return mmerr.NewIo("rename "+keysPath, err)
		}
	}

	f, err := os.Create(keysPath)
	if err != nil {
		s.logger.Error("multimap: creating keys file", zap.Error(err))
		return mmerr.NewIo("create "+keysPath, err)
	}

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(flushConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error { return e.list.Flush(s.store) })
	}
	if err := g.Wait(); err != nil {
		f.Close()
		s.logger.Error("multimap: flushing lists on close", zap.Error(err))
		return err
	}

	var unowned uint64
	for _, e := range entries {
		if e.list.NumValuesValid() == 0 {
			unowned += e.list.NumValuesRemoved()
			continue
		}
		if err := writeKeyEntry(f, e.key, e.list.Head()); err != nil {
			f.Close()
			s.logger.Error("multimap: writing key entry on close", zap.Error(err))
			return err
		}
	}
	unowned += s.unownedValues.Load()

	if err := f.Close(); err != nil {
		s.logger.Error("multimap: closing keys file", zap.Error(err))
		return mmerr.NewIo("close "+keysPath, err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("multimap: closing store", zap.Error(err))
		return err
	}

	st, err := s.computeFinalStats(entries, unowned)
	if err != nil {
		return err
	}
	if err := stats.WriteFile(s.prefix+".stats", st); err != nil {
		s.logger.Error("multimap: writing stats file", zap.Error(err))
		return err
	}

	if _, err := os.Stat(oldPath); err == nil {
		if err := os.Remove(oldPath); err != nil {
			s.logger.Error("multimap: removing keys anchor", zap.Error(err))
			return mmerr.NewIo("remove "+oldPath, err)
		}
	}
	return nil
}

// flushConcurrency bounds how many lists are flushed concurrently on
// Close.
const flushConcurrency = 32

func writeKeyEntry(w io.Writer, key []byte, h list.Head) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return mmerr.NewIo("write key length", err)
	}
	if _, err := w.Write(key); err != nil {
		return mmerr.NewIo("write key bytes", err)
	}
	if _, err := h.WriteTo(w); err != nil {
		return mmerr.NewIo("write head", err)
	}
	return nil
}

func (s *Shard) computeFinalStats(entries []*entry, unowned uint64) (stats.Stats, error) {
	var (
		numKeys                    uint64
		valuesAdded, valuesRemoved uint64
		keySizeMin, keySizeMax     uint64
		keySizeSum                 uint64
		listSizeMin, listSizeMax   uint64
		listSizeSum                uint64
		first                      = true
	)
	for _, e := range entries {
		if e.list.NumValuesValid() == 0 {
			continue
		}
		numKeys++
		ks := uint64(len(e.key))
		ls := e.list.NumValuesValid()
		valuesAdded += e.list.NumValuesAdded()
		valuesRemoved += e.list.NumValuesRemoved()
		keySizeSum += ks
		listSizeSum += ls
		if first {
			keySizeMin, keySizeMax = ks, ks
			listSizeMin, listSizeMax = ls, ls
			first = false
		} else {
			if ks < keySizeMin {
				keySizeMin = ks
			}
			if ks > keySizeMax {
				keySizeMax = ks
			}
			if ls < listSizeMin {
				listSizeMin = ls
			}
			if ls > listSizeMax {
				listSizeMax = ls
			}
		}
	}
	out := stats.Stats{
		BlockSize:        uint64(s.store.BlockSize()),
		NumBlocks:        uint64(s.store.NumBlocks()),
		NumKeys:          numKeys,
		NumValuesAdded:   valuesAdded,
		NumValuesRemoved: valuesRemoved,
		NumValuesUnowned: unowned,
		KeySizeMin:       keySizeMin,
		KeySizeMax:       keySizeMax,
		ListSizeMin:      listSizeMin,
		ListSizeMax:      listSizeMax,
	}
	if numKeys > 0 {
		out.KeySizeAvg = keySizeSum / numKeys
		out.ListSizeAvg = listSizeSum / numKeys
	}
	return out, nil
}

