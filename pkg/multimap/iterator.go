package multimap

// iterator.go models the shared/unique list handles from the source's
// RAII lock guards (ListLock.hpp) as two explicit Go types. An empty
// handle (key not found) is valid and holds no lock; Release is always
// safe to call on one.

import (
	"github.com/Voskan/multimap/internal/blockarena"
	"github.com/Voskan/multimap/internal/list"
	"github.com/Voskan/multimap/internal/store"
)

// SharedListHandle is a read-only cursor over one key's values, owning
// the list's shared lock for its lifetime. The zero value (as returned
// for a missing key) is empty: Found reports false and every other
// method is a harmless no-op.
type SharedListHandle struct {
	l        *list.List
	it       *list.Iterator
	released bool
}

// Found reports whether the handle refers to an existing key.
func (h *SharedListHandle) Found() bool { return h != nil && h.l != nil }

// Next advances the cursor to the next live value.
func (h *SharedListHandle) Next() bool {
	if !h.Found() {
		return false
	}
	return h.it.Next()
}

// Value returns the value at the cursor, valid until the next Next.
func (h *SharedListHandle) Value() []byte {
	if !h.Found() {
		return nil
	}
	return h.it.Value()
}

// Err returns the first error encountered during iteration, if any.
func (h *SharedListHandle) Err() error {
	if !h.Found() {
		return nil
	}
	return h.it.Err()
}

// Available returns the number of live values not yet yielded.
func (h *SharedListHandle) Available() uint64 {
	if !h.Found() {
		return 0
	}
	return h.it.Available()
}

// Release drops the handle's shared lock. Safe to call on an empty
// handle or more than once.
func (h *SharedListHandle) Release() {
	if h == nil || h.l == nil || h.released {
		return
	}
	h.released = true
	h.l.RUnlock()
}

// UniqueListHandle is an exclusive cursor over one key's values,
// additionally permitting Append and in-place Remove during iteration.
// The zero value (as returned for a missing key under GetUnique) is
// empty: Found reports false.
type UniqueListHandle struct {
	l          *list.List
	st         *store.Store
	blockArena *blockarena.Arena
	it         *list.Iterator
	released   bool
}

// Found reports whether the handle refers to an existing key.
func (h *UniqueListHandle) Found() bool { return h != nil && h.l != nil }

// Append adds value to the list, splitting it across blocks as needed.
func (h *UniqueListHandle) Append(value []byte) error {
	return h.l.Append(value, h.st, h.blockArena)
}

// Flush commits any partially filled open block to the store.
func (h *UniqueListHandle) Flush() error {
	return h.l.Flush(h.st)
}

// Next advances the cursor to the next live value. The first call
// lazily starts an exclusive iteration pass.
func (h *UniqueListHandle) Next() bool {
	if !h.Found() {
		return false
	}
	if h.it == nil {
		h.it = h.l.IterateExclusive(h.st)
	}
	return h.it.Next()
}

// Value returns the value at the cursor.
func (h *UniqueListHandle) Value() []byte {
	if h.it == nil {
		return nil
	}
	return h.it.Value()
}

// Err returns the first error encountered during iteration, if any.
func (h *UniqueListHandle) Err() error {
	if h.it == nil {
		return nil
	}
	return h.it.Err()
}

// Available returns the number of live values not yet yielded by the
// current iteration pass, if one has started.
func (h *UniqueListHandle) Available() uint64 {
	if h.it == nil {
		return h.l.NumValuesValid()
	}
	return h.it.Available()
}

// Remove marks the value at the cursor deleted. Only valid after Next
// has returned true.
func (h *UniqueListHandle) Remove() error {
	return h.it.Remove()
}

// Rewrite replaces the list's contents with all currently-live values
// sorted by less, reusing the handle's store and block arena.
func (h *UniqueListHandle) Rewrite(less LessFunc) error {
	return h.l.Rewrite(h.st, h.blockArena, less)
}

// Release drops the handle's exclusive lock. Safe to call on an empty
// handle or more than once.
func (h *UniqueListHandle) Release() {
	if h == nil || h.l == nil || h.released {
		return
	}
	h.released = true
	h.l.Unlock()
}
