// Package sharedmutex implements a reader-writer mutex handle optimized
// for minimal memory footprint across many simultaneous instances — one
// per key's list. It behaves like sync.RWMutex, but the actual mutex is
// allocated lazily from a bounded, process-global pool on first lock and
// returned to the pool on last unlock, so an unlocked handle costs a
// single nullable pointer instead of a full RWMutex struct.
package sharedmutex

import "sync"

// refCountedMutex pairs a reader-writer mutex with the number of
// outstanding locks/lock_shareds currently referencing it, so it can be
// returned to the pool exactly when the last holder unlocks.
type refCountedMutex struct {
	mu       sync.RWMutex
	refcount uint32
}

var (
	allocationMu sync.Mutex
	pool         []*refCountedMutex
	maxPoolSize  = 4096
)

// SetMaxPoolSize adjusts the process-global pool capacity. Exceeding it
// degrades gracefully to per-handle heap allocation rather than failing.
func SetMaxPoolSize(size int) {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	maxPoolSize = size
	for len(pool) > maxPoolSize {
		pool = pool[:len(pool)-1]
	}
}

// PoolSize returns the current number of idle mutexes held in the pool.
func PoolSize() int {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	return len(pool)
}

func popLocked() *refCountedMutex {
	if n := len(pool); n > 0 {
		m := pool[n-1]
		pool = pool[:n-1]
		return m
	}
	return &refCountedMutex{}
}

func pushLocked(m *refCountedMutex) {
	if len(pool) < maxPoolSize {
		pool = append(pool, m)
	}
}

// Mutex is a shared-mutex handle. The zero value is an unlocked,
// unallocated handle ready to use. Mutex must not be copied after first
// use.
type Mutex struct {
	m *refCountedMutex
}

// Lock acquires the mutex for exclusive access, allocating a backing
// mutex from the pool if this is the first concurrent holder.
func (s *Mutex) Lock() {
	allocationMu.Lock()
	if s.m == nil {
		s.m = popLocked()
	}
	s.m.refcount++
	m := s.m
	allocationMu.Unlock()
	// allocationMu is released before blocking on m.mu to avoid a
	// deadlock between concurrent Lock/Unlock callers.
	m.mu.Lock()
}

// TryLock attempts to acquire the mutex for exclusive access without
// blocking. It never leaves a dangling pool allocation on failure.
func (s *Mutex) TryLock() bool {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	if s.m == nil {
		s.m = popLocked()
	}
	if s.m.mu.TryLock() {
		s.m.refcount++
		return true
	}
	if s.m.refcount == 0 {
		pushLocked(s.m)
		s.m = nil
	}
	return false
}

// Unlock releases an exclusive lock, returning the backing mutex to the
// pool once the last holder has unlocked.
func (s *Mutex) Unlock() {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	if s.m == nil || s.m.refcount == 0 {
		panic("sharedmutex: Unlock of unlocked Mutex")
	}
	s.m.mu.Unlock()
	s.m.refcount--
	if s.m.refcount == 0 {
		pushLocked(s.m)
		s.m = nil
	}
}

// RLock acquires the mutex for shared (read) access.
func (s *Mutex) RLock() {
	allocationMu.Lock()
	if s.m == nil {
		s.m = popLocked()
	}
	s.m.refcount++
	m := s.m
	allocationMu.Unlock()
	m.mu.RLock()
}

// TryRLock attempts to acquire the mutex for shared access without
// blocking. It never leaves a dangling pool allocation on failure.
func (s *Mutex) TryRLock() bool {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	if s.m == nil {
		s.m = popLocked()
	}
	if s.m.mu.TryRLock() {
		s.m.refcount++
		return true
	}
	if s.m.refcount == 0 {
		pushLocked(s.m)
		s.m = nil
	}
	return false
}

// RUnlock releases a shared lock, returning the backing mutex to the
// pool once the last holder has unlocked.
func (s *Mutex) RUnlock() {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	if s.m == nil || s.m.refcount == 0 {
		panic("sharedmutex: RUnlock of unlocked Mutex")
	}
	s.m.mu.RUnlock()
	s.m.refcount--
	if s.m.refcount == 0 {
		pushLocked(s.m)
		s.m = nil
	}
}

// Allocated reports whether this handle currently references a backing
// mutex. Used by tests asserting the memory-footprint property of an
// idle handle.
func (s *Mutex) Allocated() bool {
	allocationMu.Lock()
	defer allocationMu.Unlock()
	return s.m != nil
}
