// Package mmerr defines the typed error taxonomy shared across the
// multimap's internal layers and re-exported by the public API. Keeping
// the types in one internal package lets internal/store, internal/list,
// internal/stats, and pkg/multimap all produce and match on the same
// concrete error types with errors.As.
package mmerr

import "fmt"

// DomainError reports a caller mistake: an out-of-range key or value
// size, an invalid option, or opening an existing shard with
// error_if_exists. Mutations on a read-only shard use ReadOnlyError
// instead.
type DomainError struct {
	Msg string
}

func (e *DomainError) Error() string { return "multimap: domain error: " + e.Msg }

// NewDomain constructs a DomainError with a formatted message.
func NewDomain(format string, args ...any) *DomainError {
	return &DomainError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a shard's files are absent: Open returns it
// for a prefix with no stats file when create_if_missing is not set. Key
// lookups never return it; a missing key surfaces as an empty handle.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return "multimap: not found: " + e.Msg }

// NewNotFound constructs a NotFoundError with a formatted message.
func NewNotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// OutOfRangeError reports a block id beyond the store's committed-plus-
// buffered range.
type OutOfRangeError struct {
	Msg string
}

func (e *OutOfRangeError) Error() string { return "multimap: out of range: " + e.Msg }

// NewOutOfRange constructs an OutOfRangeError with a formatted message.
func NewOutOfRange(format string, args ...any) *OutOfRangeError {
	return &OutOfRangeError{Msg: fmt.Sprintf(format, args...)}
}

// IncompatibleError reports that an on-disk file's recorded parameters
// (block size, format version) do not match what the caller requested.
type IncompatibleError struct {
	Msg string
}

func (e *IncompatibleError) Error() string { return "multimap: incompatible: " + e.Msg }

// NewIncompatible constructs an IncompatibleError with a formatted message.
func NewIncompatible(format string, args ...any) *IncompatibleError {
	return &IncompatibleError{Msg: fmt.Sprintf(format, args...)}
}

// CorruptionError reports a stats checksum mismatch or an unexpected
// file length.
type CorruptionError struct {
	Msg string
}

func (e *CorruptionError) Error() string { return "multimap: corruption: " + e.Msg }

// NewCorruption constructs a CorruptionError with a formatted message.
func NewCorruption(format string, args ...any) *CorruptionError {
	return &CorruptionError{Msg: fmt.Sprintf(format, args...)}
}

// IoError wraps an underlying syscall/OS error.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("multimap: io error during %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// NewIo wraps err as an IoError naming the failing operation.
func NewIo(op string, err error) *IoError {
	return &IoError{Op: op, Err: err}
}

// CapacityError reports that a varint encode/decode ran out of buffer.
// List recovers from a full block by flushing it and retrying; Append
// returns a CapacityError only when the retry in a freshly rewound block
// fails as well (a block smaller than the value header).
type CapacityError struct {
	Msg string
}

func (e *CapacityError) Error() string { return "multimap: capacity error: " + e.Msg }

// NewCapacity constructs a CapacityError with a formatted message.
func NewCapacity(format string, args ...any) *CapacityError {
	return &CapacityError{Msg: fmt.Sprintf(format, args...)}
}

// ReadOnlyError reports a mutating or exclusive-lock operation attempted
// against a shard opened in read-only mode.
type ReadOnlyError struct {
	Msg string
}

func (e *ReadOnlyError) Error() string { return "multimap: read-only: " + e.Msg }

// NewReadOnly constructs a ReadOnlyError with a formatted message.
func NewReadOnly(format string, args ...any) *ReadOnlyError {
	return &ReadOnlyError{Msg: fmt.Sprintf(format, args...)}
}
