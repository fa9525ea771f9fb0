package multimap

// errors.go re-exports the internal error taxonomy as the public API
// surface, so callers can type-switch or errors.As against these names
// without importing an internal package.

import "github.com/Voskan/multimap/internal/mmerr"

type (
	// DomainError signals an out-of-range key/value size, an invalid
	// option, or other violation of an input invariant; read-only
	// violations use ReadOnlyError.
	DomainError = mmerr.DomainError
	// NotFoundError signals a shard open against a missing prefix
	// without create_if_missing.
	NotFoundError = mmerr.NotFoundError
	// OutOfRangeError signals a block id beyond the store's end.
	OutOfRangeError = mmerr.OutOfRangeError
	// IncompatibleError signals an on-disk block size mismatch.
	IncompatibleError = mmerr.IncompatibleError
	// CorruptionError signals a stats checksum mismatch or an
	// unexpected file length.
	CorruptionError = mmerr.CorruptionError
	// IoError wraps an underlying syscall failure.
	IoError = mmerr.IoError
	// CapacityError signals a varint encode/decode that ran out of
	// buffer; internal to the list, recovered by flushing.
	CapacityError = mmerr.CapacityError
	// ReadOnlyError signals a mutating op attempted on a read-only
	// shard.
	ReadOnlyError = mmerr.ReadOnlyError
)
