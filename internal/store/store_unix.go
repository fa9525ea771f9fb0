//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// writevAt commits blocks to f starting at offset using a single
// vectored write, falling back to sequential WriteAt calls if the
// vectored write is short (e.g. interrupted by a signal).
func writevAt(f *os.File, blocks [][]byte, offset int64) error {
	if _, err := f.Seek(offset, 0); err != nil {
		return err
	}
	n, err := unix.Writev(int(f.Fd()), blocks)
	if err != nil {
		return err
	}
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	if int(n) == total {
		return nil
	}
	// Short write: fall back to per-block WriteAt for the remainder.
	written := int(n)
	pos := offset
	for _, b := range blocks {
		if written >= len(b) {
			written -= len(b)
			pos += int64(len(b))
			continue
		}
		if _, err := f.WriteAt(b[written:], pos); err != nil {
			return err
		}
		pos += int64(len(b))
		written = 0
	}
	return nil
}

// adviseAccessPattern hints the kernel's page cache about the upcoming
// access pattern over the committed region via posix_fadvise on the
// underlying file descriptor. golang.org/x/exp/mmap.ReaderAt does not
// expose its backing byte slice for a direct madvise(2) call, so this
// hints the page cache through the fd instead — the same readahead
// behavior from the kernel's point of view.
func adviseAccessPattern(f *os.File, length int64, p AccessPattern) error {
	var advice int
	switch p {
	case AccessWillNeed:
		advice = unix.FADV_WILLNEED
	case AccessSequential:
		advice = unix.FADV_SEQUENTIAL
	default:
		advice = unix.FADV_NORMAL
	}
	return unix.Fadvise(int(f.Fd()), 0, length, advice)
}
