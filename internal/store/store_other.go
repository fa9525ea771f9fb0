//go:build !unix

package store

import "os"

// writevAt falls back to sequential WriteAt calls on platforms without
// writev(2).
func writevAt(f *os.File, blocks [][]byte, offset int64) error {
	pos := offset
	for _, b := range blocks {
		if _, err := f.WriteAt(b, pos); err != nil {
			return err
		}
		pos += int64(len(b))
	}
	return nil
}

// adviseAccessPattern is a no-op on platforms without madvise/fadvise.
func adviseAccessPattern(f *os.File, length int64, p AccessPattern) error {
	return nil
}
