// Package stats implements the shard's fixed-layout .stats record: block
// size, key/value counts, key and list size distributions, and a
// CRC-32 checksum guarding the whole record against partial writes and
// bit rot.
package stats

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/Voskan/multimap/internal/mmerr"
)

// Size is the fixed, platform-independent serialized size of a Stats
// record: 13 uint64 fields, 8 bytes each.
const Size = 13 * 8

// Stats is a shard's persisted statistics record.
type Stats struct {
	BlockSize        uint64
	NumBlocks        uint64
	NumKeys          uint64
	NumValuesAdded   uint64
	NumValuesRemoved uint64
	NumValuesUnowned uint64
	KeySizeMin       uint64
	KeySizeMax       uint64
	KeySizeAvg       uint64
	ListSizeMin      uint64
	ListSizeMax      uint64
	ListSizeAvg      uint64
	Checksum         uint64
}

// Names returns the field names in on-disk order, mirroring the
// original library's Stats::names() used for diagnostic dumps.
func Names() []string {
	return []string{
		"block_size", "num_blocks", "num_keys", "num_values_added",
		"num_values_removed", "num_values_unowned", "key_size_min",
		"key_size_max", "key_size_avg", "list_size_min", "list_size_max",
		"list_size_avg", "checksum",
	}
}

// ToVector returns the record's fields in on-disk order, for diagnostic
// dumps and the inspect tool.
func (s Stats) ToVector() []uint64 {
	return []uint64{
		s.BlockSize, s.NumBlocks, s.NumKeys, s.NumValuesAdded,
		s.NumValuesRemoved, s.NumValuesUnowned, s.KeySizeMin, s.KeySizeMax,
		s.KeySizeAvg, s.ListSizeMin, s.ListSizeMax, s.ListSizeAvg, s.Checksum,
	}
}

// Marshal serializes s to its 104-byte on-disk image, computing the
// checksum over the record with the checksum field zeroed.
func (s Stats) Marshal() []byte {
	s.Checksum = 0
	buf := make([]byte, Size)
	encode(buf, s)
	s.Checksum = uint64(crc32.ChecksumIEEE(buf))
	binary.LittleEndian.PutUint64(buf[12*8:13*8], s.Checksum)
	return buf
}

// Unmarshal decodes buf (which must be exactly Size bytes) into a
// Stats, verifying its checksum. Returns CorruptionError if buf is the
// wrong length or the checksum does not match.
func Unmarshal(buf []byte) (Stats, error) {
	if len(buf) != Size {
		return Stats{}, mmerr.NewCorruption("stats: record is %d bytes, want %d", len(buf), Size)
	}
	var s Stats
	decode(buf, &s)

	check := make([]byte, Size)
	copy(check, buf)
	binary.LittleEndian.PutUint64(check[12*8:13*8], 0)
	want := s.Checksum
	got := uint64(crc32.ChecksumIEEE(check))
	if got != want {
		return Stats{}, mmerr.NewCorruption("stats: checksum mismatch: record has %#x, computed %#x", want, got)
	}
	return s, nil
}

func encode(buf []byte, s Stats) {
	fields := []uint64{
		s.BlockSize, s.NumBlocks, s.NumKeys, s.NumValuesAdded,
		s.NumValuesRemoved, s.NumValuesUnowned, s.KeySizeMin, s.KeySizeMax,
		s.KeySizeAvg, s.ListSizeMin, s.ListSizeMax, s.ListSizeAvg, s.Checksum,
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:(i+1)*8], f)
	}
}

func decode(buf []byte, s *Stats) {
	fields := [13]*uint64{
		&s.BlockSize, &s.NumBlocks, &s.NumKeys, &s.NumValuesAdded,
		&s.NumValuesRemoved, &s.NumValuesUnowned, &s.KeySizeMin, &s.KeySizeMax,
		&s.KeySizeAvg, &s.ListSizeMin, &s.ListSizeMax, &s.ListSizeAvg, &s.Checksum,
	}
	for i, p := range fields {
		*p = binary.LittleEndian.Uint64(buf[i*8 : (i+1)*8])
	}
}

// ReadFile reads and verifies a Stats record from path.
func ReadFile(path string) (Stats, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, mmerr.NewIo("read "+path, err)
	}
	return Unmarshal(buf)
}

// WriteFile writes s's checksummed image to path, creating or
// truncating it.
func WriteFile(path string, s Stats) error {
	if err := os.WriteFile(path, s.Marshal(), 0o644); err != nil {
		return mmerr.NewIo("write "+path, err)
	}
	return nil
}

// Total aggregates a slice of per-shard Stats into one record: sizes
// sum, min/max fields take the min/max across inputs, and the size
// averages are weighted by each input's NumKeys. All inputs must share
// the same BlockSize.
func Total(all []Stats) (Stats, error) {
	var t Stats
	if len(all) == 0 {
		return t, nil
	}
	t.BlockSize = all[0].BlockSize
	t.KeySizeMin = all[0].KeySizeMin
	t.ListSizeMin = all[0].ListSizeMin

	var keySizeWeighted, listSizeWeighted uint64
	for _, s := range all {
		if s.BlockSize != t.BlockSize {
			return Stats{}, mmerr.NewIncompatible("stats: block size %d does not match %d", s.BlockSize, t.BlockSize)
		}
		t.NumBlocks += s.NumBlocks
		t.NumKeys += s.NumKeys
		t.NumValuesAdded += s.NumValuesAdded
		t.NumValuesRemoved += s.NumValuesRemoved
		t.NumValuesUnowned += s.NumValuesUnowned

		if s.KeySizeMin < t.KeySizeMin {
			t.KeySizeMin = s.KeySizeMin
		}
		if s.KeySizeMax > t.KeySizeMax {
			t.KeySizeMax = s.KeySizeMax
		}
		if s.ListSizeMin < t.ListSizeMin {
			t.ListSizeMin = s.ListSizeMin
		}
		if s.ListSizeMax > t.ListSizeMax {
			t.ListSizeMax = s.ListSizeMax
		}
		keySizeWeighted += s.KeySizeAvg * s.NumKeys
		listSizeWeighted += s.ListSizeAvg * s.NumKeys
	}
	if t.NumKeys > 0 {
		t.KeySizeAvg = keySizeWeighted / t.NumKeys
		t.ListSizeAvg = listSizeWeighted / t.NumKeys
	}
	return t, nil
}

// Max returns the elementwise maximum across a slice of Stats.
func Max(all []Stats) Stats {
	var m Stats
	for _, s := range all {
		v1, v2 := m.ToVector(), s.ToVector()
		merged := make([]uint64, len(v1))
		for i := range v1 {
			merged[i] = v1[i]
			if v2[i] > merged[i] {
				merged[i] = v2[i]
			}
		}
		m = fromVector(merged)
	}
	return m
}

func fromVector(v []uint64) Stats {
	return Stats{
		BlockSize: v[0], NumBlocks: v[1], NumKeys: v[2], NumValuesAdded: v[3],
		NumValuesRemoved: v[4], NumValuesUnowned: v[5], KeySizeMin: v[6],
		KeySizeMax: v[7], KeySizeAvg: v[8], ListSizeMin: v[9], ListSizeMax: v[10],
		ListSizeAvg: v[11], Checksum: v[12],
	}
}
