package segment

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// DefaultFanout is the number of level-L entries sampled into level L+1.
const DefaultFanout = 32

// minLeveledBlocks is the smallest block count for which a second level is
// worth building; below it a single level is searched directly.
const minLeveledBlocks = DefaultFanout * 4

// Index is the in-memory sparse key index for one segment: one key per
// block (the block's first key), optionally sampled into higher levels so
// that a binary search over a huge block count stays cache-friendly.
type Index struct {
	BlockSize  uint32
	FirstKeys  []uint32 // one entry per block, ascending
	Fanout     int
	levels     [][]uint32 // levels[0] == FirstKeys; each further level samples the one below by Fanout
}

// NewIndex builds a sparse index over firstKeys, the first key of every
// block in a segment, in block order.
func NewIndex(blockSize uint32, firstKeys []uint32) *Index {
	idx := &Index{BlockSize: blockSize, FirstKeys: firstKeys, Fanout: DefaultFanout}
	idx.buildLevels()
	return idx
}

func (idx *Index) buildLevels() {
	idx.levels = [][]uint32{idx.FirstKeys}
	level := idx.FirstKeys
	for len(level) >= minLeveledBlocks {
		next := make([]uint32, 0, len(level)/idx.Fanout+1)
		for i := 0; i < len(level); i += idx.Fanout {
			next = append(next, level[i])
		}
		idx.levels = append(idx.levels, next)
		level = next
	}
}

// BlockCount returns the number of blocks indexed.
func (idx *Index) BlockCount() int { return len(idx.FirstKeys) }

// Lookup returns the index of the block that may contain key: the largest
// block whose first key is <= key. It returns -1 if key is smaller than
// every block's first key (no candidate block exists).
func (idx *Index) Lookup(key uint32) int {
	if len(idx.FirstKeys) == 0 {
		return -1
	}
	// Descend from the top level, narrowing the search span at each level
	// before doing the final binary search on the base level.
	lo, hi := 0, len(idx.levels[len(idx.levels)-1])
	for level := len(idx.levels) - 1; level >= 1; level-- {
		entries := idx.levels[level]
		pos := upperBound(entries[lo:hi], key) - 1
		if pos < 0 {
			return -1
		}
		pos += lo
		lo = pos * idx.Fanout
		hi = lo + idx.Fanout
		if hi > len(idx.levels[level-1]) {
			hi = len(idx.levels[level-1])
		}
	}
	pos := upperBound(idx.FirstKeys[lo:hi], key) - 1
	if pos < 0 {
		return -1
	}
	return lo + pos
}

// upperBound returns the index of the first entry strictly greater than
// key, i.e. len(entries) if every entry is <= key.
func upperBound(entries []uint32, key uint32) int {
	return sort.Search(len(entries), func(i int) bool { return entries[i] > key })
}

// Encode serializes the index into the .fii on-disk format: u32_be
// blockSize, u32_be blockCount, blockCount x u32_be firstKey, then a header
// recording any higher levels built for faster search.
func (idx *Index) Encode() []byte {
	buf := make([]byte, 8+4*len(idx.FirstKeys)+8)
	binary.BigEndian.PutUint32(buf[0:4], idx.BlockSize)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(idx.FirstKeys)))
	off := 8
	for _, k := range idx.FirstKeys {
		binary.BigEndian.PutUint32(buf[off:off+4], k)
		off += 4
	}
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(idx.levels)))
	binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(idx.Fanout))
	return buf
}

// DecodeIndex parses a .fii file previously produced by Encode.
func DecodeIndex(buf []byte) (*Index, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("segment: .fii shorter than header (%d bytes)", len(buf))
	}
	blockSize := binary.BigEndian.Uint32(buf[0:4])
	blockCount := binary.BigEndian.Uint32(buf[4:8])
	need := 8 + 4*int(blockCount) + 8
	if len(buf) < need {
		return nil, fmt.Errorf("segment: .fii truncated: have %d bytes, need %d", len(buf), need)
	}
	firstKeys := make([]uint32, blockCount)
	off := 8
	for i := range firstKeys {
		firstKeys[i] = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	fanout := binary.BigEndian.Uint32(buf[off+4 : off+8])
	idx := &Index{BlockSize: blockSize, FirstKeys: firstKeys, Fanout: int(fanout)}
	if idx.Fanout == 0 {
		idx.Fanout = DefaultFanout
	}
	idx.buildLevels()
	return idx, nil
}
