package segment

import (
	"fmt"

	"github.com/acoustid-go/fpindex/internal/block"
)

// Enumerator yields every (key, docId) pair stored in a segment, in
// ascending order, one block at a time. It is the merger's read side.
type Enumerator struct {
	reader   *Reader
	blockIdx int
	pairs    []block.Pair
	pos      int
	done     bool
}

// NewEnumerator returns an Enumerator positioned before the first pair of r.
func NewEnumerator(r *Reader) *Enumerator {
	return &Enumerator{reader: r, blockIdx: -1}
}

// Next advances to the next pair and returns it. The second return value is
// false once every pair has been enumerated.
func (e *Enumerator) Next() (block.Pair, bool, error) {
	if e.done {
		return block.Pair{}, false, nil
	}
	for e.pairs == nil || e.pos >= len(e.pairs) {
		e.blockIdx++
		if e.blockIdx >= e.reader.index.BlockCount() {
			e.done = true
			return block.Pair{}, false, nil
		}
		buf, err := e.reader.blockBytes(e.blockIdx)
		if err != nil {
			return block.Pair{}, false, fmt.Errorf("segment %d: reading block %d: %w", e.reader.info.ID, e.blockIdx, err)
		}
		pairs, err := block.Decode(buf)
		if err != nil {
			return block.Pair{}, false, fmt.Errorf("segment %d: decoding block %d: %w", e.reader.info.ID, e.blockIdx, err)
		}
		e.pairs = pairs
		e.pos = 0
	}
	p := e.pairs[e.pos]
	e.pos++
	return p, true, nil
}
