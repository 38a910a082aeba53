// Package block implements the fixed-size block codec used by segment data
// files: a prefix-coded run of sorted (key, docId) pairs, the first pair
// stored as full varints and every following pair stored as a delta against
// the previous one.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/acoustid-go/fpindex/pkg/varint"
)

// DefaultSize is the default block size in bytes.
const DefaultSize = 512

// headerSize is the 2-byte pair count at the start of every block.
const headerSize = 2

// maxPairBytes bounds the encoded size of one (Δkey, docId) pair: two
// varint32 values, at most varint.MaxBytes each.
const maxPairBytes = 2 * varint.MaxBytes

// Pair is one posting: a term/fingerprint-hash key paired with a doc id.
type Pair struct {
	Key   uint32
	DocID uint32
}

// ErrEmptyBlock is returned by Decode when a block has a zero pair count.
// Empty blocks are illegal; the writer never emits one.
var ErrEmptyBlock = fmt.Errorf("block: empty block is not valid")

// Builder accumulates pairs into one block, in the order they're appended.
// Callers must append pairs in sorted, deduplicated (key, docId) order.
type Builder struct {
	size  int
	pairs []Pair
	// encodedLen is the running encoded size (header plus accepted pairs),
	// so overflow checks need not re-encode already-accepted pairs.
	encodedLen int
}

// NewBuilder returns a Builder targeting blocks of size bytes.
func NewBuilder(size int) *Builder {
	return &Builder{size: size, encodedLen: headerSize}
}

// Add appends pair to the block if it fits, returning true on success. When
// it returns false the block is full; the caller must Finish it and start a
// new Builder for the pair that didn't fit.
func (b *Builder) Add(pair Pair) bool {
	var delta int
	if len(b.pairs) == 0 {
		delta = varint.Size(pair.Key) + varint.Size(pair.DocID)
	} else {
		prev := b.pairs[len(b.pairs)-1]
		delta = varint.Size(pair.Key-prev.Key) + varint.Size(pair.DocID)
	}
	if b.encodedLen+delta > b.size {
		return false
	}
	b.pairs = append(b.pairs, pair)
	b.encodedLen += delta
	return true
}

// Len returns the number of pairs accumulated so far.
func (b *Builder) Len() int { return len(b.pairs) }

// FirstKey returns the key of the first pair in the block. Only valid when
// Len() > 0.
func (b *Builder) FirstKey() uint32 { return b.pairs[0].Key }

// LastKey returns the key of the last pair in the block. Only valid when
// Len() > 0.
func (b *Builder) LastKey() uint32 { return b.pairs[len(b.pairs)-1].Key }

// Finish encodes the accumulated pairs into a zero-padded block of exactly
// b.size bytes. Finishing a builder with no pairs is a programming error.
func (b *Builder) Finish() []byte {
	if len(b.pairs) == 0 {
		panic("block: Finish called on empty builder")
	}
	buf := make([]byte, b.size)
	binary.BigEndian.PutUint16(buf[:headerSize], uint16(len(b.pairs)))
	off := headerSize
	off += varint.Put(buf[off:], b.pairs[0].Key)
	off += varint.Put(buf[off:], b.pairs[0].DocID)
	for i := 1; i < len(b.pairs); i++ {
		off += varint.Put(buf[off:], b.pairs[i].Key-b.pairs[i-1].Key)
		off += varint.Put(buf[off:], b.pairs[i].DocID)
	}
	return buf
}

// Decode decodes every pair out of a block previously produced by Finish.
func Decode(buf []byte) ([]Pair, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("block: buffer shorter than header (%d bytes)", len(buf))
	}
	count := int(binary.BigEndian.Uint16(buf[:headerSize]))
	if count == 0 {
		return nil, ErrEmptyBlock
	}
	pairs := make([]Pair, count)
	off := headerSize
	key, n, err := varint.Get(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("block: decoding first key: %w", err)
	}
	off += n
	docID, n, err := varint.Get(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("block: decoding first docId: %w", err)
	}
	off += n
	pairs[0] = Pair{Key: key, DocID: docID}

	for i := 1; i < count; i++ {
		delta, n, err := varint.Get(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("block: decoding delta key at pair %d: %w", i, err)
		}
		off += n
		key += delta
		docID, n, err := varint.Get(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("block: decoding docId at pair %d: %w", i, err)
		}
		off += n
		pairs[i] = Pair{Key: key, DocID: docID}
	}
	return pairs, nil
}

// Lookup scans a decoded block's pairs for key, calling fn for every
// matching docId, in ascending docId order (the order pairs were written).
func Lookup(pairs []Pair, key uint32, fn func(docID uint32)) {
	for _, p := range pairs {
		if p.Key == key {
			fn(p.DocID)
		}
	}
}
