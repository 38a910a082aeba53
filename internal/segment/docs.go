package segment

import (
	"fmt"

	"github.com/acoustid-go/fpindex/pkg/varint"
)

// docLive and docTombstone are the one-byte flags stored per entry in a
// .docs file.
const (
	docLive      byte = 0
	docTombstone byte = 1
)

// DocEntry is one row of a segment's doc membership/tombstone set.
type DocEntry struct {
	DocID     uint32
	Tombstone bool
}

// Docs is a segment's doc-id membership and tombstone set, sorted ascending
// by DocID. It answers "does this segment know about doc X, and if so is it
// live or deleted here".
type Docs struct {
	entries []DocEntry
}

// NewDocs builds a Docs set from entries already sorted ascending by DocID.
func NewDocs(entries []DocEntry) *Docs {
	return &Docs{entries: entries}
}

// Contains reports whether docID is recorded as live in this segment.
func (d *Docs) Contains(docID uint32) bool {
	i := d.search(docID)
	return i < len(d.entries) && d.entries[i].DocID == docID && !d.entries[i].Tombstone
}

// IsTombstoned reports whether docID is recorded as deleted in this segment.
func (d *Docs) IsTombstoned(docID uint32) bool {
	i := d.search(docID)
	return i < len(d.entries) && d.entries[i].DocID == docID && d.entries[i].Tombstone
}

// Has reports whether this segment has any opinion at all about docID
// (live or tombstoned).
func (d *Docs) Has(docID uint32) bool {
	i := d.search(docID)
	return i < len(d.entries) && d.entries[i].DocID == docID
}

func (d *Docs) search(docID uint32) int {
	lo, hi := 0, len(d.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if d.entries[mid].DocID < docID {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Entries returns the underlying sorted entry slice; callers must not
// mutate it.
func (d *Docs) Entries() []DocEntry { return d.entries }

// Encode serializes the doc set into the .docs on-disk format: u32_be
// entryCount, then entryCount x {varint docId delta, u8 flag}.
func (d *Docs) Encode() []byte {
	buf := make([]byte, 4, 4+len(d.entries)*(varint.MaxBytes+1))
	buf[0], buf[1], buf[2], buf[3] = byte(len(d.entries)>>24), byte(len(d.entries)>>16), byte(len(d.entries)>>8), byte(len(d.entries))

	var prev uint32
	tmp := make([]byte, varint.MaxBytes)
	for i, e := range d.entries {
		var delta uint32
		if i == 0 {
			delta = e.DocID
		} else {
			delta = e.DocID - prev
		}
		n := varint.Put(tmp, delta)
		buf = append(buf, tmp[:n]...)
		flag := docLive
		if e.Tombstone {
			flag = docTombstone
		}
		buf = append(buf, flag)
		prev = e.DocID
	}
	return buf
}

// DecodeDocs parses a .docs file previously produced by Encode.
func DecodeDocs(buf []byte) (*Docs, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("segment: .docs shorter than header (%d bytes)", len(buf))
	}
	count := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	entries := make([]DocEntry, count)
	off := 4
	var docID uint32
	for i := uint32(0); i < count; i++ {
		delta, n, err := varint.Get(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("segment: decoding .docs entry %d: %w", i, err)
		}
		off += n
		if i == 0 {
			docID = delta
		} else {
			docID += delta
		}
		if off >= len(buf) {
			return nil, fmt.Errorf("segment: .docs truncated at entry %d", i)
		}
		entries[i] = DocEntry{DocID: docID, Tombstone: buf[off] == docTombstone}
		off++
	}
	return &Docs{entries: entries}, nil
}
