package segment

import (
	"fmt"
	"hash/crc32"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/store"
)

// Writer streams a sorted, deduplicated (key, docId) pair stream into a new
// immutable segment, producing its .fid, .fii and .docs files plus the
// resulting Info.
type Writer struct {
	dir       store.Directory
	blockSize int
}

// NewWriter returns a Writer that emits blocks of blockSize bytes into dir.
// blockSize <= 0 selects block.DefaultSize.
func NewWriter(dir store.Directory, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = block.DefaultSize
	}
	return &Writer{dir: dir, blockSize: blockSize}
}

// Write consumes pairs (sorted ascending by key then docId, with no
// duplicate (key, docId) pair) and docs (sorted ascending by DocID,
// recording every doc id this segment has an opinion about, live or
// tombstoned), and writes out segment id.
// A segment may hold zero postings (an empty .fid with BlockCount 0): this
// happens when a commit cycle only has tombstones to record for documents
// whose postings already live in another segment, and needs somewhere
// durable to park them until a merge reunites the two.
func (w *Writer) Write(id uint64, pairs []block.Pair, docs []DocEntry) (Info, error) {
	if len(pairs) == 0 && len(docs) == 0 {
		return Info{}, fmt.Errorf("segment: cannot write a segment with zero postings and zero docs")
	}

	info := Info{ID: id}

	dataOut, err := w.dir.CreateOutput(info.DataFileName())
	if err != nil {
		return Info{}, fmt.Errorf("segment: creating data file: %w", err)
	}

	var firstKeys []uint32
	checksum := crc32.NewIEEE()
	builder := block.NewBuilder(w.blockSize)

	flush := func() error {
		if builder.Len() == 0 {
			return nil
		}
		encoded := builder.Finish()
		firstKeys = append(firstKeys, builder.FirstKey())
		info.LastKey = builder.LastKey()
		if _, err := checksum.Write(encoded); err != nil {
			return err
		}
		if _, err := dataOut.Write(encoded); err != nil {
			return fmt.Errorf("segment: writing block: %w", err)
		}
		info.BlockCount++
		return nil
	}

	for _, p := range pairs {
		if !builder.Add(p) {
			if err := flush(); err != nil {
				dataOut.Close()
				return Info{}, err
			}
			builder = block.NewBuilder(w.blockSize)
			if !builder.Add(p) {
				dataOut.Close()
				return Info{}, fmt.Errorf("segment: pair %+v does not fit in an empty block of size %d", p, w.blockSize)
			}
		}
	}
	if err := flush(); err != nil {
		dataOut.Close()
		return Info{}, err
	}
	if err := dataOut.Close(); err != nil {
		return Info{}, fmt.Errorf("segment: publishing data file: %w", err)
	}
	info.Checksum = checksum.Sum32()

	idx := NewIndex(uint32(w.blockSize), firstKeys)
	indexOut, err := w.dir.CreateOutput(info.IndexFileName())
	if err != nil {
		return Info{}, fmt.Errorf("segment: creating index file: %w", err)
	}
	if _, err := indexOut.Write(idx.Encode()); err != nil {
		indexOut.Close()
		return Info{}, fmt.Errorf("segment: writing index file: %w", err)
	}
	if err := indexOut.Close(); err != nil {
		return Info{}, fmt.Errorf("segment: publishing index file: %w", err)
	}

	docsSet := NewDocs(docs)
	docsOut, err := w.dir.CreateOutput(info.DocsFileName())
	if err != nil {
		return Info{}, fmt.Errorf("segment: creating docs file: %w", err)
	}
	if _, err := docsOut.Write(docsSet.Encode()); err != nil {
		docsOut.Close()
		return Info{}, fmt.Errorf("segment: writing docs file: %w", err)
	}
	if err := docsOut.Close(); err != nil {
		return Info{}, fmt.Errorf("segment: publishing docs file: %w", err)
	}

	return info, nil
}
