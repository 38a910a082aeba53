package segment

import (
	"fmt"
	"hash/crc32"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/store"
	apperrors "github.com/acoustid-go/fpindex/pkg/errors"
)

// Reader is an opened, checksum-validated segment: its data blocks loaded
// into memory, ready to be searched. Readers are shared across snapshots by
// reference counting at the index layer; Reader itself is immutable and
// safe for concurrent use.
type Reader struct {
	info  Info
	index *Index
	docs  *Docs
	data  []byte
}

// Open loads and validates segment id's three files out of dir. It returns
// apperrors.ErrCorrupt if the stored checksum does not match the data
// bytes.
func Open(dir store.Directory, info Info) (*Reader, error) {
	dataIn, err := dir.OpenInput(info.DataFileName())
	if err != nil {
		return nil, fmt.Errorf("segment: opening data file: %w", err)
	}
	defer dataIn.Close()

	size, err := dataIn.Size()
	if err != nil {
		return nil, fmt.Errorf("segment: statting data file: %w", err)
	}
	data := make([]byte, size)
	if _, err := dataIn.ReadAt(data, 0); err != nil {
		return nil, fmt.Errorf("segment: reading data file: %w", err)
	}

	if crc32.ChecksumIEEE(data) != info.Checksum {
		return nil, apperrors.New(apperrors.ErrCorrupt, 0, fmt.Sprintf("segment %d: checksum mismatch", info.ID))
	}

	indexIn, err := dir.OpenInput(info.IndexFileName())
	if err != nil {
		return nil, fmt.Errorf("segment: opening index file: %w", err)
	}
	indexSize, err := indexIn.Size()
	if err != nil {
		indexIn.Close()
		return nil, fmt.Errorf("segment: statting index file: %w", err)
	}
	indexBuf := make([]byte, indexSize)
	if _, err := indexIn.ReadAt(indexBuf, 0); err != nil {
		indexIn.Close()
		return nil, fmt.Errorf("segment: reading index file: %w", err)
	}
	indexIn.Close()
	idx, err := DecodeIndex(indexBuf)
	if err != nil {
		return nil, fmt.Errorf("segment: decoding index file: %w", err)
	}

	docsIn, err := dir.OpenInput(info.DocsFileName())
	if err != nil {
		return nil, fmt.Errorf("segment: opening docs file: %w", err)
	}
	docsSize, err := docsIn.Size()
	if err != nil {
		docsIn.Close()
		return nil, fmt.Errorf("segment: statting docs file: %w", err)
	}
	docsBuf := make([]byte, docsSize)
	if _, err := docsIn.ReadAt(docsBuf, 0); err != nil {
		docsIn.Close()
		return nil, fmt.Errorf("segment: reading docs file: %w", err)
	}
	docsIn.Close()
	docs, err := DecodeDocs(docsBuf)
	if err != nil {
		return nil, fmt.Errorf("segment: decoding docs file: %w", err)
	}

	return &Reader{info: info, index: idx, docs: docs, data: data}, nil
}

// Info returns the segment's Info record.
func (r *Reader) Info() Info { return r.info }

// Docs returns the segment's doc membership/tombstone set.
func (r *Reader) Docs() *Docs { return r.docs }

// NewScan returns a fresh per-scan decode cache. Pass the same *Scan to
// every Lookup call within one logical query so repeated block decodes for
// the same block within that scan are served from cache.
func (r *Reader) NewScan() *Scan {
	return &Scan{reader: r, cache: make(map[int][]block.Pair)}
}

// Scan is a single query's block-decode cache over one Reader.
type Scan struct {
	reader *Reader
	cache  map[int][]block.Pair
}

// Lookup finds every docId posted under key in this segment, filtered by
// this segment's own tombstones, calling fn for each. It returns false if
// key falls outside the segment's key range entirely (no candidate block).
func (s *Scan) Lookup(key uint32, fn func(docID uint32)) (bool, error) {
	if key > s.reader.info.LastKey {
		return false, nil
	}
	blockIdx := s.reader.index.Lookup(key)
	if blockIdx < 0 {
		return false, nil
	}
	pairs, ok := s.cache[blockIdx]
	if !ok {
		buf, err := s.reader.blockBytes(blockIdx)
		if err != nil {
			return false, err
		}
		decoded, err := block.Decode(buf)
		if err != nil {
			return false, fmt.Errorf("segment %d: decoding block %d: %w", s.reader.info.ID, blockIdx, err)
		}
		pairs = decoded
		s.cache[blockIdx] = pairs
	}
	block.Lookup(pairs, key, func(docID uint32) {
		if !s.reader.docs.IsTombstoned(docID) {
			fn(docID)
		}
	})
	return true, nil
}

func (r *Reader) blockBytes(blockIdx int) ([]byte, error) {
	blockSize := int(r.index.BlockSize)
	start := blockIdx * blockSize
	end := start + blockSize
	if end > len(r.data) {
		return nil, fmt.Errorf("segment %d: block %d out of range", r.info.ID, blockIdx)
	}
	return r.data[start:end], nil
}
