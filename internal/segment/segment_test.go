package segment

import (
	"context"
	"errors"
	"testing"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/store"
	apperrors "github.com/acoustid-go/fpindex/pkg/errors"
)

func writeTestSegment(t *testing.T, dir store.Directory, id uint64, pairs []block.Pair, docs []DocEntry, blockSize int) Info {
	t.Helper()
	w := NewWriter(dir, blockSize)
	info, err := w.Write(id, pairs, docs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return info
}

func TestWriteAndOpenRoundTrip(t *testing.T) {
	dir := store.NewRAMDirectory()
	pairs := []block.Pair{
		{Key: 7, DocID: 1},
		{Key: 9, DocID: 1},
		{Key: 12, DocID: 1},
	}
	docs := []DocEntry{{DocID: 1, Tombstone: false}}
	info := writeTestSegment(t, dir, 1, pairs, docs, block.DefaultSize)

	if info.BlockCount != 1 {
		t.Fatalf("BlockCount = %d, want 1", info.BlockCount)
	}
	if info.LastKey != 12 {
		t.Fatalf("LastKey = %d, want 12", info.LastKey)
	}

	r, err := Open(dir, info)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	scan := r.NewScan()
	var hits []uint32
	found, err := scan.Lookup(9, func(docID uint32) { hits = append(hits, docID) })
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found || len(hits) != 1 || hits[0] != 1 {
		t.Fatalf("Lookup(9) = found=%v hits=%v, want found=true hits=[1]", found, hits)
	}

	found, err = scan.Lookup(999, func(uint32) {})
	if err != nil {
		t.Fatalf("Lookup(999): %v", err)
	}
	if found {
		t.Fatalf("Lookup(999) unexpectedly found a candidate block")
	}
}

func TestOpenRejectsCorruptData(t *testing.T) {
	dir := store.NewRAMDirectory()
	pairs := []block.Pair{{Key: 1, DocID: 1}}
	info := writeTestSegment(t, dir, 1, pairs, []DocEntry{{DocID: 1}}, block.DefaultSize)

	raw, err := dir.OpenInput(info.DataFileName())
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	size, _ := raw.Size()
	buf := make([]byte, size)
	raw.ReadAt(buf, 0)
	raw.Close()
	buf[len(buf)/2] ^= 0xFF

	out, err := dir.CreateOutput(info.DataFileName())
	if err != nil {
		t.Fatalf("CreateOutput: %v", err)
	}
	out.Write(buf)
	out.Close()

	_, err = Open(dir, info)
	if !errors.Is(err, apperrors.ErrCorrupt) {
		t.Fatalf("Open(corrupted) err = %v, want ErrCorrupt", err)
	}
}

func TestTombstoneFiltersSearchHit(t *testing.T) {
	dir := store.NewRAMDirectory()
	pairs := []block.Pair{{Key: 5, DocID: 1}, {Key: 5, DocID: 2}}
	docs := []DocEntry{{DocID: 1, Tombstone: true}, {DocID: 2, Tombstone: false}}
	info := writeTestSegment(t, dir, 1, pairs, docs, block.DefaultSize)

	r, err := Open(dir, info)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	scan := r.NewScan()
	var hits []uint32
	if _, err := scan.Lookup(5, func(docID uint32) { hits = append(hits, docID) }); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(hits) != 1 || hits[0] != 2 {
		t.Fatalf("Lookup(5) = %v, want [2] (doc 1 tombstoned)", hits)
	}
}

func TestSearchAcrossManySegments(t *testing.T) {
	dir := store.NewRAMDirectory()
	var readers []*Reader
	for id := uint64(1); id <= 3; id++ {
		pairs := []block.Pair{
			{Key: 7, DocID: uint32(id)},
			{Key: 9, DocID: uint32(id)},
		}
		docs := []DocEntry{{DocID: uint32(id), Tombstone: false}}
		info := writeTestSegment(t, dir, id, pairs, docs, block.DefaultSize)
		r, err := Open(dir, info)
		if err != nil {
			t.Fatalf("Open segment %d: %v", id, err)
		}
		readers = append(readers, r)
	}

	results, err := Search(context.Background(), readers, []uint32{7, 9})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search returned %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Score != 2 {
			t.Fatalf("doc %d score = %d, want 2", r.DocID, r.Score)
		}
	}
}

func TestApplyTopScorePercentAndCap(t *testing.T) {
	results := []Result{
		{DocID: 1, Score: 10},
		{DocID: 2, Score: 6},
		{DocID: 3, Score: 4},
	}
	SortResults(results)
	filtered := ApplyTopScorePercent(results, 50, 0)
	if len(filtered) != 2 {
		t.Fatalf("ApplyTopScorePercent(50) kept %d results, want 2 (scores >= 5)", len(filtered))
	}

	capped := ApplyTopScorePercent(results, 0, 1)
	if len(capped) != 1 || capped[0].DocID != 1 {
		t.Fatalf("ApplyTopScorePercent cap = %v, want [{1 10}]", capped)
	}
}

func TestIndexLookupMultiLevel(t *testing.T) {
	firstKeys := make([]uint32, 200)
	for i := range firstKeys {
		firstKeys[i] = uint32(i * 10)
	}
	idx := NewIndex(block.DefaultSize, firstKeys)

	if got := idx.Lookup(25); got != 2 {
		t.Fatalf("Lookup(25) = %d, want 2", got)
	}
	if got := idx.Lookup(0); got != 0 {
		t.Fatalf("Lookup(0) = %d, want 0", got)
	}
	if got := idx.Lookup(1995); got != 199 {
		t.Fatalf("Lookup(1995) = %d, want 199", got)
	}

	encoded := idx.Encode()
	decoded, err := DecodeIndex(encoded)
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if decoded.Lookup(25) != 2 {
		t.Fatalf("decoded Lookup(25) = %d, want 2", decoded.Lookup(25))
	}
}
