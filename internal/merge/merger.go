// Package merge implements the K-way segment merger and the tiered merge
// policy that decides which segments to fold together after a flush.
package merge

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/segment"
)

// Sources must be ordered oldest to newest; sourceIndex in heapItem ties
// back to this ordering, and it's what lets MergeDocs resolve tombstone
// precedence (a tombstone in a newer segment wins).

// heapItem is one candidate pair from one source enumerator, ready to be
// popped in (key, docId, sourceIndex) order.
type heapItem struct {
	pair        block.Pair
	sourceIndex int
}

type pairHeap []heapItem

func (h pairHeap) Len() int { return len(h) }
func (h pairHeap) Less(i, j int) bool {
	if h[i].pair.Key != h[j].pair.Key {
		return h[i].pair.Key < h[j].pair.Key
	}
	if h[i].pair.DocID != h[j].pair.DocID {
		return h[i].pair.DocID < h[j].pair.DocID
	}
	return h[i].sourceIndex < h[j].sourceIndex
}
func (h pairHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pairHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *pairHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergePostings drains sources (one Enumerator per segment to merge,
// oldest first) in fully sorted order, calling emit once per distinct
// (key, docId) pair, with duplicates across sources collapsed to one call.
func MergePostings(sources []*segment.Enumerator, emit func(block.Pair) error) error {
	h := make(pairHeap, 0, len(sources))
	for i, src := range sources {
		pair, ok, err := src.Next()
		if err != nil {
			return fmt.Errorf("merge: reading source %d: %w", i, err)
		}
		if ok {
			heap.Push(&h, heapItem{pair: pair, sourceIndex: i})
		}
	}

	var lastEmitted block.Pair
	hasEmitted := false
	for h.Len() > 0 {
		top := heap.Pop(&h).(heapItem)
		if !hasEmitted || top.pair != lastEmitted {
			if err := emit(top.pair); err != nil {
				return err
			}
			lastEmitted = top.pair
			hasEmitted = true
		}
		next, ok, err := sources[top.sourceIndex].Next()
		if err != nil {
			return fmt.Errorf("merge: reading source %d: %w", top.sourceIndex, err)
		}
		if ok {
			heap.Push(&h, heapItem{pair: next, sourceIndex: top.sourceIndex})
		}
	}
	return nil
}

// MergeDocs unions the doc membership/tombstone sets of sources (oldest
// first): for each docId seen in any source, the final state is taken from
// the newest (highest-index) source that has an opinion about it.
func MergeDocs(sources []*segment.Docs) []segment.DocEntry {
	final := make(map[uint32]bool) // docId -> tombstone
	for _, docs := range sources {
		for _, e := range docs.Entries() {
			final[e.DocID] = e.Tombstone
		}
	}
	ids := make([]uint32, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]segment.DocEntry, len(ids))
	for i, id := range ids {
		out[i] = segment.DocEntry{DocID: id, Tombstone: final[id]}
	}
	return out
}
