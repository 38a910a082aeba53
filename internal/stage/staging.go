// Package stage implements the in-memory staging index: the index
// façade's buffer for updates that have been durably logged but not yet
// materialized into an on-disk segment.
package stage

import (
	"sync"

	"github.com/acoustid-go/fpindex/internal/oplog"
	"github.com/acoustid-go/fpindex/internal/segment"
)

// docEntry is one document's state as staging currently knows it, tagged
// with the id of the op-log entry that last touched it so Clear can drop
// exactly what a flush has covered.
type docEntry struct {
	terms   []uint32
	deleted bool
	oplogID uint64
}

// attrEntry is one attribute's staged value, tagged the same way as
// docEntry so a flush can tell exactly which attribute writes it has
// durably folded into the new revision.
type attrEntry struct {
	value   string
	oplogID uint64
}

// Staging is the façade's write buffer: a small map of recently-applied
// documents and attributes, searchable directly, guarded by one mutex.
type Staging struct {
	mu    sync.RWMutex
	docs  map[uint32]*docEntry
	attrs map[string]*attrEntry
}

// New returns an empty Staging index.
func New() *Staging {
	return &Staging{
		docs:  make(map[uint32]*docEntry),
		attrs: make(map[string]*attrEntry),
	}
}

// Apply folds a batch of already-logged entries into the staging map. It
// applies fully; there is no partial-batch failure mode here because the
// durability decision was already made by the op-log.
func (s *Staging) Apply(entries []oplog.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		switch e.Op.Kind {
		case oplog.OpInsertOrUpdateDocument:
			s.docs[e.Op.DocID] = &docEntry{terms: e.Op.Terms, deleted: false, oplogID: e.ID}
		case oplog.OpDeleteDocument:
			s.docs[e.Op.DocID] = &docEntry{deleted: true, oplogID: e.ID}
		case oplog.OpSetAttribute:
			s.attrs[e.Op.AttrName] = &attrEntry{value: e.Op.AttrValue, oplogID: e.ID}
		}
	}
}

// ContainsDocument reports staging's opinion of docID: present is false
// when staging has no record of it at all (the caller must consult
// segments); when present is true, deleted distinguishes a live document
// from a tombstone.
func (s *Staging) ContainsDocument(docID uint32) (present, deleted bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[docID]
	if !ok {
		return false, false
	}
	return true, e.deleted
}

// Search scans every staged, non-deleted document for overlap with terms,
// returning one Result per matching document.
func (s *Staging) Search(terms []uint32) []segment.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queried := make(map[uint32]bool, len(terms))
	for _, t := range terms {
		queried[t] = true
	}

	var results []segment.Result
	for docID, e := range s.docs {
		if e.deleted {
			continue
		}
		score := 0
		for _, t := range e.terms {
			if queried[t] {
				score++
			}
		}
		if score > 0 {
			results = append(results, segment.Result{DocID: docID, Score: score})
		}
	}
	segment.SortResults(results)
	return results
}

// GetAttribute returns an attribute's current staged value.
func (s *Staging) GetAttribute(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.attrs[name]
	if !ok {
		return "", false
	}
	return e.value, true
}

// Gather returns every live document currently staged, as unsorted
// (key, docId) postings (the caller sorts them for a segment writer), plus the doc entries
// (live and tombstoned) to write into the new segment's .docs file, plus
// every staged attribute value, and the highest oplog id among everything
// gathered (documents and attributes alike). Callers must fold attrs into
// the new revision's attribute map and use uptoOplogID as the argument to
// Clear once the new segment is committed, or a SetAttribute whose op-log
// entry gets truncated without ever reaching info_N is lost on restart.
func (s *Staging) Gather() (postings []Posting, docs []segment.DocEntry, attrs map[string]string, uptoOplogID uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for docID, e := range s.docs {
		if e.oplogID > uptoOplogID {
			uptoOplogID = e.oplogID
		}
		docs = append(docs, segment.DocEntry{DocID: docID, Tombstone: e.deleted})
		if !e.deleted {
			for _, term := range e.terms {
				postings = append(postings, Posting{Key: term, DocID: docID})
			}
		}
	}

	if len(s.attrs) > 0 {
		attrs = make(map[string]string, len(s.attrs))
		for name, e := range s.attrs {
			if e.oplogID > uptoOplogID {
				uptoOplogID = e.oplogID
			}
			attrs[name] = e.value
		}
	}
	return postings, docs, attrs, uptoOplogID
}

// Posting is one (key, docId) pair gathered from staging, pre-sort.
type Posting struct {
	Key   uint32
	DocID uint32
}

// Clear drops every staged document and attribute entry whose
// last-touching op-log id is <= uptoOplogID: those entries are now
// durably represented by the just-committed revision (the document in its
// segment, the attribute in info_N's attribute map) and no longer need to
// live in memory.
func (s *Staging) Clear(uptoOplogID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for docID, e := range s.docs {
		if e.oplogID <= uptoOplogID {
			delete(s.docs, docID)
		}
	}
	for name, e := range s.attrs {
		if e.oplogID <= uptoOplogID {
			delete(s.attrs, name)
		}
	}
}

// Len reports the number of documents currently staged, for metrics.
func (s *Staging) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
