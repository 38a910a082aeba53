package stage

import (
	"testing"

	"github.com/acoustid-go/fpindex/internal/oplog"
)

func TestApplyAndContainsDocument(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 1, Op: oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: 1, Terms: []uint32{7, 9, 12}}},
		{ID: 2, Op: oplog.Operation{Kind: oplog.OpDeleteDocument, DocID: 2}},
	})

	present, deleted := s.ContainsDocument(1)
	if !present || deleted {
		t.Fatalf("ContainsDocument(1) = %v, %v; want true, false", present, deleted)
	}
	present, deleted = s.ContainsDocument(2)
	if !present || !deleted {
		t.Fatalf("ContainsDocument(2) = %v, %v; want true, true", present, deleted)
	}
	present, _ = s.ContainsDocument(3)
	if present {
		t.Fatalf("ContainsDocument(3) should report present=false (no opinion)")
	}
}

func TestDeleteAfterInsertShadowsSearch(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 1, Op: oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: 1, Terms: []uint32{1, 2, 3}}},
	})
	s.Apply([]oplog.Entry{
		{ID: 2, Op: oplog.Operation{Kind: oplog.OpDeleteDocument, DocID: 1}},
	})

	results := s.Search([]uint32{1})
	if len(results) != 0 {
		t.Fatalf("Search after delete = %v, want empty", results)
	}
	_, deleted := s.ContainsDocument(1)
	if !deleted {
		t.Fatalf("ContainsDocument(1) should report deleted=true")
	}
}

func TestSearchScoresByOverlapCount(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 1, Op: oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: 1, Terms: []uint32{7, 9, 12}}},
		{ID: 2, Op: oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: 2, Terms: []uint32{7}}},
	})
	results := s.Search([]uint32{7, 9})
	if len(results) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(results))
	}
	if results[0].DocID != 1 || results[0].Score != 2 {
		t.Fatalf("top result = %+v, want docId=1 score=2", results[0])
	}
}

func TestGatherAndClear(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 1, Op: oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: 1, Terms: []uint32{7, 9}}},
		{ID: 2, Op: oplog.Operation{Kind: oplog.OpDeleteDocument, DocID: 2}},
	})

	postings, docs, attrs, upto := s.Gather()
	if upto != 2 {
		t.Fatalf("Gather upto = %d, want 2", upto)
	}
	if len(postings) != 2 {
		t.Fatalf("Gather postings = %v, want 2 entries", postings)
	}
	if len(docs) != 2 {
		t.Fatalf("Gather docs = %v, want 2 entries", docs)
	}
	if len(attrs) != 0 {
		t.Fatalf("Gather attrs = %v, want none staged", attrs)
	}

	s.Clear(upto)
	if s.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", s.Len())
	}
}

func TestGatherIncludesAttributesAndClearDropsThem(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 1, Op: oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: 1, Terms: []uint32{7}}},
		{ID: 2, Op: oplog.Operation{Kind: oplog.OpSetAttribute, AttrName: "max_results", AttrValue: "500"}},
	})

	_, _, attrs, upto := s.Gather()
	if upto != 2 {
		t.Fatalf("Gather upto = %d, want 2 (must include the attribute's op-log id)", upto)
	}
	if v, ok := attrs["max_results"]; !ok || v != "500" {
		t.Fatalf("Gather attrs = %v, want max_results=500", attrs)
	}

	s.Clear(upto)
	if _, ok := s.GetAttribute("max_results"); ok {
		t.Fatalf("GetAttribute(max_results) still present after Clear covering its op-log id")
	}
}

func TestGatherAttributeOnlyBatchAdvancesUptoOplogID(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 5, Op: oplog.Operation{Kind: oplog.OpSetAttribute, AttrName: "version", AttrValue: "3"}},
	})

	postings, docs, attrs, upto := s.Gather()
	if len(postings) != 0 || len(docs) != 0 {
		t.Fatalf("Gather postings/docs = %v/%v, want none for an attribute-only batch", postings, docs)
	}
	if upto != 5 {
		t.Fatalf("Gather upto = %d, want 5", upto)
	}
	if attrs["version"] != "3" {
		t.Fatalf("Gather attrs = %v, want version=3", attrs)
	}
}

func TestAttributes(t *testing.T) {
	s := New()
	s.Apply([]oplog.Entry{
		{ID: 1, Op: oplog.Operation{Kind: oplog.OpSetAttribute, AttrName: "max_results", AttrValue: "500"}},
	})
	v, ok := s.GetAttribute("max_results")
	if !ok || v != "500" {
		t.Fatalf("GetAttribute = %q, %v; want 500, true", v, ok)
	}
	if _, ok := s.GetAttribute("missing"); ok {
		t.Fatalf("GetAttribute(missing) should report ok=false")
	}
}
