package oplog

import (
	"testing"

	"github.com/acoustid-go/fpindex/internal/store"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	dir := store.NewRAMDirectory()
	db, err := dir.OpenDatabase("oplog")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	l, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestWriteAssignsMonotonicIDs(t *testing.T) {
	l := openTestLog(t)
	lastID, err := l.Write(Batch{Ops: []Operation{
		{Kind: OpInsertOrUpdateDocument, DocID: 1, Terms: []uint32{7, 9, 12}},
		{Kind: OpDeleteDocument, DocID: 2},
	}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lastID != 2 {
		t.Fatalf("lastID = %d, want 2", lastID)
	}

	entries, newLastID, err := l.Read(0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if newLastID != 2 || len(entries) != 2 {
		t.Fatalf("Read returned %d entries, newLastID=%d; want 2, 2", len(entries), newLastID)
	}
	if entries[0].ID != 1 || entries[0].Op.Kind != OpInsertOrUpdateDocument || entries[0].Op.DocID != 1 {
		t.Fatalf("entry 0 = %+v, want insert docId=1", entries[0])
	}
	if len(entries[0].Op.Terms) != 3 || entries[0].Op.Terms[2] != 12 {
		t.Fatalf("entry 0 terms = %v, want [7 9 12]", entries[0].Op.Terms)
	}
	if entries[1].ID != 2 || entries[1].Op.Kind != OpDeleteDocument || entries[1].Op.DocID != 2 {
		t.Fatalf("entry 1 = %+v, want delete docId=2", entries[1])
	}
}

func TestReadStartAfterAndLimit(t *testing.T) {
	l := openTestLog(t)
	ops := make([]Operation, 5)
	for i := range ops {
		ops[i] = Operation{Kind: OpDeleteDocument, DocID: uint32(i + 1)}
	}
	if _, err := l.Write(Batch{Ops: ops}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, newLastID, err := l.Read(2, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != 3 || entries[1].ID != 4 {
		t.Fatalf("Read(2, limit=2) = %+v, want ids [3 4]", entries)
	}
	if newLastID != 4 {
		t.Fatalf("newLastID = %d, want 4", newLastID)
	}
}

func TestTruncateRemovesCoveredEntries(t *testing.T) {
	l := openTestLog(t)
	ops := make([]Operation, 3)
	for i := range ops {
		ops[i] = Operation{Kind: OpDeleteDocument, DocID: uint32(i + 1)}
	}
	if _, err := l.Write(Batch{Ops: ops}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Truncate(2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	entries, _, err := l.Read(0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 3 {
		t.Fatalf("Read after truncate = %+v, want only id 3", entries)
	}
}

func TestSetAttributeRoundTrip(t *testing.T) {
	l := openTestLog(t)
	if _, err := l.Write(Batch{Ops: []Operation{
		{Kind: OpSetAttribute, AttrName: "max_results", AttrValue: "500"},
	}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, _, err := l.Read(0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].Op.AttrName != "max_results" || entries[0].Op.AttrValue != "500" {
		t.Fatalf("entry = %+v, want SetAttribute max_results=500", entries[0])
	}
}

func TestOpenRecoversLastID(t *testing.T) {
	dir := store.NewRAMDirectory()
	db, _ := dir.OpenDatabase("oplog")
	l, _ := Open(db)
	if _, err := l.Write(Batch{Ops: []Operation{{Kind: OpDeleteDocument, DocID: 1}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reopened, err := Open(db)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	if reopened.LastID() != 1 {
		t.Fatalf("reopened LastID() = %d, want 1", reopened.LastID())
	}
}
