package indexconsumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/acoustid-go/fpindex/internal/ingest"
	"github.com/acoustid-go/fpindex/internal/oplog"
)

type fakeApplier struct {
	batches []oplog.Batch
	err     error
}

func (f *fakeApplier) ApplyUpdates(batch oplog.Batch) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func TestHandleMessageAppliesInsertAndDelete(t *testing.T) {
	fake := &fakeApplier{}
	handler := HandleMessage(fake)

	event := ingest.BatchEvent{Ops: []ingest.OpRequest{
		{Kind: "insert", DocID: 1, Terms: []uint32{7, 9}},
		{Kind: "delete", DocID: 2},
		{Kind: "set_attribute", AttrName: "k", AttrValue: "v"},
	}}
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := handler(context.Background(), []byte("1"), value); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(fake.batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(fake.batches))
	}
	got := fake.batches[0].Ops
	if len(got) != 3 {
		t.Fatalf("got %d ops, want 3", len(got))
	}
	if got[0].Kind != oplog.OpInsertOrUpdateDocument || got[0].DocID != 1 {
		t.Fatalf("op[0] = %+v, want insert doc 1", got[0])
	}
	if got[1].Kind != oplog.OpDeleteDocument || got[1].DocID != 2 {
		t.Fatalf("op[1] = %+v, want delete doc 2", got[1])
	}
	if got[2].Kind != oplog.OpSetAttribute || got[2].AttrName != "k" || got[2].AttrValue != "v" {
		t.Fatalf("op[2] = %+v, want set_attribute k=v", got[2])
	}
}

func TestHandleMessageSkipsUndecodableMessage(t *testing.T) {
	fake := &fakeApplier{}
	handler := HandleMessage(fake)
	if err := handler(context.Background(), []byte("1"), []byte("not json")); err != nil {
		t.Fatalf("handler should swallow decode errors, got %v", err)
	}
	if len(fake.batches) != 0 {
		t.Fatalf("expected no batches applied, got %d", len(fake.batches))
	}
}

func TestHandleMessageUnknownKindIsSkipped(t *testing.T) {
	fake := &fakeApplier{}
	handler := HandleMessage(fake)
	event := ingest.BatchEvent{Ops: []ingest.OpRequest{{Kind: "bogus"}}}
	value, _ := json.Marshal(event)
	if err := handler(context.Background(), []byte("1"), value); err != nil {
		t.Fatalf("handler should swallow translation errors, got %v", err)
	}
	if len(fake.batches) != 0 {
		t.Fatalf("expected no batches applied, got %d", len(fake.batches))
	}
}
