package protocol

import (
	"context"
	"strings"
	"testing"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/index"
	"github.com/acoustid-go/fpindex/internal/merge"
	"github.com/acoustid-go/fpindex/internal/store"
)

func openTestIndex(t *testing.T) *index.Index {
	t.Helper()
	dir := store.NewRAMDirectory()
	ix, err := index.Open(dir, true, merge.DefaultPolicy(), block.DefaultSize, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestInsertSearchDeleteRoundTrip(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	ctx := context.Background()

	if resp, _ := s.Execute(ctx, "insert 1 7 9 12"); resp != "OK" {
		t.Fatalf("insert = %q, want OK", resp)
	}

	resp, _ := s.Execute(ctx, "search 7")
	if resp != "OK 1:1" {
		t.Fatalf("search = %q, want %q", resp, "OK 1:1")
	}

	if resp, _ := s.Execute(ctx, "delete 1"); resp != "OK" {
		t.Fatalf("delete = %q, want OK", resp)
	}
	resp, _ = s.Execute(ctx, "search 7")
	if resp != "OK " {
		t.Fatalf("search after delete = %q, want empty result line", resp)
	}
}

func TestSetAndGetAttribute(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	ctx := context.Background()

	if resp, _ := s.Execute(ctx, "set attrib version 3"); resp != "OK" {
		t.Fatalf("set attrib = %q, want OK", resp)
	}
	resp, _ := s.Execute(ctx, "get attrib version")
	if resp != "OK version 3" {
		t.Fatalf("get attrib = %q, want %q", resp, "OK version 3")
	}
	resp, _ = s.Execute(ctx, "get attrib missing")
	if resp != "ERR not found" {
		t.Fatalf("get missing attrib = %q, want ERR not found", resp)
	}
}

func TestSetMaxResultsAndTopScorePercent(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	ctx := context.Background()

	if resp, _ := s.Execute(ctx, "set max_results 10"); resp != "OK" {
		t.Fatalf("set max_results = %q", resp)
	}
	if resp, _ := s.Execute(ctx, "get max_results"); resp != "OK max_results 10" {
		t.Fatalf("get max_results = %q", resp)
	}
	if resp, _ := s.Execute(ctx, "set top_score_percent 50"); resp != "OK" {
		t.Fatalf("set top_score_percent = %q", resp)
	}
	if resp, _ := s.Execute(ctx, "get top_score_percent"); resp != "OK top_score_percent 50" {
		t.Fatalf("get top_score_percent = %q", resp)
	}
}

func TestQuitClosesConnection(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	resp, closeConn := s.Execute(context.Background(), "quit")
	if resp != "OK" || !closeConn {
		t.Fatalf("quit = (%q, %v), want (OK, true)", resp, closeConn)
	}
}

func TestUnknownCommand(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	resp, _ := s.Execute(context.Background(), "frobnicate")
	if !strings.HasPrefix(resp, "ERR") {
		t.Fatalf("unknown command = %q, want ERR prefix", resp)
	}
}

func TestTransactionBufferingCommitsAtomically(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	ctx := context.Background()

	if resp, _ := s.Execute(ctx, "begin"); resp != "OK" {
		t.Fatalf("begin = %q", resp)
	}
	if resp, _ := s.Execute(ctx, "insert 1 5 6"); resp != "OK" {
		t.Fatalf("buffered insert = %q", resp)
	}

	// Not yet visible: still buffered, not applied.
	present, err := ix.ContainsDocument(1)
	if err != nil {
		t.Fatalf("ContainsDocument: %v", err)
	}
	if present {
		t.Fatalf("doc 1 should not be visible before commit")
	}

	if resp, _ := s.Execute(ctx, "commit"); resp != "OK" {
		t.Fatalf("commit = %q", resp)
	}
	present, err = ix.ContainsDocument(1)
	if err != nil {
		t.Fatalf("ContainsDocument: %v", err)
	}
	if !present {
		t.Fatalf("doc 1 should be visible after commit")
	}
}

func TestTransactionRollbackDiscardsBufferedOps(t *testing.T) {
	ix := openTestIndex(t)
	s := NewSession(ix)
	ctx := context.Background()

	s.Execute(ctx, "begin")
	s.Execute(ctx, "insert 1 5 6")
	if resp, _ := s.Execute(ctx, "rollback"); resp != "OK" {
		t.Fatalf("rollback = %q", resp)
	}

	present, err := ix.ContainsDocument(1)
	if err != nil {
		t.Fatalf("ContainsDocument: %v", err)
	}
	if present {
		t.Fatalf("doc 1 should not exist after rollback")
	}

	// Rollback clears the pending transaction; commit with none open errors.
	if resp, _ := s.Execute(ctx, "commit"); resp != "ERR no transaction open" {
		t.Fatalf("commit after rollback = %q, want ERR no transaction open", resp)
	}
}
