// Package protocol implements the line-oriented, CRLF-terminated ASCII TCP
// command protocol that fronts the index façade, grounded in the original
// acoustid-server connection handler: one command per line, answered with
// an "OK ..." or "ERR ..." line.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/acoustid-go/fpindex/internal/index"
	"github.com/acoustid-go/fpindex/internal/oplog"
	"github.com/acoustid-go/fpindex/internal/segment"
)

const (
	defaultMaxResults      = 500
	defaultTopScorePercent = 10
)

// Session holds the per-connection state a command stream can mutate:
// the result-limit knobs and an optional buffered transaction.
type Session struct {
	idx             *index.Index
	logger          *slog.Logger
	maxResults      int
	topScorePercent int
	pendingBatch    *oplog.Batch // non-nil while inside begin/commit/rollback
	onKill          func()       // invoked by the "kill" command, if set
}

// NewSession creates a Session bound to idx with protocol defaults.
func NewSession(idx *index.Index) *Session {
	return &Session{
		idx:             idx,
		logger:          slog.Default().With("component", "protocol-session"),
		maxResults:      defaultMaxResults,
		topScorePercent: defaultTopScorePercent,
	}
}

// OnKill registers the callback the "kill" command invokes to stop the
// listener accepting new connections.
func (s *Session) OnKill(fn func()) {
	s.onKill = fn
}

// Execute runs one command line and returns the response line (without the
// trailing CRLF) and whether the connection should be closed afterward.
func (s *Session) Execute(ctx context.Context, line string) (response string, closeConn bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR missing command", false
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "quit":
		return "OK", true
	case "kill":
		if s.onKill != nil {
			s.onKill()
		}
		return "OK", true
	case "echo":
		return "OK " + strings.Join(args, " "), false
	case "set":
		return s.handleSet(ctx, args), false
	case "get":
		return s.handleGet(ctx, args), false
	case "search":
		return s.handleSearch(ctx, args), false
	case "insert":
		return s.handleInsert(args), false
	case "delete":
		return s.handleDelete(args), false
	case "cleanup", "optimize":
		return s.handleFlush(), false
	case "begin":
		return s.handleBegin(), false
	case "commit":
		return s.handleCommit(), false
	case "rollback":
		return s.handleRollback(), false
	default:
		return "ERR unknown command", false
	}
}

func (s *Session) handleSet(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "ERR expected 2 arguments"
	}
	switch args[0] {
	case "max_results":
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "ERR invalid integer"
		}
		s.maxResults = n
		return "OK"
	case "top_score_percent":
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "ERR invalid integer"
		}
		s.topScorePercent = n
		return "OK"
	case "attrib", "attribute":
		if len(args) < 3 {
			return "ERR expected 3 arguments"
		}
		op := oplog.Operation{Kind: oplog.OpSetAttribute, AttrName: args[1], AttrValue: args[2]}
		if err := s.apply(op); err != nil {
			return "ERR " + err.Error()
		}
		return "OK"
	default:
		return "ERR unknown parameter"
	}
}

func (s *Session) handleGet(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "ERR expected 1 argument"
	}
	switch args[0] {
	case "max_results":
		return fmt.Sprintf("OK %s %d", args[0], s.maxResults)
	case "top_score_percent":
		return fmt.Sprintf("OK %s %d", args[0], s.topScorePercent)
	case "attrib", "attribute":
		if len(args) < 2 {
			return "ERR expected 2 arguments"
		}
		value, ok := s.idx.GetAttribute(args[1])
		if !ok {
			return "ERR not found"
		}
		return fmt.Sprintf("OK %s %s", args[1], value)
	default:
		return "ERR unknown parameter"
	}
}

func (s *Session) handleSearch(ctx context.Context, args []string) string {
	terms, err := parseTerms(args)
	if err != nil {
		return "ERR " + err.Error()
	}
	results, err := s.idx.Search(ctx, terms, s.maxResults, s.topScorePercent)
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK " + formatResults(results)
}

func (s *Session) handleInsert(args []string) string {
	if len(args) < 1 {
		return "ERR expected at least 1 argument"
	}
	docID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return "ERR invalid document id"
	}
	terms, err := parseTerms(args[1:])
	if err != nil {
		return "ERR " + err.Error()
	}
	if len(terms) == 0 {
		return "ERR expected at least one term"
	}
	op := oplog.Operation{Kind: oplog.OpInsertOrUpdateDocument, DocID: uint32(docID), Terms: terms}
	if err := s.apply(op); err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}

func (s *Session) handleDelete(args []string) string {
	if len(args) != 1 {
		return "ERR expected 1 argument"
	}
	docID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return "ERR invalid document id"
	}
	op := oplog.Operation{Kind: oplog.OpDeleteDocument, DocID: uint32(docID)}
	if err := s.apply(op); err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}

func (s *Session) handleFlush() string {
	if err := s.idx.FlushSync(); err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}

func (s *Session) handleBegin() string {
	if s.pendingBatch != nil {
		return "ERR transaction already open"
	}
	s.pendingBatch = &oplog.Batch{}
	return "OK"
}

func (s *Session) handleCommit() string {
	if s.pendingBatch == nil {
		return "ERR no transaction open"
	}
	batch := *s.pendingBatch
	s.pendingBatch = nil
	if len(batch.Ops) == 0 {
		return "OK"
	}
	if err := s.idx.ApplyUpdates(batch); err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}

func (s *Session) handleRollback() string {
	if s.pendingBatch == nil {
		return "ERR no transaction open"
	}
	s.pendingBatch = nil
	return "OK"
}

// apply buffers op into the open transaction, or applies it immediately
// as a single-operation batch when no transaction is open.
func (s *Session) apply(op oplog.Operation) error {
	if s.pendingBatch != nil {
		s.pendingBatch.Ops = append(s.pendingBatch.Ops, op)
		return nil
	}
	return s.idx.ApplyUpdates(oplog.Batch{Ops: []oplog.Operation{op}})
}

func parseTerms(args []string) ([]uint32, error) {
	terms := make([]uint32, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid term %q", a)
		}
		terms = append(terms, uint32(n))
	}
	return terms, nil
}

func formatResults(results []segment.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%d:%d", r.DocID, r.Score)
	}
	return strings.Join(parts, " ")
}
