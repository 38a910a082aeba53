// Package oplog implements the durable, ordered operation log the index
// writer stages new updates into before they're visible to readers: a
// thin, monotonic-id wrapper around the embedded key-value store in
// internal/store.
package oplog

import (
	"encoding/binary"
	"fmt"

	"github.com/acoustid-go/fpindex/internal/store"
)

// OpKind tags the variant carried by one Operation, avoiding interface
// dispatch in the hot apply path.
type OpKind uint8

const (
	OpInsertOrUpdateDocument OpKind = iota
	OpDeleteDocument
	OpSetAttribute
)

// Operation is one mutation recorded in the log.
type Operation struct {
	Kind      OpKind
	DocID     uint32   // InsertOrUpdateDocument, DeleteDocument
	Terms     []uint32 // InsertOrUpdateDocument
	AttrName  string   // SetAttribute
	AttrValue string   // SetAttribute
}

// Entry is one logged operation together with its assigned id.
type Entry struct {
	ID uint64
	Op Operation
}

// Batch is a group of operations that apply atomically w.r.t. readers.
type Batch struct {
	Ops []Operation
}

// Log is the durable op-log, backed by an ordered key-value Database. Keys
// are big-endian uint64 ids so Scan returns entries in id order.
type Log struct {
	db     store.Database
	lastID uint64
}

// Open loads db as an op-log, scanning it once to recover the highest
// assigned id.
func Open(db store.Database) (*Log, error) {
	l := &Log{db: db}
	err := db.Scan(nil, nil, func(key, _ []byte) bool {
		if len(key) == 8 {
			id := binary.BigEndian.Uint64(key)
			if id > l.lastID {
				l.lastID = id
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("oplog: recovering last id: %w", err)
	}
	return l, nil
}

// Write appends every operation in batch under freshly assigned monotonic
// ids and returns the id of the last one written. The batch is durable in
// the underlying database before Write returns.
func (l *Log) Write(batch Batch) (uint64, error) {
	if len(batch.Ops) == 0 {
		return l.lastID, nil
	}
	id := l.lastID
	for _, op := range batch.Ops {
		id++
		key := encodeKey(id)
		value, err := encodeOperation(op)
		if err != nil {
			return 0, fmt.Errorf("oplog: encoding operation %d: %w", id, err)
		}
		if err := l.db.Put(key, value); err != nil {
			return 0, fmt.Errorf("oplog: writing entry %d: %w", id, err)
		}
	}
	l.lastID = id
	return l.lastID, nil
}

// Read returns up to limit entries with id > startAfterID, in ascending id
// order, along with the highest id seen (0 if none).
func (l *Log) Read(startAfterID uint64, limit int) ([]Entry, uint64, error) {
	var entries []Entry
	var newLastID uint64
	start := encodeKey(startAfterID + 1)
	err := l.db.Scan(start, nil, func(key, value []byte) bool {
		if limit > 0 && len(entries) >= limit {
			return false
		}
		if len(key) != 8 {
			return true
		}
		id := binary.BigEndian.Uint64(key)
		op, err := decodeOperation(value)
		if err != nil {
			return true
		}
		entries = append(entries, Entry{ID: id, Op: op})
		newLastID = id
		return true
	})
	if err != nil {
		return nil, 0, fmt.Errorf("oplog: reading entries: %w", err)
	}
	return entries, newLastID, nil
}

// Truncate removes every entry with id <= uptoID, called after a commit
// whose new IndexInfo.LastOplogID covers them.
func (l *Log) Truncate(uptoID uint64) error {
	var toDelete [][]byte
	err := l.db.Scan(nil, encodeKey(uptoID+1), func(key, _ []byte) bool {
		k := make([]byte, len(key))
		copy(k, key)
		toDelete = append(toDelete, k)
		return true
	})
	if err != nil {
		return fmt.Errorf("oplog: scanning for truncation: %w", err)
	}
	for _, k := range toDelete {
		if err := l.db.Delete(k); err != nil {
			return fmt.Errorf("oplog: truncating entry: %w", err)
		}
	}
	return nil
}

// LastID returns the highest id assigned so far.
func (l *Log) LastID() uint64 { return l.lastID }

func encodeKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}
