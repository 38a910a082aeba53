// Package store implements the Directory abstraction: the single I/O
// boundary the index core depends on. A Directory is a named collection of
// byte-stream files with atomic publication, plus an embedded ordered
// key-value database used by the op-log.
package store

import "io"

// InputStream is a random-access byte source.
type InputStream interface {
	io.ReaderAt
	// Size returns the total number of bytes in the stream.
	Size() (int64, error)
	Close() error
}

// OutputStream is a sequential byte sink. Data written is only guaranteed to
// be visible under its final name once Close returns without error; a
// Directory backend implements this with a temp-file-then-rename pattern.
type OutputStream interface {
	io.Writer
	Close() error
}

// Database is the small embedded ordered key-value store used by the op-log
// (spec.md §6, §4.8). Keys are compared lexicographically; Scan returns
// entries in ascending key order.
type Database interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Scan invokes fn for every key in [start, end) in ascending order,
	// stopping early if fn returns false. A nil end scans to the end of
	// the keyspace.
	Scan(start, end []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Directory is the capability set the index core requires of its storage
// backend. Filesystem (FSDirectory) and in-memory (RAMDirectory) variants
// implement it.
type Directory interface {
	Exists() bool
	EnsureExists() error
	ListFiles() ([]string, error)
	FileExists(name string) bool
	OpenInput(name string) (InputStream, error)
	CreateOutput(name string) (OutputStream, error)
	DeleteFile(name string) error
	OpenDatabase(name string) (Database, error)
	Close() error
}
