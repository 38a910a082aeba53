package store

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldbDatabase implements Database on top of goleveldb, the embedded
// ordered key-value store backing the op-log (spec.md §6).
type leveldbDatabase struct {
	db *leveldb.DB
}

func (d *leveldbDatabase) Get(key []byte) ([]byte, error) {
	value, err := d.db.Get(key, nil)
	if err != nil {
		if err == errors.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting key: %w", err)
	}
	return value, nil
}

func (d *leveldbDatabase) Put(key, value []byte) error {
	if err := d.db.Put(key, value, nil); err != nil {
		return fmt.Errorf("putting key: %w", err)
	}
	return nil
}

func (d *leveldbDatabase) Delete(key []byte) error {
	if err := d.db.Delete(key, nil); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

func (d *leveldbDatabase) Scan(start, end []byte, fn func(key, value []byte) bool) error {
	rng := &util.Range{Start: start, Limit: end}
	iter := d.db.NewIterator(rng, nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scanning: %w", err)
	}
	return nil
}

func (d *leveldbDatabase) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// ramDatabase is an in-memory Database used by RAMDirectory, for tests and
// for short-lived staging scenarios that don't need durability.
type ramDatabase struct {
	mu     sync.RWMutex
	values map[string][]byte
	keys   []string // kept sorted
}

func newRAMDatabase() *ramDatabase {
	return &ramDatabase{values: make(map[string][]byte)}
}

func (d *ramDatabase) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (d *ramDatabase) Put(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := string(key)
	if _, exists := d.values[k]; !exists {
		i := sort.SearchStrings(d.keys, k)
		d.keys = append(d.keys, "")
		copy(d.keys[i+1:], d.keys[i:])
		d.keys[i] = k
	}
	v := make([]byte, len(value))
	copy(v, value)
	d.values[k] = v
	return nil
}

func (d *ramDatabase) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := string(key)
	if _, exists := d.values[k]; !exists {
		return nil
	}
	delete(d.values, k)
	i := sort.SearchStrings(d.keys, k)
	if i < len(d.keys) && d.keys[i] == k {
		d.keys = append(d.keys[:i], d.keys[i+1:]...)
	}
	return nil
}

func (d *ramDatabase) Scan(start, end []byte, fn func(key, value []byte) bool) error {
	d.mu.RLock()
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	d.mu.RUnlock()

	for _, k := range keys {
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if end != nil && bytes.Compare([]byte(k), end) >= 0 {
			break
		}
		d.mu.RLock()
		v, ok := d.values[k]
		d.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn([]byte(k), v) {
			break
		}
	}
	return nil
}

func (d *ramDatabase) Close() error {
	return nil
}
