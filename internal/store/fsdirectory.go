package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// FSDirectory is a Directory backed by ordinary files in a filesystem
// directory. CreateOutput publishes atomically by writing to a ".tmp" file
// and renaming it into place on Close.
type FSDirectory struct {
	path string

	mu  sync.Mutex
	dbs map[string]*leveldbDatabase
}

// NewFSDirectory returns a Directory rooted at path. The directory is not
// created until EnsureExists is called.
func NewFSDirectory(path string) *FSDirectory {
	return &FSDirectory{path: path, dbs: make(map[string]*leveldbDatabase)}
}

func (d *FSDirectory) Exists() bool {
	info, err := os.Stat(d.path)
	return err == nil && info.IsDir()
}

func (d *FSDirectory) EnsureExists() error {
	return os.MkdirAll(d.path, 0o755)
}

func (d *FSDirectory) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing directory %s: %w", d.path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *FSDirectory) FileExists(name string) bool {
	_, err := os.Stat(filepath.Join(d.path, name))
	return err == nil
}

func (d *FSDirectory) OpenInput(name string) (InputStream, error) {
	f, err := os.Open(filepath.Join(d.path, name))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return &fsInputStream{f: f}, nil
}

func (d *FSDirectory) CreateOutput(name string) (OutputStream, error) {
	finalPath := filepath.Join(d.path, name)
	tmpPath := finalPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &fsOutputStream{f: f, tmpPath: tmpPath, finalPath: finalPath}, nil
}

func (d *FSDirectory) DeleteFile(name string) error {
	if err := os.Remove(filepath.Join(d.path, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (d *FSDirectory) OpenDatabase(name string) (Database, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.dbs[name]; ok {
		return db, nil
	}
	ldb, err := leveldb.OpenFile(filepath.Join(d.path, name), nil)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", name, err)
	}
	db := &leveldbDatabase{db: ldb}
	d.dbs[name] = db
	return db, nil
}

func (d *FSDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for name, db := range d.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.dbs, name)
	}
	return firstErr
}

type fsInputStream struct {
	f *os.File
}

func (s *fsInputStream) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fsInputStream) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *fsInputStream) Close() error {
	return s.f.Close()
}

type fsOutputStream struct {
	f         *os.File
	tmpPath   string
	finalPath string
	closed    bool
}

func (s *fsOutputStream) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fsOutputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		os.Remove(s.tmpPath)
		return fmt.Errorf("syncing %s: %w", s.tmpPath, err)
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("closing %s: %w", s.tmpPath, err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		return fmt.Errorf("publishing %s: %w", s.finalPath, err)
	}
	return nil
}
