package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/acoustid-go/fpindex/internal/store"
	"github.com/acoustid-go/fpindex/pkg/resilience"
)

// deleteRetryConfig bounds how long maybeDeleteLocked retries a single
// DeleteFile call before falling back to the pending-on-next-commit path.
// Kept short since the retry runs under d.mu.
var deleteRetryConfig = resilience.RetryConfig{
	MaxAttempts:    3,
	InitialDelay:   5 * time.Millisecond,
	MaxDelay:       50 * time.Millisecond,
	Multiplier:     2,
	JitterFraction: 0.1,
}

// Deleter ref-counts segment files across live snapshots and physically
// removes a file only once its count drops to zero and it is no longer
// referenced by the current Info. Deletion errors are retried a few times
// and, failing that, logged and retried again on the next commit; they
// never fail a commit.
type Deleter struct {
	mu       sync.Mutex
	dir      store.Directory
	log      *slog.Logger
	refCount map[string]int
	pending  map[string]bool // files whose refCount hit zero but deletion previously failed
	current  map[string]bool // files referenced by the current Info
}

// NewDeleter returns a Deleter operating on dir.
func NewDeleter(dir store.Directory, log *slog.Logger) *Deleter {
	if log == nil {
		log = slog.Default()
	}
	return &Deleter{
		dir:      dir,
		log:      log.With("component", "deleter"),
		refCount: make(map[string]int),
		pending:  make(map[string]bool),
		current:  make(map[string]bool),
	}
}

// Acquire increments the ref count for every file in names, e.g. when a
// snapshot is handed to a new reader.
func (d *Deleter) Acquire(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		d.refCount[name]++
	}
}

// Release decrements the ref count for every file in names, e.g. when a
// reader drops its snapshot, removing any file whose count reaches zero and
// that is not referenced by the current Info.
func (d *Deleter) Release(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		d.refCount[name]--
		if d.refCount[name] <= 0 {
			delete(d.refCount, name)
			d.maybeDeleteLocked(name)
		}
	}
}

// SetCurrent records the file set referenced by the newly committed Info,
// and retries deleting any previously pending file that Release already
// dropped to zero.
func (d *Deleter) SetCurrent(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = make(map[string]bool, len(names))
	for _, name := range names {
		d.current[name] = true
	}
	for name := range d.pending {
		d.maybeDeleteLocked(name)
	}
}

// maybeDeleteLocked removes name if it is unreferenced, both by count and
// by the current Info. Caller must hold d.mu.
func (d *Deleter) maybeDeleteLocked(name string) {
	if d.refCount[name] > 0 || d.current[name] {
		return
	}
	err := resilience.Retry(context.Background(), "delete-segment-file:"+name, deleteRetryConfig, func() error {
		return d.dir.DeleteFile(name)
	})
	if err != nil {
		d.log.Warn("failed to delete unreferenced segment file, will retry on next commit", "file", name, "error", err)
		d.pending[name] = true
		return
	}
	delete(d.pending, name)
}
