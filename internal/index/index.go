package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/merge"
	"github.com/acoustid-go/fpindex/internal/oplog"
	"github.com/acoustid-go/fpindex/internal/segment"
	"github.com/acoustid-go/fpindex/internal/stage"
	"github.com/acoustid-go/fpindex/internal/store"
	apperrors "github.com/acoustid-go/fpindex/pkg/errors"
	"github.com/acoustid-go/fpindex/pkg/resilience"
	"github.com/acoustid-go/fpindex/pkg/tracing"
)

const oplogDatabaseName = "oplog"

// Index is the façade: the open/close lifecycle, the writer/reader gate,
// and the search/apply entry points tying the op-log, staging index and
// on-disk segments together.
type Index struct {
	dir       store.Directory
	db        store.Database
	log       *slog.Logger
	policy    merge.Policy
	blockSize int

	mu   sync.Mutex
	info Info

	segReaders map[uint64]*segment.Reader
	deleter    *Deleter

	oplog   *oplog.Log
	staging *stage.Staging

	nextSegmentID atomic.Uint64

	writerCh    chan struct{}
	flushSignal chan struct{}
	closeCh     chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	wg          sync.WaitGroup

	onRevisionCommitted func(revision uint64, segmentIDs []uint64, docCount int)

	traceSeq       atomic.Uint64
	tracingEnabled atomic.Bool
	searchTimeout  atomic.Int64 // nanoseconds; 0 disables the deadline wrapper
}

// SetTracingEnabled turns span logging for ApplyUpdates/Search on or off.
// Spans are always created and timed; this only controls whether the
// finished span tree is written to the log.
func (ix *Index) SetTracingEnabled(enabled bool) {
	ix.tracingEnabled.Store(enabled)
}

// SetSearchTimeout bounds how long Search may spend walking segments
// before it gives up and returns whatever results it already has. Zero
// disables the deadline.
func (ix *Index) SetSearchTimeout(timeout time.Duration) {
	ix.searchTimeout.Store(int64(timeout))
}

// startSpan starts a child span if ctx already carries one, otherwise a
// fresh root span tagged with a locally unique trace id.
func (ix *Index) startSpan(ctx context.Context, name string) (context.Context, *tracing.Span) {
	if tracing.SpanFromContext(ctx) != nil {
		return tracing.StartChildSpan(ctx, name)
	}
	traceID := fmt.Sprintf("%s-%d", name, ix.traceSeq.Add(1))
	return tracing.StartSpan(ctx, name, traceID)
}

func (ix *Index) endSpan(span *tracing.Span) {
	span.End()
	if ix.tracingEnabled.Load() {
		span.Log()
	}
}

// OnRevisionCommitted registers a callback invoked after each successful
// flush, once the new revision is durable. It is not called for the
// initial empty revision created by Open. Intended for an external audit
// log; the index's own durability never depends on it running.
func (ix *Index) OnRevisionCommitted(fn func(revision uint64, segmentIDs []uint64, docCount int)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.onRevisionCommitted = fn
}

// Open loads (or, if create, initializes) the index rooted at dir. Any
// op-log entries not yet covered by the loaded revision are replayed into
// staging.
func Open(dir store.Directory, create bool, policy merge.Policy, blockSize int, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "index")

	if !dir.Exists() {
		if !create {
			return nil, apperrors.New(apperrors.ErrNotFound, 0, "index directory does not exist")
		}
		if err := dir.EnsureExists(); err != nil {
			return nil, fmt.Errorf("index: creating directory: %w", err)
		}
	}

	info, found, err := LoadInfo(dir)
	if err != nil {
		return nil, fmt.Errorf("index: loading info: %w", err)
	}
	if !found {
		if !create {
			return nil, apperrors.New(apperrors.ErrNotFound, 0, "no committed index revision found")
		}
		info = Info{Revision: 0, Attributes: map[string]string{}}
		if err := Save(dir, info); err != nil {
			return nil, fmt.Errorf("index: writing initial revision: %w", err)
		}
	}

	db, err := dir.OpenDatabase(oplogDatabaseName)
	if err != nil {
		return nil, fmt.Errorf("index: opening op-log database: %w", err)
	}
	opLog, err := oplog.Open(db)
	if err != nil {
		return nil, fmt.Errorf("index: opening op-log: %w", err)
	}

	ix := &Index{
		dir:         dir,
		db:          db,
		log:         log,
		policy:      policy,
		blockSize:   blockSize,
		info:        info,
		segReaders:  make(map[uint64]*segment.Reader),
		deleter:     NewDeleter(dir, log),
		oplog:       opLog,
		staging:     stage.New(),
		writerCh:    make(chan struct{}, 1),
		flushSignal: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	ix.writerCh <- struct{}{}

	var maxSegID uint64
	var currentFiles []string
	for _, s := range info.Segments {
		r, err := segment.Open(dir, s)
		if err != nil {
			return nil, fmt.Errorf("index: opening segment %d: %w", s.ID, err)
		}
		ix.segReaders[s.ID] = r
		currentFiles = append(currentFiles, s.FileNames()...)
		if s.ID > maxSegID {
			maxSegID = s.ID
		}
	}
	ix.nextSegmentID.Store(maxSegID + 1)
	ix.deleter.SetCurrent(currentFiles)

	entries, _, err := ix.oplog.Read(info.LastOplogID, 0)
	if err != nil {
		return nil, fmt.Errorf("index: replaying op-log: %w", err)
	}
	ix.staging.Apply(entries)

	ix.wg.Add(1)
	go ix.backgroundFlushLoop()

	return ix, nil
}

// Close waits for any in-flight writer to finish and stops admitting new
// writer acquisitions.
func (ix *Index) Close() error {
	ix.closeOnce.Do(func() {
		ix.closed.Store(true)
		close(ix.closeCh)
	})
	ix.wg.Wait()
	return nil
}

func (ix *Index) backgroundFlushLoop() {
	defer ix.wg.Done()
	for {
		select {
		case <-ix.flushSignal:
			ix.tryAutoFlush()
		case <-ix.closeCh:
			return
		}
	}
}

func (ix *Index) tryAutoFlush() {
	select {
	case <-ix.writerCh:
	default:
		return
	}
	defer func() { ix.writerCh <- struct{}{} }()

	if err := ix.flush(); err != nil {
		ix.log.Error("background flush failed", "error", err)
	}
}

func (ix *Index) signalFlush() {
	select {
	case ix.flushSignal <- struct{}{}:
	default:
	}
}

// snapshot is an immutable, ref-counted view of one Info revision's opened
// segments.
type snapshot struct {
	info    Info
	readers []*segment.Reader
}

func (ix *Index) currentSnapshotLocked() snapshot {
	readers := make([]*segment.Reader, 0, len(ix.info.Segments))
	for _, s := range ix.info.Segments {
		if r, ok := ix.segReaders[s.ID]; ok {
			readers = append(readers, r)
		}
	}
	return snapshot{info: ix.info, readers: readers}
}

// Reader is a snapshot-bound view usable to search or check membership
// without the results shifting mid-use as new revisions commit.
type Reader struct {
	idx  *Index
	snap snapshot
}

// OpenReader returns a Reader bound to the current revision. The
// underlying segment files are kept alive (the deleter won't remove them)
// until Close is called.
func (ix *Index) OpenReader() (*Reader, error) {
	if ix.closed.Load() {
		return nil, apperrors.New(apperrors.ErrNotOpen, 0, "index is closed")
	}
	ix.mu.Lock()
	snap := ix.currentSnapshotLocked()
	ix.mu.Unlock()
	ix.deleter.Acquire(fileNames(snap.info.Segments))
	return &Reader{idx: ix, snap: snap}, nil
}

// Close releases this reader's hold on its snapshot's segment files.
func (r *Reader) Close() error {
	r.idx.deleter.Release(fileNames(r.snap.info.Segments))
	return nil
}

// Search scans this reader's segments only (no staging).
func (r *Reader) Search(ctx context.Context, terms []uint32) ([]segment.Result, error) {
	return segment.Search(ctx, r.snap.readers, terms)
}

// isTombstonedInSnapshot reports whether any segment in the snapshot
// records docID as tombstoned, independent of which segment holds its
// postings — a document's delete may commit to a different (newer)
// segment than the one holding its original postings, before a merge
// reunites them.
func (r *Reader) isTombstonedInSnapshot(docID uint32) bool {
	for _, seg := range r.snap.readers {
		if seg.Docs().IsTombstoned(docID) {
			return true
		}
	}
	return false
}

func fileNames(segs []segment.Info) []string {
	var names []string
	for _, s := range segs {
		names = append(names, s.FileNames()...)
	}
	return names
}

// Writer is an acquired exclusive writer token. Release (Close) must be
// called exactly once.
type Writer struct {
	idx      *Index
	released bool
}

// OpenWriter acquires the exclusive writer. If wait is false, it fails
// immediately with ErrLocked when the writer is held; if wait is true, it
// blocks up to timeout (0 meaning no timeout) before failing ErrTimedOut.
func (ix *Index) OpenWriter(wait bool, timeout time.Duration) (*Writer, error) {
	if ix.closed.Load() {
		return nil, apperrors.New(apperrors.ErrNotOpen, 0, "index is closed")
	}
	if !wait {
		select {
		case <-ix.writerCh:
			return &Writer{idx: ix}, nil
		case <-ix.closeCh:
			return nil, apperrors.New(apperrors.ErrNotOpen, 0, "index is closing")
		default:
			return nil, apperrors.New(apperrors.ErrLocked, 0, "writer already held")
		}
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-ix.writerCh:
		return &Writer{idx: ix}, nil
	case <-timeoutCh:
		return nil, apperrors.New(apperrors.ErrTimedOut, 0, "timed out waiting for writer")
	case <-ix.closeCh:
		return nil, apperrors.New(apperrors.ErrNotOpen, 0, "index is closing")
	}
}

// Close releases the writer token.
func (w *Writer) Close() error {
	if w.released {
		return nil
	}
	w.released = true
	w.idx.writerCh <- struct{}{}
	return nil
}

// Commit runs the writer's full materialization sequence: gather staged
// postings, write a new segment, apply the merge policy, and install a new
// revision.
func (w *Writer) Commit() error {
	return w.idx.flush()
}

// FlushSync acquires the writer, runs one commit cycle synchronously, and
// releases it. Useful for tests and for a scheduler that wants a
// deterministic flush point rather than relying on the background trigger.
func (ix *Index) FlushSync() error {
	w, err := ix.OpenWriter(true, 0)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Commit()
}

// ApplyUpdates appends batch to the op-log (durable before return), then
// applies it to staging. Segment materialization is triggered
// asynchronously.
func (ix *Index) ApplyUpdates(batch oplog.Batch) error {
	_, span := ix.startSpan(context.Background(), "index.ApplyUpdates")
	span.SetAttr("op_count", len(batch.Ops))
	defer ix.endSpan(span)

	if ix.closed.Load() {
		return apperrors.New(apperrors.ErrNotOpen, 0, "index is closed")
	}
	if len(batch.Ops) == 0 {
		return nil
	}
	for _, op := range batch.Ops {
		if op.Kind == oplog.OpInsertOrUpdateDocument && len(op.Terms) == 0 {
			return apperrors.New(apperrors.ErrInvalidOperation, 0, "insert requires a non-empty term set")
		}
	}

	lastID, err := ix.oplog.Write(batch)
	if err != nil {
		return apperrors.New(apperrors.ErrIO, 0, fmt.Sprintf("op-log write failed: %v", err))
	}

	startID := lastID - uint64(len(batch.Ops)) + 1
	entries := make([]oplog.Entry, len(batch.Ops))
	for i, op := range batch.Ops {
		entries[i] = oplog.Entry{ID: startID + uint64(i), Op: op}
	}
	ix.staging.Apply(entries)
	ix.signalFlush()
	return nil
}

// Search queries staging first, then the current segment snapshot, merges
// and dedupes the two, applies the top-score-percent cutoff, and caps the
// result count. It respects ctx's deadline, returning whatever results are
// available if it elapses mid-scan rather than failing.
func (ix *Index) Search(ctx context.Context, terms []uint32, maxResults, topScorePercent int) ([]segment.Result, error) {
	ctx, span := ix.startSpan(ctx, "index.Search")
	span.SetAttr("term_count", len(terms))
	span.SetAttr("max_results", maxResults)
	defer ix.endSpan(span)

	if ix.closed.Load() {
		return nil, apperrors.New(apperrors.ErrNotOpen, 0, "index is closed")
	}
	sortedTerms := uniqueSorted(terms)

	stagingResults := ix.staging.Search(sortedTerms)

	reader, err := ix.OpenReader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var segResults []segment.Result
	timeout := time.Duration(ix.searchTimeout.Load())
	err = resilience.WithTimeout(ctx, timeout, "index.Search.segments", func(innerCtx context.Context) error {
		var searchErr error
		segResults, searchErr = reader.Search(innerCtx, sortedTerms)
		return searchErr
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	merged := make([]segment.Result, 0, len(stagingResults)+len(segResults))
	merged = append(merged, stagingResults...)
	for _, r := range segResults {
		if present, _ := ix.staging.ContainsDocument(r.DocID); present {
			continue // staging has the authoritative, more recent state
		}
		if reader.isTombstonedInSnapshot(r.DocID) {
			continue
		}
		merged = append(merged, r)
	}

	segment.SortResults(merged)
	merged = segment.ApplyTopScorePercent(merged, topScorePercent, maxResults)
	return merged, nil
}

// ContainsDocument reports whether docID is currently live, checking
// staging first and falling back to the segment snapshot.
func (ix *Index) ContainsDocument(docID uint32) (bool, error) {
	if present, deleted := ix.staging.ContainsDocument(docID); present {
		return !deleted, nil
	}
	reader, err := ix.OpenReader()
	if err != nil {
		return false, err
	}
	defer reader.Close()

	if reader.isTombstonedInSnapshot(docID) {
		return false, nil
	}
	for _, r := range reader.snap.readers {
		if r.Docs().Contains(docID) {
			return true, nil
		}
	}
	return false, nil
}

// GetAttribute returns an attribute's value, checking staging first.
func (ix *Index) GetAttribute(name string) (string, bool) {
	if v, ok := ix.staging.GetAttribute(name); ok {
		return v, true
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	v, ok := ix.info.Attributes[name]
	return v, ok
}

func uniqueSorted(terms []uint32) []uint32 {
	seen := make(map[uint32]bool, len(terms))
	out := make([]uint32, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// flush runs the full writer commit sequence. Callers must hold the writer
// token.
func (ix *Index) flush() error {
	postings, docs, attrs, uptoOplogID := ix.staging.Gather()
	if len(postings) == 0 && len(docs) == 0 && len(attrs) == 0 {
		return nil
	}

	ix.mu.Lock()
	segments := append([]segment.Info(nil), ix.info.Segments...)
	readers := make(map[uint64]*segment.Reader, len(ix.segReaders))
	for id, r := range ix.segReaders {
		readers[id] = r
	}
	ix.mu.Unlock()

	newReaders := make(map[uint64]*segment.Reader)

	// A batch that only touches attributes (no doc inserts or deletes)
	// has nothing to segment-write; skip straight to saving the new
	// revision so the attribute change still gets a durable home.
	if len(postings) > 0 || len(docs) > 0 {
		pairs := dedupePostings(postings)
		newSegmentID := ix.nextSegmentID.Add(1) - 1
		w := segment.NewWriter(ix.dir, ix.blockSize)

		// Even a pure-delete batch (no new postings) still needs a durable
		// home for its tombstones, since the segment(s) already holding those
		// docs' postings are immutable; a postings-empty segment carries them
		// until a merge reunites them with their owning segment.
		info, err := w.Write(newSegmentID, pairs, docs)
		if err != nil {
			return fmt.Errorf("index: writing segment: %w", err)
		}
		r, err := segment.Open(ix.dir, info)
		if err != nil {
			return fmt.Errorf("index: opening freshly written segment: %w", err)
		}
		segments = append(segments, info)
		newReaders[info.ID] = r

		candidates := make([]merge.Candidate, 0, len(segments))
		for _, s := range segments {
			candidates = append(candidates, merge.Candidate{ID: s.ID, BlockCount: s.BlockCount})
		}
		plan := ix.policy.Select(candidates)

		if !plan.Empty() {
			merged, mergedReaders, err := ix.performMerge(plan, segments, readers, newReaders)
			if err != nil {
				return fmt.Errorf("index: merging segments: %w", err)
			}
			segments = merged
			for id, r := range mergedReaders {
				newReaders[id] = r
			}
		}
	}

	newAttributes := ix.copyAttributes()
	for name, value := range attrs {
		newAttributes[name] = value
	}

	newInfo := Info{
		Revision:    ix.currentRevision() + 1,
		LastOplogID: maxUint64(ix.currentLastOplogID(), uptoOplogID),
		Attributes:  newAttributes,
		Segments:    segments,
	}
	if err := Save(ix.dir, newInfo); err != nil {
		return fmt.Errorf("index: saving new revision: %w", err)
	}
	if err := ix.dir.DeleteFile(infoFileName(newInfo.Revision - 1)); err != nil {
		ix.log.Warn("failed to delete superseded revision file", "revision", newInfo.Revision-1, "error", err)
	}

	ix.mu.Lock()
	ix.info = newInfo
	for id, r := range newReaders {
		ix.segReaders[id] = r
	}
	for id := range ix.segReaders {
		if !containsSegment(newInfo.Segments, id) {
			delete(ix.segReaders, id)
		}
	}
	ix.mu.Unlock()

	ix.deleter.SetCurrent(fileNames(newInfo.Segments))
	ix.staging.Clear(uptoOplogID)
	if err := ix.oplog.Truncate(newInfo.LastOplogID); err != nil {
		ix.log.Warn("op-log truncation failed, will retry on next commit", "error", err)
	}

	ix.mu.Lock()
	onCommit := ix.onRevisionCommitted
	ix.mu.Unlock()
	if onCommit != nil {
		ids := make([]uint64, len(newInfo.Segments))
		for i, s := range newInfo.Segments {
			ids[i] = s.ID
		}
		onCommit(newInfo.Revision, ids, len(docs))
	}
	return nil
}

// performMerge folds the segments named in plan into one new segment, on
// top of whatever segments and readers exist after this cycle's flush,
// returning the resulting segment list and the newly opened readers.
func (ix *Index) performMerge(plan merge.Plan, segments []segment.Info, readers map[uint64]*segment.Reader, freshReaders map[uint64]*segment.Reader) ([]segment.Info, map[uint64]*segment.Reader, error) {
	toMerge := make(map[uint64]bool, len(plan.SegmentIDs))
	for _, id := range plan.SegmentIDs {
		toMerge[id] = true
	}

	var enumerators []*segment.Enumerator
	var docsSets []*segment.Docs
	var remaining []segment.Info
	for _, s := range segments {
		if !toMerge[s.ID] {
			remaining = append(remaining, s)
			continue
		}
		r := readers[s.ID]
		if r == nil {
			r = freshReaders[s.ID]
		}
		if r == nil {
			return nil, nil, fmt.Errorf("segment %d scheduled for merge has no open reader", s.ID)
		}
		enumerators = append(enumerators, segment.NewEnumerator(r))
		docsSets = append(docsSets, r.Docs())
	}

	var pairs []block.Pair
	if err := merge.MergePostings(enumerators, func(p block.Pair) error {
		pairs = append(pairs, p)
		return nil
	}); err != nil {
		return nil, nil, err
	}
	docs := merge.MergeDocs(docsSets)

	mergedID := ix.nextSegmentID.Add(1) - 1
	w := segment.NewWriter(ix.dir, ix.blockSize)
	info, err := w.Write(mergedID, pairs, docs)
	if err != nil {
		return nil, nil, fmt.Errorf("writing merged segment: %w", err)
	}
	mergedReader, err := segment.Open(ix.dir, info)
	if err != nil {
		return nil, nil, fmt.Errorf("opening merged segment: %w", err)
	}

	result := append(remaining, info)
	newReaders := map[uint64]*segment.Reader{info.ID: mergedReader}
	return result, newReaders, nil
}

func (ix *Index) currentRevision() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.info.Revision
}

func (ix *Index) currentLastOplogID() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.info.LastOplogID
}

func (ix *Index) copyAttributes() map[string]string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make(map[string]string, len(ix.info.Attributes))
	for k, v := range ix.info.Attributes {
		out[k] = v
	}
	return out
}

func containsSegment(segs []segment.Info, id uint64) bool {
	for _, s := range segs {
		if s.ID == id {
			return true
		}
	}
	return false
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func dedupePostings(postings []stage.Posting) []block.Pair {
	sort.Slice(postings, func(i, j int) bool {
		if postings[i].Key != postings[j].Key {
			return postings[i].Key < postings[j].Key
		}
		return postings[i].DocID < postings[j].DocID
	})
	pairs := make([]block.Pair, 0, len(postings))
	for i, p := range postings {
		if i > 0 && p.Key == postings[i-1].Key && p.DocID == postings[i-1].DocID {
			continue
		}
		pairs = append(pairs, block.Pair{Key: p.Key, DocID: p.DocID})
	}
	return pairs
}
