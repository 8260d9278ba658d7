package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable read of a ProgressTracker at one instant
// (§4.2).
type Snapshot struct {
	BytesTransferred int64
	FilesCompleted   int64
	FilesFailed      int64
	FilesSkipped     int64
}

// ReportFunc receives a debounced Snapshot: at most one report per
// tracker interval (DefaultReportInterval unless changed), §4.2.
type ReportFunc func(Snapshot)

// DefaultReportInterval mirrors the checkpoint debounce interval the
// teacher used for its byte-count trigger (engine/tracker.go's
// DefaultCheckpointConfig.TimeInterval), now driving progress reports
// instead of store writes.
const DefaultReportInterval = 2 * time.Second

// ProgressTracker accumulates byte and file counts with plain atomics
// rather than a mutex-guarded struct, and propagates every update to
// an optional parent so a directory transfer's tracker aggregates all
// of its children's totals live (§4.2). Grounded on
// engine/tracker.go's JobTracker/TrackedWriter, which serialized every
// update through a store; ProgressTracker keeps the same
// "byte-count-or-time debounce" reporting idea (TrackedWriter.Write)
// but drops the store round trip from the hot path — checkpointing is
// now the checkpoint package's job, driven off Snapshot.
type ProgressTracker struct {
	bytesTransferred int64
	filesCompleted   int64
	filesFailed      int64
	filesSkipped     int64

	parent *ProgressTracker

	report   ReportFunc
	interval time.Duration

	mu             sync.Mutex
	lastReportTime time.Time
}

// NewProgressTracker builds a root tracker. Pass a nil report to skip
// debounced reporting (e.g. a per-file tracker whose only consumer is
// its parent's aggregation).
func NewProgressTracker(report ReportFunc) *ProgressTracker {
	return NewChildProgressTracker(nil, report)
}

// NewChildProgressTracker builds a tracker whose updates also flow
// into parent, forming the directory-transfer aggregation hierarchy
// (§4.2: "a directory transfer's tracker is the sum of its files'").
func NewChildProgressTracker(parent *ProgressTracker, report ReportFunc) *ProgressTracker {
	interval := DefaultReportInterval
	return &ProgressTracker{
		parent:         parent,
		report:         report,
		interval:       interval,
		lastReportTime: time.Time{},
	}
}

// AddBytes records n additional bytes transferred, propagating to the
// parent hierarchy, then considers a debounced report.
func (pt *ProgressTracker) AddBytes(n int64) {
	if n == 0 {
		return
	}
	atomic.AddInt64(&pt.bytesTransferred, n)
	if pt.parent != nil {
		pt.parent.AddBytes(n)
	}
	pt.maybeReport()
}

// CompleteFile increments the completed-file counter.
func (pt *ProgressTracker) CompleteFile() {
	atomic.AddInt64(&pt.filesCompleted, 1)
	if pt.parent != nil {
		pt.parent.CompleteFile()
	}
	pt.maybeReport()
}

// FailFile increments the failed-file counter.
func (pt *ProgressTracker) FailFile() {
	atomic.AddInt64(&pt.filesFailed, 1)
	if pt.parent != nil {
		pt.parent.FailFile()
	}
	pt.maybeReport()
}

// SkipFile increments the skipped-file counter.
func (pt *ProgressTracker) SkipFile() {
	atomic.AddInt64(&pt.filesSkipped, 1)
	if pt.parent != nil {
		pt.parent.SkipFile()
	}
	pt.maybeReport()
}

// Snapshot reads the tracker's current totals.
func (pt *ProgressTracker) Snapshot() Snapshot {
	return Snapshot{
		BytesTransferred: atomic.LoadInt64(&pt.bytesTransferred),
		FilesCompleted:   atomic.LoadInt64(&pt.filesCompleted),
		FilesFailed:      atomic.LoadInt64(&pt.filesFailed),
		FilesSkipped:     atomic.LoadInt64(&pt.filesSkipped),
	}
}

func (pt *ProgressTracker) maybeReport() {
	if pt.report == nil {
		return
	}
	pt.mu.Lock()
	now := time.Now()
	if now.Sub(pt.lastReportTime) < pt.interval {
		pt.mu.Unlock()
		return
	}
	pt.lastReportTime = now
	pt.mu.Unlock()

	pt.report(pt.Snapshot())
}

// FlushReport forces an immediate report regardless of the debounce
// interval, for use at transfer completion so the final Snapshot is
// never silently dropped by debouncing.
func (pt *ProgressTracker) FlushReport() {
	if pt.report == nil {
		return
	}
	pt.mu.Lock()
	pt.lastReportTime = time.Now()
	pt.mu.Unlock()
	pt.report(pt.Snapshot())
}
