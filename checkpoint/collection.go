// Package checkpoint implements C10: the in-memory collection of
// active transfers keyed by (source, dest), and a durable index for
// locating a resumable journal across process restarts. Grounded on
// store/store.go's BoltStore, which persisted flat JobRecords keyed by
// a single ID; TransferCollection generalizes that into the
// (source, dest)-keyed map §3 requires, with an aggregate progress
// tracker parenting every member the way engine.NewChildProgressTracker
// already supports.
package checkpoint

import (
	"sync"

	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/location"
)

// Key is the (source, dest) identity a TransferCollection is keyed by.
type Key struct {
	Source string
	Dest   string
}

// KeyFor builds a Key from a pair of locations using their stable
// string identity (location.Location.Key).
func KeyFor(source, dest location.Location) Key {
	return Key{Source: source.Key(), Dest: dest.Key()}
}

// Entry is one tracked transfer: its job (for a single-object leaf) or
// nil (for a directory transfer tracked purely by its aggregate
// progress), plus the journal chunk offset it was persisted at, if
// any.
type Entry struct {
	Job           *engine.Job
	JournalOffset uint64
	Progress      *engine.ProgressTracker
}

// TransferCollection is a concurrent map of active transfers keyed by
// (source, dest), plus an aggregate ProgressTracker that parents every
// member's tracker (§3 TransferCollection<T>).
type TransferCollection struct {
	mu       sync.Mutex
	entries  map[Key]*Entry
	Progress *engine.ProgressTracker
}

// NewTransferCollection builds an empty collection reporting through
// report, or silently if report is nil.
func NewTransferCollection(report engine.ReportFunc) *TransferCollection {
	return &TransferCollection{
		entries:  make(map[Key]*Entry),
		Progress: engine.NewProgressTracker(report),
	}
}

// GetOrCreate returns the existing entry for key if present (the
// resume path), else builds and stores a fresh one via newEntry.
// newEntry receives a progress tracker already parented to the
// collection's aggregate.
func (c *TransferCollection) GetOrCreate(key Key, newEntry func(child *engine.ProgressTracker) *Entry) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e, true
	}
	child := engine.NewChildProgressTracker(c.Progress, nil)
	e := newEntry(child)
	c.entries[key] = e
	return e, false
}

// Add inserts a fresh entry, failing with TransferAlreadyExists if key
// is already tracked — the manager's "second concurrent call with the
// same key fails" rule (§4.8).
func (c *TransferCollection) Add(key Key, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return enginerr.Of(enginerr.TransferAlreadyExists, nil)
	}
	c.entries[key] = e
	return nil
}

// Remove drops key regardless of outcome, matching §4.8's "on return,
// the transfer is removed from the map regardless of outcome".
func (c *TransferCollection) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Get returns the tracked entry for key, if any.
func (c *TransferCollection) Get(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Len reports how many transfers are currently tracked.
func (c *TransferCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
