// Package manager implements C12: the transfer manager that owns the
// process-wide scheduler, memory pool, and in-flight transfer map, and
// exposes the public upload/download/copy entry points described in
// §4.8. Grounded on cmd/gfast/main.go's top-level wiring — it dialed a
// BoltStore, a JobTracker, a BufferPool, a JobChannel, and a
// WorkerPool by hand in main() and drove one walker over them;
// TransferManager folds that same set of collaborators into a
// reusable, long-lived value with a resumable checkpoint and an
// eventbus instead of a TUI as its second reporting sink.
package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blobmover/core/checkpoint"
	"github.com/blobmover/core/config"
	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/eventbus"
	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/internal/logx"
	"github.com/blobmover/core/journal"
	"github.com/blobmover/core/location"
	"github.com/blobmover/core/provider"
)

// Option configures a TransferManager at construction.
type Option func(*TransferManager)

// WithIndex attaches a durable checkpoint index the manager consults
// on every transfer to relocate an existing journal across a process
// restart, and updates as journals are created and retired (§4.7/§4.8:
// the index only points at a journal; the journal remains the
// authoritative state).
func WithIndex(idx *checkpoint.Index) Option {
	return func(m *TransferManager) { m.index = idx }
}

// WithJournalDir overrides the directory the manager creates
// per-transfer journal files in. Defaults to a process-scoped
// directory under os.TempDir().
func WithJournalDir(dir string) Option {
	return func(m *TransferManager) { m.journalDir = dir }
}

// WithPublisher attaches an eventbus.Publisher the manager notifies of
// terminal job transitions alongside the in-process ProgressHandler
// callback (§6).
func WithPublisher(pub eventbus.Publisher) Option {
	return func(m *TransferManager) { m.publisher = pub }
}

// jobState is the side-channel a submitted Job's completion is
// reported through, since *engine.Job carries no completion channel of
// its own (§4.5 keeps Job's shape to state-machine fields only).
type jobState struct {
	done           chan error
	progress       *engine.ProgressTracker
	requireMD5     bool
	verifyChecksum bool
	checkpointer   func(*engine.Job) error
}

// TransferManager is the C12 process-wide owner of every collaborator a
// transfer needs: a memory pool and scheduler shared across all
// transfers (§4.1/§4.4), a Provider/BlobClient pair for the concrete
// endpoints, and the in-flight TransferCollection that enforces the
// "one transfer per (source, dest) key at a time" rule of §4.8.
type TransferManager struct {
	config *config.Config
	local  provider.Provider
	remote provider.BlobClient

	pool      *engine.MemoryPool
	scheduler *engine.Scheduler
	jobQueue  chan *engine.Job

	checkpoint *checkpoint.TransferCollection
	index      *checkpoint.Index
	publisher  eventbus.Publisher
	journalDir string

	pendingMu sync.Mutex
	pending   map[*engine.Job]*jobState

	log logx.Fields
}

// NewManager builds a TransferManager whose scheduler workers run for
// the lifetime of ctx; cancel it (or call Close) to drain and stop
// them. cfg may be nil, in which case config.Default() applies.
func NewManager(ctx context.Context, cfg *config.Config, local provider.Provider, remote provider.BlobClient, opts ...Option) *TransferManager {
	if cfg == nil {
		cfg = config.Default()
	}

	m := &TransferManager{
		config:     cfg,
		local:      local,
		remote:     remote,
		pool:       engine.NewMemoryPool(cfg.CellCeiling()),
		checkpoint: checkpoint.NewTransferCollection(nil),
		pending:    make(map[*engine.Job]*jobState),
		journalDir: filepath.Join(os.TempDir(), fmt.Sprintf("blobmover-journals-%d", os.Getpid())),
	}
	m.jobQueue = make(chan *engine.Job, cfg.ParallelOperations*2)
	m.scheduler = engine.NewScheduler(ctx, m.jobQueue, m.runJob, cfg.ParallelOperations)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close stops the transfer scheduler's workers and, if attached, closes
// the eventbus publisher.
func (m *TransferManager) Close() error {
	m.scheduler.Stop()
	if m.publisher != nil {
		return m.publisher.Close()
	}
	return nil
}

// Snapshot reports the manager's aggregate progress across every
// in-flight transfer.
func (m *TransferManager) Snapshot() engine.Snapshot {
	return m.checkpoint.Progress.Snapshot()
}

// InFlight reports how many transfers are currently registered under
// the manager's uniqueness map.
func (m *TransferManager) InFlight() int {
	return m.checkpoint.Len()
}

// Checkpoint exposes the manager's in-flight TransferCollection, e.g.
// so a caller can pre-register a key to simulate contention in tests,
// or inspect an entry's progress mid-transfer.
func (m *TransferManager) Checkpoint() *checkpoint.TransferCollection {
	return m.checkpoint
}

// journalHandle bundles an open journal with the backing file and path
// a transfer's terminal outcome later needs: forgetJournal deletes both
// on success, keepJournal leaves them in place for a future resume.
type journalHandle struct {
	j    *journal.Journal
	file *os.File
	path string
}

// journalPathFor derives a deterministic, filesystem-safe journal path
// for key under the manager's journal directory, used when the durable
// index has no existing entry for key (a fresh transfer).
func (m *TransferManager) journalPathFor(key checkpoint.Key) string {
	sum := sha256.Sum256([]byte(key.Source + "|" + key.Dest))
	return filepath.Join(m.journalDir, hex.EncodeToString(sum[:])+".journal")
}

// openJournal opens (or resumes) the journal backing key, consulting
// the durable index first when one is attached so a transfer can be
// relocated to wherever its journal actually lives across a process
// restart (§4.7, §4.8).
func (m *TransferManager) openJournal(key checkpoint.Key, isDirectory bool) (*journalHandle, *journal.ResumeInfo, error) {
	path := m.journalPathFor(key)
	if m.index != nil {
		if rec, err := m.index.Get(key); err == nil {
			path = rec.JournalPath
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, enginerr.New(enginerr.UncategorizedException, err, "create journal directory")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, nil, enginerr.New(enginerr.UncategorizedException, err, "open journal %q", path)
	}

	j, resumeInfo, err := journal.Open(f, m.config.DisableJournalValidation)
	if err != nil {
		f.Close()
		return nil, nil, enginerr.New(enginerr.UncategorizedException, err, "open journal layout %q", path)
	}

	if m.index != nil {
		rec := checkpoint.IndexRecord{Source: key.Source, Dest: key.Dest, JournalPath: path, IsDirectory: isDirectory}
		if err := m.index.Put(key, rec); err != nil {
			logx.Warnf(m.log, "manager: index put for %s -> %s: %v", key.Source, key.Dest, err)
		}
	}

	return &journalHandle{j: j, file: f, path: path}, resumeInfo, nil
}

// forgetJournal removes a completed transfer's journal file and index
// entry; a finished transfer has nothing left to resume.
func (m *TransferManager) forgetJournal(key checkpoint.Key, h *journalHandle) {
	h.file.Close()
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		logx.Warnf(m.log, "manager: remove journal %q: %v", h.path, err)
	}
	if m.index != nil {
		if err := m.index.Delete(key); err != nil {
			logx.Warnf(m.log, "manager: index delete for %s -> %s: %v", key.Source, key.Dest, err)
		}
	}
}

// keepJournal closes the file handle but leaves the journal and index
// entry in place so a later call with the same key can resume.
func (m *TransferManager) keepJournal(h *journalHandle) {
	h.file.Close()
}

// jobCheckpointer builds the engine.SingleObjectTransfer.Checkpointer
// closure bound to one journal's base transfer slot: every call encodes
// the job's current record and progress snapshot and rewrites them in
// place (§4.7, §4.8 "writes itself to the journal at its pre-reserved
// offset").
func jobCheckpointer(h *journalHandle, progress *engine.ProgressTracker) func(*engine.Job) error {
	return func(j *engine.Job) error {
		record, err := engine.EncodeJobRecord(j)
		if err != nil {
			return enginerr.New(enginerr.UncategorizedException, err, "encode job record")
		}
		var progressBytes []byte
		if progress != nil {
			progressBytes, err = json.Marshal(progress.Snapshot())
			if err != nil {
				return enginerr.New(enginerr.UncategorizedException, err, "encode progress snapshot")
			}
		}
		if err := h.j.WriteBaseTransfer(record, progressBytes); err != nil {
			return enginerr.New(enginerr.UncategorizedException, err, "write journal base transfer")
		}
		return nil
	}
}

// runJob is the engine.TransferFunc bound to the scheduler; it looks up
// the submitting call's progress tracker and MD5 requirement by job
// identity, runs the job to a terminal status, and reports the result
// back to submitJob's waiter.
func (m *TransferManager) runJob(ctx context.Context, job *engine.Job) error {
	m.pendingMu.Lock()
	st := m.pending[job]
	m.pendingMu.Unlock()

	var progress *engine.ProgressTracker
	var requireMD5 bool
	var verifyChecksum bool
	var checkpointer func(*engine.Job) error
	if st != nil {
		progress = st.progress
		requireMD5 = st.requireMD5
		verifyChecksum = st.verifyChecksum
		checkpointer = st.checkpointer
	}

	t := &engine.SingleObjectTransfer{
		Job:                 job,
		Local:               m.local,
		Remote:              m.remote,
		Pool:                m.pool,
		Progress:            progress,
		Config:              m.config,
		RequireContentMD5:   requireMD5,
		VerifyLocalChecksum: verifyChecksum,
		Checkpointer:        checkpointer,
	}
	err := t.Run(ctx)
	m.publishTerminal(ctx, job, err)

	if st != nil {
		st.done <- err
	}
	return nil
}

// submitJob enqueues job on the scheduler and blocks until it reaches a
// terminal status or ctx is canceled, registering progress/requireMD5/
// checkpointer so runJob can find them without widening Job itself.
// checkpointer may be nil, which disables journal persistence for this
// job (the shape a directory transfer's per-file jobs use today: only
// the aggregate directory progress is journaled, not each file's
// individual chunk window).
func (m *TransferManager) submitJob(ctx context.Context, job *engine.Job, progress *engine.ProgressTracker, requireMD5, verifyChecksum bool, checkpointer func(*engine.Job) error) error {
	st := &jobState{done: make(chan error, 1), progress: progress, requireMD5: requireMD5, verifyChecksum: verifyChecksum, checkpointer: checkpointer}

	m.pendingMu.Lock()
	m.pending[job] = st
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, job)
		m.pendingMu.Unlock()
	}()

	select {
	case m.jobQueue <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-st.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publishTerminal notifies the attached eventbus of a job's terminal
// status, if a publisher is attached. Publish failures are logged, not
// propagated, since a broker outage must never fail the transfer it is
// only reporting on.
func (m *TransferManager) publishTerminal(ctx context.Context, job *engine.Job, runErr error) {
	if m.publisher == nil {
		return
	}

	kind, ok := eventKindFor(job.Status)
	if !ok {
		return
	}
	event := eventbus.TransferEventArgs{
		Kind:   kind,
		Source: job.Source.Key(),
		Dest:   job.Dest.Key(),
		Bytes:  job.Size,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		logx.Warnf(m.log, "manager: publish terminal event for %s: %v", job.Dest.Key(), err)
	}
}

func eventKindFor(status engine.JobStatus) (eventbus.EventKind, bool) {
	switch status {
	case engine.JobStatusFinished:
		return eventbus.EventFileFinished, true
	case engine.JobStatusFailed:
		return eventbus.EventFileFailed, true
	case engine.JobStatusSkipped, engine.JobStatusSkippedDueToShouldNotTransfer:
		return eventbus.EventFileSkipped, true
	default:
		return "", false
	}
}

// isTerminalSuccess reports whether job ended in a status the caller
// should treat as "no error", i.e. anything but Failed.
func isTerminalSuccess(job *engine.Job) bool {
	return job.Status != engine.JobStatusFailed
}

func blobTypeOrDefault(bt location.BlobType) location.BlobType {
	if bt == location.BlobTypeUnspecified {
		return location.BlobTypeBlock
	}
	return bt
}
