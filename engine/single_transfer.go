package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/blobmover/core/config"
	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/internal/logx"
	"github.com/blobmover/core/location"
	"github.com/blobmover/core/provider"
)

// JobStatus is one state of the C6 single-object transfer state
// machine (§4.5): NotStarted -> (ShouldTransferCheck) -> Transfer ->
// Monitor? -> Finished | Failed | Skipped | SkippedDueToShouldNotTransfer.
// Grounded on engine/job.go's TransferJob, which carried only
// source/destination path and FileInfo with no status of its own —
// cmd/gfast/main.go's transferFile drove state purely through
// tracker.Mark* calls against an external store. Job folds that state
// into the job itself so a checkpoint can persist it directly.
type JobStatus int

const (
	JobStatusNotStarted JobStatus = iota
	JobStatusTransfer
	JobStatusMonitor
	JobStatusFinished
	JobStatusFailed
	JobStatusSkipped
	JobStatusSkippedDueToShouldNotTransfer
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusNotStarted:
		return "NotStarted"
	case JobStatusTransfer:
		return "Transfer"
	case JobStatusMonitor:
		return "Monitor"
	case JobStatusFinished:
		return "Finished"
	case JobStatusFailed:
		return "Failed"
	case JobStatusSkipped:
		return "Skipped"
	case JobStatusSkippedDueToShouldNotTransfer:
		return "SkippedDueToShouldNotTransfer"
	default:
		return "Unknown"
	}
}

// TransferMethod picks how Job.transfer moves bytes (§4.5).
type TransferMethod int

const (
	// SyncCopy streams the object through the engine in aligned chunks.
	SyncCopy TransferMethod = iota
	// ServiceSideAsyncCopy issues a start-copy call and polls status.
	ServiceSideAsyncCopy
	// DummyCopy materializes a directory-marker entry (a zero-byte blob
	// flagged hdi_isfolder=true, §6) as the local directory it stands
	// for, without moving any bytes (§3).
	DummyCopy
)

// Callbacks are the user hooks a Job consults during its state
// transitions (§3 TransferContext, §4.5).
type Callbacks struct {
	ShouldOverwrite func(src, dst location.Location) bool
	ShouldTransfer  func(src location.Location) bool
	ValidatePath    func(src location.Location) error
	ProgressHandler func(Snapshot)
}

// ChunkRange is one completed, contiguous byte range of a transfer.
type ChunkRange struct {
	Offset int64
	Length int64
}

// SingleObjectCheckpoint tracks the sliding window of completed chunk
// ranges for one object, capped at config.MaxCountInTransferWindow
// outstanding entries (§4.5, GLOSSARY). Ranges are compacted from the
// front as soon as they extend the contiguous committed prefix, so
// CommittedThrough always reflects "everything up to here is durable"
// even when chunks land out of order.
type SingleObjectCheckpoint struct {
	mu               sync.Mutex
	pending          []ChunkRange // sorted by Offset, non-overlapping
	committedThrough int64
}

// Complete records a finished chunk write and compacts the window.
// It returns enginerr.UncategorizedException if the window would grow
// past MaxCountInTransferWindow, which signals chunks are completing
// far out of order relative to what has been journaled.
func (cp *SingleObjectCheckpoint) Complete(r ChunkRange) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	i := 0
	for ; i < len(cp.pending); i++ {
		if cp.pending[i].Offset > r.Offset {
			break
		}
	}
	cp.pending = append(cp.pending, ChunkRange{})
	copy(cp.pending[i+1:], cp.pending[i:])
	cp.pending[i] = r

	for len(cp.pending) > 0 && cp.pending[0].Offset == cp.committedThrough {
		cp.committedThrough += cp.pending[0].Length
		cp.pending = cp.pending[1:]
	}

	if len(cp.pending) > config.MaxCountInTransferWindow {
		return enginerr.New(enginerr.UncategorizedException, nil, "checkpoint window exceeded %d outstanding ranges", config.MaxCountInTransferWindow)
	}
	return nil
}

// Snapshot returns the contiguous committed prefix and the still-open
// ranges beyond it, the shape the journal persists (§4.7).
func (cp *SingleObjectCheckpoint) Snapshot() (committedThrough int64, pending []ChunkRange) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	out := make([]ChunkRange, len(cp.pending))
	copy(out, cp.pending)
	return cp.committedThrough, out
}

// Job is one C6 single-object transfer: a source/destination location
// pair, its method, and the mutable state the machine advances
// through Run.
type Job struct {
	Source location.Location
	Dest   location.Location
	Method TransferMethod

	Size int64

	// Overwrite, when non-nil, short-circuits the overwrite callback
	// with a fixed answer (§4.5's "overwrite?: bool" job option).
	Overwrite *bool

	// CopyID is set once StartServerCopy succeeds, and is what Resume
	// consults to decide whether a recovered Failed job re-enters
	// Transfer or Monitor.
	CopyID string

	Status     JobStatus
	Checkpoint *SingleObjectCheckpoint

	Callbacks Callbacks

	mu sync.RWMutex // guards LastError only
	// LastError records the classified error a terminal Failed status
	// ended on, for the checkpoint/journal to surface on reload.
	LastError error
}

// NewJob builds a NotStarted job.
func NewJob(src, dst location.Location, method TransferMethod, size int64, cb Callbacks) *Job {
	return &Job{
		Source:     src,
		Dest:       dst,
		Method:     method,
		Size:       size,
		Status:     JobStatusNotStarted,
		Checkpoint: &SingleObjectCheckpoint{},
		Callbacks:  cb,
	}
}

// Resume repositions a job recovered with status Failed back into the
// active part of the state machine: Transfer if no server-side copy
// was ever started, Monitor if one was (§4.5 Resume transition).
func Resume(j *Job) {
	if j.Status != JobStatusFailed {
		return
	}
	if j.CopyID == "" {
		j.Status = JobStatusTransfer
	} else {
		j.Status = JobStatusMonitor
	}
}

func (j *Job) setFailed(err error) {
	j.mu.Lock()
	j.LastError = err
	j.mu.Unlock()
	j.Status = JobStatusFailed
}

// SingleObjectTransfer executes one Job's state machine against a
// pair of collaborators — a local Provider for whichever side is
// local, a BlobClient for whichever side is remote — using cells from
// a MemoryPool as the chunk buffer and a ProgressTracker to report
// bytes moved. Grounded on cmd/gfast/main.go's transferFile, which
// inlined the same read/write/track loop directly in main; the state
// machine and checkpoint here are what let that loop suspend and
// resume instead of running start-to-finish in one call.
type SingleObjectTransfer struct {
	Job *Job

	Local  provider.Provider
	Remote provider.BlobClient

	Pool     *MemoryPool
	Progress *ProgressTracker
	Config   *config.Config

	// RequireContentMD5 mirrors the destination protocol's
	// StoreBlobContentMD5 requirement (§4.5): when true, Transfer
	// computes and attaches an incremental MD5 per chunk.
	RequireContentMD5 bool

	// Checkpointer persists a snapshot of Job to a journal after every
	// meaningful state change: admission into Transfer, each committed
	// chunk, a started server-side copy, a Monitor poll, and the
	// terminal status (§2, §4.5, §4.8: "on every meaningful state
	// change the transfer writes itself ... to the journal at its
	// pre-reserved offset"). nil disables persistence.
	Checkpointer func(*Job) error

	// VerifyLocalChecksum enables the §12 optional post-transfer
	// integrity check for local-to-local jobs started from scratch: the
	// source's CRC64 is accumulated while it streams through syncCopy,
	// then the destination is reopened and re-hashed for comparison.
	// Has no effect on remote source/destination legs, which already
	// carry the wire-protocol content MD5, or on a resumed job (its
	// source checksum would only cover the resumed tail).
	VerifyLocalChecksum bool

	checksumPoolOnce sync.Once
	checksumPool     *ChecksumPool
}

// checksums lazily builds the CRC64 hasher pool VerifyLocalChecksum draws
// from, so a transfer that never enables it never pays for one.
func (t *SingleObjectTransfer) checksums() *ChecksumPool {
	t.checksumPoolOnce.Do(func() { t.checksumPool = NewChecksumPool() })
	return t.checksumPool
}

// checkpoint persists the job's current snapshot when a Checkpointer
// is wired in, a no-op otherwise.
func (t *SingleObjectTransfer) checkpoint() error {
	if t.Checkpointer == nil {
		return nil
	}
	return t.Checkpointer(t.Job)
}

// checkpointBestEffort persists the job's snapshot at a terminal
// transition, logging rather than propagating a failure: a checkpoint
// write failing after the transfer itself already succeeded or failed
// must not mask that outcome.
func (t *SingleObjectTransfer) checkpointBestEffort() {
	if err := t.checkpoint(); err != nil {
		logx.Warnf(logx.Fields{Source: t.Job.Source.Key(), Dest: t.Job.Dest.Key()}, "single transfer: persist terminal checkpoint: %v", err)
	}
}

// Run advances the job's state machine to a terminal status
// (Finished, Failed, Skipped, SkippedDueToShouldNotTransfer) or until
// ctx is canceled. It is safe to call again after a Failed status was
// repositioned by Resume.
func (t *SingleObjectTransfer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch t.Job.Status {
		case JobStatusNotStarted:
			if err := t.shouldTransferCheck(); err != nil {
				return err
			}
			if t.Job.Status != JobStatusNotStarted {
				continue // moved to a terminal skip status
			}
			if err := t.overwriteCheck(ctx); err != nil {
				return t.classifyTerminal(err)
			}
			t.Job.Status = JobStatusTransfer
			if err := t.checkpoint(); err != nil {
				return t.classifyTerminal(err)
			}

		case JobStatusTransfer:
			if err := t.transfer(ctx); err != nil {
				return t.classifyTerminal(err)
			}
			if t.Job.Method == ServiceSideAsyncCopy {
				t.Job.Status = JobStatusMonitor
				if err := t.checkpoint(); err != nil {
					return t.classifyTerminal(err)
				}
			} else {
				t.finish()
				return nil
			}

		case JobStatusMonitor:
			if err := t.monitor(ctx); err != nil {
				return t.classifyTerminal(err)
			}
			t.finish()
			return nil

		default:
			return nil // already terminal
		}
	}
}

func (t *SingleObjectTransfer) finish() {
	t.Job.Status = JobStatusFinished
	if t.Progress != nil {
		t.Progress.CompleteFile()
	}
	t.checkpointBestEffort()
}

// classifyTerminal maps a transfer error onto the job's terminal
// status per §4.5/§6/§7: skip-classified errors terminate in Skipped,
// everything else in Failed (fatal-to-siblings kinds still return the
// error so the caller cancels the rest of a directory transfer).
func (t *SingleObjectTransfer) classifyTerminal(err error) error {
	kind := enginerr.KindOf(err)
	if enginerr.IsSkip(kind) {
		t.Job.Status = JobStatusSkipped
		if t.Progress != nil {
			t.Progress.SkipFile()
		}
		t.checkpointBestEffort()
		return nil
	}
	t.Job.setFailed(err)
	if t.Progress != nil {
		t.Progress.FailFile()
	}
	t.checkpointBestEffort()
	if enginerr.IsFatalToSiblings(kind) {
		return err
	}
	return nil
}

func (t *SingleObjectTransfer) shouldTransferCheck() error {
	if t.Job.Callbacks.ShouldTransfer == nil {
		return nil
	}
	if !t.Job.Callbacks.ShouldTransfer(t.Job.Source) {
		t.Job.Status = JobStatusSkippedDueToShouldNotTransfer
		if t.Progress != nil {
			t.Progress.SkipFile()
		}
	}
	return nil
}

func (t *SingleObjectTransfer) overwriteCheck(ctx context.Context) error {
	exists, err := t.destinationExists(ctx)
	if err != nil {
		return enginerr.New(enginerr.FailToValidateDestination, err, "probe destination")
	}
	if !exists {
		return nil
	}

	var allow bool
	if t.Job.Overwrite != nil {
		allow = *t.Job.Overwrite
	} else if t.Job.Callbacks.ShouldOverwrite != nil {
		allow = t.Job.Callbacks.ShouldOverwrite(t.Job.Source, t.Job.Dest)
	} else {
		allow = true
	}
	if !allow {
		return enginerr.Of(enginerr.NotOverwriteExistingDestination, nil)
	}
	return nil
}

func (t *SingleObjectTransfer) destinationExists(ctx context.Context) (bool, error) {
	switch t.Job.Dest.Kind() {
	case location.KindLocalFilePath:
		_, err := t.Local.Stat(ctx, t.Job.Dest.Path())
		if err != nil {
			return false, nil
		}
		return true, nil
	case location.KindRemoteBlob:
		meta, err := t.Remote.FetchMetadata(ctx, t.Job.Dest.URI())
		if err != nil || meta.IsSoftError {
			return false, nil
		}
		return true, nil
	default:
		return false, nil
	}
}

// transfer executes the Transfer state: SyncCopy streams the object
// through in CellSize-aligned chunks; ServiceSideAsyncCopy issues the
// start-copy call and leaves polling to monitor.
func (t *SingleObjectTransfer) transfer(ctx context.Context) error {
	switch t.Job.Method {
	case ServiceSideAsyncCopy:
		return t.startServerCopy(ctx)
	case DummyCopy:
		return t.materializeDirectory(ctx)
	default:
		return t.syncCopy(ctx)
	}
}

// materializeDirectory implements DummyCopy (§3): a directory-marker
// entry creates its destination directory and moves no bytes. Only a
// local destination can materialize a directory this way; a remote
// destination has no marker-metadata affordance in BlobClient, so
// mirroring an empty directory upstream is out of scope (§6 covers
// download-side materialization, not upload-side marker creation).
func (t *SingleObjectTransfer) materializeDirectory(ctx context.Context) error {
	if t.Job.Dest.Kind() != location.KindLocalFilePath {
		return enginerr.New(enginerr.UncategorizedException, nil, "DummyCopy has no materialization for destination kind %v", t.Job.Dest.Kind())
	}
	if err := t.Local.CreateDirectory(ctx, t.Job.Dest.Path()); err != nil {
		return enginerr.New(enginerr.UncategorizedException, err, "create directory %q", t.Job.Dest.Path())
	}
	return nil
}

func (t *SingleObjectTransfer) startServerCopy(ctx context.Context) error {
	var cond provider.AccessConditionArg
	if ac := t.Job.Dest.AccessCondition(); ac != nil {
		cond = provider.AccessConditionArg{IfMatchETag: ac.IfMatchETag, IfNoneMatchAll: ac.IfNoneMatchAll}
	}
	copyID, err := t.Remote.StartServerCopy(ctx, t.Job.Source.URI(), t.Job.Dest.URI(), cond)
	if err != nil {
		return enginerr.New(enginerr.UncategorizedException, err, "start server copy")
	}
	t.Job.CopyID = copyID
	return nil
}

func (t *SingleObjectTransfer) syncCopy(ctx context.Context) error {
	committedThrough, _ := t.Job.Checkpoint.Snapshot()

	reader, closeReader, err := t.openSource(ctx, committedThrough)
	if err != nil {
		return err
	}
	defer closeReader()

	verifyChecksum := t.VerifyLocalChecksum && committedThrough == 0 &&
		t.Job.Source.Kind() == location.KindLocalFilePath &&
		t.Job.Dest.Kind() == location.KindLocalFilePath
	var srcChecksum *ChecksumReader
	if verifyChecksum {
		var release func()
		srcChecksum, release = NewPooledChecksumReader(reader, t.checksums())
		defer release()
		reader = srcChecksum
	}

	writer, commit, err := t.openDest(ctx, committedThrough)
	if err != nil {
		return err
	}

	offset := committedThrough
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cell, err := t.Pool.Acquire(ctx.Done())
		if err != nil {
			return err
		}
		n, readErr := io.ReadFull(reader, cell.Bytes())
		if n > 0 {
			chunk := cell.Bytes()[:n]
			var md5 []byte
			if t.RequireContentMD5 {
				md5 = SumMD5(chunk)
			}
			if err := writer(offset, chunk, md5); err != nil {
				t.Pool.Release(cell)
				return enginerr.New(enginerr.UncategorizedException, err, "write chunk at offset %d", offset)
			}
			if err := t.Job.Checkpoint.Complete(ChunkRange{Offset: offset, Length: int64(n)}); err != nil {
				t.Pool.Release(cell)
				return err
			}
			if t.Progress != nil {
				t.Progress.AddBytes(int64(n))
			}
			if err := t.checkpoint(); err != nil {
				t.Pool.Release(cell)
				return err
			}
			offset += int64(n)
		}
		t.Pool.Release(cell)

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return enginerr.New(enginerr.UncategorizedException, readErr, "read chunk at offset %d", offset)
		}
	}

	if err := commit(); err != nil {
		return err
	}

	if verifyChecksum {
		match, err := t.verifyDestinationChecksum(ctx, srcChecksum.Checksum())
		if err != nil {
			return err
		}
		if !match {
			return enginerr.Of(enginerr.ContentIntegrityCheckFailed, nil)
		}
	}
	return nil
}

// verifyDestinationChecksum reopens the just-written destination and
// streams it through a fresh ChecksumReader, so the comparison reflects
// what actually landed on disk rather than the bytes handed to Write —
// the only way to catch corruption the destination write path itself
// introduces (§12).
func (t *SingleObjectTransfer) verifyDestinationChecksum(ctx context.Context, want uint64) (bool, error) {
	rc, err := t.Local.OpenRead(ctx, t.Job.Dest.Path())
	if err != nil {
		return false, enginerr.New(enginerr.UncategorizedException, err, "reopen destination %q for integrity check", t.Job.Dest.Path())
	}
	defer rc.Close()

	dstChecksum, release := NewPooledChecksumReader(rc, t.checksums())
	defer release()
	if _, err := io.Copy(io.Discard, dstChecksum); err != nil {
		return false, enginerr.New(enginerr.UncategorizedException, err, "re-read destination %q for integrity check", t.Job.Dest.Path())
	}
	return VerifyChecksum(dstChecksum.Checksum(), want), nil
}

// openSource opens the transfer's source positioned at fromOffset, the
// checkpoint's committed-through point on a resumed job (0 otherwise),
// so a resumed sync copy never re-reads bytes it already delivered.
func (t *SingleObjectTransfer) openSource(ctx context.Context, fromOffset int64) (io.Reader, func(), error) {
	switch t.Job.Source.Kind() {
	case location.KindLocalFilePath:
		rc, err := t.Local.OpenReadAt(ctx, t.Job.Source.Path(), fromOffset)
		if err != nil {
			return nil, nil, enginerr.New(enginerr.UncategorizedException, err, "open source %q", t.Job.Source.Path())
		}
		return rc, func() { rc.Close() }, nil
	case location.KindRemoteBlob:
		return newRemoteChunkReader(ctx, t.Remote, t.Job.Source.URI(), t.Job.Size, fromOffset), func() {}, nil
	default:
		return nil, nil, enginerr.New(enginerr.UncategorizedException, nil, "unsupported source kind %v", t.Job.Source.Kind())
	}
}

// writeFunc writes one chunk at offset with an optional content MD5.
type writeFunc func(offset int64, data []byte, md5 []byte) error

// openDest opens the transfer's destination positioned at fromOffset.
// For a local destination this seeks past the already-committed prefix
// instead of truncating it away; for a block-based remote destination
// it resumes the block index from fromOffset/CellSize, which lines up
// with committedThrough since every chunk but the last is exactly one
// CellSize (§4.1).
func (t *SingleObjectTransfer) openDest(ctx context.Context, fromOffset int64) (writeFunc, func() error, error) {
	switch t.Job.Dest.Kind() {
	case location.KindLocalFilePath:
		wc, err := t.Local.OpenWriteAt(ctx, t.Job.Dest.Path(), fromOffset, nil)
		if err != nil {
			return nil, nil, enginerr.New(enginerr.UncategorizedException, err, "open destination %q", t.Job.Dest.Path())
		}
		return func(offset int64, data []byte, _ []byte) error {
				_, err := wc.Write(data)
				return err
			}, func() error {
				return wc.Close()
			}, nil

	case location.KindRemoteBlob:
		// Block IDs are a pure function of chunk index, so the blocks a
		// prior run already committed (0..startIndex-1) are re-derived
		// rather than re-uploaded, keeping CommitBlockList's manifest
		// complete without persisting the ID list separately. This
		// assumes the underlying multipart upload the earlier blocks
		// landed in is still open, true for a same-process Resume; a
		// resume after a full process restart additionally needs the
		// BlobClient's own multipart-upload-ID to be looked up rather
		// than lazily recreated, which is outside this checkpoint's
		// scope (§4.7 governs job/chunk state, not wire-protocol upload
		// session identifiers).
		startIndex := int(fromOffset / config.CellSize)
		blockIDs := make([]string, startIndex)
		for i := range blockIDs {
			blockIDs[i] = provider.BlockID(i)
		}
		index := startIndex
		return func(offset int64, data []byte, md5 []byte) error {
				id := provider.BlockID(index)
				index++
				blockIDs = append(blockIDs, id)
				return t.Remote.PutBlock(ctx, t.Job.Dest.URI(), id, offset, data, md5)
			}, func() error {
				overwrite := t.Job.Overwrite == nil || *t.Job.Overwrite
				return t.Remote.CommitBlockList(ctx, t.Job.Dest.URI(), blockIDs, overwrite)
			}, nil

	default:
		return nil, nil, enginerr.New(enginerr.UncategorizedException, nil, "unsupported destination kind %v", t.Job.Dest.Kind())
	}
}

// monitor polls a server-side copy to completion with the §4.5
// back-off schedule and stall watchdog.
func (t *SingleObjectTransfer) monitor(ctx context.Context) error {
	wait := config.CopyStatusRefreshMinWaitTime
	requests := 0

	var lastBytes int64 = -1
	var creditedBytes int64
	lastProgress := time.Now()

	stallWindow := 30 * time.Second
	if t.Config != nil && t.Config.StallWindow > 0 {
		stallWindow = t.Config.StallWindow
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		status, err := t.Remote.GetCopyStatus(ctx, t.Job.Dest.URI())
		if err != nil {
			return enginerr.New(enginerr.UncategorizedException, err, "poll copy status")
		}

		if status.BytesCopied != lastBytes {
			lastBytes = status.BytesCopied
			lastProgress = time.Now()
			if delta := status.BytesCopied - creditedBytes; delta > 0 {
				creditedBytes = status.BytesCopied
				if t.Progress != nil {
					t.Progress.AddBytes(delta)
				}
			}
			if err := t.checkpoint(); err != nil {
				return err
			}
		} else if time.Since(lastProgress) >= stallWindow {
			return enginerr.Of(enginerr.TransferStuck, nil)
		}

		switch status.Status {
		case provider.CopyStatusSuccess:
			if delta := status.TotalBytes - creditedBytes; delta > 0 {
				creditedBytes = status.TotalBytes
				if t.Progress != nil {
					t.Progress.AddBytes(delta)
				}
			}
			return nil
		case provider.CopyStatusFailed, provider.CopyStatusAborted:
			return enginerr.New(enginerr.UncategorizedException, nil, "server copy ended in status %d: %s", status.Status, status.StatusDescription)
		}

		remaining := status.TotalBytes - status.BytesCopied
		if remaining <= config.CopyApproachingFinishThresholdBytes {
			wait = config.CopyStatusRefreshMinWaitTime
		} else {
			wait *= 2
			if wait > config.CopyStatusRefreshMaxWaitTime {
				wait = config.CopyStatusRefreshMaxWaitTime
			}
		}

		requests++
		if requests >= config.CopyStatusRefreshWaitTimeMaxRequests && wait < config.CopyStatusRefreshMaxWaitTime {
			wait = config.CopyStatusRefreshMaxWaitTime
		}
	}
}

// remoteChunkReader adapts BlobClient.GetRange's request/response
// shape into an io.Reader, so syncCopy can drive a remote source
// through the same read loop as a local one.
type remoteChunkReader struct {
	ctx    context.Context
	client provider.BlobClient
	blob   string
	size   int64
	offset int64
}

func newRemoteChunkReader(ctx context.Context, client provider.BlobClient, blob string, size, startOffset int64) *remoteChunkReader {
	return &remoteChunkReader{ctx: ctx, client: client, blob: blob, size: size, offset: startOffset}
}

func (r *remoteChunkReader) Read(p []byte) (int, error) {
	if r.size > 0 && r.offset >= r.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if r.size > 0 && r.offset+length > r.size {
		length = r.size - r.offset
	}
	data, err := r.client.GetRange(r.ctx, r.blob, r.offset, length)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	r.offset += int64(n)
	if len(data) < len(p) {
		if r.size == 0 || r.offset >= r.size {
			return n, io.EOF
		}
	}
	return n, nil
}
