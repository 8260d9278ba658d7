package manager

import (
	"context"

	"github.com/blobmover/core/checkpoint"
	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/internal/logx"
	"github.com/blobmover/core/location"
)

// Upload transfers one local file to a remote blob (§4.8).
func (m *TransferManager) Upload(ctx context.Context, localPath, blobURI string, opts Options) error {
	src := location.NewLocalFilePath(localPath, "")
	dst := location.NewRemoteBlob(blobURI, blobTypeOrDefault(opts.BlobType), location.StaticCredentials{}, location.RequestOptions{})
	return m.transferSingle(ctx, src, dst, opts)
}

// Download transfers one remote blob to a local file (§4.8).
func (m *TransferManager) Download(ctx context.Context, blobURI, localPath string, opts Options) error {
	src := location.NewRemoteBlob(blobURI, location.BlobTypeBlock, location.StaticCredentials{}, location.RequestOptions{})
	dst := location.NewLocalFilePath(localPath, "")
	return m.transferSingle(ctx, src, dst, opts)
}

// Copy transfers one remote blob to another remote blob, always as a
// service-side asynchronous copy (§4.8).
func (m *TransferManager) Copy(ctx context.Context, srcBlobURI, dstBlobURI string, opts Options) error {
	src := location.NewRemoteBlob(srcBlobURI, location.BlobTypeBlock, location.StaticCredentials{}, location.RequestOptions{})
	dst := location.NewRemoteBlob(dstBlobURI, blobTypeOrDefault(opts.BlobType), location.StaticCredentials{}, location.RequestOptions{})
	return m.transferSingle(ctx, src, dst, opts)
}

// transferSingle implements §4.8's shared entry-point flow for a
// single-object transfer: open (or resume) its journal, build or decode
// the job, register it uniquely under (source, dest), run it to a
// terminal status through the scheduler persisting a checkpoint on
// every committed chunk, and retire the journal on success or leave it
// for a future resume on failure.
func (m *TransferManager) transferSingle(ctx context.Context, src, dst location.Location, opts Options) error {
	if location.Equal(src, dst) {
		return enginerr.Of(enginerr.SourceAndDestinationLocationEqual, nil)
	}

	key := checkpoint.KeyFor(src, dst)

	h, resumeInfo, err := m.openJournal(key, false)
	if err != nil {
		return err
	}

	cb := engine.Callbacks{
		ShouldOverwrite: shouldOverwriteFor(opts),
		ShouldTransfer:  opts.ShouldTransfer,
		ValidatePath:    opts.ValidatePath,
	}

	var job *engine.Job
	if resumeInfo != nil {
		job, err = engine.DecodeJobRecord(resumeInfo.RecordBytes, cb)
		if err != nil {
			m.keepJournal(h)
			return enginerr.New(enginerr.UncategorizedException, err, "decode resumed job record")
		}
		engine.Resume(job)
		logx.Infof(m.log, "manager: resuming transfer %s -> %s at status %v", key.Source, key.Dest, job.Status)
	} else {
		size, method, probeErr := m.probeSingle(ctx, src, dst)
		if probeErr != nil {
			m.keepJournal(h)
			return probeErr
		}
		job = engine.NewJob(src, dst, method, size, cb)
		job.Overwrite = opts.Overwrite
	}

	progress := engine.NewChildProgressTracker(m.checkpoint.Progress, opts.ProgressHandler)
	entry := &checkpoint.Entry{Job: job, Progress: progress}

	if err := m.checkpoint.Add(key, entry); err != nil {
		m.keepJournal(h)
		return err
	}
	defer m.checkpoint.Remove(key)

	checkpointer := jobCheckpointer(h, progress)
	if err := m.submitJob(ctx, job, progress, opts.RequireContentMD5, opts.VerifyLocalChecksum, checkpointer); err != nil {
		m.keepJournal(h)
		return err
	}
	progress.FlushReport()

	if !isTerminalSuccess(job) {
		m.keepJournal(h)
		if job.LastError != nil {
			return job.LastError
		}
		return enginerr.Of(enginerr.UncategorizedException, nil)
	}

	m.forgetJournal(key, h)
	return nil
}

// probeSingle determines a single-object job's TransferMethod and byte
// size from its endpoints, mirroring cmd/gfast/main.go's transferFile,
// which stat'd the source before opening it for copy.
func (m *TransferManager) probeSingle(ctx context.Context, src, dst location.Location) (size int64, method engine.TransferMethod, err error) {
	switch {
	case src.Kind() == location.KindLocalFilePath:
		fi, statErr := m.local.Stat(ctx, src.Path())
		if statErr != nil {
			return 0, 0, enginerr.New(enginerr.UncategorizedException, statErr, "stat source %q", src.Path())
		}
		return fi.Size(), engine.SyncCopy, nil

	case src.Kind() == location.KindRemoteBlob && dst.Kind() == location.KindRemoteBlob:
		meta, metaErr := m.remote.FetchMetadata(ctx, src.URI())
		if metaErr != nil {
			return 0, 0, enginerr.New(enginerr.UncategorizedException, metaErr, "fetch metadata %q", src.URI())
		}
		return meta.Length, engine.ServiceSideAsyncCopy, nil

	case src.Kind() == location.KindRemoteBlob:
		meta, metaErr := m.remote.FetchMetadata(ctx, src.URI())
		if metaErr != nil {
			return 0, 0, enginerr.New(enginerr.UncategorizedException, metaErr, "fetch metadata %q", src.URI())
		}
		return meta.Length, engine.SyncCopy, nil

	default:
		return 0, 0, enginerr.New(enginerr.UncategorizedException, nil, "unsupported source/destination kind pair %v/%v", src.Kind(), dst.Kind())
	}
}
