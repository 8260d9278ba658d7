package engine_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/blobmover/core/config"
	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/location"
	"github.com/blobmover/core/provider"
)

// fakeLocalProvider is an in-memory stand-in for provider.Provider,
// keyed by path.
type fakeLocalProvider struct {
	files map[string][]byte
	dirs  map[string]bool

	// corruptWritesTo, when non-empty, flips the first byte of the first
	// Write call made to that path before it lands in files, simulating
	// a destination write that mangles data on the way down.
	corruptWritesTo string
	corrupted       map[string]bool
}

func newFakeLocalProvider() *fakeLocalProvider {
	return &fakeLocalProvider{files: map[string][]byte{}, dirs: map[string]bool{}}
}

// maybeCorruptWrite flips the first byte of the first non-empty Write call
// made to path, so the bytes verifyDestinationChecksum later reopens and
// rehashes differ from what the source side hashed while reading.
func (f *fakeLocalProvider) maybeCorruptWrite(path string, p []byte) []byte {
	if path != f.corruptWritesTo || len(p) == 0 || f.corrupted[path] {
		return p
	}
	if f.corrupted == nil {
		f.corrupted = map[string]bool{}
	}
	f.corrupted[path] = true
	out := append([]byte(nil), p...)
	out[0] ^= 0xFF
	return out
}

func (f *fakeLocalProvider) Stat(ctx context.Context, path string) (provider.FileInfo, error) {
	if _, ok := f.files[path]; !ok {
		return nil, errors.New("not found")
	}
	return fakeFileInfo{name: path, size: int64(len(f.files[path]))}, nil
}

func (f *fakeLocalProvider) List(ctx context.Context, path string) ([]provider.FileInfo, error) {
	return nil, nil
}

func (f *fakeLocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeWriteCloser struct {
	buf     *bytes.Buffer
	corrupt func([]byte) []byte
	onClose func([]byte)
}

func (w fakeWriteCloser) Write(p []byte) (int, error) {
	return w.buf.Write(w.corrupt(p))
}

func (w fakeWriteCloser) Close() error {
	w.onClose(w.buf.Bytes())
	return nil
}

func (f *fakeLocalProvider) OpenWrite(ctx context.Context, path string, _ provider.FileInfo) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	return fakeWriteCloser{
		buf:     buf,
		corrupt: func(p []byte) []byte { return f.maybeCorruptWrite(path, p) },
		onClose: func(b []byte) { f.files[path] = b },
	}, nil
}

func (f *fakeLocalProvider) OpenReadAt(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

func (f *fakeLocalProvider) OpenWriteAt(ctx context.Context, path string, offset int64, _ provider.FileInfo) (io.WriteCloser, error) {
	prefix := append([]byte(nil), f.files[path][:min(offset, int64(len(f.files[path])))]...)
	buf := bytes.NewBuffer(prefix)
	return fakeWriteCloser{
		buf:     buf,
		corrupt: func(p []byte) []byte { return f.maybeCorruptWrite(path, p) },
		onClose: func(b []byte) { f.files[path] = b },
	}, nil
}

func (f *fakeLocalProvider) CreateDirectory(ctx context.Context, path string) error {
	f.dirs[path] = true
	return nil
}

type fakeFileInfo struct {
	name string
	size int64
}

func (f fakeFileInfo) Name() string          { return f.name }
func (f fakeFileInfo) Size() int64           { return f.size }
func (f fakeFileInfo) IsDir() bool           { return false }
func (f fakeFileInfo) ModTime() (t time.Time) { return t }

func newTestTransfer(t *testing.T, local *fakeLocalProvider, remote provider.BlobClient) (*engine.SingleObjectTransfer, *engine.MemoryPool) {
	t.Helper()
	pool := engine.NewMemoryPool(4)
	return &engine.SingleObjectTransfer{
		Local:    local,
		Remote:   remote,
		Pool:     pool,
		Progress: engine.NewProgressTracker(nil),
		Config:   config.Default(),
	}, pool
}

func TestSingleObjectTransferLocalToLocal(t *testing.T) {
	local := newFakeLocalProvider()
	local.files["/src"] = bytes.Repeat([]byte("x"), config.CellSize*2+17)

	transfer, _ := newTestTransfer(t, local, nil)
	transfer.Job = engine.NewJob(
		location.NewLocalFilePath("/src", "src"),
		location.NewLocalFilePath("/dst", "dst"),
		engine.SyncCopy,
		int64(len(local.files["/src"])),
		engine.Callbacks{},
	)

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfer.Job.Status != engine.JobStatusFinished {
		t.Fatalf("Status = %v, want Finished", transfer.Job.Status)
	}
	if !bytes.Equal(local.files["/dst"], local.files["/src"]) {
		t.Fatal("destination content does not match source")
	}
}

func TestSingleObjectTransferVerifyLocalChecksum(t *testing.T) {
	local := newFakeLocalProvider()
	local.files["/src"] = bytes.Repeat([]byte("y"), config.CellSize+5)

	transfer, _ := newTestTransfer(t, local, nil)
	transfer.VerifyLocalChecksum = true
	transfer.Job = engine.NewJob(
		location.NewLocalFilePath("/src", "src"),
		location.NewLocalFilePath("/dst", "dst"),
		engine.SyncCopy,
		int64(len(local.files["/src"])),
		engine.Callbacks{},
	)

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfer.Job.Status != engine.JobStatusFinished {
		t.Fatalf("Status = %v, want Finished", transfer.Job.Status)
	}
}

func TestSingleObjectTransferVerifyLocalChecksumMismatch(t *testing.T) {
	local := newFakeLocalProvider()
	local.files["/src"] = []byte("original content")
	local.corruptWritesTo = "/dst"

	transfer, _ := newTestTransfer(t, local, nil)
	transfer.VerifyLocalChecksum = true
	transfer.Job = engine.NewJob(
		location.NewLocalFilePath("/src", "src"),
		location.NewLocalFilePath("/dst", "dst"),
		engine.SyncCopy,
		int64(len(local.files["/src"])),
		engine.Callbacks{},
	)

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfer.Job.Status != engine.JobStatusFailed {
		t.Fatalf("Status = %v, want Failed on checksum mismatch", transfer.Job.Status)
	}
	if enginerr.KindOf(transfer.Job.LastError) != enginerr.ContentIntegrityCheckFailed {
		t.Fatalf("KindOf = %v, want ContentIntegrityCheckFailed", enginerr.KindOf(transfer.Job.LastError))
	}
}

func TestSingleObjectTransferOverwriteRefused(t *testing.T) {
	local := newFakeLocalProvider()
	local.files["/src"] = []byte("new")
	local.files["/dst"] = []byte("existing")

	transfer, _ := newTestTransfer(t, local, nil)
	no := false
	transfer.Job = engine.NewJob(
		location.NewLocalFilePath("/src", "src"),
		location.NewLocalFilePath("/dst", "dst"),
		engine.SyncCopy,
		3,
		engine.Callbacks{},
	)
	transfer.Job.Overwrite = &no

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfer.Job.Status != engine.JobStatusSkipped {
		t.Fatalf("Status = %v, want Skipped", transfer.Job.Status)
	}
	if string(local.files["/dst"]) != "existing" {
		t.Fatal("destination should be unchanged after a refused overwrite")
	}
}

func TestSingleObjectTransferShouldNotTransfer(t *testing.T) {
	local := newFakeLocalProvider()
	local.files["/src"] = []byte("data")

	transfer, _ := newTestTransfer(t, local, nil)
	transfer.Job = engine.NewJob(
		location.NewLocalFilePath("/src", "src"),
		location.NewLocalFilePath("/dst", "dst"),
		engine.SyncCopy,
		4,
		engine.Callbacks{ShouldTransfer: func(location.Location) bool { return false }},
	)

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfer.Job.Status != engine.JobStatusSkippedDueToShouldNotTransfer {
		t.Fatalf("Status = %v, want SkippedDueToShouldNotTransfer", transfer.Job.Status)
	}
	if _, ok := local.files["/dst"]; ok {
		t.Fatal("destination should not have been written")
	}
}

func TestSingleObjectCheckpointCompaction(t *testing.T) {
	cp := &engine.SingleObjectCheckpoint{}

	if err := cp.Complete(engine.ChunkRange{Offset: 4, Length: 4}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if committed, pending := cp.Snapshot(); committed != 0 || len(pending) != 1 {
		t.Fatalf("Snapshot = (%d, %v), want (0, len 1)", committed, pending)
	}

	if err := cp.Complete(engine.ChunkRange{Offset: 0, Length: 4}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	committed, pending := cp.Snapshot()
	if committed != 8 || len(pending) != 0 {
		t.Fatalf("Snapshot = (%d, %v), want (8, empty)", committed, pending)
	}
}

func TestSingleObjectCheckpointWindowOverflow(t *testing.T) {
	cp := &engine.SingleObjectCheckpoint{}
	var lastErr error
	for i := 0; i < config.MaxCountInTransferWindow+2; i++ {
		lastErr = cp.Complete(engine.ChunkRange{Offset: int64((i + 1) * 4), Length: 4})
	}
	if lastErr == nil {
		t.Fatal("expected an error once the checkpoint window overflows")
	}
	if enginerr.KindOf(lastErr) != enginerr.UncategorizedException {
		t.Fatalf("KindOf = %v, want UncategorizedException", enginerr.KindOf(lastErr))
	}
}

func TestSingleObjectTransferDummyCopyCreatesDirectory(t *testing.T) {
	local := newFakeLocalProvider()

	transfer, _ := newTestTransfer(t, local, nil)
	transfer.Job = engine.NewJob(
		location.NewRemoteBlob("container/dir/", location.BlobTypeBlock, location.StaticCredentials{}, location.RequestOptions{}),
		location.NewLocalFilePath("/dst/dir", "dir"),
		engine.DummyCopy,
		0,
		engine.Callbacks{},
	)

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfer.Job.Status != engine.JobStatusFinished {
		t.Fatalf("Status = %v, want Finished", transfer.Job.Status)
	}
	if !local.dirs["/dst/dir"] {
		t.Fatal("destination directory was not created")
	}
}

func TestResumeRepositionsFailedJob(t *testing.T) {
	j := engine.NewJob(location.Location{}, location.Location{}, engine.SyncCopy, 0, engine.Callbacks{})
	j.Status = engine.JobStatusFailed

	engine.Resume(j)
	if j.Status != engine.JobStatusTransfer {
		t.Fatalf("Status = %v, want Transfer when CopyID is unset", j.Status)
	}

	j.Status = engine.JobStatusFailed
	j.CopyID = "abc"
	engine.Resume(j)
	if j.Status != engine.JobStatusMonitor {
		t.Fatalf("Status = %v, want Monitor when CopyID is set", j.Status)
	}
}
