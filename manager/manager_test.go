package manager_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/blobmover/core/checkpoint"
	"github.com/blobmover/core/config"
	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/manager"
	"github.com/blobmover/core/provider"
)

// fakeBlobClient is an in-memory stand-in for provider.BlobClient,
// backed by a flat key->bytes map, grounded on
// enumerate/blob_test.go's fakeBlobClient (embed the interface, override
// only what this test package's transfers exercise).
type fakeBlobClient struct {
	provider.BlobClient

	mu      sync.Mutex
	objects map[string][]byte
	parts   map[string]map[string][]byte
}

func newFakeBlobClient() *fakeBlobClient {
	return &fakeBlobClient{objects: map[string][]byte{}, parts: map[string]map[string][]byte{}}
}

func (f *fakeBlobClient) FetchMetadata(ctx context.Context, blob string) (provider.BlobMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[blob]
	if !ok {
		return provider.BlobMetadata{IsSoftError: true}, nil
	}
	return provider.BlobMetadata{Length: int64(len(data))}, nil
}

func (f *fakeBlobClient) PutBlock(ctx context.Context, blob, blockID string, offset int64, data []byte, md5 []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parts[blob] == nil {
		f.parts[blob] = map[string][]byte{}
	}
	f.parts[blob][blockID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobClient) CommitBlockList(ctx context.Context, blob string, blockIDs []string, overwrite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !overwrite {
		if _, exists := f.objects[blob]; exists {
			return enginerr.Of(enginerr.NotOverwriteExistingDestination, nil)
		}
	}
	var out []byte
	for _, id := range blockIDs {
		out = append(out, f.parts[blob][id]...)
	}
	f.objects[blob] = out
	delete(f.parts, blob)
	return nil
}

func (f *fakeBlobClient) GetRange(ctx context.Context, blob string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[blob]
	if !ok {
		return nil, errors.New("fakeBlobClient: not found")
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return append([]byte(nil), data[offset:end]...), nil
}

func (f *fakeBlobClient) StartServerCopy(ctx context.Context, src, dst string, cond provider.AccessConditionArg) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[src]
	if !ok {
		return "", errors.New("fakeBlobClient: source not found")
	}
	f.objects[dst] = append([]byte(nil), data...)
	return dst, nil
}

func (f *fakeBlobClient) GetCopyStatus(ctx context.Context, blob string) (provider.CopyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.objects[blob]
	return provider.CopyStatus{Status: provider.CopyStatusSuccess, BytesCopied: int64(len(data)), TotalBytes: int64(len(data))}, nil
}

func (f *fakeBlobClient) ListBlobsSegmented(ctx context.Context, containerURI, prefix, delimiter, continuationToken string) ([]provider.BlobEntry, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seenPrefixes := map[string]bool{}
	var entries []provider.BlobEntry
	for key, data := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
		if rest == "" {
			continue
		}
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				sub := strings.TrimSuffix(prefix, "/") + "/" + rest[:idx] + "/"
				if !seenPrefixes[sub] {
					seenPrefixes[sub] = true
					entries = append(entries, provider.BlobEntry{Key: sub, IsPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, provider.BlobEntry{Key: key, Size: int64(len(data))})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, "", nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ParallelOperations = 4
	cfg.MaximumCacheSize = 8 * config.CellSize
	return cfg
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	content := bytes.Repeat([]byte("q"), config.CellSize+13)
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	local := provider.NewLocalProvider("")
	remote := newFakeBlobClient()
	m := manager.NewManager(context.Background(), testConfig(), local, remote)
	defer m.Close()

	if err := m.Upload(context.Background(), srcPath, "container/a.bin", manager.Options{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !bytes.Equal(remote.objects["container/a.bin"], content) {
		t.Fatal("uploaded object content mismatch")
	}

	dstPath := filepath.Join(dir, "back.bin")
	if err := m.Download(context.Background(), "container/a.bin", dstPath, manager.Options{}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("downloaded content mismatch")
	}
}

func TestUploadRefusesOverwriteWhenDisallowed(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(srcPath, []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	local := provider.NewLocalProvider("")
	remote := newFakeBlobClient()
	remote.objects["container/a.bin"] = []byte("existing")

	m := manager.NewManager(context.Background(), testConfig(), local, remote)
	defer m.Close()

	no := false
	err := m.Upload(context.Background(), srcPath, "container/a.bin", manager.Options{Overwrite: &no})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if string(remote.objects["container/a.bin"]) != "existing" {
		t.Fatal("destination should be unchanged after a refused overwrite")
	}
}

func TestCopySingleObject(t *testing.T) {
	remote := newFakeBlobClient()
	remote.objects["container/src.bin"] = []byte("payload")

	m := manager.NewManager(context.Background(), testConfig(), provider.NewLocalProvider(""), remote)
	defer m.Close()

	if err := m.Copy(context.Background(), "container/src.bin", "container/dst.bin", manager.Options{}); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if string(remote.objects["container/dst.bin"]) != "payload" {
		t.Fatal("copied object content mismatch")
	}
}

func TestUploadDirectoryFlat(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":     "aaa",
		"b.txt":     "bbb",
		"sub/c.txt": "ccc",
	}
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	local := provider.NewLocalProvider("")
	remote := newFakeBlobClient()
	m := manager.NewManager(context.Background(), testConfig(), local, remote)
	defer m.Close()

	opts := manager.Options{Recursive: true}
	if err := m.UploadDirectory(context.Background(), root, "container", "prefix", opts); err != nil {
		t.Fatalf("UploadDirectory: %v", err)
	}

	for rel, content := range files {
		key := "container/prefix/" + rel
		if string(remote.objects[key]) != content {
			t.Errorf("object %q = %q, want %q", key, remote.objects[key], content)
		}
	}
}

func TestDownloadDirectoryHierarchical(t *testing.T) {
	// The listing enumerator filters by the bare prefix argument, not
	// containerURI+prefix (containerURI addresses the bucket, which
	// fakeBlobClient — like S3BlobClient — keeps out of the key
	// namespace), so source objects are keyed on "prefix/..." alone.
	remote := newFakeBlobClient()
	remote.objects["prefix/a.txt"] = []byte("aaa")
	remote.objects["prefix/sub/b.txt"] = []byte("bbb")

	local := provider.NewLocalProvider("")
	m := manager.NewManager(context.Background(), testConfig(), local, remote)
	defer m.Close()

	dstDir := t.TempDir()
	opts := manager.Options{Hierarchical: true}
	if err := m.DownloadDirectory(context.Background(), "container", "prefix", dstDir, opts); err != nil {
		t.Fatalf("DownloadDirectory: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	if err != nil || string(got) != "aaa" {
		t.Fatalf("a.txt = %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(dstDir, "sub", "b.txt"))
	if err != nil || string(got) != "bbb" {
		t.Fatalf("sub/b.txt = %q, %v", got, err)
	}
}

func TestCopyDirectory(t *testing.T) {
	// Same bare-prefix convention as TestDownloadDirectoryHierarchical:
	// the source listing filters on srcPrefix alone.
	remote := newFakeBlobClient()
	remote.objects["prefix/a.txt"] = []byte("aaa")
	remote.objects["prefix/sub/b.txt"] = []byte("bbb")

	m := manager.NewManager(context.Background(), testConfig(), provider.NewLocalProvider(""), remote)
	defer m.Close()

	opts := manager.Options{Hierarchical: true}
	if err := m.CopyDirectory(context.Background(), "src", "prefix", "dst", "prefix2", opts); err != nil {
		t.Fatalf("CopyDirectory: %v", err)
	}
	if string(remote.objects["dst/prefix2/a.txt"]) != "aaa" {
		t.Fatal("dst/prefix2/a.txt mismatch")
	}
	if string(remote.objects["dst/prefix2/sub/b.txt"]) != "bbb" {
		t.Fatal("dst/prefix2/sub/b.txt mismatch")
	}
}

func TestUploadFailsWithTransferAlreadyExistsOnDuplicateKey(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(srcPath, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	local := provider.NewLocalProvider("")
	remote := newFakeBlobClient()
	m := manager.NewManager(context.Background(), testConfig(), local, remote)
	defer m.Close()

	key := checkpoint.Key{Source: "file://" + srcPath, Dest: "container/a.bin"}
	if err := m.Checkpoint().Add(key, &checkpoint.Entry{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer m.Checkpoint().Remove(key)

	err := m.Upload(context.Background(), srcPath, "container/a.bin", manager.Options{})
	if err == nil {
		t.Fatal("expected an error for a duplicate concurrent key")
	}
	if enginerr.KindOf(err) != enginerr.TransferAlreadyExists {
		t.Fatalf("KindOf = %v, want TransferAlreadyExists", enginerr.KindOf(err))
	}
}

func TestCopyRejectsEqualSourceAndDestination(t *testing.T) {
	remote := newFakeBlobClient()
	remote.objects["container/a.bin"] = []byte("data")

	m := manager.NewManager(context.Background(), testConfig(), provider.NewLocalProvider(""), remote)
	defer m.Close()

	err := m.Copy(context.Background(), "container/a.bin", "container/a.bin", manager.Options{})
	if err == nil {
		t.Fatal("expected an error when source and destination are equal")
	}
	if enginerr.KindOf(err) != enginerr.SourceAndDestinationLocationEqual {
		t.Fatalf("KindOf = %v, want SourceAndDestinationLocationEqual", enginerr.KindOf(err))
	}
}
