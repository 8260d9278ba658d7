package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/enumerate"
	"github.com/blobmover/core/location"
	"github.com/blobmover/core/token"
)

func buildDirTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := []string{"a.txt", "b.txt", "sub/c.txt", "sub/nested/d.txt"}
	for _, f := range files {
		full := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestDirectoryTransferFlat(t *testing.T) {
	root := buildDirTree(t)

	var mu sync.Mutex
	var seen []string

	dt := &engine.DirectoryTransfer{
		Enumerator:     enumerate.NewLocalEnumerator(root, false, enumerate.Options{Recursive: true}),
		NameResolver:   engine.LocalToBlobResolver,
		MaxConcurrency: 4,
		NewJob: func(entry enumerate.Entry, destRelPath string) *engine.Job {
			return engine.NewJob(
				location.NewLocalFilePath(entry.FullPath, entry.RelPath),
				location.NewLocalFilePath(destRelPath, destRelPath),
				engine.SyncCopy, entry.Size, engine.Callbacks{},
			)
		},
		RunJob: func(ctx context.Context, j *engine.Job) error {
			mu.Lock()
			seen = append(seen, j.Source.RelPath())
			mu.Unlock()
			j.Status = engine.JobStatusFinished
			return nil
		},
	}

	if err := dt.RunFlat(context.Background()); err != nil {
		t.Fatalf("RunFlat: %v", err)
	}

	sort.Strings(seen)
	want := []string{"a.txt", "b.txt", "sub/c.txt", "sub/nested/d.txt"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestDirectoryTransferHierarchical(t *testing.T) {
	root := buildDirTree(t)

	var mu sync.Mutex
	var seen []string

	ls := engine.NewListingScheduler(context.Background(), 64, 3)
	defer ls.Stop()

	dt := &engine.DirectoryTransfer{
		NameResolver:     engine.LocalToBlobResolver,
		MaxConcurrency:   4,
		ListingScheduler: ls,
		EnumeratorFactory: func(relDir string, resume token.Token) enumerate.Enumerator {
			return enumerate.NewLocalEnumerator(filepath.Join(root, filepath.FromSlash(relDir)), true, enumerate.Options{Resume: resume})
		},
		NewJob: func(entry enumerate.Entry, destRelPath string) *engine.Job {
			return engine.NewJob(
				location.NewLocalFilePath(entry.FullPath, entry.RelPath),
				location.NewLocalFilePath(destRelPath, destRelPath),
				engine.SyncCopy, entry.Size, engine.Callbacks{},
			)
		},
		RunJob: func(ctx context.Context, j *engine.Job) error {
			mu.Lock()
			seen = append(seen, j.Source.RelPath())
			mu.Unlock()
			j.Status = engine.JobStatusFinished
			return nil
		},
	}

	if err := dt.RunHierarchical(context.Background()); err != nil {
		t.Fatalf("RunHierarchical: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Fatalf("seen = %v, want 4 files", seen)
	}
}
