package engine

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/blobmover/core/config"
	"github.com/blobmover/core/enumerate"
	"github.com/blobmover/core/location"
	"github.com/blobmover/core/token"
)

// NameResolver maps a source entry's relative path onto a destination
// relative path (§4.6's name-resolution rule).
type NameResolver func(relPath string) string

// IdentityResolver is the blob->blob resolver: no transformation.
func IdentityResolver(relPath string) string { return relPath }

// LocalToBlobResolver normalizes a local relative path (OS separators)
// to '/'-separated blob key form.
func LocalToBlobResolver(relPath string) string {
	return filepath.ToSlash(relPath)
}

// BlobToLocalResolver splits a blob relative path on delimiter, drops
// the empty segments a run of delimiters leaves, and joins the rest
// with '/'; DestinationLocationFor converts that to the local separator
// (§4.6).
func BlobToLocalResolver(delimiter string) NameResolver {
	if delimiter == "" {
		delimiter = "/"
	}
	return func(relPath string) string {
		parts := strings.Split(relPath, delimiter)
		kept := parts[:0]
		for _, p := range parts {
			if p != "" {
				kept = append(kept, p)
			}
		}
		return path.Join(kept...)
	}
}

// RunJobFunc executes one file's Job to a terminal status, typically
// a *SingleObjectTransfer bound to shared collaborators (memory pool,
// blob client, local provider). It is the hook point a Scheduler (C8)
// would normally drive; DirectoryTransfer calls it directly, gated by
// its own concurrency semaphore, so the same function works whether
// the caller wires a real Scheduler behind it or runs jobs inline.
type RunJobFunc func(context.Context, *Job) error

// JobFactory builds the Job for one discovered file or
// directory-marker entry.
type JobFactory func(entry enumerate.Entry, destRelPath string) *Job

// ResumeDir names one sub-directory RunHierarchical must (re)schedule
// before it starts walking: either the root of a fresh transfer, or,
// on a resumed one, a directory recovered from the journal's
// ongoing-sub-dir or relative-path lists (§4.7). Resume carries the
// continuation token a directory that was already partway listed left
// behind, so its enumerator picks up mid-level instead of restarting.
type ResumeDir struct {
	RelPath string
	Resume  token.Token

	// discovered marks a ResumeDir produced by this run's own walk
	// (via OnDirDiscovered) rather than supplied as a seed. Only
	// discovered entries pair with OnDirClaimed: seed entries were
	// already drained from the durable queue by the caller that built
	// ResumeSeed, so re-dequeuing them here would desynchronize the
	// journal's read cursor from what is actually still queued.
	discovered bool
}

// DirectoryTransfer orchestrates a directory-shaped transfer, either
// flat (one recursive enumerator, no sub-directory fan-out) or
// hierarchical (producer/consumer over one enumerator per directory
// level). Grounded on engine/walker.go's iterative stack walk, which
// fed a single JobChannel directly from one goroutine; DirectoryTransfer
// generalizes that into the two shapes §4.6 distinguishes, using
// golang.org/x/sync/errgroup for the fan-out/fan-in golang.org/x/sync
// was already an indirect dependency of the pack for.
type DirectoryTransfer struct {
	NameResolver   NameResolver
	MaxConcurrency int // defaults to config.MaxTransferConcurrency
	Progress       *ProgressTracker
	RunJob         RunJobFunc
	NewJob         JobFactory

	// Flat mode.
	Enumerator enumerate.Enumerator

	// Hierarchical mode.
	EnumeratorFactory func(relDir string, resume token.Token) enumerate.Enumerator
	ListingScheduler  *ListingScheduler

	// ResumeSeed pre-populates the pending queue at the start of
	// RunHierarchical instead of the bare root, recovered from a prior
	// run's journal (§4.7). A nil/empty slice means a fresh transfer:
	// only the root ("") is scheduled.
	ResumeSeed []ResumeDir

	// OnDirDiscovered/OnDirClaimed, when set, mirror the pending queue
	// into the journal's sub-dir relative-path list: OnDirDiscovered
	// fires when a child directory is found (before it is scheduled),
	// OnDirClaimed when a previously discovered path is dequeued to be
	// listed, keeping the durable queue's read cursor advancing in step
	// with the in-memory one (§4.7).
	OnDirDiscovered func(relDir string)
	OnDirClaimed    func(relDir string)

	// OnDirStarted/OnDirFinished bracket one directory's listing,
	// mirroring the journal's ongoing-sub-dir list so a directory that
	// was mid-listing when the process died is recovered as a
	// ResumeSeed entry rather than silently dropped. OnDirStarted
	// returns a handle passed back to OnDirFinished and PersistToken.
	OnDirStarted  func(relDir string) uint64
	OnDirFinished func(handle uint64)

	// PersistToken, when set, is called after every entry a listing
	// task yields, so a crash mid-listing loses only entries enumerated
	// since the last persisted continuation token rather than the whole
	// directory level (§4.7's continuation-token slot).
	PersistToken func(handle uint64, tok token.Token)
}

// joinRelPath composes a child enumerator's self-relative path back
// onto the directory level it was listed from, producing a path
// relative to the overall transfer root.
func joinRelPath(relDir, childRelPath string) string {
	if relDir == "" {
		return childRelPath
	}
	return path.Join(relDir, childRelPath)
}

func (dt *DirectoryTransfer) maxConcurrency() int {
	if dt.MaxConcurrency > 0 {
		return dt.MaxConcurrency
	}
	return config.MaxTransferConcurrency
}

// RunFlat drains a single enumerator that yields only files, admitting
// each as a Job under a bounded semaphore. Completion is reached when
// the enumerator is exhausted and every admitted Job has finished
// (§4.6 Flat).
func (dt *DirectoryTransfer) RunFlat(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, dt.maxConcurrency())

	for {
		entry, ok, err := dt.Enumerator.Next(gctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if entry.Kind == enumerate.EntryError {
			return entry.Err
		}
		if entry.Kind != enumerate.EntryFile && entry.Kind != enumerate.EntryDirectoryMarker {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			return g.Wait()
		}

		capturedEntry := entry
		g.Go(func() error {
			defer func() { <-sem }()
			job := dt.NewJob(capturedEntry, dt.NameResolver(capturedEntry.RelPath))
			return dt.RunJob(gctx, job)
		})
	}

	return g.Wait()
}

// RunHierarchical implements the §4.6 producer/consumer loop:
// outstandingListTasks starts at len(ResumeSeed) (1, the root, for a
// fresh transfer), each listing task enumerates one directory level on
// the ListingScheduler, posts discovered sub-directories back onto the
// pending queue, and admits file entries through a semaphore sized
// MaxConcurrency+1 (the +1 accounts for the listing task itself).
// Enumeration is done once outstandingListTasks reaches zero and the
// pending queue drains; RunHierarchical then waits for all admitted
// file transfers before returning.
//
// When OnDirDiscovered/OnDirClaimed/OnDirStarted/OnDirFinished/
// PersistToken are set, the walk mirrors itself into the journal's
// sub-dir relative-path and ongoing-sub-dir lists as it goes, so a
// killed transfer's ResumeSeed (built by the caller from those same
// lists) picks the walk back up mid-tree instead of re-listing the
// root (§4.7).
func (dt *DirectoryTransfer) RunHierarchical(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	fileSem := make(chan struct{}, dt.maxConcurrency()+1)

	seed := dt.ResumeSeed
	if len(seed) == 0 {
		seed = []ResumeDir{{RelPath: ""}}
	}

	pending := make(chan ResumeDir, 4096)
	outstandingListTasks := int64(len(seed))
	for _, rd := range seed {
		pending <- rd
	}

	var firstErr atomic.Value // stores error

	// recordErr also cancels ctx (and so gctx, its child): an uncaught
	// enumeration error must cancel the internal token and drain
	// in-flight work rather than let sibling listing/file tasks keep
	// running against a directory transfer that has already failed
	// (§4.6).
	recordErr := func(err error) {
		if err == nil {
			return
		}
		firstErr.CompareAndSwap(nil, err)
		cancel()
	}

	listOne := func(rd ResumeDir) error {
		var handle uint64
		if dt.OnDirStarted != nil {
			handle = dt.OnDirStarted(rd.RelPath)
		}
		defer func() {
			if dt.OnDirFinished != nil {
				dt.OnDirFinished(handle)
			}
			if atomic.AddInt64(&outstandingListTasks, -1) == 0 {
				close(pending)
			}
		}()

		enumerator := dt.EnumeratorFactory(rd.RelPath, rd.Resume)
		for {
			entry, ok, err := enumerator.Next(gctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			// entry.RelPath is relative to relDir's own enumerator root,
			// not the overall transfer root; join it back on before it
			// crosses the listOne boundary.
			entry.RelPath = joinRelPath(rd.RelPath, entry.RelPath)

			switch entry.Kind {
			case enumerate.EntryDirectory:
				atomic.AddInt64(&outstandingListTasks, 1)
				if dt.OnDirDiscovered != nil {
					dt.OnDirDiscovered(entry.RelPath)
				}
				select {
				case pending <- ResumeDir{RelPath: entry.RelPath, discovered: true}:
				case <-gctx.Done():
					atomic.AddInt64(&outstandingListTasks, -1)
					return gctx.Err()
				}

			case enumerate.EntryFile, enumerate.EntryDirectoryMarker:
				select {
				case fileSem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				entry := entry
				g.Go(func() error {
					defer func() { <-fileSem }()
					job := dt.NewJob(entry, dt.NameResolver(entry.RelPath))
					return dt.RunJob(gctx, job)
				})

			case enumerate.EntryError:
				return entry.Err
			}

			if dt.PersistToken != nil {
				dt.PersistToken(handle, enumerator.ContinuationToken())
			}
		}
	}

	g.Go(func() error {
		for rd := range pending {
			rd := rd
			if rd.discovered && dt.OnDirClaimed != nil {
				dt.OnDirClaimed(rd.RelPath)
			}
			dt.ListingScheduler.Enqueue(func(taskCtx context.Context) error {
				if err := listOne(rd); err != nil {
					recordErr(err)
				}
				return nil
			})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if v := firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// DestinationLocationFor builds the destination Location for one
// resolved relative path under root, following root's own kind (a
// directory transfer's children share the root's addressing scheme).
// Exported for the manager package's JobFactory implementations.
func DestinationLocationFor(root location.Location, destRelPath string) location.Location {
	switch root.Kind() {
	case location.KindLocalDirectoryPath:
		return location.NewLocalFilePath(filepath.Join(root.Path(), filepath.FromSlash(destRelPath)), destRelPath)
	case location.KindRemoteBlobDirectory:
		return location.NewRemoteBlob(
			strings.TrimSuffix(root.ContainerURI(), "/")+"/"+strings.TrimSuffix(root.Prefix(), "/")+"/"+destRelPath,
			location.BlobTypeBlock,
			root.Credentials(),
			root.RequestOptions(),
		)
	default:
		return root
	}
}
