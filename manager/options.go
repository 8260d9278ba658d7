package manager

import (
	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/location"
)

// Options carries the per-call knobs §4.8's entry points accept,
// generalizing cmd/gfast/main.go's flag-derived call into a value type
// so the manager package has no dependency on how a caller gathers
// them (flags, an RPC request, a config file).
type Options struct {
	// Overwrite, when non-nil, fixes the overwrite decision instead of
	// consulting ShouldOverwrite (§4.5's job-level "overwrite?" option).
	Overwrite *bool

	// ShouldOverwrite is consulted per (source, dest) pair when Overwrite
	// is nil, the dynamic counterpart engine.Callbacks.ShouldOverwrite
	// exposes (§6). A nil ShouldOverwrite with a nil Overwrite defaults
	// to always overwriting, matching the engine's own default.
	ShouldOverwrite func(src, dst location.Location) bool

	// ShouldTransfer and ValidatePath are consulted per source entry
	// (§3 TransferContext, §4.5).
	ShouldTransfer func(src location.Location) bool
	ValidatePath   func(src location.Location) error

	// ProgressHandler receives debounced Snapshot reports for this
	// transfer (§4.2).
	ProgressHandler func(engine.Snapshot)

	// RequireContentMD5 mirrors the destination's StoreBlobContentMD5
	// requirement (§4.5).
	RequireContentMD5 bool

	// VerifyLocalChecksum enables the §12 optional CRC64 post-transfer
	// integrity check for legs that turn out to be local-to-local. No
	// effect on any leg with a remote endpoint.
	VerifyLocalChecksum bool

	// BlobType selects the destination blob flavor for a new remote
	// object; defaults to BlobTypeBlock when unset.
	BlobType location.BlobType

	// Recursive, SearchPattern, and Delimiter configure the source
	// enumerator for a directory transfer (§4.3). Recursive does not
	// change what is transferred: a flat transfer always walks the whole
	// tree and a hierarchical one always descends into every
	// sub-directory.
	Recursive     bool
	SearchPattern string
	Delimiter     string

	// Hierarchical selects the §4.6 producer/consumer traversal instead
	// of a single flat enumerator.
	Hierarchical bool

	// MaxConcurrency overrides config.MaxTransferConcurrency for one
	// directory transfer's file-admission semaphore.
	MaxConcurrency int
}

// shouldOverwriteFor resolves opts.ShouldOverwrite to the callback
// engine.Callbacks expects, defaulting to "always overwrite" when the
// caller supplied neither a dynamic callback nor Overwrite
// short-circuits the decision earlier in the Job (§4.5, §6).
func shouldOverwriteFor(opts Options) func(location.Location, location.Location) bool {
	if opts.ShouldOverwrite != nil {
		return opts.ShouldOverwrite
	}
	return func(location.Location, location.Location) bool { return true }
}
