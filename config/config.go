// Package config holds the process-wide configuration record consumed
// by the engine constructor. Per the "global singletons become
// explicit parameters" design note, nothing here is a package-level
// var; the top-level cmd/ binary is the only place a *Config is held
// for the lifetime of a process.
package config

import (
	"runtime"
	"time"
)

const (
	// CellSize is the fixed memory-pool cell size (§4.1).
	CellSize = 4 * 1024 * 1024

	// MemoryCacheMultiplier and MemoryCacheMaximum bound the memory
	// pool's cell ceiling as a function of available physical memory
	// (§4.1).
	MemoryCacheMultiplier = 0.5
	MemoryCacheMaximum64  = 2 * 1024 * 1024 * 1024 // 64-bit
	MemoryCacheMaximum32  = 512 * 1024 * 1024       // 32-bit

	// MemoryManagerCellsMaximum is the absolute cap on pool cells
	// regardless of available memory (§4.1).
	MemoryManagerCellsMaximum = 8192

	// DefaultListingConcurrency and DefaultListingConcurrencyLocal are
	// the directory-listing scheduler's defaults (§4.4, §6).
	DefaultListingConcurrency      = 6
	DefaultListingConcurrencyLocal = 4

	// DefaultBlockSize, MinBlockSize, MaxBlockSize bound §6's
	// BlockSize option.
	DefaultBlockSize = 8 * 1024 * 1024
	MinBlockSize     = 4 * 1024 * 1024
	MaxBlockSize     = 100 * 1024 * 1024

	// Numeric limits enforced at job construction (§4.5).
	BlockBlobMaxBlocks     = 50000
	BlockBlobMaxBlockSize  = 100 * 1024 * 1024
	AppendBlobMaxBlocks    = 50000
	AppendBlobMaxBlockSize = 4 * 1024 * 1024
	SinglePutThreshold     = 256 * 1024 * 1024
	PageRangeScanSpan      = 148 * 1024 * 1024

	// MaxCountInTransferWindow bounds the single-object checkpoint's
	// sliding window of outstanding chunk ranges (§4.5, GLOSSARY).
	MaxCountInTransferWindow = 128

	// Monitor poll back-off bounds (§4.5).
	CopyStatusRefreshMinWaitTime         = 100 * time.Millisecond
	CopyStatusRefreshMaxWaitTime         = 5000 * time.Millisecond
	CopyStatusRefreshWaitTimeMaxRequests = 100
	CopyApproachingFinishThresholdBytes  = 500 * 1024 * 1024

	// CopySASLifeTime bounds generateReadSas lifetimes (§6).
	CopySASLifeTime = 7 * 24 * time.Hour

	// RelativePathLimit is enforced before enqueue (§6).
	RelativePathLimit = 1024

	// UserAgent identifies the engine to the remote store (§6).
	UserAgent = "DataMovement/1.0"

	// MaxTransferConcurrency is the file-transfer semaphore size for a
	// hierarchical directory transfer, before the +1 for the listing
	// task itself (§4.6).
	MaxTransferConcurrency = 32
)

// Config is the process-wide configuration record (§6's Configuration
// table plus the sizing formulas of §4.1/§4.4).
type Config struct {
	// ParallelOperations is the scheduler's target concurrency.
	ParallelOperations int

	// MaxListingConcurrency caps the directory-listing scheduler.
	MaxListingConcurrency int

	// BlockSize is the default block-blob chunk size; auto-tuned per
	// object per §4.5 when a single object needs a larger block.
	BlockSize int64

	// MaximumCacheSize overrides the memory pool's cell-count ceiling
	// when non-zero; otherwise the §4.1 formula applies.
	MaximumCacheSize int64

	// UpdateServiceTimeout overrides per-RPC timeouts when non-zero.
	UpdateServiceTimeout time.Duration

	// StallWindow is how long Monitor may see no BytesCopied progress
	// before raising TransferStuck (§9 Open Questions: not specified
	// by any constant in the source, so recorded here with a safe
	// default).
	StallWindow time.Duration

	// DisableJournalValidation skips the journal's format-version
	// compatibility check at Open (§4.7).
	DisableJournalValidation bool
}

// Default returns a Config sized from the running process the way
// §4.1 and §4.4 specify: ParallelOperations proportional to CPU count
// bounded by what the memory ceiling can sustain at the chunk size,
// listing concurrency at its local/remote default, and a stall window
// derived from the Monitor back-off ceiling.
func Default() *Config {
	cpus := runtime.NumCPU()
	parallel := cpus * 8
	if parallel < 1 {
		parallel = 1
	}

	ceilingCells := maxCells()
	if maxByCPU := ceilingCells; parallel > maxByCPU && maxByCPU > 0 {
		parallel = maxByCPU
	}

	return &Config{
		ParallelOperations:    parallel,
		MaxListingConcurrency: DefaultListingConcurrency,
		BlockSize:             DefaultBlockSize,
		MaximumCacheSize:      0,
		UpdateServiceTimeout:  0,
		StallWindow:           stallWindowDefault(),
	}
}

func stallWindowDefault() time.Duration {
	min := 3 * CopyStatusRefreshMaxWaitTime
	if min < 30*time.Second {
		return 30 * time.Second
	}
	return min
}

// maxCells computes the §4.1 ceiling in units of CellSize-sized cells
// from the process's reported available memory, capped by
// MemoryManagerCellsMaximum.
func maxCells() int {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	// runtime.MemStats has no direct "available physical memory"
	// figure; Sys is the closest proxy available without a platform
	// specific syscall, matching how a portable, dependency-free
	// estimate must work.
	available := mem.Sys
	if available == 0 {
		available = 4 * 1024 * 1024 * 1024
	}

	budget := uint64(float64(available) * MemoryCacheMultiplier)

	ceiling := uint64(MemoryCacheMaximum64)
	if is32Bit() {
		ceiling = uint64(MemoryCacheMaximum32)
	}
	if budget > ceiling {
		budget = ceiling
	}

	cells := int(budget / CellSize)
	if cells > MemoryManagerCellsMaximum {
		cells = MemoryManagerCellsMaximum
	}
	if cells < 1 {
		cells = 1
	}
	return cells
}

func is32Bit() bool {
	return ^uint(0)>>32 == 0
}

// ListingConcurrency returns the directory-listing scheduler size for
// a transfer where localEndpoint reports whether either endpoint is
// local (§4.4: "4 when either endpoint is local").
func (c *Config) ListingConcurrency(localEndpoint bool) int {
	if c.MaxListingConcurrency > 0 {
		if localEndpoint && c.MaxListingConcurrency > DefaultListingConcurrencyLocal {
			return DefaultListingConcurrencyLocal
		}
		return c.MaxListingConcurrency
	}
	if localEndpoint {
		return DefaultListingConcurrencyLocal
	}
	return DefaultListingConcurrency
}

// CellCeiling returns the pool's cell-count ceiling honoring
// MaximumCacheSize when set.
func (c *Config) CellCeiling() int {
	if c.MaximumCacheSize > 0 {
		cells := int(c.MaximumCacheSize / CellSize)
		if cells > MemoryManagerCellsMaximum {
			cells = MemoryManagerCellsMaximum
		}
		if cells < 1 {
			cells = 1
		}
		return cells
	}
	return maxCells()
}

// BlockSizeFor auto-tunes the block size for an object of the given
// size to the smallest multiple of 4 MiB >= ceil(size/50000) and
// <= 100 MiB (§4.5).
func BlockSizeFor(size int64) int64 {
	if size <= 0 {
		return MinBlockSize
	}
	needed := (size + BlockBlobMaxBlocks - 1) / BlockBlobMaxBlocks
	blocks := (needed + MinBlockSize - 1) / MinBlockSize
	block := blocks * MinBlockSize
	if block < MinBlockSize {
		block = MinBlockSize
	}
	if block > MaxBlockSize {
		block = MaxBlockSize
	}
	return block
}
