package provider

import (
	"context"
	"time"
)

// BlobMetadata is the result of fetchMetadata (§6).
type BlobMetadata struct {
	Length      int64
	ContentMD5  []byte
	BlobType    string
	Metadata    map[string]string
	IsSoftError bool // true when a 403/404 on a container-level probe should be treated as "not found", not fatal
}

// CopyStatus is the result of getCopyStatus (§6).
type CopyStatus struct {
	Status            CopyStatusValue
	BytesCopied       int64
	TotalBytes        int64
	StatusDescription string
}

// CopyStatusValue enumerates the terminal/non-terminal states a
// service-side copy can be polled into.
type CopyStatusValue int

const (
	CopyStatusPending CopyStatusValue = iota
	CopyStatusSuccess
	CopyStatusFailed
	CopyStatusAborted
)

// BlobEntry is one row of a listBlobsSegmented page.
type BlobEntry struct {
	Key          string
	Size         int64
	LastModified time.Time
	IsPrefix     bool // true for a common-prefix "directory" row
	Metadata     map[string]string
}

// BlobClient is the capability the engine consumes from the remote
// store collaborator (§6). The concrete wire protocol — auth, retry,
// the exact REST/RPC shape — is out of scope (§1); this interface is
// the contract a concrete implementation like S3BlobClient satisfies.
type BlobClient interface {
	// FetchMetadata treats 403/404 from container-level probes as
	// soft failures (BlobMetadata.IsSoftError), not errors.
	FetchMetadata(ctx context.Context, blobOrContainer string) (BlobMetadata, error)

	// PutBlock uploads one block of a multi-part upload. Idempotent
	// per blockID.
	PutBlock(ctx context.Context, blob, blockID string, offset int64, data []byte, md5 []byte) error

	// CommitBlockList finalizes a multi-part upload from previously
	// PutBlock'd block IDs, in order.
	CommitBlockList(ctx context.Context, blob string, blockIDs []string, overwrite bool) error

	// PutPageOrAppend writes a whole-object payload for page/append
	// blob semantics (§11: modeled as a whole-object put against S3,
	// which has no page/append primitive of its own).
	PutPageOrAppend(ctx context.Context, blob string, offset int64, data []byte) error

	// GetRange reads length bytes starting at offset.
	GetRange(ctx context.Context, blob string, offset, length int64) ([]byte, error)

	// StartServerCopy issues a server-side copy and returns its copy id.
	StartServerCopy(ctx context.Context, src, dst string, cond AccessConditionArg) (string, error)

	// GetCopyStatus polls the status of a copy started with StartServerCopy.
	GetCopyStatus(ctx context.Context, blob string) (CopyStatus, error)

	// GenerateReadSAS produces a temporary read URL for src valid for
	// lifetime (§6, CopySASLifeTimeInMinutes).
	GenerateReadSAS(ctx context.Context, blob string, lifetime time.Duration) (string, error)

	// ListBlobsSegmented pages through a container/prefix. An empty
	// continuationToken starts from the beginning; the returned
	// nextToken is empty when the listing is exhausted.
	ListBlobsSegmented(ctx context.Context, containerURI, prefix, delimiter, continuationToken string) ([]BlobEntry, string, error)
}

// AccessConditionArg carries the precondition fields StartServerCopy
// needs, decoupled from the location package to avoid an import
// cycle.
type AccessConditionArg struct {
	IfMatchETag    string
	IfNoneMatchAll bool
}

// DirectoryMarkerMetadataKey is the case-insensitive metadata key
// marking a zero-byte blob as a directory placeholder (§6).
const DirectoryMarkerMetadataKey = "hdi_isfolder"

// IsDirectoryMarker reports whether metadata carries the directory
// marker flag, case-insensitively per §6.
func IsDirectoryMarker(metadata map[string]string) bool {
	for k, v := range metadata {
		if equalFold(k, DirectoryMarkerMetadataKey) && equalFold(v, "true") {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
