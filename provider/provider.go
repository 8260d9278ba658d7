// Package provider supplies the engine's concrete collaborators: a
// local-filesystem Provider (kept from the teacher almost unchanged)
// and a BlobClient implementation over S3, standing in for the
// out-of-scope remote wire protocol (§1, §6).
package provider

import (
	"context"
	"io"
	"time"
)

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Provider represents a local-filesystem-shaped storage backend, used
// by the enumerate and engine packages to read/write local endpoints.
// The remote side of a transfer goes through BlobClient (§6) instead,
// since the wire protocol there is a capability contract, not a
// filesystem-shaped tree.
type Provider interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens a file for streaming writes, applying metadata if supported.
	OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error)

	// OpenReadAt opens a file for streaming reads starting at offset,
	// the resume-aware counterpart to OpenRead a job repositions with
	// once its checkpoint has a nonzero committed-through offset (§4.5).
	OpenReadAt(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// OpenWriteAt opens a file for writes starting at offset, applying
	// metadata if supported. offset == 0 truncates any existing file,
	// matching OpenWrite; offset > 0 preserves the existing prefix and
	// seeks past it, so a resumed transfer never re-lays down bytes it
	// already committed.
	OpenWriteAt(ctx context.Context, path string, offset int64, metadata FileInfo) (io.WriteCloser, error)

	// CreateDirectory creates path (and any missing parents) with no
	// content, the DummyCopy materialization a directory-marker entry
	// downloads as (§3, §6). A no-op if path already exists as a
	// directory.
	CreateDirectory(ctx context.Context, path string) error
}
