// Package enumerate implements C5: lazy, restartable sequences of
// entries from a source root. It generalizes the teacher's iterative,
// stack-based directory walk (engine/walker.go) and the pagination
// loop in provider/s3.go's List into a shared Entry/Enumerator shape
// that both local and remote roots produce, with a continuation token
// (token.Token) that can be persisted mid-walk and resumed exactly
// (§4.3).
package enumerate

import (
	"context"

	"github.com/blobmover/core/token"
)

// EntryKind discriminates the four shapes an enumerator can yield
// (§4.3).
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
	EntryError

	// EntryDirectoryMarker is a zero-byte blob whose metadata marks it
	// as a directory placeholder (hdi_isfolder=true, §6). Unlike
	// EntryDirectory, it never spawns a fresh Enumerator to recurse
	// into: it materializes as a DummyCopy creating an empty local
	// directory and nothing more (§3, §6).
	EntryDirectoryMarker
)

// Entry is one item produced by an Enumerator.
type Entry struct {
	Kind EntryKind

	// RelPath is always set: the path relative to the enumeration
	// root, using '/' separators regardless of source (local paths are
	// normalized on the way out, per §4.6's name-resolution rule).
	RelPath string

	// FullPath is set for EntryFile/EntryDirectory: the source's own
	// addressing scheme (a local filesystem path or a blob key).
	FullPath string

	// Size is set for EntryFile when known up front (local stat,
	// remote listing metadata already carries it).
	Size int64

	// Metadata carries remote blob metadata when the source is a blob
	// directory (used to detect directory-marker blobs, §6).
	Metadata map[string]string

	// Err is set for EntryError.
	Err error
}

// Enumerator produces entries lazily and can resume mid-walk from a
// previously issued ContinuationToken. Implementations report entries
// within one directory level in lexicographic order and, for
// hierarchical enumeration, level order overall (§4.3).
type Enumerator interface {
	// Next advances to and returns the next entry. It returns
	// (Entry{}, false, nil) when enumeration is exhausted.
	Next(ctx context.Context) (Entry, bool, error)

	// ContinuationToken returns a resume point capturing exactly the
	// entries not yet yielded by Next.
	ContinuationToken() token.Token

	// SearchPattern, Recursive, IncludeSnapshots, and FollowSymlink
	// mirror the enumerator options of §4.3.
	SearchPattern() string
	Recursive() bool
	IncludeSnapshots() bool
	FollowSymlink() bool
}

// Options configures an Enumerator at construction (§4.3).
type Options struct {
	SearchPattern    string
	Recursive        bool
	IncludeSnapshots bool
	FollowSymlink    bool
	Delimiter        string // remote enumeration only; default "/"
	Resume           token.Token
}
