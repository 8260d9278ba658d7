package enumerate

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/provider"
	"github.com/blobmover/core/token"
)

// BlobEnumerator lists one container/prefix a page at a time.
// Grounded on the pagination loop that used to live in provider/s3.go
// (S3's ListObjectsV2 continuation-token protocol) — now driven
// through the BlobClient capability interface instead of talking to
// the AWS SDK directly, so any BlobClient implementation can be
// enumerated the same way (§4.3, §6).
//
// A BlobEnumerator lists exactly one level: pass delimiter "/" and
// treat IsPrefix entries as sub-directories to recurse into with a
// fresh BlobEnumerator (mirrors the local enumerator's hierarchical
// mode one level at a time, §4.6). Pass an empty delimiter for a
// fully recursive, server-side-flattened listing.
type BlobEnumerator struct {
	client       provider.BlobClient
	containerURI string
	rootPrefix   string
	delimiter    string
	opts         Options

	buffer  []provider.BlobEntry
	idx     int
	started bool

	// pageToken is the continuation token that will fetch the next
	// unfetched page; lastPageToken is the token that produced the
	// buffer currently being drained. Re-issuing a fetch with
	// lastPageToken reproduces the same page, which is what lets a
	// continuation token resume mid-page (§4.3).
	pageToken     string
	lastPageToken string
	exhausted     bool
}

// NewBlobEnumerator builds an enumerator over containerURI, restricted
// to keys under rootPrefix.
func NewBlobEnumerator(client provider.BlobClient, containerURI, rootPrefix, delimiter string, opts Options) *BlobEnumerator {
	e := &BlobEnumerator{
		client:       client,
		containerURI: containerURI,
		rootPrefix:   rootPrefix,
		delimiter:    delimiter,
		opts:         opts,
	}
	if !opts.Resume.Empty() {
		if pageToken, idx, err := decodeRemotePage(opts.Resume.Opaque); err == nil {
			e.lastPageToken = pageToken
			e.pageToken = pageToken
			e.idx = idx
			e.started = true // buffer refilled lazily on first Next
		}
	}
	return e
}

func (e *BlobEnumerator) Next(ctx context.Context) (Entry, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		default:
		}

		if e.idx < len(e.buffer) {
			be := e.buffer[e.idx]
			e.idx++

			relPath := strings.TrimPrefix(be.Key, e.rootPrefix)
			relPath = strings.TrimPrefix(relPath, "/")

			if be.IsPrefix {
				return Entry{Kind: EntryDirectory, RelPath: strings.TrimSuffix(relPath, "/"), FullPath: be.Key}, true, nil
			}

			if provider.IsDirectoryMarker(be.Metadata) {
				return Entry{
					Kind:     EntryDirectoryMarker,
					RelPath:  filepath.ToSlash(strings.TrimSuffix(relPath, "/")),
					FullPath: be.Key,
					Metadata: be.Metadata,
				}, true, nil
			}
			if !matchPattern(e.opts.SearchPattern, path.Base(relPath)) {
				continue
			}

			return Entry{
				Kind:     EntryFile,
				RelPath:  filepath.ToSlash(relPath),
				FullPath: be.Key,
				Size:     be.Size,
				Metadata: be.Metadata,
			}, true, nil
		}

		if e.exhausted {
			return Entry{}, false, nil
		}

		fetchToken := e.pageToken
		entries, next, err := e.client.ListBlobsSegmented(ctx, e.containerURI, e.rootPrefix, e.delimiter, fetchToken)
		if err != nil {
			return Entry{Kind: EntryError, Err: enginerr.New(enginerr.FailToEnumerateDirectory, err, "list %q", e.containerURI)}, true, nil
		}

		// A resumed enumerator's first fetch re-reads the page its token
		// was issued on; keep the decoded index into that page.
		if e.buffer != nil || !e.started {
			e.idx = 0
		}
		e.buffer = entries
		e.lastPageToken = fetchToken
		e.pageToken = next
		e.started = true
		if next == "" {
			e.exhausted = true
		}
	}
}

func (e *BlobEnumerator) ContinuationToken() token.Token {
	return token.Token{Source: token.SourceRemote, Opaque: encodeRemotePage(e.lastPageToken, e.idx)}
}

func (e *BlobEnumerator) SearchPattern() string  { return e.opts.SearchPattern }
func (e *BlobEnumerator) Recursive() bool        { return e.opts.Recursive }
func (e *BlobEnumerator) IncludeSnapshots() bool { return e.opts.IncludeSnapshots }
func (e *BlobEnumerator) FollowSymlink() bool    { return e.opts.FollowSymlink }

func encodeRemotePage(pageToken string, idx int) []byte {
	buf := appendString(nil, pageToken)
	buf = appendUint32(buf, uint32(idx))
	return buf
}

func decodeRemotePage(buf []byte) (string, int, error) {
	pageToken, n, err := readString(buf)
	if err != nil {
		return "", 0, err
	}
	buf = buf[n:]
	if len(buf) < 4 {
		return "", 0, token.ErrMalformed
	}
	idx := int(uint32From(buf))
	return pageToken, idx, nil
}

func uint32From(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}
