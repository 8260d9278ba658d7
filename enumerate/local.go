package enumerate

import (
	"context"
	"encoding/binary"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/blobmover/core/internal/enginerr"
	"github.com/blobmover/core/token"
)

// LocalEnumerator walks a local directory tree, reporting files (and,
// when hierarchical is true, directories too) one level at a time.
// Grounded on engine/walker.go's iterative, stack-based traversal —
// generalized here to be restartable: the stack of not-yet-visited
// directories plus a cursor into the directory currently being
// drained together form the continuation token (§4.3).
type LocalEnumerator struct {
	root          string
	hierarchical  bool
	opts          Options
	stack         []string // pending relative directory paths, LIFO
	current       []os.DirEntry
	currentRelDir string
	currentIdx    int
	started       bool
}

// NewLocalEnumerator builds an enumerator rooted at root. When
// hierarchical is false it reports only files (a "file enumerator",
// §4.3); when true it also reports directories so a hierarchical
// directory transfer can recurse one level at a time (§4.6).
func NewLocalEnumerator(root string, hierarchical bool, opts Options) *LocalEnumerator {
	e := &LocalEnumerator{root: root, hierarchical: hierarchical, opts: opts}
	if !opts.Resume.Empty() {
		if err := e.restoreFrom(opts.Resume); err == nil {
			e.started = true
		}
	}
	return e
}

func (e *LocalEnumerator) ensureStarted() {
	if e.started {
		return
	}
	e.stack = []string{""}
	e.started = true
}

func (e *LocalEnumerator) Next(ctx context.Context) (Entry, bool, error) {
	e.ensureStarted()

	for {
		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		default:
		}

		if e.currentIdx < len(e.current) {
			de := e.current[e.currentIdx]
			e.currentIdx++

			name := de.Name()
			relPath := name
			if e.currentRelDir != "" {
				relPath = path.Join(filepath.ToSlash(e.currentRelDir), name)
			}
			fullPath := filepath.Join(e.root, filepath.FromSlash(relPath))

			isDir := de.IsDir()
			if !isDir && de.Type()&os.ModeSymlink != 0 {
				if !e.opts.FollowSymlink {
					continue
				}
				if info, err := os.Stat(fullPath); err == nil {
					isDir = info.IsDir()
				}
			}

			if isDir {
				if e.hierarchical {
					// One level only: the caller (a hierarchical
					// directory transfer's producer/consumer loop)
					// spawns a fresh Enumerator for this child rather
					// than having this instance recurse into it.
					return Entry{Kind: EntryDirectory, RelPath: relPath, FullPath: fullPath}, true, nil
				}
				if e.opts.Recursive {
					e.stack = append(e.stack, relPath)
				}
				continue
			}

			if !matchPattern(e.opts.SearchPattern, name) {
				continue
			}

			var size int64
			if info, err := de.Info(); err == nil {
				size = info.Size()
			}
			return Entry{Kind: EntryFile, RelPath: relPath, FullPath: fullPath, Size: size}, true, nil
		}

		if len(e.stack) == 0 {
			return Entry{}, false, nil
		}

		next := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]

		dirPath := e.root
		if next != "" {
			dirPath = filepath.Join(e.root, filepath.FromSlash(next))
		}

		entries, err := os.ReadDir(dirPath)
		if err != nil {
			return Entry{Kind: EntryError, RelPath: next, Err: enginerr.New(enginerr.FailToEnumerateDirectory, err, "list %q", dirPath)}, true, nil
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		e.current = entries
		e.currentRelDir = next
		e.currentIdx = 0
	}
}

func matchPattern(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

func (e *LocalEnumerator) ContinuationToken() token.Token {
	buf := encodeLocalStack(e.currentRelDir, e.currentIdx, e.stack)
	return token.Token{Source: token.SourceLocal, Opaque: buf}
}

func (e *LocalEnumerator) restoreFrom(t token.Token) error {
	relDir, idx, stack, err := decodeLocalStack(t.Opaque)
	if err != nil {
		return err
	}

	dirPath := e.root
	if relDir != "" {
		dirPath = filepath.Join(e.root, filepath.FromSlash(relDir))
	}
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	e.current = entries
	e.currentRelDir = relDir
	e.currentIdx = idx
	e.stack = stack
	return nil
}

func (e *LocalEnumerator) SearchPattern() string  { return e.opts.SearchPattern }
func (e *LocalEnumerator) Recursive() bool        { return e.opts.Recursive }
func (e *LocalEnumerator) IncludeSnapshots() bool { return e.opts.IncludeSnapshots }
func (e *LocalEnumerator) FollowSymlink() bool    { return e.opts.FollowSymlink }

// encodeLocalStack serializes the walk's resume state: the relative
// directory currently being drained, how many of its entries have
// already been yielded, and the LIFO stack of directories still
// pending. Re-listing currentRelDir on resume and skipping the first
// idx entries reproduces "exactly the entries that would have
// followed" (§4.3) as long as the tree is unchanged.
func encodeLocalStack(relDir string, idx int, stack []string) []byte {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, relDir)
	buf = appendUint32(buf, uint32(idx))
	buf = appendUint32(buf, uint32(len(stack)))
	for _, s := range stack {
		buf = appendString(buf, s)
	}
	return buf
}

func decodeLocalStack(buf []byte) (relDir string, idx int, stack []string, err error) {
	var n int
	relDir, n, err = readString(buf)
	if err != nil {
		return
	}
	buf = buf[n:]

	if len(buf) < 4 {
		err = token.ErrMalformed
		return
	}
	idx = int(binary.LittleEndian.Uint32(buf[:4]))
	buf = buf[4:]

	if len(buf) < 4 {
		err = token.ErrMalformed
		return
	}
	count := int(binary.LittleEndian.Uint32(buf[:4]))
	buf = buf[4:]

	stack = make([]string, 0, count)
	for i := 0; i < count; i++ {
		var s string
		s, n, err = readString(buf)
		if err != nil {
			return
		}
		buf = buf[n:]
		stack = append(stack, s)
	}
	return
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, token.ErrMalformed
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	if len(buf) < 4+n {
		return "", 0, token.ErrMalformed
	}
	return string(buf[4 : 4+n]), 4 + n, nil
}
