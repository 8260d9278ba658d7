// Package journal implements the C11 stream journal (§4.7): a
// seekable binary file that makes resume deterministic without
// keeping the whole transfer tree in memory. Its layout is bit-exact
// (fixed offsets, fixed-size chunks); no serialization library in the
// pack expresses "byte 256 holds field N" the way this format
// requires, so it is built directly on encoding/binary, the same tool
// enumerate's continuation tokens use for their own fixed framing.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/blobmover/core/internal/logx"
)

// FormatVersion is written into the first 256 bytes of a new journal.
// A real deployment would derive this from the module's build version;
// it is fixed here since the engine ships as a single binary.
const FormatVersion = "github.com/blobmover/core journal v1"

const (
	versionAreaOffset = 0
	versionAreaSize   = 256

	headAreaOffset = 256
	headAreaSize   = 256
	headFieldCount = 11

	baseTransferAreaOffset = 512
	baseTransferAreaEnd    = 40960
	baseTransferAreaSize   = baseTransferAreaEnd - baseTransferAreaOffset
	// baseProgressSize is carved out of the tail of the base transfer
	// area for the root's progress-tracker snapshot; the remainder
	// holds the serialized transfer record itself.
	baseProgressSize = 1024
	baseRecordSize   = baseTransferAreaSize - baseProgressSize

	// chunkAreaOffset is where the extensible region of fixed-size
	// chunks begins.
	chunkAreaOffset = baseTransferAreaEnd
	chunkSize       = 10 * 1024
	chunkLinkSize   = 16 // two little-endian u64 pointers: prev, next
	// chunkProgressSize mirrors baseProgressSize for sub-transfer
	// chunks; the remainder of the chunk (after the link header) holds
	// the sub-transfer record.
	chunkProgressSize = 1024
	chunkRecordSize   = chunkSize - chunkLinkSize - chunkProgressSize

	// continuationTokenOffset is the fixed byte offset, within a
	// sub-directory transfer's chunk, of its list-continuation token
	// (§4.7: "subDir.offset + 4096"). In-place rewrites during
	// enumeration never need to move it.
	continuationTokenOffset = 4096
	continuationTokenSize   = chunkSize - continuationTokenOffset

	// relpathSlotSize packs sub-directory relative-path queue entries:
	// 2048 bytes of payload plus a 128-byte reserve (§4.7).
	relpathSlotSize = 2048 + 128

	chunkNil uint64 = 0 // 0 never denotes a real chunk offset
)

var (
	// ErrMalformed is returned when a journal's on-disk bytes cannot be
	// parsed as this layout.
	ErrMalformed = errors.New("journal: malformed on-disk layout")
	// ErrVersionMismatch is returned by Open when the on-disk format
	// version does not match FormatVersion and validation is enabled.
	ErrVersionMismatch = errors.New("journal: format version mismatch")
)

// LooksEmpty decides whether a freshly-read 256-byte version area
// means "new journal". The source treats any all-zero prefix as
// empty; a legitimate version string could in principle also begin
// with 256 zero bytes (it can't here, since FormatVersion always
// starts with a non-zero byte), so this is exposed as a package
// variable rather than inlined, letting a caller substitute a
// stricter probe if a future format ever needs one (§9 open
// question).
var LooksEmpty = func(versionArea [versionAreaSize]byte) bool {
	for _, b := range versionArea {
		if b != 0 {
			return false
		}
	}
	return true
}

// head is the 11-field journal head (§4.7), kept as u64 offsets into
// the chunk area; chunkNil marks an empty list.
type head struct {
	singleTransferChunkHead uint64
	singleTransferChunkTail uint64
	ongoingSubDirChunkHead  uint64
	ongoingSubDirChunkTail  uint64
	subDirRelpathChunkHead  uint64
	subDirRelpathChunkTail  uint64
	freeChunkHead           uint64
	freeChunkTail           uint64

	subDirRelpathNextWriteOffset  uint64
	subDirRelpathCurrentReadOffset uint64
	preservedChunkCount          uint64
}

func (h *head) encode() []byte {
	buf := make([]byte, headFieldCount*8)
	fields := h.fields()
	for i, v := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:], *v)
	}
	return buf
}

func (h *head) decode(buf []byte) error {
	if len(buf) < headFieldCount*8 {
		return ErrMalformed
	}
	fields := h.fields()
	for i, v := range fields {
		*v = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return nil
}

func (h *head) fields() [headFieldCount]*uint64 {
	return [headFieldCount]*uint64{
		&h.singleTransferChunkHead, &h.singleTransferChunkTail,
		&h.ongoingSubDirChunkHead, &h.ongoingSubDirChunkTail,
		&h.subDirRelpathChunkHead, &h.subDirRelpathChunkTail,
		&h.freeChunkHead, &h.freeChunkTail,
		&h.subDirRelpathNextWriteOffset, &h.subDirRelpathCurrentReadOffset,
		&h.preservedChunkCount,
	}
}

// ListKind selects one of the three logical chunk lists a journal
// maintains, distinct from the free list (§4.7).
type ListKind int

const (
	ListSingleTransfer ListKind = iota
	ListOngoingSubDir
	ListSubDirRelpath
)

func (h *head) headTail(k ListKind) (*uint64, *uint64) {
	switch k {
	case ListSingleTransfer:
		return &h.singleTransferChunkHead, &h.singleTransferChunkTail
	case ListOngoingSubDir:
		return &h.ongoingSubDirChunkHead, &h.ongoingSubDirChunkTail
	default:
		return &h.subDirRelpathChunkHead, &h.subDirRelpathChunkTail
	}
}

// Journal is a resumable checkpoint file laid out per §4.7. All
// mutation goes through j.mu (the "journalLock"), serialising writes;
// list iteration takes the lock per item rather than for the whole
// walk, matching the concurrency note that callers must treat
// iteration as a snapshot-of-each-step.
type Journal struct {
	mu  sync.Mutex
	rw  io.ReadWriteSeeker
	h   head
	log logx.Fields

	// DisableValidation skips the format-version check at Open.
	DisableValidation bool
}

// ResumeInfo is what Open returns when it recovers an existing
// journal: the base transfer's raw record and progress bytes, decoded
// by the caller (engine/checkpoint own the record schema; journal
// only owns bytes and offsets).
type ResumeInfo struct {
	RecordBytes   []byte
	ProgressBytes []byte
}

// Open opens or initializes a journal backed by rw. A freshly-zeroed
// backing store (LooksEmpty on the first 256 bytes) is treated as new:
// Open writes FormatVersion and a zeroed head and returns the journal
// with a nil ResumeInfo — the caller then persists a fresh base transfer with
// WriteBaseTransfer. Otherwise Open reads the version, the head, and
// the base transfer, returning them as ResumeInfo.
func Open(rw io.ReadWriteSeeker, disableValidation bool) (*Journal, *ResumeInfo, error) {
	j := &Journal{rw: rw, DisableValidation: disableValidation}

	var versionArea [versionAreaSize]byte
	if err := j.readAt(versionAreaOffset, versionArea[:]); err != nil && err != io.EOF {
		return nil, nil, err
	}

	if LooksEmpty(versionArea) {
		if err := j.initEmpty(); err != nil {
			return nil, nil, err
		}
		return j, nil, nil
	}

	version := decodeVersionString(versionArea[:])
	if !disableValidation && version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: on-disk %q, expected %q", ErrVersionMismatch, version, FormatVersion)
	}

	// A store can end before the head or base transfer area (a journal
	// whose base transfer was never written); missing bytes read as zeros.
	headBuf := make([]byte, headAreaSize)
	if err := j.readAt(headAreaOffset, headBuf); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, err
	}
	if err := j.h.decode(headBuf); err != nil {
		return nil, nil, err
	}

	record := make([]byte, baseRecordSize)
	if err := j.readAt(baseTransferAreaOffset, record); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, err
	}
	progress := make([]byte, baseProgressSize)
	if err := j.readAt(baseTransferAreaOffset+baseRecordSize, progress); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, err
	}

	logx.Infof(j.log, "journal resumed: format=%q preservedChunks=%d", version, j.h.preservedChunkCount)
	return j, &ResumeInfo{RecordBytes: record, ProgressBytes: progress}, nil
}

func (j *Journal) initEmpty() error {
	var versionArea [versionAreaSize]byte
	copy(versionArea[:], FormatVersion)
	if err := j.writeAt(versionAreaOffset, versionArea[:]); err != nil {
		return err
	}
	j.h = head{}
	if err := j.writeAt(headAreaOffset, j.h.encode()); err != nil {
		return err
	}
	logx.Infof(j.log, "journal initialized: format=%q", FormatVersion)
	return j.flush()
}

func decodeVersionString(area []byte) string {
	n := 0
	for n < len(area) && area[n] != 0 {
		n++
	}
	return string(area[:n])
}

func (j *Journal) readAt(offset int64, buf []byte) error {
	if _, err := j.rw.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(j.rw, buf)
	return err
}

func (j *Journal) writeAt(offset int64, buf []byte) error {
	if _, err := j.rw.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := j.rw.Write(buf)
	return err
}

// flush persists the head. Callers that just mutated payload chunks
// must call this last, per §4.7's "write payload, splice pointers,
// rewrite head, flush" ordering, so a torn write always leaves the
// head as the authoritative view of what's live.
func (j *Journal) flush() error {
	if err := j.writeAt(headAreaOffset, j.h.encode()); err != nil {
		return err
	}
	if f, ok := j.rw.(interface{ Sync() error }); ok {
		return f.Sync()
	}
	return nil
}

// WriteBaseTransfer persists the root transfer's record and progress
// bytes, both zero-padded/truncated to their fixed slot sizes.
func (j *Journal) WriteBaseTransfer(record, progress []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(record) > baseRecordSize {
		return fmt.Errorf("journal: base transfer record of %d bytes exceeds %d-byte slot", len(record), baseRecordSize)
	}
	if len(progress) > baseProgressSize {
		return fmt.Errorf("journal: base transfer progress of %d bytes exceeds %d-byte slot", len(progress), baseProgressSize)
	}

	buf := make([]byte, baseRecordSize)
	copy(buf, record)
	if err := j.writeAt(baseTransferAreaOffset, buf); err != nil {
		return err
	}
	buf = make([]byte, baseProgressSize)
	copy(buf, progress)
	return j.writeAt(baseTransferAreaOffset+baseRecordSize, buf)
}

// allocChunk returns a chunk offset ready for use, drawing from the
// free list first and extending the backing store by one chunk
// otherwise (§4.7 "all allocations draw from free first").
func (j *Journal) allocChunk() (uint64, error) {
	if j.h.freeChunkHead != chunkNil {
		offset := j.h.freeChunkHead
		_, next, err := j.readLink(offset)
		if err != nil {
			return 0, err
		}
		j.h.freeChunkHead = next
		if j.h.freeChunkHead == chunkNil {
			j.h.freeChunkTail = chunkNil
		}
		return offset, nil
	}

	offset := chunkAreaOffset + int64(j.h.preservedChunkCount)*chunkSize
	if err := j.writeAt(offset, make([]byte, chunkSize)); err != nil {
		return 0, err
	}
	j.h.preservedChunkCount++
	return uint64(offset), nil
}

func (j *Journal) freeChunk(offset uint64) error {
	if err := j.writeLink(offset, chunkNil, chunkNil); err != nil {
		return err
	}
	if j.h.freeChunkTail != chunkNil {
		if err := j.setNext(j.h.freeChunkTail, offset); err != nil {
			return err
		}
	} else {
		j.h.freeChunkHead = offset
	}
	j.h.freeChunkTail = offset
	return nil
}

func (j *Journal) readLink(offset uint64) (prev, next uint64, err error) {
	buf := make([]byte, chunkLinkSize)
	if err = j.readAt(int64(offset), buf); err != nil {
		return
	}
	prev = binary.LittleEndian.Uint64(buf[0:8])
	next = binary.LittleEndian.Uint64(buf[8:16])
	return
}

func (j *Journal) writeLink(offset, prev, next uint64) error {
	buf := make([]byte, chunkLinkSize)
	binary.LittleEndian.PutUint64(buf[0:8], prev)
	binary.LittleEndian.PutUint64(buf[8:16], next)
	return j.writeAt(int64(offset), buf)
}

func (j *Journal) setNext(offset, next uint64) error {
	prev, _, err := j.readLink(offset)
	if err != nil {
		return err
	}
	return j.writeLink(offset, prev, next)
}

func (j *Journal) setPrev(offset, prev uint64) error {
	_, next, err := j.readLink(offset)
	if err != nil {
		return err
	}
	return j.writeLink(offset, prev, next)
}

// PushRecord allocates a chunk on list k, writes record and progress
// into it, appends it to the list's tail, and flushes the head. It
// returns the chunk's offset, the stable handle callers persist
// elsewhere (e.g. checkpoint.Index) to address this entry again.
func (j *Journal) PushRecord(k ListKind, record, progress []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(record) > chunkRecordSize {
		return 0, fmt.Errorf("journal: sub-transfer record of %d bytes exceeds %d-byte slot", len(record), chunkRecordSize)
	}
	if len(progress) > chunkProgressSize {
		return 0, fmt.Errorf("journal: sub-transfer progress of %d bytes exceeds %d-byte slot", len(progress), chunkProgressSize)
	}

	offset, err := j.allocChunk()
	if err != nil {
		return 0, err
	}

	hd, tl := j.h.headTail(k)
	if err := j.writeLink(offset, *tl, chunkNil); err != nil {
		return 0, err
	}
	if *tl != chunkNil {
		if err := j.setNext(*tl, offset); err != nil {
			return 0, err
		}
	} else {
		*hd = offset
	}
	*tl = offset

	buf := make([]byte, chunkRecordSize)
	copy(buf, record)
	if err := j.writeAt(int64(offset)+chunkLinkSize, buf); err != nil {
		return 0, err
	}
	buf = make([]byte, chunkProgressSize)
	copy(buf, progress)
	if err := j.writeAt(int64(offset)+chunkLinkSize+chunkRecordSize, buf); err != nil {
		return 0, err
	}

	return offset, j.flush()
}

// RemoveRecord splices offset out of list k and returns its chunk to
// the free list.
func (j *Journal) RemoveRecord(k ListKind, offset uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, next, err := j.readLink(offset)
	if err != nil {
		return err
	}
	hd, tl := j.h.headTail(k)

	if prev != chunkNil {
		if err := j.setNext(prev, next); err != nil {
			return err
		}
	} else {
		*hd = next
	}
	if next != chunkNil {
		if err := j.setPrev(next, prev); err != nil {
			return err
		}
	} else {
		*tl = prev
	}

	if err := j.freeChunk(offset); err != nil {
		return err
	}
	return j.flush()
}

// ReadRecord reads back one chunk's record and progress bytes under
// the lock, held only for this single item (§4.7 concurrency note).
func (j *Journal) ReadRecord(offset uint64) (record, progress []byte, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	record = make([]byte, chunkRecordSize)
	if err = j.readAt(int64(offset)+chunkLinkSize, record); err != nil {
		return
	}
	progress = make([]byte, chunkProgressSize)
	err = j.readAt(int64(offset)+chunkLinkSize+chunkRecordSize, progress)
	return
}

// WriteRecord rewrites a chunk's record and progress bytes in place
// without touching list pointers, the common case of a sub-transfer
// checkpoint update.
func (j *Journal) WriteRecord(offset uint64, record, progress []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(record) > chunkRecordSize || len(progress) > chunkProgressSize {
		return fmt.Errorf("journal: record/progress exceeds chunk slot size")
	}
	buf := make([]byte, chunkRecordSize)
	copy(buf, record)
	if err := j.writeAt(int64(offset)+chunkLinkSize, buf); err != nil {
		return err
	}
	buf = make([]byte, chunkProgressSize)
	copy(buf, progress)
	return j.writeAt(int64(offset)+chunkLinkSize+chunkRecordSize, buf)
}

// Each walks list k under the per-item locking discipline §4.7
// mandates: the lock is acquired and released once per chunk, so a
// concurrent mutation between two calls to fn is a real possibility
// callers must tolerate. fn returning false stops the walk early.
func (j *Journal) Each(k ListKind, fn func(offset uint64, record, progress []byte) bool) error {
	offset := j.headOf(k)
	for offset != chunkNil {
		record, progress, err := j.ReadRecord(offset)
		if err != nil {
			return err
		}
		if !fn(offset, record, progress) {
			return nil
		}
		j.mu.Lock()
		_, next, err := j.readLink(offset)
		j.mu.Unlock()
		if err != nil {
			return err
		}
		offset = next
	}
	return nil
}

func (j *Journal) headOf(k ListKind) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	head, _ := j.h.headTail(k)
	return *head
}

// WriteContinuationToken writes tok's encoded bytes at subDirOffset's
// fixed §4.7 offset (subDir.offset + 4096), so in-place rewrites
// during enumeration never move it.
func (j *Journal) WriteContinuationToken(subDirOffset uint64, encoded []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(encoded) > continuationTokenSize {
		return fmt.Errorf("journal: continuation token of %d bytes exceeds %d-byte slot", len(encoded), continuationTokenSize)
	}
	buf := make([]byte, continuationTokenSize)
	copy(buf, encoded)
	return j.writeAt(int64(subDirOffset)+continuationTokenOffset, buf)
}

// ReadContinuationToken reads back the raw slot written by
// WriteContinuationToken; the caller decodes it with token.Decode.
func (j *Journal) ReadContinuationToken(subDirOffset uint64) ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	buf := make([]byte, continuationTokenSize)
	if err := j.readAt(int64(subDirOffset)+continuationTokenOffset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EnqueueRelPath appends one pending sub-directory relative path onto
// the subDirRelpath queue, packing fixed relpathSlotSize slots several
// per chunk and extending the chunk list as the write cursor runs off
// the end of the current chunk.
func (j *Journal) EnqueueRelPath(relPath string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(relPath) > relpathSlotSize-4 {
		return fmt.Errorf("journal: relative path of %d bytes exceeds %d-byte slot", len(relPath), relpathSlotSize-4)
	}

	if j.h.subDirRelpathNextWriteOffset == 0 || j.slotsRemainingInChunk(j.h.subDirRelpathNextWriteOffset) == 0 {
		offset, err := j.allocChunk()
		if err != nil {
			return err
		}
		tail := j.h.subDirRelpathChunkTail
		if err := j.writeLink(offset, tail, chunkNil); err != nil {
			return err
		}
		if tail != chunkNil {
			if err := j.setNext(tail, offset); err != nil {
				return err
			}
		} else {
			j.h.subDirRelpathChunkHead = offset
		}
		j.h.subDirRelpathChunkTail = offset
		j.h.subDirRelpathNextWriteOffset = offset + chunkLinkSize
		if j.h.subDirRelpathCurrentReadOffset == 0 {
			j.h.subDirRelpathCurrentReadOffset = j.h.subDirRelpathNextWriteOffset
		}
	}

	slot := make([]byte, relpathSlotSize)
	binary.LittleEndian.PutUint32(slot[:4], uint32(len(relPath)))
	copy(slot[4:], relPath)
	if err := j.writeAt(int64(j.h.subDirRelpathNextWriteOffset), slot); err != nil {
		return err
	}
	j.h.subDirRelpathNextWriteOffset += relpathSlotSize
	return j.flush()
}

// DequeueRelPath pops the oldest pending relative path, advancing the
// read cursor across chunk boundaries and returning consumed chunks to
// the free list. ok is false once the read cursor catches the write
// cursor.
func (j *Journal) DequeueRelPath() (relPath string, ok bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.h.subDirRelpathCurrentReadOffset == 0 || j.h.subDirRelpathCurrentReadOffset >= j.h.subDirRelpathNextWriteOffset {
		return "", false, nil
	}

	slot := make([]byte, relpathSlotSize)
	if err = j.readAt(int64(j.h.subDirRelpathCurrentReadOffset), slot); err != nil {
		return "", false, err
	}
	n := binary.LittleEndian.Uint32(slot[:4])
	if int(n) > relpathSlotSize-4 {
		return "", false, ErrMalformed
	}
	relPath = string(slot[4 : 4+n])

	consumedChunk := j.chunkStart(j.h.subDirRelpathCurrentReadOffset)
	j.h.subDirRelpathCurrentReadOffset += relpathSlotSize

	if j.slotsRemainingInChunk(j.h.subDirRelpathCurrentReadOffset) == 0 &&
		j.h.subDirRelpathCurrentReadOffset < j.h.subDirRelpathNextWriteOffset {
		_, next, linkErr := j.readLink(consumedChunk)
		if linkErr != nil {
			return "", false, linkErr
		}
		if j.h.subDirRelpathChunkHead == consumedChunk {
			j.h.subDirRelpathChunkHead = next
		}
		if err := j.freeChunk(consumedChunk); err != nil {
			return "", false, err
		}
		j.h.subDirRelpathCurrentReadOffset = next + chunkLinkSize
	}

	return relPath, true, j.flush()
}

func (j *Journal) chunkStart(offsetWithinChunk uint64) uint64 {
	rel := (offsetWithinChunk - chunkAreaOffset) % chunkSize
	return offsetWithinChunk - rel
}

func (j *Journal) slotsRemainingInChunk(writeOffset uint64) int {
	if writeOffset == 0 {
		return 0
	}
	start := j.chunkStart(writeOffset)
	used := writeOffset - start - chunkLinkSize
	capacity := uint64(chunkSize - chunkLinkSize)
	if used >= capacity {
		return 0
	}
	return int((capacity - used) / relpathSlotSize)
}
