package journal_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/blobmover/core/journal"
)

// memBackend is an in-memory io.ReadWriteSeeker that grows on demand,
// standing in for the *os.File a real journal is backed by.
type memBackend struct {
	buf []byte
	pos int64
}

func newMemBackend() *memBackend { return &memBackend{} }

func (m *memBackend) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.pos + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek")
	}
	m.pos = pos
	return pos, nil
}

func (m *memBackend) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memBackend) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func TestOpenNewJournalInitializesEmpty(t *testing.T) {
	backend := newMemBackend()
	j, resume, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if resume != nil {
		t.Fatal("expected nil ResumeInfo for a brand new journal")
	}
	if j == nil {
		t.Fatal("expected non-nil Journal")
	}
}

func TestBaseTransferRoundTrip(t *testing.T) {
	backend := newMemBackend()
	j, _, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	record := []byte("root-transfer-record")
	progress := []byte("root-progress-snapshot")
	if err := j.WriteBaseTransfer(record, progress); err != nil {
		t.Fatalf("WriteBaseTransfer: %v", err)
	}

	j2, resume, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if j2 == nil || resume == nil {
		t.Fatal("expected a resumed journal with non-nil ResumeInfo")
	}
	if !bytes.HasPrefix(resume.RecordBytes, record) {
		t.Fatalf("RecordBytes = %q, want prefix %q", resume.RecordBytes, record)
	}
	if !bytes.HasPrefix(resume.ProgressBytes, progress) {
		t.Fatalf("ProgressBytes = %q, want prefix %q", resume.ProgressBytes, progress)
	}
}

func TestVersionMismatchRejectedUnlessDisabled(t *testing.T) {
	backend := newMemBackend()
	// Hand-craft a journal with a foreign version string.
	var versionArea [256]byte
	copy(versionArea[:], "some-other-format v9")
	if _, err := backend.Write(versionArea[:]); err != nil {
		t.Fatal(err)
	}

	if _, _, err := journal.Open(backend, false); err == nil {
		t.Fatal("expected a version mismatch error")
	}

	backend.pos = 0
	if _, _, err := journal.Open(backend, true); err != nil {
		t.Fatalf("Open with DisableValidation: %v", err)
	}
}

func TestPushReadRemoveRecord(t *testing.T) {
	backend := newMemBackend()
	j, _, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	off1, err := j.PushRecord(journal.ListSingleTransfer, []byte("first"), []byte("p1"))
	if err != nil {
		t.Fatalf("PushRecord: %v", err)
	}
	off2, err := j.PushRecord(journal.ListSingleTransfer, []byte("second"), []byte("p2"))
	if err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	var seen []string
	if err := j.Each(journal.ListSingleTransfer, func(offset uint64, record, progress []byte) bool {
		seen = append(seen, string(bytes.TrimRight(record, "\x00")))
		return true
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(seen) != 2 || seen[0] != "first" || seen[1] != "second" {
		t.Fatalf("Each order = %v, want [first second]", seen)
	}

	if err := j.RemoveRecord(journal.ListSingleTransfer, off1); err != nil {
		t.Fatalf("RemoveRecord: %v", err)
	}

	seen = nil
	if err := j.Each(journal.ListSingleTransfer, func(offset uint64, record, progress []byte) bool {
		seen = append(seen, string(bytes.TrimRight(record, "\x00")))
		return true
	}); err != nil {
		t.Fatalf("Each after remove: %v", err)
	}
	if len(seen) != 1 || seen[0] != "second" {
		t.Fatalf("Each after remove = %v, want [second]", seen)
	}

	// Re-allocating should recycle the freed chunk rather than growing.
	off3, err := j.PushRecord(journal.ListSingleTransfer, []byte("third"), []byte("p3"))
	if err != nil {
		t.Fatalf("PushRecord after free: %v", err)
	}
	if off3 != off1 {
		t.Fatalf("expected the freed chunk at %d to be reused, got %d", off1, off3)
	}
	_ = off2
}

func TestContinuationTokenFixedOffset(t *testing.T) {
	backend := newMemBackend()
	j, _, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	offset, err := j.PushRecord(journal.ListOngoingSubDir, []byte("subdir"), []byte("p"))
	if err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	tok := []byte("continuation-payload")
	if err := j.WriteContinuationToken(offset, tok); err != nil {
		t.Fatalf("WriteContinuationToken: %v", err)
	}

	got, err := j.ReadContinuationToken(offset)
	if err != nil {
		t.Fatalf("ReadContinuationToken: %v", err)
	}
	if !bytes.HasPrefix(got, tok) {
		t.Fatalf("ReadContinuationToken = %q, want prefix %q", got, tok)
	}

	// Rewriting the record must not disturb the token slot.
	if err := j.WriteRecord(offset, []byte("subdir-updated"), []byte("p2")); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	got2, err := j.ReadContinuationToken(offset)
	if err != nil {
		t.Fatalf("ReadContinuationToken after rewrite: %v", err)
	}
	if !bytes.Equal(got, got2) {
		t.Fatal("continuation token moved after an in-place record rewrite")
	}
}

func TestRelPathQueueFIFO(t *testing.T) {
	backend := newMemBackend()
	j, _, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	paths := []string{"a", "b/c", "d/e/f", "g"}
	for _, p := range paths {
		if err := j.EnqueueRelPath(p); err != nil {
			t.Fatalf("EnqueueRelPath(%q): %v", p, err)
		}
	}

	for _, want := range paths {
		got, ok, err := j.DequeueRelPath()
		if err != nil {
			t.Fatalf("DequeueRelPath: %v", err)
		}
		if !ok {
			t.Fatalf("DequeueRelPath: queue emptied early, wanted %q", want)
		}
		if got != want {
			t.Fatalf("DequeueRelPath = %q, want %q", got, want)
		}
	}

	if _, ok, err := j.DequeueRelPath(); err != nil || ok {
		t.Fatalf("DequeueRelPath on empty queue = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestRelPathQueueSpansMultipleChunks(t *testing.T) {
	backend := newMemBackend()
	j, _, err := journal.Open(backend, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const n = 50 // enough 2176-byte slots to force at least one chunk rollover
	for i := 0; i < n; i++ {
		if err := j.EnqueueRelPath(fmt.Sprintf("dir-%03d", i)); err != nil {
			t.Fatalf("EnqueueRelPath: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("dir-%03d", i)
		got, ok, err := j.DequeueRelPath()
		if err != nil {
			t.Fatalf("DequeueRelPath: %v", err)
		}
		if !ok || got != want {
			t.Fatalf("DequeueRelPath #%d = (%q, %v), want %q", i, got, ok, want)
		}
	}
}
