package bptree

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func pageOf(b byte, size uint32) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestWALSetCommitGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test-wal")
	w, existed, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if existed {
		t.Fatal("new wal reported existed=true")
	}

	data := pageOf(0xAB, 4096)
	if err := w.setPage(1, data); err != nil {
		t.Fatalf("setPage: %v", err)
	}

	got, found, err := w.getPage(1)
	if err != nil || !found {
		t.Fatalf("getPage before commit: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("getPage returned wrong bytes before commit")
	}

	if err := w.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if w.committed.len() != 1 {
		t.Fatalf("committed.len() = %d, want 1", w.committed.len())
	}
}

// P9: rollback makes writes invisible.
func TestWALRollbackDiscards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test-wal")
	w, _, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if err := w.setPage(1, pageOf(1, 4096)); err != nil {
		t.Fatalf("setPage: %v", err)
	}
	if err := w.rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, found, _ := w.getPage(1); found {
		t.Fatal("page visible after rollback")
	}
	if w.committed.len() != 0 {
		t.Fatal("rollback promoted a page to committed")
	}
}

// P7: a COMMIT-terminated WAL recovers every preceding write.
func TestWALRecoveryAfterCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-wal")

	w, _, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if err := w.setPage(1, pageOf(1, 4096)); err != nil {
		t.Fatalf("setPage: %v", err)
	}
	if err := w.setPage(2, pageOf(2, 4096)); err != nil {
		t.Fatalf("setPage: %v", err)
	}
	if err := w.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w2, existed, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !existed {
		t.Fatal("reopen reported existed=false")
	}
	if w2.committed.len() != 2 {
		t.Fatalf("recovered committed.len() = %d, want 2", w2.committed.len())
	}
	got, found, err := w2.getPage(2)
	if err != nil || !found {
		t.Fatalf("getPage(2) after recovery: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, pageOf(2, 4096)) {
		t.Fatal("recovered page 2 has wrong contents")
	}
}

// P7: a trailing partial PAGE frame (no COMMIT) is discarded silently.
func TestWALRecoveryDiscardsTrailingPartialFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-wal")

	w, _, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if err := w.setPage(1, pageOf(1, 4096)); err != nil {
		t.Fatalf("setPage: %v", err)
	}
	if err := w.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// Simulate a torn write: append a PAGE frame header with no payload.
	frameHdr := []byte{frameTypePage, 9, 0, 0, 0}
	if _, err := w.f.WriteAt(frameHdr, w.writeOffset); err != nil {
		t.Fatalf("write torn frame: %v", err)
	}
	w.close()

	w2, _, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("reopen after torn frame: %v", err)
	}
	if w2.committed.len() != 1 {
		t.Fatalf("committed.len() = %d, want 1 (torn frame must be silently dropped)", w2.committed.len())
	}
}

func TestWALRecoveryRejectsUnknownFrameTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-wal")

	w, _, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	badFrame := []byte{99, 0, 0, 0, 0}
	if _, err := w.f.WriteAt(badFrame, w.writeOffset); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}
	w.close()

	_, _, err = openWAL(path, 4096, nil)
	if !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile for unknown frame tag, got %v", err)
	}
}

// finish closes the WAL and removes its file.
func TestWALFinishRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-wal")

	w, _, err := openWAL(path, 4096, nil)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if err := w.finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("wal file still exists after finish")
	}
}
