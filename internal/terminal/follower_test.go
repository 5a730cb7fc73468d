package terminal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vibetunnel/internal/protocol"
)

func writeStream(t *testing.T, dir string, lines ...string) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, "stream-out"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		t.Fatalf("create stream-out: %v", err)
	}
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
	return f
}

func TestEmulatorReplaysExistingEvents(t *testing.T) {
	dir := t.TempDir()
	f := writeStream(t, dir,
		`{"version":2,"width":10,"height":2,"timestamp":1000}`,
		`[0.1,"o","hi"]`,
	)
	f.Close()

	emu, err := Open(dir, "s1", 80, 24, 100, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer emu.Close()

	snap := emu.Snapshot()
	cols := u32(snap[4:8])
	if cols != 10 {
		t.Fatalf("cols after replay = %d, want 10", cols)
	}
}

func TestEmulatorTailsAppendedEvents(t *testing.T) {
	dir := t.TempDir()
	f := writeStream(t, dir, `{"version":2,"width":5,"height":2,"timestamp":1000}`)

	changed := make(chan struct{}, 10)
	emu, err := Open(dir, "s2", 80, 24, 100, func() { changed <- struct{}{} }, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer emu.Close()

	ev := []any{0.2, string(protocol.EventOutput), "AB"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.Fatalf("append event: %v", err)
	}
	f.Sync()

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("tail loop did not observe appended event in time")
	}
}

func TestEmulatorShrinkingStreamIsStreamCorrupt(t *testing.T) {
	dir := t.TempDir()
	f := writeStream(t, dir,
		`{"version":2,"width":5,"height":2,"timestamp":1000}`,
		`[0.1,"o","hello world this is a long line"]`,
	)
	f.Close()

	corrupt := make(chan error, 1)
	emu, err := Open(dir, "s3", 80, 24, 100, nil, nil, func(err error) { corrupt <- err }, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer emu.Close()

	// Truncate the file out from under the follower, simulating an
	// external rewrite smaller than what's already been read.
	if err := os.Truncate(filepath.Join(dir, "stream-out"), 10); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	// Touch the file so a polling watcher (used on platforms without
	// inotify, or if fsnotify setup failed) observes a change even
	// though truncation alone may not always update mtime granularity
	// within the poll interval on every filesystem.
	os.Chtimes(filepath.Join(dir, "stream-out"), time.Now(), time.Now())

	select {
	case err := <-corrupt:
		if err == nil {
			t.Fatalf("expected non-nil StreamCorrupt error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("shrinkage was not reported as StreamCorrupt in time")
	}
}
