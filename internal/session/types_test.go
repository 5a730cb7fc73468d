package session

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriteInfoReadInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	code := 0
	info := Info{
		ID:         "abc123",
		Name:       "bash (~/work)",
		Command:    []string{"/bin/bash"},
		WorkingDir: "/home/user/work",
		Status:     StatusExited,
		ExitCode:   &code,
		StartedAt:  time.Now().UTC().Truncate(time.Second),
		PID:        4242,
		Cols:       80,
		Rows:       24,
	}

	if err := WriteInfo(dir, info); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}

	got, err := ReadInfo(dir)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if got.ID != info.ID || got.Name != info.Name || got.PID != info.PID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, info)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want pointer to 0", got.ExitCode)
	}
	if !got.StartedAt.Equal(info.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, info.StartedAt)
	}
}

func TestWriteInfoNoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteInfo(dir, Info{ID: "x"}); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, "session.json.tmp-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover temp files, found %v", entries)
	}
}

func TestDefaultNameNoCommand(t *testing.T) {
	name := DefaultName(nil, "/tmp/work")
	if name == "" {
		t.Fatal("expected non-empty name")
	}
}

func TestDefaultNameUsesCommandBasename(t *testing.T) {
	name := DefaultName([]string{"/usr/bin/bash", "-l"}, "/tmp/proj")
	if name == "" {
		t.Fatal("expected non-empty name")
	}
	if got, want := name[:4], "bash"; got != want {
		t.Errorf("name = %q, want it to start with %q", name, want)
	}
}

func TestPathHelpers(t *testing.T) {
	dir := "/control/abc"
	if JSONPath(dir) != filepath.Join(dir, "session.json") {
		t.Errorf("JSONPath mismatch")
	}
	if StreamPath(dir) != filepath.Join(dir, "stream-out") {
		t.Errorf("StreamPath mismatch")
	}
	if StdinPath(dir) != filepath.Join(dir, "stdin") {
		t.Errorf("StdinPath mismatch")
	}
	if ControlPath(dir) != filepath.Join(dir, "control") {
		t.Errorf("ControlPath mismatch")
	}
}
