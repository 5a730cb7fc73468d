package activitylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func TestSessionCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "sess-123")
	defer l.Close()

	l.SessionCreated("/bin/bash", 4242)

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var e struct {
		SessionID string `json:"session_id"`
		Event     string `json:"event"`
		Command   string `json:"command"`
		PID       int    `json:"pid"`
		Timestamp string `json:"ts"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.SessionID != "sess-123" {
		t.Errorf("session_id = %q, want sess-123", e.SessionID)
	}
	if e.Event != "session_created" {
		t.Errorf("event = %q, want session_created", e.Event)
	}
	if e.PID != 4242 {
		t.Errorf("pid = %d, want 4242", e.PID)
	}
	if e.Timestamp == "" {
		t.Error("expected ts to be present")
	}
}

func TestZombieHealedAndStreamCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "sess")
	defer l.Close()

	l.ZombieHealed(99)
	l.StreamCorrupt("stream-out shrank")

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "stream_corrupt") {
		t.Errorf("expected second line to be stream_corrupt, got %s", lines[1])
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(false, path, "sess")
	defer l.Close()

	l.SessionCreated("/bin/bash", 1)
	l.SessionExited(0)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected no file to be created when disabled")
	}
}

func TestNopLoggerIsNoop(t *testing.T) {
	l := Nop()
	l.SessionCreated("/bin/bash", 1)
	l.SessionExited(0)
	l.ResizeApplied(80, 24)
	l.SubscriberCountChanged(3)
	if err := l.Close(); err != nil {
		t.Errorf("Close on Nop logger returned error: %v", err)
	}
}
