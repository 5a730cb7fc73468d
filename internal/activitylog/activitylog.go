// Package activitylog writes a JSONL sidecar of session lifecycle events
// (created, exited, zombie-healed, stream-corrupt); it is the engine's only
// logging channel. One JSON object per line,
// appended with the same open-append-write idiom used for sibling
// session metadata files.
package activitylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends JSON lines describing session lifecycle events to a file.
// A disabled or Nop Logger silently discards everything.
type Logger struct {
	mu        sync.Mutex
	f         *os.File
	sessionID string
	enabled   bool
}

// New opens (creating as needed) the log file at path and returns a Logger
// scoped to sessionID. When enabled is false, the returned Logger is a
// no-op and no file is created.
func New(enabled bool, path, sessionID string) *Logger {
	if !enabled {
		return &Logger{enabled: false}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Logger{enabled: false}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &Logger{enabled: false}
	}
	return &Logger{f: f, sessionID: sessionID, enabled: true}
}

// Nop returns a Logger that discards everything and owns no file handle.
func Nop() *Logger {
	return &Logger{enabled: false}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}

func (l *Logger) write(fields map[string]any) {
	if l == nil || !l.enabled || l.f == nil {
		return
	}
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["session_id"] = l.sessionID

	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Write(data)
}

// SessionCreated records that a session's PTY and stream file were set up.
func (l *Logger) SessionCreated(command string, pid int) {
	l.write(map[string]any{
		"event":   "session_created",
		"command": command,
		"pid":     pid,
	})
}

// SessionExited records the exit code the Host observed.
func (l *Logger) SessionExited(exitCode int) {
	l.write(map[string]any{
		"event":     "session_exited",
		"exit_code": exitCode,
	})
}

// ZombieHealed records that the Manager rewrote a dead session's status.
func (l *Logger) ZombieHealed(pid int) {
	l.write(map[string]any{
		"event": "zombie_healed",
		"pid":   pid,
	})
}

// StreamCorrupt records that the emulator abandoned a stream file.
func (l *Logger) StreamCorrupt(reason string) {
	l.write(map[string]any{
		"event":  "stream_corrupt",
		"reason": reason,
	})
}

// ResizeApplied records a successful resize.
func (l *Logger) ResizeApplied(cols, rows int) {
	l.write(map[string]any{
		"event": "resize_applied",
		"cols":  cols,
		"rows":  rows,
	})
}

// SubscriberCountChanged records the bus's live subscriber count for a
// session after a Subscribe/Unsubscribe.
func (l *Logger) SubscriberCountChanged(count int) {
	l.write(map[string]any{
		"event": "subscriber_count_changed",
		"count": count,
	})
}
