// Package session implements the directory-backed session registry: the
// on-disk Session record, atomic session.json writes, and the Manager
// that creates, lists, and heals sessions.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Status is one of the three monotonic session lifecycle states.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// Info is the persistent session record stored as session.json.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Command     []string  `json:"command"`
	WorkingDir  string    `json:"workingDir"`
	Status      Status    `json:"status"`
	ExitCode    *int      `json:"exitCode,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	PID         int       `json:"pid"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
	ControlPath string    `json:"controlPath"`
}

// Filenames in a per-session directory.
const (
	fileSessionJSON = "session.json"
	fileStreamOut   = "stream-out"
	fileStdin       = "stdin"
	fileControl     = "control"
	fileLock        = ".session.json.lock"
)

func JSONPath(dir string) string    { return filepath.Join(dir, fileSessionJSON) }
func StreamPath(dir string) string  { return filepath.Join(dir, fileStreamOut) }
func StdinPath(dir string) string   { return filepath.Join(dir, fileStdin) }
func ControlPath(dir string) string { return filepath.Join(dir, fileControl) }
func lockPath(dir string) string    { return filepath.Join(dir, fileLock) }

// ReadInfo reads and decodes session.json from dir.
func ReadInfo(dir string) (Info, error) {
	data, err := os.ReadFile(JSONPath(dir))
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("session: decode %s: %w", JSONPath(dir), err)
	}
	return info, nil
}

// WriteInfo atomically replaces session.json: write to a temp file in the
// same directory, fsync, then rename over the target. A flock on a
// sidecar lock file serializes concurrent writers (the Host's exit
// watcher and the Manager's zombie-healing path can race on the same
// record), matching the "one writer at a time, atomic rename" discipline
// §5 require for this file.
func WriteInfo(dir string, info Info) error {
	lk := flock.New(lockPath(dir))
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("session: lock %s: %w", dir, err)
	}
	defer lk.Unlock()

	tmp, err := os.CreateTemp(dir, "session.json.tmp-*")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		tmp.Close()
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, JSONPath(dir)); err != nil {
		return fmt.Errorf("session: rename into place: %w", err)
	}
	return nil
}

// DefaultName derives the human label "basename(cmd[0]) (abbrev(cwd))"
// used when the caller doesn't supply one.
func DefaultName(command []string, workingDir string) string {
	base := "shell"
	if len(command) > 0 {
		base = filepath.Base(command[0])
	}
	return fmt.Sprintf("%s (%s)", base, abbreviate(workingDir))
}

// abbreviate shortens a path to its last two components, replacing a home
// directory prefix with "~" when applicable.
func abbreviate(path string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if rel, err := filepath.Rel(home, path); err == nil && rel != ".." && !isParentRef(rel) {
			if rel == "." {
				return "~"
			}
			path = filepath.Join("~", rel)
		}
	}
	parent := filepath.Base(filepath.Dir(path))
	base := filepath.Base(path)
	if parent == "" || parent == "." || parent == "/" {
		return base
	}
	return filepath.Join(parent, base)
}

func isParentRef(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}
