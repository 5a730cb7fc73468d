// Package ptyhost implements the PTY Session Host: it owns one child
// process's pseudo-terminal, writes its output to an asciinema stream
// file, reads keystrokes off a stdin FIFO, and applies resize/kill
// requests.
//
// ptyhost intentionally does not import the session package: to avoid a
// cyclic Host/Manager/Bus reference, each component exposes a narrow
// downstream interface instead of sharing Go types with its caller. The
// on-disk session.json format is the shared contract; ptyhost and
// session each decode/encode it with their own matching struct.
package ptyhost

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gofrs/flock"
	"github.com/google/shlex"

	"vibetunnel/internal/activitylog"
	"vibetunnel/internal/protocol"
	"vibetunnel/internal/vterrors"
)

// Info mirrors the session.json record this package writes. Field tags
// must match internal/session.Info's tags exactly; the two are decoded
// independently rather than shared, by design (see package doc).
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Command     []string  `json:"command"`
	WorkingDir  string    `json:"workingDir"`
	Status      string    `json:"status"`
	ExitCode    *int      `json:"exitCode,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	PID         int       `json:"pid"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
	ControlPath string    `json:"controlPath"`
}

const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusExited   = "exited"
)

// SpawnOptions configures a new child process on a PTY.
type SpawnOptions struct {
	ID         string
	Dir        string
	Command    []string
	WorkingDir string
	Env        []string
	Cols, Rows int
	Name       string
	Term       string
}

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL.
const killGrace = 5 * time.Second

// Host owns one child process's PTY, its stream-out writer, and the
// background activities that feed it: PTY-read, stdin-pipe-read, and
// child-reap watch.
type Host struct {
	id  string
	dir string

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	sw       *protocol.StreamWriter
	cols     int
	rows     int
	exited   bool
	exitCode int

	pendingResize *[2]int // set while starting; applied once confirmed allocated

	// adopted is true for a Host built by Adopt: it doesn't own ptmx/cmd,
	// so Resize/Kill go out over controlPath (the control FIFO) instead
	// of touching the PTY or sending a signal directly.
	adopted     bool
	controlPath string

	log *activitylog.Logger
}

// Spawn allocates a PTY, starts the child on it, and launches the
// background activities. It returns the live Host and the initial Info
// record, already persisted to session.json.
func Spawn(opts SpawnOptions, log *activitylog.Logger) (*Host, Info, error) {
	if log == nil {
		log = activitylog.Nop()
	}
	if len(opts.Command) == 0 {
		return nil, Info{}, vterrors.New(vterrors.KindSpawnFailed, "empty command")
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.WorkingDir
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	if opts.Term != "" {
		env = append(env, "TERM="+opts.Term)
	}
	cmd.Env = env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(opts.Rows), Cols: uint16(opts.Cols)})
	if err != nil {
		return nil, Info{}, vterrors.Wrap(vterrors.KindSpawnFailed, err, "allocate pty")
	}

	streamFile, err := os.OpenFile(filepath.Join(opts.Dir, "stream-out"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		ptmx.Close()
		cmd.Process.Kill()
		return nil, Info{}, vterrors.Wrap(vterrors.KindSpawnFailed, err, "create stream-out")
	}

	if err := syscall.Mkfifo(filepath.Join(opts.Dir, "stdin"), 0o600); err != nil && !os.IsExist(err) {
		streamFile.Close()
		ptmx.Close()
		cmd.Process.Kill()
		return nil, Info{}, vterrors.Wrap(vterrors.KindSpawnFailed, err, "create stdin fifo")
	}
	controlPath := filepath.Join(opts.Dir, "control")
	if err := syscall.Mkfifo(controlPath, 0o600); err != nil && !os.IsExist(err) {
		// Control FIFO is optional; failing to create it is not fatal.
		controlPath = ""
	}

	sw := protocol.NewStreamWriter(streamFile)
	envMap := map[string]string{}
	if opts.Term != "" {
		envMap["TERM"] = opts.Term
	}
	if err := sw.WriteHeader(protocol.Header{Width: opts.Cols, Height: opts.Rows, Env: envMap}); err != nil {
		streamFile.Close()
		ptmx.Close()
		cmd.Process.Kill()
		return nil, Info{}, vterrors.Wrap(vterrors.KindSpawnFailed, err, "write stream header")
	}

	h := &Host{
		id:   opts.ID,
		dir:  opts.Dir,
		ptmx: ptmx,
		cmd:  cmd,
		sw:   sw,
		cols: opts.Cols,
		rows: opts.Rows,
		log:  log,
	}

	info := Info{
		ID:          opts.ID,
		Name:        opts.Name,
		Command:     opts.Command,
		WorkingDir:  opts.WorkingDir,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
		PID:         cmd.Process.Pid,
		Cols:        opts.Cols,
		Rows:        opts.Rows,
		ControlPath: opts.Dir,
	}
	if err := writeInfo(opts.Dir, info); err != nil {
		h.terminateBestEffort()
		return nil, Info{}, vterrors.Wrap(vterrors.KindSpawnFailed, err, "write session.json")
	}

	log.SessionCreated(strings.Join(opts.Command, " "), cmd.Process.Pid)

	go h.pumpOutput(streamFile)
	go h.pumpStdin(filepath.Join(opts.Dir, "stdin"))
	if controlPath != "" {
		go h.pumpControl(controlPath)
	}
	go h.watchExit(streamFile)

	if h.pendingResize != nil {
		dims := *h.pendingResize
		h.pendingResize = nil
		_ = h.Resize(dims[0], dims[1])
	}

	return h, info, nil
}

// Adopt brings an already-running session directory (created by a
// cooperating external process, e.g. the fwd helper) under this
// process's management without spawning anything. An adopted Host never
// owns the PTY master, so Resize/Kill are delivered over the control FIFO
// to the owning process instead of applied directly; output is whatever
// the external writer already produces.
func Adopt(dir string, info Info, log *activitylog.Logger) (*Host, error) {
	if log == nil {
		log = activitylog.Nop()
	}
	return &Host{
		id:          info.ID,
		dir:         dir,
		cols:        info.Cols,
		rows:        info.Rows,
		exited:      info.Status == StatusExited,
		adopted:     true,
		controlPath: filepath.Join(dir, "control"),
		log:         log,
	}, nil
}

// pumpOutput is the PTY-read -> stream-writer activity.
func (h *Host) pumpOutput(streamFile *os.File) {
	defer streamFile.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			if werr := h.sw.WriteOutput(buf[:n]); werr != nil {
				h.log.StreamCorrupt(werr.Error())
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// pumpStdin is the stdin-pipe-reader -> pty-write activity. Opening a
// FIFO for read blocks until a writer appears; that's intentional, it's
// how external tools hand keystrokes to the Host.
func (h *Host) pumpStdin(path string) {
	for {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		r := bufio.NewReader(f)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				h.WriteInput(buf[:n])
			}
			if err != nil {
				break
			}
		}
		f.Close()
		if h.Exited() {
			return
		}
	}
}

// pumpControl parses whitespace-tokenized commands off the control FIFO:
// "resize COLS ROWS" and "kill", using shlex to tokenize each line
// before dispatch.
func (h *Host) pumpControl(path string) {
	for {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields, err := shlex.Split(scanner.Text())
			if err != nil || len(fields) == 0 {
				continue
			}
			h.dispatchControl(fields)
		}
		f.Close()
		if h.Exited() {
			return
		}
	}
}

func (h *Host) dispatchControl(fields []string) {
	switch fields[0] {
	case "resize":
		if len(fields) != 3 {
			return
		}
		var cols, rows int
		if _, err := fmt.Sscanf(fields[1], "%d", &cols); err != nil {
			return
		}
		if _, err := fmt.Sscanf(fields[2], "%d", &rows); err != nil {
			return
		}
		h.Resize(cols, rows)
	case "kill":
		h.Kill()
	}
}

// watchExit is the child-reap watcher activity.
func (h *Host) watchExit(streamFile io.Closer) {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	h.mu.Lock()
	h.exited = true
	h.exitCode = code
	h.mu.Unlock()

	h.sw.WriteExit(code)
	h.ptmx.Close()

	info, rerr := readInfo(h.dir)
	if rerr == nil {
		info.Status = StatusExited
		info.ExitCode = &code
		writeInfo(h.dir, info)
	}
	h.log.SessionExited(code)
}

// WriteInput appends bytes to the PTY master, untouched.
func (h *Host) WriteInput(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.ptmx == nil {
		return vterrors.New(vterrors.KindAlreadyExited, "session %s has exited", h.id)
	}
	// Write with a bounded timeout: a PTY whose reader has stopped
	// draining can block a Write indefinitely, so run it on a goroutine
	// and give up after a short deadline rather than hang the caller.
	done := make(chan error, 1)
	go func() {
		_, err := h.ptmx.Write(data)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return vterrors.New(vterrors.KindIOError, "write to pty timed out")
	}
}

// Resize applies new PTY dimensions, emits an "r" stream event, and
// updates session.json. If called before the PTY is confirmed
// allocated it queues instead of failing, applied as soon as the PTY
// comes up. On an adopted Host (see Adopt) it instead writes a "resize"
// command to the session's control FIFO for the owning process to apply.
func (h *Host) Resize(cols, rows int) error {
	h.mu.Lock()
	if h.adopted {
		exited := h.exited
		controlPath := h.controlPath
		h.mu.Unlock()
		if exited {
			return vterrors.New(vterrors.KindAlreadyExited, "session %s has exited", h.id)
		}
		return sendControl(controlPath, fmt.Sprintf("resize %d %d", cols, rows))
	}
	if h.ptmx == nil {
		h.pendingResize = &[2]int{cols, rows}
		h.mu.Unlock()
		return nil
	}
	if h.exited {
		h.mu.Unlock()
		return vterrors.New(vterrors.KindAlreadyExited, "session %s has exited", h.id)
	}
	ptmx := h.ptmx
	h.cols, h.rows = cols, rows
	h.mu.Unlock()

	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return vterrors.Wrap(vterrors.KindIOError, err, "resize pty")
	}
	if h.sw != nil {
		h.sw.WriteResize(cols, rows)
	}

	info, err := readInfo(h.dir)
	if err == nil {
		info.Cols, info.Rows = cols, rows
		writeInfo(h.dir, info)
	}
	h.log.ResizeApplied(cols, rows)
	return nil
}

// Kill sends SIGTERM and returns immediately; reaping happens
// asynchronously in watchExit, escalating to SIGKILL after killGrace if
// the child hasn't exited. On an adopted Host it instead writes a "kill"
// command to the control FIFO, since there is no local process to signal.
func (h *Host) Kill() error {
	h.mu.Lock()
	if h.adopted {
		exited := h.exited
		controlPath := h.controlPath
		h.mu.Unlock()
		if exited {
			return nil
		}
		return sendControl(controlPath, "kill")
	}
	cmd := h.cmd
	exited := h.exited
	h.mu.Unlock()
	if exited || cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return vterrors.Wrap(vterrors.KindIOError, err, "signal pid %d", cmd.Process.Pid)
	}
	go func() {
		time.Sleep(killGrace)
		h.mu.Lock()
		exited := h.exited
		h.mu.Unlock()
		if !exited && cmd.Process != nil {
			cmd.Process.Signal(syscall.SIGKILL)
		}
	}()
	return nil
}

// sendControl writes a single command line to the control FIFO at path,
// the channel dispatchControl's pumpControl loop reads from on the process
// that does own the PTY. Opening a FIFO for write blocks until a reader is
// present, so this runs with the same bounded-timeout-via-goroutine
// pattern as WriteInput rather than risking an indefinite block when the
// owning process isn't there to read it.
func sendControl(path, cmd string) error {
	if path == "" {
		return vterrors.New(vterrors.KindIOError, "no control pipe available")
	}
	done := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			done <- err
			return
		}
		defer f.Close()
		_, err = f.WriteString(cmd + "\n")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return vterrors.Wrap(vterrors.KindIOError, err, "write control command %q", cmd)
		}
		return nil
	case <-time.After(2 * time.Second):
		return vterrors.New(vterrors.KindIOError, "control pipe write timed out")
	}
}

func (h *Host) terminateBestEffort() {
	if h.cmd != nil && h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
	if h.ptmx != nil {
		h.ptmx.Close()
	}
}

// Exited reports whether the child has been reaped.
func (h *Host) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// writeInfo atomically replaces session.json, guarded by the same sidecar
// flock internal/session.WriteInfo takes: the exit watcher and resize here
// race against the Manager's zombie-healing rewrite of the same file, and
// both sides must serialize through the one lock file to keep the
// temp+fsync+rename sequence from interleaving.
func writeInfo(dir string, info Info) error {
	lk := flock.New(filepath.Join(dir, ".session.json.lock"))
	if err := lk.Lock(); err != nil {
		return err
	}
	defer lk.Unlock()

	tmp, err := os.CreateTemp(dir, "session.json.tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, "session.json"))
}

func readInfo(dir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}
