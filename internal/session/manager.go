package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"vibetunnel/internal/activitylog"
	"vibetunnel/internal/keys"
	"vibetunnel/internal/ptyhost"
	"vibetunnel/internal/vterrors"
)

// CreateOptions configures a new session. Zero values take the Manager's
// configured defaults.
type CreateOptions struct {
	Command    []string
	WorkingDir string
	Env        []string
	Cols, Rows int
	Name       string
	Term       string
}

// Manager is a directory-backed registry of sessions, routing
// control-plane operations to the right ptyhost.Host. It holds no
// global lock across sessions: each session subdirectory is its own
// critical section.
type Manager struct {
	controlDir          string
	defaultCols         int
	defaultRows         int
	noSpawn             bool
	doNotAllowColumnSet bool
	log                 *activitylog.Logger

	hostsMu sync.RWMutex
	hosts   map[string]*ptyhost.Host
}

// New constructs a Manager rooted at controlDir.
func New(controlDir string, defaultCols, defaultRows int, noSpawn, doNotAllowColumnSet bool, log *activitylog.Logger) *Manager {
	if log == nil {
		log = activitylog.Nop()
	}
	return &Manager{
		controlDir:          controlDir,
		defaultCols:         defaultCols,
		defaultRows:         defaultRows,
		noSpawn:             noSpawn,
		doNotAllowColumnSet: doNotAllowColumnSet,
		log:                 log,
		hosts:               make(map[string]*ptyhost.Host),
	}
}

func (m *Manager) dirFor(id string) string {
	return filepath.Join(m.controlDir, id)
}

// Create spawns a new Session Host and returns its initial Info.
func (m *Manager) Create(opts CreateOptions) (Info, error) {
	if m.noSpawn {
		return Info{}, vterrors.New(vterrors.KindSpawnFailed, "session creation disabled (noSpawn)")
	}
	if len(opts.Command) == 0 {
		return Info{}, vterrors.New(vterrors.KindSpawnFailed, "empty command")
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = m.defaultCols
	}
	if rows == 0 {
		rows = m.defaultRows
	}

	id := uuid.NewString()
	dir := m.dirFor(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Info{}, vterrors.Wrap(vterrors.KindSpawnFailed, err, "create control directory")
	}

	name := opts.Name
	if name == "" {
		name = DefaultName(opts.Command, opts.WorkingDir)
	}

	host, hostInfo, err := ptyhost.Spawn(ptyhost.SpawnOptions{
		ID:         id,
		Dir:        dir,
		Command:    opts.Command,
		WorkingDir: opts.WorkingDir,
		Env:        opts.Env,
		Cols:       cols,
		Rows:       rows,
		Name:       name,
		Term:       opts.Term,
	}, m.log)
	if err != nil {
		os.RemoveAll(dir)
		return Info{}, err
	}

	m.hostsMu.Lock()
	m.hosts[id] = host
	m.hostsMu.Unlock()
	info := fromHostInfo(hostInfo)
	return info, nil
}

// Get reads session.json for id, healing a zombie record in place before
// returning it.
func (m *Manager) Get(id string) (Info, error) {
	dir := m.dirFor(id)
	info, err := ReadInfo(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, vterrors.Wrap(vterrors.KindNotFound, err, "session %s", id)
		}
		return Info{}, vterrors.Wrap(vterrors.KindIOError, err, "read session %s", id)
	}
	return m.healIfZombie(dir, info), nil
}

// List enumerates all sessions, newest-first by StartedAt, ties broken by
// id ascending for stable ordering.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.controlDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vterrors.Wrap(vterrors.KindIOError, err, "list control directory")
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.controlDir, e.Name())
		info, err := ReadInfo(dir)
		if err != nil {
			// One corrupt session directory must not fail the whole list.
			continue
		}
		infos = append(infos, m.healIfZombie(dir, info))
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
	return infos, nil
}

// healIfZombie rewrites status to exited, best-effort, when the record
// claims the process is alive but its pid no longer is.
func (m *Manager) healIfZombie(dir string, info Info) Info {
	if info.Status == StatusExited {
		return info
	}
	if processAlive(info.PID) {
		return info
	}
	code := -1
	info.Status = StatusExited
	info.ExitCode = &code
	if err := WriteInfo(dir, info); err != nil {
		// Best-effort: failures to rewrite are logged, not fatal.
		m.log.StreamCorrupt(fmt.Sprintf("zombie heal write failed for %s: %v", info.ID, err))
	} else {
		m.log.ZombieHealed(info.PID)
	}
	return info
}

// processAlive probes liveness with signal 0, the portable equivalent of
// checking /proc/<pid>.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// SendInput appends raw bytes to the session's stdin.
func (m *Manager) SendInput(id string, data []byte) error {
	host, err := m.liveHost(id)
	if err != nil {
		return err
	}
	return host.WriteInput(data)
}

// SendKey resolves name against the special-key table and sends the
// mapped byte sequence.
func (m *Manager) SendKey(id string, name string) error {
	seq, err := keys.Resolve(name)
	if err != nil {
		return vterrors.Wrap(vterrors.KindUnknownKey, err, "key %q", name)
	}
	return m.SendInput(id, seq)
}

// Resize changes the PTY dimensions for a live session.
func (m *Manager) Resize(id string, cols, rows int) error {
	if m.doNotAllowColumnSet {
		return vterrors.New(vterrors.KindResizeDisabled, "resize disabled by policy")
	}
	host, err := m.liveHost(id)
	if err != nil {
		return err
	}
	return host.Resize(cols, rows)
}

// Kill sends SIGTERM, escalating to SIGKILL after the host's grace
// window, and returns as soon as SIGTERM has been delivered rather than
// waiting for the child to actually exit.
func (m *Manager) Kill(id string) error {
	host, err := m.liveHost(id)
	if err != nil {
		return err
	}
	return host.Kill()
}

// Cleanup removes a session's control directory. It refuses to remove a
// still-running session; call Kill first.
func (m *Manager) Cleanup(id string) error {
	info, err := m.Get(id)
	if err != nil {
		return err
	}
	if info.Status != StatusExited {
		return vterrors.New(vterrors.KindAlreadyExited, "session %s is not exited", id)
	}
	m.hostsMu.Lock()
	delete(m.hosts, id)
	m.hostsMu.Unlock()
	return os.RemoveAll(m.dirFor(id))
}

// CleanupExited removes every exited session's control directory and
// returns how many were removed.
func (m *Manager) CleanupExited() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, info := range infos {
		if info.Status != StatusExited {
			continue
		}
		if err := os.RemoveAll(m.dirFor(info.ID)); err != nil {
			continue
		}
		m.hostsMu.Lock()
		delete(m.hosts, info.ID)
		m.hostsMu.Unlock()
		count++
	}
	return count, nil
}

// RegisterExternal brings a session directory produced by a cooperating
// external tool (the fwd helper) under management without spawning
// anything. It does not validate that the recorded pid belongs to the
// expected user — see DESIGN.md.
func (m *Manager) RegisterExternal(id string) (Info, error) {
	dir := m.dirFor(id)
	info, err := ReadInfo(dir)
	if err != nil {
		return Info{}, vterrors.Wrap(vterrors.KindNotFound, err, "register external session %s", id)
	}
	host, err := ptyhost.Adopt(dir, toHostInfo(info), m.log)
	if err != nil {
		return Info{}, err
	}
	m.hostsMu.Lock()
	m.hosts[id] = host
	m.hostsMu.Unlock()
	return info, nil
}

func (m *Manager) liveHost(id string) (*ptyhost.Host, error) {
	m.hostsMu.RLock()
	host, ok := m.hosts[id]
	m.hostsMu.RUnlock()
	if !ok {
		info, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		if info.Status == StatusExited {
			return nil, vterrors.New(vterrors.KindAlreadyExited, "session %s has exited", id)
		}
		return nil, vterrors.New(vterrors.KindNotFound, "session %s is not managed by this process", id)
	}
	if host.Exited() {
		return nil, vterrors.New(vterrors.KindAlreadyExited, "session %s has exited", id)
	}
	return host, nil
}

// fromHostInfo/toHostInfo translate between the Manager's Info and
// ptyhost's Info. The two packages deliberately don't share a Go type
// for this (see ptyhost's package doc); the session.json field layout is
// the contract, not a shared struct.
func fromHostInfo(h ptyhost.Info) Info {
	return Info{
		ID:          h.ID,
		Name:        h.Name,
		Command:     h.Command,
		WorkingDir:  h.WorkingDir,
		Status:      Status(h.Status),
		ExitCode:    h.ExitCode,
		StartedAt:   h.StartedAt,
		PID:         h.PID,
		Cols:        h.Cols,
		Rows:        h.Rows,
		ControlPath: h.ControlPath,
	}
}

func toHostInfo(i Info) ptyhost.Info {
	return ptyhost.Info{
		ID:          i.ID,
		Name:        i.Name,
		Command:     i.Command,
		WorkingDir:  i.WorkingDir,
		Status:      string(i.Status),
		ExitCode:    i.ExitCode,
		StartedAt:   i.StartedAt,
		PID:         i.PID,
		Cols:        i.Cols,
		Rows:        i.Rows,
		ControlPath: i.ControlPath,
	}
}
