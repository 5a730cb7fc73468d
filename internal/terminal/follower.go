package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vibetunnel/internal/protocol"
	"vibetunnel/internal/vterrors"
)

// openWait bounds how long Open polls for a stream-out file that
// doesn't exist yet before giving up.
const openWait = 5 * time.Second

// Emulator owns one session's Grid, the parser writing into it, and
// the background tail loop reading stream-out. It is the thing the
// Subscription Bus creates lazily on first subscribe and tears down on
// last unsubscribe.
type Emulator struct {
	sessionID string
	scrollbackCap int

	mu         sync.RWMutex
	grid       *Grid
	parser     *Parser
	lastUpdate time.Time
	dead       bool // "x" event observed; emulator serves its final buffer

	file    *os.File
	offset  int64  // bytes read from file so far, via ReadAt
	pending []byte // bytes read but not yet forming a complete line

	w       watcher
	stop    chan struct{}
	stopped chan struct{}

	onChange func()
	onDead   func()
	onCorrupt func(error)
	onOutput func([]byte)
}

// Open starts following sessionID's stream-out file under dir. It
// blocks until the header is read (or openWait elapses), replays every
// event currently in the file to reconstruct the live screen, then
// starts the background tail loop. onChange is invoked (never while any
// internal lock is held) after each batch of parsed events; onDead when
// an "x" event is observed; onCorrupt when the stream is abandoned as
// StreamCorrupt.
func Open(dir, sessionID string, defaultCols, defaultRows, scrollbackCap int, onChange func(), onDead func(), onCorrupt func(error), onOutput func([]byte)) (*Emulator, error) {
	path := filepath.Join(dir, "stream-out")

	var f *os.File
	var err error
	deadline := time.Now().Add(openWait)
	for {
		f, err = os.Open(path)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) || time.Now().After(deadline) {
			return nil, vterrors.Wrap(vterrors.KindIOError, err, "open stream-out for %s", sessionID)
		}
		time.Sleep(50 * time.Millisecond)
	}

	e := &Emulator{
		sessionID:     sessionID,
		scrollbackCap: scrollbackCap,
		grid:          NewGrid(defaultCols, defaultRows, scrollbackCap),
		file:          f,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
		onChange:      onChange,
		onDead:        onDead,
		onCorrupt:     onCorrupt,
		onOutput:      onOutput,
		lastUpdate:    time.Now(),
	}
	e.parser = NewParser(e.grid)

	if err := e.replay(); err != nil {
		f.Close()
		return nil, err
	}

	w, err := newFsnotifyWatcher()
	if err != nil {
		w = newPollWatcher(path, pollInterval)
	} else if aerr := w.Add(path); aerr != nil {
		w.Close()
		w = newPollWatcher(path, pollInterval)
	}
	e.w = w

	go e.tailLoop(path)
	return e, nil
}

// replay reads from the current offset (0, on Open) to EOF, parsing the
// header and every event found. If the header line is not fully flushed
// yet, it polls for it until openWait elapses.
func (e *Emulator) replay() error {
	deadline := time.Now().Add(openWait)
	var idx int
	for {
		if _, err := e.readNewBytes(); err != nil {
			return err
		}
		if idx = bytes.IndexByte(e.pending, '\n'); idx >= 0 {
			break
		}
		if time.Now().After(deadline) {
			return vterrors.New(vterrors.KindIOError, "no complete stream header for %s within %s", e.sessionID, openWait)
		}
		time.Sleep(50 * time.Millisecond)
	}
	headerLine := e.pending[:idx]
	e.pending = append([]byte(nil), e.pending[idx+1:]...)

	h, herr := protocol.ParseHeader(headerLine)
	if herr != nil {
		return vterrors.Wrap(vterrors.KindStreamCorrupt, herr, "parse header for %s", e.sessionID)
	}
	if h.Width > 0 && h.Height > 0 {
		e.grid.Resize(h.Width, h.Height)
	}

	_, err := e.consumeAvailable()
	return err
}

// readNewBytes reads every byte appended to the file since e.offset,
// appending it to e.pending, and detects shrinkage (the file got smaller
// than what's already been read, which the single-writer/append-only
// contract says should never happen).
func (e *Emulator) readNewBytes() (int, error) {
	info, err := e.file.Stat()
	if err != nil {
		return 0, vterrors.Wrap(vterrors.KindIOError, err, "stat stream-out for %s", e.sessionID)
	}
	size := info.Size()
	if size < e.offset {
		return 0, vterrors.New(vterrors.KindStreamCorrupt, "stream-out for %s shrank from %d to %d bytes", e.sessionID, e.offset, size)
	}
	if size == e.offset {
		return 0, nil
	}

	buf := make([]byte, size-e.offset)
	n, err := e.file.ReadAt(buf, e.offset)
	if n > 0 {
		e.pending = append(e.pending, buf[:n]...)
		e.offset += int64(n)
	}
	if err != nil && n == 0 {
		return 0, vterrors.Wrap(vterrors.KindIOError, err, "read stream-out for %s", e.sessionID)
	}
	return n, nil
}

// consumeAvailable reads every byte appended since the last call, parses
// every complete line now available (header already consumed in replay),
// applies each event to the grid, and leaves any trailing partial line in
// e.pending to be completed and reprocessed on a later call — ScanLines
// never drops bytes, so a line split across two tail wakeups is never
// lost. It returns the raw bytes of any "o" events seen, for the caller to
// fan out to live-stream viewers once it has released e.mu. Caller holds
// e.mu for writers reached via tailLoop; Open calls this before any other
// goroutine can touch e, so no lock is needed there.
func (e *Emulator) consumeAvailable() ([][]byte, error) {
	if _, err := e.readNewBytes(); err != nil {
		return nil, err
	}
	if len(e.pending) == 0 {
		return nil, nil
	}

	var chunks [][]byte
	rest, err := protocol.ScanLines(e.pending, func(line []byte) error {
		ev, perr := protocol.ParseEvent(line)
		if perr != nil {
			// A single malformed line doesn't corrupt the whole stream;
			// it's usually a line torn mid-write by a concurrent writer.
			// It is skipped and dropped, not retried.
			return nil
		}
		if out, ok := e.applyEvent(ev); ok {
			chunks = append(chunks, out)
		}
		return nil
	})
	e.pending = append([]byte(nil), rest...)
	return chunks, err
}

// applyEvent mutates the grid for ev and, for an output event, returns
// its raw chunk so the caller can fan it out to live-stream viewers.
func (e *Emulator) applyEvent(ev protocol.Event) ([]byte, bool) {
	switch ev.Type {
	case protocol.EventOutput:
		e.parser.Write([]byte(ev.Output))
		e.lastUpdate = time.Now()
		return []byte(ev.Output), true
	case protocol.EventResize:
		e.grid.Resize(ev.Cols, ev.Rows)
		e.lastUpdate = time.Now()
	case protocol.EventExit:
		e.dead = true
	}
	return nil, false
}

// tailLoop is the Follower's one filesystem-watch activity.
func (e *Emulator) tailLoop(path string) {
	defer close(e.stopped)
	defer e.w.Close()
	defer e.file.Close()

	for {
		select {
		case <-e.stop:
			return
		case <-e.w.Events():
			e.mu.Lock()
			if e.dead {
				e.mu.Unlock()
				continue
			}
			chunks, err := e.consumeAvailable()
			wasDead := e.dead
			e.mu.Unlock()

			if err != nil {
				if e.onCorrupt != nil {
					e.onCorrupt(err)
				}
				return
			}
			if e.onOutput != nil {
				for _, c := range chunks {
					e.onOutput(c)
				}
			}
			if e.onChange != nil {
				e.onChange()
			}
			if wasDead && e.onDead != nil {
				e.onDead()
			}
		}
	}
}

// Snapshot returns the binary-encoded current viewport,
func (e *Emulator) Snapshot() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid.Encode()
}

// Dead reports whether an "x" event has been observed.
func (e *Emulator) Dead() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dead
}

// LastUpdate reports when the grid was last mutated by output or
// resize, for the Bus's idle eviction sweep.
func (e *Emulator) LastUpdate() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdate
}

// Close stops the tail loop and releases the file handle and watcher.
// Idempotent: closing an already-closed Emulator is a no-op.
func (e *Emulator) Close() {
	select {
	case <-e.stopped:
		return
	default:
	}
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	<-e.stopped
}
