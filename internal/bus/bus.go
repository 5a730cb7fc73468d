// Package bus implements the Subscription Bus: the per-session fan-out
// of buffer-change notifications (debounced) and raw live-stream output
// (unbatched) to many subscribers, with reference-counted Emulator
// lifecycle.
//
// The debounce is arm-once rather than reset-on-every-event: once a
// timer is armed for a session, further events inside that window are
// coalesced into the single pending notification instead of pushing the
// deadline back, so a continuously-busy session still notifies at a
// bounded rate.
package bus

import (
	"sync"
	"time"

	"vibetunnel/internal/activitylog"
	"vibetunnel/internal/terminal"
)

// ChangeFunc receives an opaque "buffer changed" signal; subscribers
// pull a fresh Snapshot on their own schedule.
type ChangeFunc func()

// OutputFunc receives raw output bytes as they're produced. Unlike
// ChangeFunc it is never debounced.
type OutputFunc func([]byte)

// entry is the per-session bookkeeping: the lazily-created Emulator,
// its subscribers, and debounce/idle state.
type entry struct {
	mu   sync.Mutex
	emu  *terminal.Emulator
	subs map[int]ChangeFunc
	outs map[int]OutputFunc
	next int

	debounceArmed bool
	debounceTimer *time.Timer
}

// Bus is a process-wide registry of per-session subscriber lists and
// their lazily-created Emulators.
type Bus struct {
	controlDir    string
	defaultCols   int
	defaultRows   int
	scrollbackCap int
	debounce      time.Duration
	idleTimeout   time.Duration
	log           *activitylog.Logger

	mu       sync.Mutex
	sessions map[string]*entry

	sweepStop chan struct{}
}

// Config bundles the knobs Bus needs from the engine-wide Config
// record: default dimensions, scrollback size, debounce interval, and
// idle eviction threshold.
type Config struct {
	ControlDir             string
	DefaultCols, DefaultRows int
	ScrollbackRows         int
	NotificationDebounceMs int
	SessionIdleTimeout     time.Duration
}

// New constructs a Bus and starts its idle-eviction sweep.
func New(cfg Config, log *activitylog.Logger) *Bus {
	if log == nil {
		log = activitylog.Nop()
	}
	debounce := time.Duration(cfg.NotificationDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	b := &Bus{
		controlDir:    cfg.ControlDir,
		defaultCols:   cfg.DefaultCols,
		defaultRows:   cfg.DefaultRows,
		scrollbackCap: cfg.ScrollbackRows,
		debounce:      debounce,
		idleTimeout:   cfg.SessionIdleTimeout,
		log:           log,
		sessions:      make(map[string]*entry),
		sweepStop:     make(chan struct{}),
	}
	go b.idleSweep()
	return b
}

// Subscribe registers a subscriber for sessionID's buffer-change
// notifications, lazily opening the Emulator and starting its tail
// loop on the first subscriber. It returns an idempotent unsubscribe
// function; the last unsubscribe tears down the Emulator.
func (b *Bus) Subscribe(sessionID string, onChange ChangeFunc) (func(), error) {
	e, err := b.ensureEntry(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = onChange
	count := len(e.subs) + len(e.outs)
	e.mu.Unlock()

	b.log.SubscriberCountChanged(count)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribeChange(sessionID, id) })
	}, nil
}

// SubscribeOutput registers a subscriber for sessionID's raw,
// unbatched live output stream — a separate channel from buffer-change
// notifications, fed by the same Follower.
func (b *Bus) SubscribeOutput(sessionID string, onOutput OutputFunc) (func(), error) {
	e, err := b.ensureEntry(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	id := e.next
	e.next++
	e.outs[id] = onOutput
	count := len(e.subs) + len(e.outs)
	e.mu.Unlock()

	b.log.SubscriberCountChanged(count)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribeOutput(sessionID, id) })
	}, nil
}

// Snapshot returns the current binary-encoded viewport for sessionID.
// The session must have at least one live subscriber (callers obtain a
// Snapshot through a subscription, not standalone).
func (b *Bus) Snapshot(sessionID string) ([]byte, bool) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	emu := e.emu
	e.mu.Unlock()
	if emu == nil {
		// Released by the idle sweep while still subscribed: re-open it.
		re, err := b.ensureEntry(sessionID)
		if err != nil {
			return nil, false
		}
		re.mu.Lock()
		emu = re.emu
		re.mu.Unlock()
		if emu == nil {
			return nil, false
		}
	}
	return emu.Snapshot(), true
}

// ensureEntry returns the bus-level entry for sessionID, creating it if
// absent, and (re-)opens its Emulator if none is currently live — which
// covers both first-subscribe and the idle sweep's earlier teardown, so
// an existing subscriber's next Snapshot transparently pays a one-time
// re-initialization cost instead of losing its subscription outright.
func (b *Bus) ensureEntry(sessionID string) (*entry, error) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	if !ok {
		e = &entry{subs: make(map[int]ChangeFunc), outs: make(map[int]OutputFunc)}
		b.sessions[sessionID] = e
	}
	b.mu.Unlock()

	e.mu.Lock()
	if e.emu != nil {
		e.mu.Unlock()
		return e, nil
	}
	e.mu.Unlock()

	dir := b.controlDir + "/" + sessionID
	emu, err := terminal.Open(dir, sessionID, b.defaultCols, b.defaultRows, b.scrollbackCap,
		func() { b.scheduleNotification(sessionID) },
		func() { b.scheduleNotification(sessionID) },
		func(err error) { b.teardownCorrupt(sessionID, err) },
		func(chunk []byte) { b.fanOutput(sessionID, chunk) },
	)
	if err != nil {
		e.mu.Lock()
		empty := len(e.subs) == 0 && len(e.outs) == 0
		e.mu.Unlock()
		if empty {
			b.mu.Lock()
			delete(b.sessions, sessionID)
			b.mu.Unlock()
		}
		return nil, err
	}

	e.mu.Lock()
	e.emu = emu
	e.mu.Unlock()
	return e, nil
}

// scheduleNotification arms a debounce timer if none is currently
// armed; an already-armed timer is left untouched, so at most one
// notification fires per debounce window regardless of how many events
// land inside it.
func (b *Bus) scheduleNotification(sessionID string) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.debounceArmed {
		e.mu.Unlock()
		return
	}
	e.debounceArmed = true
	e.debounceTimer = time.AfterFunc(b.debounce, func() {
		e.mu.Lock()
		e.debounceArmed = false
		callbacks := make([]ChangeFunc, 0, len(e.subs))
		for _, cb := range e.subs {
			callbacks = append(callbacks, cb)
		}
		e.mu.Unlock()

		// Callbacks run outside the lock: a subscriber callback must never
		// be invoked while e.mu is held.
		for _, cb := range callbacks {
			cb()
		}
	})
	e.mu.Unlock()
}

func (b *Bus) fanOutput(sessionID string, chunk []byte) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	callbacks := make([]OutputFunc, 0, len(e.outs))
	for _, cb := range e.outs {
		callbacks = append(callbacks, cb)
	}
	e.mu.Unlock()
	for _, cb := range callbacks {
		cb(chunk)
	}
}

func (b *Bus) unsubscribeChange(sessionID string, id int) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.subs, id)
	count := len(e.subs) + len(e.outs)
	e.mu.Unlock()
	b.log.SubscriberCountChanged(count)
	b.teardownIfEmpty(sessionID)
}

func (b *Bus) unsubscribeOutput(sessionID string, id int) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.outs, id)
	count := len(e.subs) + len(e.outs)
	e.mu.Unlock()
	b.log.SubscriberCountChanged(count)
	b.teardownIfEmpty(sessionID)
}

// teardownIfEmpty releases the Emulator once both subscriber lists for
// sessionID are empty.
func (b *Bus) teardownIfEmpty(sessionID string) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	e.mu.Lock()
	empty := len(e.subs) == 0 && len(e.outs) == 0
	emu := e.emu
	if empty && e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceArmed = false
	}
	e.mu.Unlock()
	if empty {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()

	if empty && emu != nil {
		emu.Close()
	}
}

func (b *Bus) teardownCorrupt(sessionID string, err error) {
	b.log.StreamCorrupt(err.Error())

	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	if ok {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	callbacks := make([]ChangeFunc, 0, len(e.subs))
	for _, cb := range e.subs {
		callbacks = append(callbacks, cb)
	}
	emu := e.emu
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.mu.Unlock()

	// Subscribers are notified once more so they learn the stream died.
	for _, cb := range callbacks {
		cb()
	}
	// This runs on the Emulator's own tail goroutine (via onCorrupt), and
	// Close waits for that goroutine to return, so close it from another.
	if emu != nil {
		go emu.Close()
	}
}

// idleSweep evicts Emulators whose LastUpdate is older than idleTimeout
// even while still subscribed. A subscriber's next Snapshot call pays a
// one-time re-initialization cost.
func (b *Bus) idleSweep() {
	if b.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(b.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.sweepOnce()
		case <-b.sweepStop:
			return
		}
	}
}

func (b *Bus) sweepOnce() {
	b.mu.Lock()
	entries := make([]*entry, 0, len(b.sessions))
	for _, e := range b.sessions {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	cutoff := time.Now().Add(-b.idleTimeout)
	for _, e := range entries {
		e.mu.Lock()
		emu := e.emu
		if emu == nil || !emu.LastUpdate().Before(cutoff) {
			e.mu.Unlock()
			continue
		}
		e.emu = nil
		if e.debounceTimer != nil {
			e.debounceTimer.Stop()
			e.debounceArmed = false
		}
		e.mu.Unlock()
		emu.Close()
	}
}

// Close stops the idle sweep and tears down every live Emulator.
func (b *Bus) Close() {
	close(b.sweepStop)
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*entry)
	b.mu.Unlock()

	for _, e := range sessions {
		e.mu.Lock()
		emu := e.emu
		if e.debounceTimer != nil {
			e.debounceTimer.Stop()
		}
		e.mu.Unlock()
		if emu != nil {
			emu.Close()
		}
	}
}
