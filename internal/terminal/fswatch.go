package terminal

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher is a narrow filesystem-watch interface so the Follower
// doesn't depend on fsnotify directly and a polling fallback can stand
// in for platforms without inotify/kqueue.
type watcher interface {
	Add(path string) error
	Events() <-chan struct{}
	Close() error
}

// fsnotifyWatcher adapts *fsnotify.Watcher, collapsing its richer event
// stream to the bare "something changed" signal the Follower needs.
type fsnotifyWatcher struct {
	w      *fsnotify.Watcher
	events chan struct{}
	done   chan struct{}
}

func newFsnotifyWatcher() (watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fsnotifyWatcher{w: w, events: make(chan struct{}, 1), done: make(chan struct{})}
	go fw.pump()
	return fw, nil
}

func (fw *fsnotifyWatcher) pump() {
	for {
		select {
		case _, ok := <-fw.w.Events:
			if !ok {
				return
			}
			select {
			case fw.events <- struct{}{}:
			default:
			}
		case _, ok := <-fw.w.Errors:
			if !ok {
				return
			}
		case <-fw.done:
			return
		}
	}
}

func (fw *fsnotifyWatcher) Add(path string) error       { return fw.w.Add(path) }
func (fw *fsnotifyWatcher) Events() <-chan struct{}     { return fw.events }
func (fw *fsnotifyWatcher) Close() error {
	close(fw.done)
	return fw.w.Close()
}

// pollWatcher is the portability fallback: it stats the file on an
// interval and signals whenever the size or mtime changes.
type pollWatcher struct {
	events chan struct{}
	done   chan struct{}
}

func newPollWatcher(path string, interval time.Duration) watcher {
	pw := &pollWatcher{events: make(chan struct{}, 1), done: make(chan struct{})}
	go pw.pump(path, interval)
	return pw
}

func (pw *pollWatcher) pump(path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastSize int64 = -1
	var lastMod time.Time
	for {
		select {
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.Size() != lastSize || !info.ModTime().Equal(lastMod) {
				lastSize = info.Size()
				lastMod = info.ModTime()
				select {
				case pw.events <- struct{}{}:
				default:
				}
			}
		case <-pw.done:
			return
		}
	}
}

func (pw *pollWatcher) Add(path string) error   { return nil }
func (pw *pollWatcher) Events() <-chan struct{} { return pw.events }
func (pw *pollWatcher) Close() error {
	close(pw.done)
	return nil
}

const pollInterval = 200 * time.Millisecond
