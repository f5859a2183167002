package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of events most editors emit for a
// single logical save (temp-file write + rename).
const debounceWindow = 150 * time.Millisecond

// Watcher watches the configuration file for external edits and notifies
// subscribers after the change settles. The session router uses this to
// invalidate its cached conductor-handle-by-configuration-key map so that
// new sessions pick up an edited chain without a process restart; sessions
// already bound to a conductor are unaffected.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	subs []chan struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the directory containing path for changes to
// path's basename. path need not exist yet — the watch is on the directory,
// so files created later are still observed.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Subscribe returns a channel that receives a value each time the
// configuration file changes (after debouncing).
func (w *Watcher) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

func (w *Watcher) run() {
	base := filepath.Base(w.path)
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.notify)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watch error", "error", err)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
