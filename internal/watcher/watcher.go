// Package watcher watches the session credential file and notifies the app
// when it changes on disk. Another process (or a second instance) signing in
// or out updates the file; watching it keeps every instance's auth state in
// step without polling.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const (
	// replaceCheckDelay lets an atomic replace (write tmp, rename) settle
	// before deciding a Remove event means a real sign-out.
	replaceCheckDelay = 50 * time.Millisecond

	// reloadDebounce coalesces the burst of events one save produces.
	reloadDebounce = 150 * time.Millisecond
)

// Event describes one observed credential-file change.
type Event struct {
	// Path is the watched credential file.
	Path string
	// Removed is true when the file was deleted rather than rewritten.
	Removed bool
}

// Watcher watches a single credential file for external changes.
type Watcher struct {
	path     string
	onChange func(Event)
	watcher  *fsnotify.Watcher

	mu          sync.Mutex
	reloadTimer *time.Timer
	closed      bool
}

// New creates a watcher for the credential file at path. onChange runs on a
// timer goroutine after debouncing; it must not block.
func New(path string, onChange func(Event)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  fsWatcher,
	}, nil
}

// Start begins watching. The credential file's directory is watched rather
// than the file itself so atomic renames and sign-in after sign-out are both
// observed. Returns once the watch is registered; events are delivered in the
// background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.run(ctx)
	log.Debugf("credential file watcher started for %s", w.path)
	return nil
}

// Stop stops the watcher and releases the underlying fsnotify resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.closed = true
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithField("error", err).Warn("credential file watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
		w.scheduleNotify(Event{Path: w.path})
	case event.Op&fsnotify.Remove != 0:
		// A Remove during an atomic replace is immediately followed by the
		// renamed file appearing; wait before treating it as a sign-out.
		time.AfterFunc(replaceCheckDelay, func() {
			if _, err := os.Stat(w.path); os.IsNotExist(err) {
				w.scheduleNotify(Event{Path: w.path, Removed: true})
			} else {
				w.scheduleNotify(Event{Path: w.path})
			}
		})
	}
}

// scheduleNotify debounces rapid event bursts into one callback.
func (w *Watcher) scheduleNotify(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, func() {
		w.onChange(event)
	})
}
