package project

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SignalsDirName is the directory under .specflow used for out-of-band
// control signals. An agent or operator creates the stop file to halt a
// running execute loop after the in-flight tasks finish.
const SignalsDirName = "signals"

const stopFileName = "stop"

// SignalWatcher observes the project's signals directory. Detection uses
// fsnotify with a polling fallback when the watcher cannot start.
type SignalWatcher struct {
	dir string

	mu   sync.RWMutex
	stop bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher starts watching <root>/.specflow/signals.
func NewSignalWatcher(root string) (*SignalWatcher, error) {
	dir := filepath.Join(root, ConfigDirName, SignalsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &SignalWatcher{dir: dir, done: make(chan struct{})}
	// A stop file left over from a previous run still counts.
	w.refresh()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		go w.poll()
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		go w.poll()
		return w, nil
	}
	w.watcher = watcher
	go w.watch()
	return w, nil
}

// StopRequested reports whether the stop signal has been observed.
func (w *SignalWatcher) StopRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stop
}

// Close stops the watcher.
func (w *SignalWatcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *SignalWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.refresh()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *SignalWatcher) poll() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *SignalWatcher) refresh() {
	_, err := os.Stat(filepath.Join(w.dir, stopFileName))
	w.mu.Lock()
	if err == nil {
		w.stop = true
	}
	w.mu.Unlock()
}

// RequestStop writes the stop signal for the project at root.
func RequestStop(root string) error {
	dir := filepath.Join(root, ConfigDirName, SignalsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, stopFileName),
		[]byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644)
}

// ClearSignals removes any pending signals, typically at run start.
func ClearSignals(root string) error {
	path := filepath.Join(root, ConfigDirName, SignalsDirName, stopFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
