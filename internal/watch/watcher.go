// Package watch observes save directories and emits normalized
// filesystem-change events. It is purely a signal source: classifying
// which changes matter belongs to the orchestrator.
package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/emusync/emusync/internal/errors"
)

// Kind classifies a filesystem change.
type Kind int

const (
	Create Kind = iota
	Modify
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one normalized filesystem change.
type Event struct {
	Path      string
	Kind      Kind
	Timestamp time.Time
}

// Watcher wraps fsnotify with recursive directory registration and an
// unbounded, emission-ordered event stream. The OS watch handle is held
// for the watcher's lifetime and released on Stop.
type Watcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped sync.WaitGroup

	out chan Event

	// pending buffers events between the fsnotify goroutine and the
	// consumer so a slow consumer never blocks OS event delivery.
	pendMu   sync.Mutex
	pendCond *sync.Cond
	pending  []Event
	closed   bool
}

// New creates a stopped Watcher.
func New(logger *slog.Logger) *Watcher {
	w := &Watcher{
		logger: logger,
		out:    make(chan Event),
	}
	w.pendCond = sync.NewCond(&w.pendMu)
	return w
}

// Events returns the ordered event stream. Valid across Start/Stop
// cycles; no events are delivered while stopped.
func (w *Watcher) Events() <-chan Event {
	return w.out
}

// Start begins watching the given directories recursively. Starting a
// running watcher returns ErrAlreadyRunning. Missing paths map to
// ErrPathNotFound and permission problems to ErrPermissionDenied; in
// both cases no OS resources are left behind.
func (w *Watcher) Start(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return errors.ErrAlreadyRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	for _, p := range paths {
		if err := addRecursive(fsw, p); err != nil {
			fsw.Close()
			return classifyStartError(p, err)
		}
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.stopped.Add(2)
	go w.readLoop(fsw, w.done)
	go w.deliverLoop(w.done)

	w.logger.Info("watcher started", slog.Int("paths", len(paths)))
	return nil
}

// Stop releases the OS watch handle and halts event delivery. Stopping
// a stopped watcher is a no-op success. An in-flight packaging job
// triggered by an earlier event is unaffected.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw == nil {
		return nil
	}

	close(w.done)
	err := w.fsw.Close()
	w.wakeDeliver()
	w.stopped.Wait()

	w.fsw = nil
	w.done = nil

	w.pendMu.Lock()
	w.pending = nil
	w.closed = false
	w.pendMu.Unlock()

	w.logger.Info("watcher stopped")
	if err != nil {
		return fmt.Errorf("closing fsnotify watcher: %w", err)
	}
	return nil
}

// readLoop drains fsnotify and appends normalized events to the
// pending buffer. It exits when the fsnotify channels close.
func (w *Watcher) readLoop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.stopped.Done()

	for {
		select {
		case <-done:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}

			kind, relevant := classify(event)
			if !relevant {
				continue
			}

			// New directories must be registered so files created
			// inside them are seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(fsw, event.Name)
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = fsw.Remove(event.Name)
			}

			w.enqueue(Event{Path: event.Name, Kind: kind, Timestamp: time.Now()})

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			// fsnotify errors (e.g. watch limit) are non-fatal; the
			// affected paths just stop reporting until restart.
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// deliverLoop forwards buffered events to the out channel in order.
func (w *Watcher) deliverLoop(done chan struct{}) {
	defer w.stopped.Done()

	for {
		w.pendMu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.pendCond.Wait()
		}
		if w.closed {
			w.pendMu.Unlock()
			return
		}
		ev := w.pending[0]
		w.pending = w.pending[1:]
		w.pendMu.Unlock()

		select {
		case w.out <- ev:
		case <-done:
			return
		}
	}
}

func (w *Watcher) enqueue(ev Event) {
	w.pendMu.Lock()
	w.pending = append(w.pending, ev)
	w.pendMu.Unlock()
	w.pendCond.Signal()
}

func (w *Watcher) wakeDeliver() {
	w.pendMu.Lock()
	w.closed = true
	w.pendMu.Unlock()
	w.pendCond.Broadcast()
}

func classify(event fsnotify.Event) (Kind, bool) {
	switch {
	case event.Has(fsnotify.Create):
		return Create, true
	case event.Has(fsnotify.Write):
		return Modify, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return Delete, true
	default:
		// Chmod is noise for save detection.
		return 0, false
	}
}

func classifyStartError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("watching %s: %w", path, errors.ErrPathNotFound)
	case os.IsPermission(err):
		return fmt.Errorf("watching %s: %w", path, errors.ErrPermissionDenied)
	default:
		return fmt.Errorf("watching %s: %w", path, err)
	}
}

// addRecursive walks the directory and registers every non-hidden
// subdirectory.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); len(name) > 1 && name[0] == '.' {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
