package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

const defaultBufferSize = 256

// NotifyWatcher watches a tree with fsnotify, one watch per directory.
type NotifyWatcher struct {
	fsw  *fsnotify.Watcher
	opts options

	mu     sync.Mutex
	dirs   map[string]struct{}
	closed bool

	events  chan Event
	errs    chan error
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

var _ Watcher = (*NotifyWatcher)(nil)

func NewNotifyWatcher(opts ...Option) (*NotifyWatcher, error) {
	o := options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.excludes == nil {
		o.excludes = NewIgnorePatterns()
	}
	if o.bufferSize <= 0 {
		o.bufferSize = defaultBufferSize
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting fsnotify: %w", err)
	}
	w := &NotifyWatcher{
		fsw:    fsw,
		opts:   o,
		dirs:   make(map[string]struct{}),
		events: make(chan Event, o.bufferSize),
		errs:   make(chan error, o.bufferSize),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *NotifyWatcher) WatchRecursive(path string) error {
	top, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(top)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", ErrPathNotExist, top)
	}
	if err != nil {
		return err
	}
	if w.isClosed() {
		return ErrWatcherClosed
	}

	return filepath.WalkDir(top, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			// Unreadable subtrees are skipped; their events never arrive.
			if p != top {
				w.report(fmt.Errorf("watch %s: %w", p, err))
			}
			return nil
		case !d.IsDir():
			return nil
		case p != top && w.excluded(p, true):
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

// add watches one directory. Only a closed watcher stops the walk.
func (w *NotifyWatcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		w.report(fmt.Errorf("watch %s: %w", dir, err))
		return nil
	}
	w.dirs[dir] = struct{}{}
	return nil
}

func (w *NotifyWatcher) Events() <-chan Event { return w.events }

func (w *NotifyWatcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and closes both channels. It is idempotent.
func (w *NotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)
	close(w.errs)
	return w.fsw.Close()
}

// Watched returns the watched directories in lexical order.
func (w *NotifyWatcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.dirs))
}

// Dropped returns how many events did not fit the event channel.
func (w *NotifyWatcher) Dropped() int64 {
	return w.dropped.Load()
}

func (w *NotifyWatcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *NotifyWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case raw, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event, ok := w.translate(raw); ok {
				w.emit(event)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = fmt.Errorf("%w: %v", ErrOverflow, err)
			}
			w.report(err)
		}
	}
}

// translate maps an fsnotify event onto an Event. Chmod and excluded paths
// yield false. A created directory is watched before its event leaves, so
// files written into it right away are not missed.
func (w *NotifyWatcher) translate(raw fsnotify.Event) (Event, bool) {
	event := Event{Path: raw.Name}
	switch {
	case raw.Has(fsnotify.Remove), raw.Has(fsnotify.Rename):
		event.Kind = Removed
		event.IsDir = w.forget(raw.Name)
	case raw.Has(fsnotify.Create):
		info, err := os.Stat(raw.Name)
		if err != nil {
			// Gone already; its Remove follows.
			return Event{}, false
		}
		event.Kind = Created
		event.IsDir = info.IsDir()
	case raw.Has(fsnotify.Write):
		event.Kind = Modified
	default:
		return Event{}, false
	}

	if w.excluded(event.Path, event.IsDir) {
		return Event{}, false
	}
	if event.Kind == Created && event.IsDir {
		if err := w.WatchRecursive(event.Path); err != nil && !errors.Is(err, ErrWatcherClosed) {
			w.report(err)
		}
	}
	return event, true
}

// forget drops the watches at or below dir and reports whether dir itself
// was watched.
func (w *NotifyWatcher) forget(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, watched := w.dirs[dir]
	prefix := dir + string(filepath.Separator)
	for p := range w.dirs {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(w.dirs, p)
		}
	}
	return watched
}

func (w *NotifyWatcher) excluded(path string, isDir bool) bool {
	if w.opts.root == "" {
		return w.opts.excludes.Excluded(filepath.ToSlash(path), isDir)
	}
	rel, err := filepath.Rel(w.opts.root, path)
	if err != nil || rel == "." {
		return false
	}
	return w.opts.excludes.Excluded(filepath.ToSlash(rel), isDir)
}

func (w *NotifyWatcher) emit(event Event) {
	select {
	case w.events <- event:
	default:
		w.dropped.Add(1)
		w.report(fmt.Errorf("%w: %s %s", ErrOverflow, event.Kind, event.Path))
	}
}

// report queues err without blocking; errors beyond the buffer are lost.
func (w *NotifyWatcher) report(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
