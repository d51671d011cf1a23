// Package watcher reports changes below a root folder.
//
// Raw notifications are mapped at the boundary onto a closed variant:
// every Event is Created, Modified or Removed, for a file or a directory.
// A watcher only filters excluded paths; coalescing happens in the
// engine's batch accumulator.
package watcher

import (
	"context"
	"errors"
)

var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
	// ErrOverflow reports lost events. The tree may have changed in ways
	// no event describes, so the next rescan is the only reliable view.
	ErrOverflow = errors.New("change events were lost")
)

// Kind is the kind of change an Event reports.
type Kind int

const (
	Created Kind = iota + 1
	Modified
	Removed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one change. Path is absolute when it leaves a Watcher; the
// engine rewrites it relative to the root.
type Event struct {
	Kind  Kind
	IsDir bool
	Path  string
}

// Watcher monitors a directory tree.
type Watcher interface {
	// WatchRecursive watches path and every directory below it that is
	// not excluded. Directories created later are added as they appear.
	WatchRecursive(path string) error

	// Events and Errors are closed by Close.
	Events() <-chan Event
	Errors() <-chan error

	Close() error
}

// Factory creates a watcher for root honoring excludes.
type Factory func(root string, excludes *IgnorePatterns) (Watcher, error)

// FSNotifyFactory is the production Factory.
func FSNotifyFactory(opts ...Option) Factory {
	return func(root string, excludes *IgnorePatterns) (Watcher, error) {
		return NewNotifyWatcher(append([]Option{WithRoot(root), WithExcludes(excludes)}, opts...)...)
	}
}

type options struct {
	root       string
	excludes   *IgnorePatterns
	bufferSize int
}

// Option configures a NotifyWatcher.
type Option func(*options)

// WithRoot sets the directory exclude rules are matched against. Without
// it rules see absolute paths.
func WithRoot(root string) Option {
	return func(o *options) { o.root = root }
}

// WithExcludes sets the exclude rules shared with the scanner.
func WithExcludes(excludes *IgnorePatterns) Option {
	return func(o *options) { o.excludes = excludes }
}

// WithBufferSize sets the event channel capacity. Events that do not fit
// are dropped and reported as ErrOverflow.
func WithBufferSize(size int) Option {
	return func(o *options) { o.bufferSize = size }
}

// Run drains w, handing events and errors to the handlers until ctx is
// cancelled or the watcher's channels close. It returns ErrWatcherClosed
// in the latter case so the caller can tell a dead watch from a stop.
func Run(ctx context.Context, w Watcher, onEvent func(Event), onError func(error)) error {
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return ErrWatcherClosed
			}
			onEvent(event)
		case err, ok := <-errs:
			if !ok {
				return ErrWatcherClosed
			}
			onError(err)
		}
	}
}
