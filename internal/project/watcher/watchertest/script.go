// Package watchertest provides a scripted watcher.Watcher for tests.
package watchertest

import (
	"sync"

	"github.com/dshills/manifold/internal/project/watcher"
)

// Script is a Watcher whose events are pushed by the test. Emit and Fail
// block until the consumer receives the value, so a test knows the event
// has been handed over before it advances a fake clock.
type Script struct {
	mu      sync.Mutex
	root    string
	watched bool
	closed  bool

	events chan watcher.Event
	errors chan error
	done   chan struct{}
}

// New creates an unbuffered script.
func New() *Script {
	return &Script{
		events: make(chan watcher.Event),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
}

// Factory returns a watcher.Factory handing out s.
func (s *Script) Factory() watcher.Factory {
	return func(root string, _ *watcher.IgnorePatterns) (watcher.Watcher, error) {
		return s, nil
	}
}

// WatchRecursive records root.
func (s *Script) WatchRecursive(root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return watcher.ErrWatcherClosed
	}
	s.root = root
	s.watched = true
	return nil
}

// Root returns the path passed to WatchRecursive.
func (s *Script) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Watching reports whether WatchRecursive was called and Close was not.
func (s *Script) Watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched && !s.closed
}

// Events returns the event channel.
func (s *Script) Events() <-chan watcher.Event { return s.events }

// Errors returns the error channel.
func (s *Script) Errors() <-chan error { return s.errors }

// Emit delivers events in order. It returns false if the script was
// closed before every event was received. Emit must not race with Die.
func (s *Script) Emit(events ...watcher.Event) bool {
	for _, e := range events {
		if s.isClosed() {
			return false
		}
		select {
		case s.events <- e:
		case <-s.done:
			return false
		}
	}
	return true
}

// Fail delivers err on the error channel.
func (s *Script) Fail(err error) bool {
	if s.isClosed() {
		return false
	}
	select {
	case s.errors <- err:
		return true
	case <-s.done:
		return false
	}
}

// Die closes the output channels as a crashed watch subsystem would.
func (s *Script) Die() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
	close(s.errors)
}

func (s *Script) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the script.
func (s *Script) Close() error {
	s.Die()
	return nil
}

var _ watcher.Watcher = (*Script)(nil)
