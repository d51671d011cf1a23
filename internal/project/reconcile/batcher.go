// Package reconcile applies filesystem change notifications to the live
// maps without a full rescan.
//
// A Batcher coalesces raw events per path inside a debounce window and
// hands the batch to its owner; an Applier applies one batch to the
// engine state in a fixed order: removals, then additions and changes,
// then the scoped composition and reference re-resolution.
package reconcile

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dshills/manifold/internal/clock"
	"github.com/dshills/manifold/internal/project/watcher"
)

// Default debounce timing.
const (
	DefaultIdle    = time.Second
	DefaultMaxWait = 5 * time.Second
)

// Batcher accumulates the latest meaningful event per path and flushes
// once no event arrived for the idle window, or once the oldest pending
// event waited MaxWait.
type Batcher struct {
	mu sync.Mutex

	clock   clock.Clock
	idle    time.Duration
	maxWait time.Duration
	flush   func([]watcher.Event)

	pending   map[string]watcher.Event
	idleTimer *clock.Timer
	maxTimer  *clock.Timer
	// gen invalidates timers armed for an earlier batch.
	gen uint64
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithClock sets the clock driving the windows.
func WithClock(c clock.Clock) BatcherOption {
	return func(b *Batcher) {
		b.clock = c
	}
}

// WithIdle sets the idle window.
func WithIdle(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.idle = d
		}
	}
}

// WithMaxWait bounds how long a pending batch can be delayed.
func WithMaxWait(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.maxWait = d
		}
	}
}

// NewBatcher creates a Batcher handing every non-empty batch to flush.
// flush runs on the timer's goroutine without the Batcher's lock held.
func NewBatcher(flush func([]watcher.Event), opts ...BatcherOption) *Batcher {
	b := &Batcher{
		clock:   clock.Real(),
		idle:    DefaultIdle,
		maxWait: DefaultMaxWait,
		flush:   flush,
		pending: make(map[string]watcher.Event),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add records an event, coalescing it with any pending event for the
// same path, and restarts the idle window.
func (b *Batcher) Add(ev watcher.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.pending[ev.Path]; ok {
		merged, keep := Coalesce(prev, ev)
		if keep {
			b.pending[ev.Path] = merged
		} else {
			delete(b.pending, ev.Path)
		}
	} else {
		b.pending[ev.Path] = ev
	}

	if len(b.pending) == 0 {
		b.stopLocked()
		return
	}

	gen := b.gen
	if b.idleTimer == nil {
		b.idleTimer = b.clock.AfterFunc(b.idle, func() { b.fire(gen) })
	} else {
		b.idleTimer.Reset(b.idle)
	}
	if b.maxTimer == nil {
		b.maxTimer = b.clock.AfterFunc(b.maxWait, func() { b.fire(gen) })
	}
}

// Coalesce merges a newer event for a path into the pending one. It
// reports false when the two cancel out.
func Coalesce(prev, next watcher.Event) (watcher.Event, bool) {
	merged := next
	switch prev.Kind {
	case watcher.Created:
		switch next.Kind {
		case watcher.Removed:
			return watcher.Event{}, false
		default:
			merged.Kind = watcher.Created
		}
	case watcher.Modified:
		if next.Kind == watcher.Created {
			merged.Kind = watcher.Modified
		}
	case watcher.Removed:
		if next.Kind == watcher.Created {
			merged.Kind = watcher.Modified
		}
	}
	return merged, true
}

func (b *Batcher) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	if len(batch) > 0 && b.flush != nil {
		b.flush(batch)
	}
}

// Flush hands the pending batch to the owner immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()

	if len(batch) > 0 && b.flush != nil {
		b.flush(batch)
	}
}

// Cancel drops the pending batch. Calling it again is a no-op.
func (b *Batcher) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.takeLocked()
}

// Pending returns the number of paths waiting to be flushed.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// takeLocked empties the batch and returns it sorted by path.
func (b *Batcher) takeLocked() []watcher.Event {
	b.stopLocked()
	if len(b.pending) == 0 {
		return nil
	}
	batch := make([]watcher.Event, 0, len(b.pending))
	for _, ev := range b.pending {
		batch = append(batch, ev)
	}
	clear(b.pending)
	slices.SortFunc(batch, func(a, b watcher.Event) int {
		return strings.Compare(a.Path, b.Path)
	})
	return batch
}

func (b *Batcher) stopLocked() {
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
	if b.maxTimer != nil {
		b.maxTimer.Stop()
		b.maxTimer = nil
	}
	b.gen++
}
