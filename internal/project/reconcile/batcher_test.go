package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/dshills/manifold/internal/clock"
	"github.com/dshills/manifold/internal/project/watcher"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]watcher.Event
}

func (r *flushRecorder) flush(batch []watcher.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func newTestBatcher() (*Batcher, *clock.FakeClock, *flushRecorder) {
	fc := clock.Fake(time.Unix(0, 0))
	rec := &flushRecorder{}
	b := NewBatcher(rec.flush, WithClock(fc), WithIdle(time.Second), WithMaxWait(5*time.Second))
	return b, fc, rec
}

func ev(kind watcher.Kind, path string) watcher.Event {
	return watcher.Event{Kind: kind, Path: path}
}

func TestBatcher_CoalescesBurst(t *testing.T) {
	b, fc, rec := newTestBatcher()

	b.Add(ev(watcher.Created, "f.yaml"))
	fc.Advance(200 * time.Millisecond)
	b.Add(ev(watcher.Modified, "f.yaml"))
	fc.Advance(200 * time.Millisecond)
	b.Add(ev(watcher.Modified, "f.yaml"))

	fc.Advance(999 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("batch flushed before the idle window elapsed")
	}
	fc.Advance(time.Millisecond)

	if rec.count() != 1 {
		t.Fatalf("flushes = %d, want 1", rec.count())
	}
	batch := rec.batches[0]
	if len(batch) != 1 || batch[0].Kind != watcher.Created || batch[0].Path != "f.yaml" {
		t.Errorf("batch = %+v, want one create", batch)
	}
}

func TestBatcher_CreateRemoveCancels(t *testing.T) {
	b, fc, rec := newTestBatcher()

	b.Add(ev(watcher.Created, "f.yaml"))
	b.Add(ev(watcher.Removed, "f.yaml"))
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
	if fc.PendingCount() != 0 {
		t.Errorf("timers left armed: %d", fc.PendingCount())
	}
	fc.Advance(10 * time.Second)
	if rec.count() != 0 {
		t.Errorf("flushes = %d, want none", rec.count())
	}
}

func TestBatcher_MaxWait(t *testing.T) {
	b, fc, rec := newTestBatcher()

	for i := 0; i < 12; i++ {
		b.Add(ev(watcher.Modified, "busy.yaml"))
		fc.Advance(500 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Errorf("flushes = %d, want 1 under continuous churn", rec.count())
	}
}

func TestBatcher_SortedBatchAndCancel(t *testing.T) {
	b, fc, rec := newTestBatcher()

	b.Add(ev(watcher.Modified, "b.yaml"))
	b.Add(ev(watcher.Removed, "a.yaml"))
	b.Flush()
	if rec.count() != 1 {
		t.Fatalf("flushes = %d, want 1", rec.count())
	}
	if got := rec.batches[0]; got[0].Path != "a.yaml" || got[1].Path != "b.yaml" {
		t.Errorf("batch = %+v, want sorted by path", got)
	}

	b.Add(ev(watcher.Created, "c.yaml"))
	b.Cancel()
	b.Cancel()
	fc.Advance(10 * time.Second)
	if rec.count() != 1 {
		t.Errorf("cancelled batch was flushed")
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		prev, next watcher.Kind
		want       watcher.Kind
		keep       bool
	}{
		{watcher.Created, watcher.Removed, 0, false},
		{watcher.Created, watcher.Modified, watcher.Created, true},
		{watcher.Modified, watcher.Removed, watcher.Removed, true},
		{watcher.Modified, watcher.Modified, watcher.Modified, true},
		{watcher.Removed, watcher.Created, watcher.Modified, true},
		{watcher.Modified, watcher.Created, watcher.Modified, true},
	}
	for _, tt := range tests {
		t.Run(tt.prev.String()+"+"+tt.next.String(), func(t *testing.T) {
			got, keep := Coalesce(ev(tt.prev, "p"), ev(tt.next, "p"))
			if keep != tt.keep {
				t.Fatalf("keep = %v, want %v", keep, tt.keep)
			}
			if keep && got.Kind != tt.want {
				t.Errorf("kind = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}
