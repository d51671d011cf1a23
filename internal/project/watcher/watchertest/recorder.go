package watchertest

import (
	"sync"

	"github.com/dshills/manifold/internal/project/watcher"
)

// Recorder hands out a fresh Script for every watch the engine starts.
type Recorder struct {
	mu      sync.Mutex
	scripts []*Script
}

// Factory returns a watcher.Factory recording each Script it creates.
func (r *Recorder) Factory() watcher.Factory {
	return func(string, *watcher.IgnorePatterns) (watcher.Watcher, error) {
		s := New()
		r.mu.Lock()
		r.scripts = append(r.scripts, s)
		r.mu.Unlock()
		return s, nil
	}
}

// Latest returns the most recently created Script, or nil.
func (r *Recorder) Latest() *Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.scripts) == 0 {
		return nil
	}
	return r.scripts[len(r.scripts)-1]
}

// Count returns how many watches were started.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scripts)
}
