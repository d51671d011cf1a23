package search

import (
	"cmp"
	"math"
	"slices"
	"sync"
)

// Weights sets how much each factor adds to a ranked score.
type Weights struct {
	Match     float64
	Frequency float64
	// Prefix rewards matches that begin at the first character.
	Prefix float64
}

func DefaultWeights() Weights {
	return Weights{Match: 0.7, Frequency: 0.2, Prefix: 0.1}
}

// saturation is the visit count at which frequency stops adding.
const saturation = 100

// Ranker orders matches by match quality and selection history. It is
// safe for concurrent use.
type Ranker struct {
	weights Weights

	mu     sync.RWMutex
	visits map[string]int
}

func NewRanker(w Weights) *Ranker {
	return &Ranker{weights: w, visits: make(map[string]int)}
}

// Rank rescores matches in place and sorts them best first. Frequency
// counts only when boost is set.
func (r *Ranker) Rank(matches []Match, boost bool) []Match {
	r.mu.RLock()
	for i := range matches {
		m := &matches[i]
		score := m.Score*r.weights.Match + prefixScore(*m)*r.weights.Prefix
		if boost {
			score += r.frequencyLocked(m.ID) * r.weights.Frequency
		}
		m.Score = score
	}
	r.mu.RUnlock()
	sortMatches(matches)
	return matches
}

// RecordVisit counts one selection of id.
func (r *Ranker) RecordVisit(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visits[id]++
}

// Forget drops the history of a removed resource.
func (r *Ranker) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.visits, id)
}

func (r *Ranker) Visits(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visits[id]
}

// frequencyLocked grows logarithmically from 0.3 at one visit to 1 at
// saturation.
func (r *Ranker) frequencyLocked(id string) float64 {
	n := r.visits[id]
	if n == 0 {
		return 0
	}
	f := 0.3 + 0.7*math.Log1p(float64(n))/math.Log1p(saturation)
	return min(f, 1)
}

func prefixScore(m Match) float64 {
	switch {
	case m.Qualified:
		return 0
	case len(m.Positions) > 0 && m.Positions[0] == 0:
		return 1
	default:
		return 0.5
	}
}

// sortMatches orders best first, then by name and ID.
func sortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
