// Package graph stores the reference edges between resources.
// Edges are owned by their source: a resolver recomputes every outgoing
// edge of a source and replaces them in one call, so no edge is ever
// patched in place.
package graph

import (
	"slices"
	"sync"
)

// Graph is an in-memory edge store with out/in adjacency.
// It is thread-safe for concurrent access.
type Graph struct {
	mu sync.RWMutex

	// Edge storage - adjacency list
	outEdges map[string][]Edge // from -> [edges]
	inEdges  map[string][]Edge // to -> [edges]
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		outEdges: make(map[string][]Edge),
		inEdges:  make(map[string][]Edge),
	}
}

// ReplaceComposition replaces every composition edge leaving from.
func (g *Graph) ReplaceComposition(from string, edges []Edge) error {
	return g.replace(from, func(k EdgeKind) bool { return k == Composition }, edges)
}

// ReplaceReferences replaces every selector and name edge leaving from.
func (g *Graph) ReplaceReferences(from string, edges []Edge) error {
	return g.replace(from, EdgeKind.IsReference, edges)
}

func (g *Graph) replace(from string, owned func(EdgeKind) bool, edges []Edge) error {
	if from == "" {
		return ErrInvalidEdge
	}
	for _, e := range edges {
		if e.From != from {
			return ErrSourceMismatch
		}
		if !owned(e.Kind) {
			return ErrInvalidEdge
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var kept []Edge
	for _, e := range g.outEdges[from] {
		if owned(e.Kind) {
			g.unlinkIncomingLocked(e)
		} else {
			kept = append(kept, e)
		}
	}
	kept = Sort(append(kept, edges...))
	if len(kept) == 0 {
		delete(g.outEdges, from)
		return nil
	}
	g.outEdges[from] = kept

	for _, e := range edges {
		if e.To != "" {
			g.inEdges[e.To] = append(g.inEdges[e.To], e)
		}
	}
	for _, e := range edges {
		if e.To != "" {
			g.inEdges[e.To] = Sort(g.inEdges[e.To])
		}
	}
	return nil
}

// RemoveResource drops every edge leaving id and every edge pointing at
// it. It returns the sources whose edges were dropped so the caller can
// recompute them.
func (g *Graph) RemoveResource(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.outEdges[id] {
		g.unlinkIncomingLocked(e)
	}
	delete(g.outEdges, id)

	var sources []string
	for _, e := range g.inEdges[id] {
		if e.From == id {
			continue
		}
		out := g.outEdges[e.From]
		filtered := out[:0]
		for _, o := range out {
			if o != e {
				filtered = append(filtered, o)
			}
		}
		if len(filtered) == 0 {
			delete(g.outEdges, e.From)
		} else {
			g.outEdges[e.From] = filtered
		}
		sources = append(sources, e.From)
	}
	delete(g.inEdges, id)

	slices.Sort(sources)
	return slices.Compact(sources)
}

func (g *Graph) unlinkIncomingLocked(e Edge) {
	if e.To == "" {
		return
	}
	in := g.inEdges[e.To]
	filtered := make([]Edge, 0, len(in))
	for _, i := range in {
		if i != e {
			filtered = append(filtered, i)
		}
	}
	if len(filtered) == 0 {
		delete(g.inEdges, e.To)
	} else {
		g.inEdges[e.To] = filtered
	}
}

// Outgoing returns all edges leaving id in deterministic order.
func (g *Graph) Outgoing(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.outEdges[id])
}

// Incoming returns all resolved edges pointing at id.
func (g *Graph) Incoming(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.inEdges[id])
}

// SourcesTouching returns the sorted sources holding an edge that starts
// or ends at one of ids.
func (g *Graph) SourcesTouching(ids map[string]bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	for id := range ids {
		if len(g.outEdges[id]) > 0 {
			seen[id] = true
		}
		for _, e := range g.inEdges[id] {
			seen[e.From] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Counts summarizes the reference edges around one resource.
type Counts struct {
	Incoming    int
	Outgoing    int
	Unsatisfied int
}

// ReferenceCounts returns the reference annotations for id. Composition
// edges are not counted.
func (g *Graph) ReferenceCounts(id string) Counts {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var c Counts
	for _, e := range g.outEdges[id] {
		if !e.Kind.IsReference() {
			continue
		}
		if e.Valid {
			c.Outgoing++
		} else {
			c.Unsatisfied++
		}
	}
	for _, e := range g.inEdges[id] {
		if e.Kind.IsReference() {
			c.Incoming++
		}
	}
	return c
}

// Descendants returns the resources reachable from id over edges of the
// given kind, breadth first, without repeats.
func (g *Graph) Descendants(id string, kind EdgeKind) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{id: true}
	queue := []string{id}
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.outEdges[current] {
			if e.Kind != kind || e.To == "" || visited[e.To] {
				continue
			}
			visited[e.To] = true
			result = append(result, e.To)
			queue = append(queue, e.To)
		}
	}
	return result
}

// All returns every edge in deterministic order.
func (g *Graph) All() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var all []Edge
	for _, edges := range g.outEdges {
		all = append(all, edges...)
	}
	return Sort(all)
}

// Len returns the total number of edges.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, edges := range g.outEdges {
		count += len(edges)
	}
	return count
}

// Clear removes all edges.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outEdges = make(map[string][]Edge)
	g.inEdges = make(map[string][]Edge)
}

// Clone returns an independent copy of the graph.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := New()
	for id, edges := range g.outEdges {
		c.outEdges[id] = slices.Clone(edges)
	}
	for id, edges := range g.inEdges {
		c.inEdges[id] = slices.Clone(edges)
	}
	return c
}
