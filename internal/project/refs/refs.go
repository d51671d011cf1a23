// Package refs computes selector and name reference edges between
// resources and the reference annotations derived from them.
//
// A source's outgoing edges depend only on its own content and on the
// resources of the kinds its rules can target. Scoped recomputes every
// source that could have been influenced by a change, so a scoped run over
// a snapshot leaves the same edges as a full run.
package refs

import (
	"slices"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/model"
)

// Resolver resolves references over one snapshot of a ResourceMap.
type Resolver struct {
	resources model.ResourceMap

	byRef     map[string][]string // Ref.String() -> sorted ids
	workloads []*model.Resource   // sorted by id
}

// New indexes resources for resolution.
func New(resources model.ResourceMap) *Resolver {
	r := &Resolver{
		resources: resources,
		byRef:     make(map[string][]string),
	}
	for _, res := range resources.Sorted() {
		key := RefOf(res).String()
		r.byRef[key] = append(r.byRef[key], res.ID)
		if PodLabels(res) != nil {
			r.workloads = append(r.workloads, res)
		}
	}
	return r
}

// Outgoing computes the reference edges leaving id.
func (r *Resolver) Outgoing(id string) []graph.Edge {
	src := r.resources[id]
	if src == nil {
		return nil
	}
	h, ok := handlerFor(src.Kind)
	if !ok {
		return nil
	}

	var edges []graph.Edge
	if h.selector != nil {
		if selector := h.selector(src); len(selector) > 0 {
			text := SelectorString(selector)
			ns := namespaceOf(src.Kind, src.Namespace)
			for _, w := range r.workloads {
				if namespaceOf(w.Kind, w.Namespace) != ns || !Matches(selector, PodLabels(w)) {
					continue
				}
				edges = append(edges, graph.Edge{From: id, To: w.ID, Target: text, Kind: graph.SelectorMatch, Valid: true})
			}
		}
	}
	if h.names != nil {
		for _, ref := range h.names(src) {
			key := ref.String()
			targets := r.byRef[key]
			if len(targets) == 0 {
				edges = append(edges, graph.NewDanglingEdge(id, graph.NameRef, key))
				continue
			}
			for _, to := range targets {
				edges = append(edges, graph.Edge{From: id, To: to, Target: key, Kind: graph.NameRef, Valid: true})
			}
		}
	}
	return graph.Sort(edges)
}

// Full recomputes the reference edges of every resource in g and
// refreshes every annotation.
func (r *Resolver) Full(g *graph.Graph) error {
	for _, id := range r.resources.IDs() {
		if err := g.ReplaceReferences(id, r.Outgoing(id)); err != nil {
			return err
		}
	}
	for _, id := range r.resources.IDs() {
		r.annotate(g, id)
	}
	return nil
}

// Change describes what changed since g was last resolved.
type Change struct {
	// IDs are resources added, removed or modified.
	IDs map[string]bool
	// Kinds are the kinds of those resources, including removed ones.
	Kinds map[string]bool
	// Touched are resources that held or received an edge of a removed
	// resource before it was dropped from g. Those edges are gone, so g
	// can no longer lead to them.
	Touched map[string]bool
}

// Scoped recomputes the edges of the sources a change may influence and
// refreshes the annotations of every endpoint touched. Removed resources
// must already be dropped from g. It returns the recomputed sources.
func (r *Resolver) Scoped(g *graph.Graph, change Change) ([]string, error) {
	sources := make(map[string]bool)
	for id := range change.IDs {
		if r.resources[id] != nil {
			sources[id] = true
		}
	}
	for _, id := range g.SourcesTouching(change.IDs) {
		sources[id] = true
	}
	for id := range change.Touched {
		if r.resources[id] != nil {
			sources[id] = true
		}
	}
	for id, res := range r.resources {
		if h, ok := handlerFor(res.Kind); ok && h.canTarget(change.Kinds) {
			sources[id] = true
		}
	}

	ordered := make([]string, 0, len(sources))
	for id := range sources {
		ordered = append(ordered, id)
	}
	slices.Sort(ordered)

	touched := make(map[string]bool)
	for id := range change.IDs {
		touched[id] = true
	}
	for _, id := range ordered {
		touched[id] = true
		for _, e := range g.Outgoing(id) {
			if e.Kind.IsReference() && e.To != "" {
				touched[e.To] = true
			}
		}
		if r.resources[id] == nil {
			if err := g.ReplaceReferences(id, nil); err != nil {
				return nil, err
			}
			continue
		}
		edges := r.Outgoing(id)
		if err := g.ReplaceReferences(id, edges); err != nil {
			return nil, err
		}
		for _, e := range edges {
			if e.To != "" {
				touched[e.To] = true
			}
		}
	}

	for id := range touched {
		r.annotate(g, id)
	}
	return ordered, nil
}

func (r *Resolver) annotate(g *graph.Graph, id string) {
	res := r.resources[id]
	if res == nil {
		return
	}
	c := g.ReferenceCounts(id)
	res.IncomingRefs = c.Incoming
	res.OutgoingRefs = c.Outgoing
	res.UnsatisfiedRefs = c.Unsatisfied
}
