package graph

import (
	"cmp"
	"slices"
)

// EdgeKind indicates the relationship between two resources.
type EdgeKind int

const (
	// Composition indicates an aggregator lists the target as a component.
	Composition EdgeKind = iota
	// SelectorMatch indicates the source's label selector matches the target.
	SelectorMatch
	// NameRef indicates the source names the target explicitly.
	NameRef
)

// String returns the string representation of an EdgeKind.
func (k EdgeKind) String() string {
	switch k {
	case Composition:
		return "composition"
	case SelectorMatch:
		return "selector"
	case NameRef:
		return "name"
	default:
		return "unknown"
	}
}

// IsReference reports whether the kind is a semantic reference rather
// than composition.
func (k EdgeKind) IsReference() bool {
	return k == SelectorMatch || k == NameRef
}

// Edge is a directed relationship between two resources.
type Edge struct {
	// From is the source resource ID.
	From string `json:"from" cbor:"from"`
	// To is the target resource ID, empty when the edge dangles.
	To string `json:"to,omitempty" cbor:"to"`
	// Target is the symbolic target: a relative path for composition,
	// Kind/namespace/name for name links, selector text for selectors.
	Target string `json:"target" cbor:"target"`
	// Kind is the relationship type.
	Kind EdgeKind `json:"kind" cbor:"kind"`
	// Valid is false when the target cannot currently be resolved.
	Valid bool `json:"valid" cbor:"valid"`
}

// NewCompositionEdge creates a resolved composition edge.
func NewCompositionEdge(aggregator, component, path string) Edge {
	return Edge{From: aggregator, To: component, Target: path, Kind: Composition, Valid: true}
}

// NewDanglingEdge creates an edge whose target could not be resolved.
func NewDanglingEdge(from string, kind EdgeKind, target string) Edge {
	return Edge{From: from, Target: target, Kind: kind}
}

// Compare orders edges by (From, Kind, Target, To).
func Compare(a, b Edge) int {
	if c := cmp.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Target, b.Target); c != 0 {
		return c
	}
	return cmp.Compare(a.To, b.To)
}

// Sort orders edges deterministically and removes exact duplicates.
func Sort(edges []Edge) []Edge {
	slices.SortFunc(edges, Compare)
	return slices.Compact(edges)
}

// Touches reports whether the edge starts or ends at id.
func (e Edge) Touches(id string) bool {
	return e.From == id || (e.To != "" && e.To == id)
}
