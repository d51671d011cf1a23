package search

import (
	"slices"
	"strings"

	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/refs"
)

// GroupLimit bounds each group of quick search options.
const GroupLimit = 4

// Groups holds the kinds and namespaces offered for a quick search query.
type Groups struct {
	Kinds      []string
	Namespaces []string
}

// Empty reports whether nothing matched.
func (g Groups) Empty() bool {
	return len(g.Kinds) == 0 && len(g.Namespaces) == 0
}

// Quick returns up to GroupLimit kinds and namespaces whose lower-cased
// name starts with the lower-cased query. Kinds include every kind known
// to the reference resolver; namespaces always include "default". An
// empty query offers nothing.
func Quick(query string, resources model.ResourceMap) Groups {
	if query == "" {
		return Groups{}
	}
	q := strings.ToLower(query)

	kinds := mergeSorted(refs.KnownKinds(), resources.Kinds())
	namespaces := mergeSorted([]string{refs.DefaultNamespace}, resources.Namespaces())

	return Groups{
		Kinds:      prefixed(kinds, q),
		Namespaces: prefixed(namespaces, q),
	}
}

func prefixed(values []string, q string) []string {
	var out []string
	for _, v := range values {
		if len(out) == GroupLimit {
			break
		}
		if strings.HasPrefix(strings.ToLower(v), q) {
			out = append(out, v)
		}
	}
	return out
}

func mergeSorted(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
