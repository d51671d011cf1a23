package model

import (
	"slices"
)

// FileMap maps relative paths to entries.
type FileMap map[string]*FileEntry

// ResourceMap maps resource identifiers to resources.
type ResourceMap map[string]*Resource

// Clone returns a deep copy of the map.
func (m FileMap) Clone() FileMap {
	c := make(FileMap, len(m))
	for k, v := range m {
		c[k] = v.Clone()
	}
	return c
}

// Paths returns every relative path in lexical order.
func (m FileMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Descendants returns the paths strictly beneath dir in lexical order.
func (m FileMap) Descendants(dir string) []string {
	var out []string
	for p := range m {
		if p != dir && p != RootEntry && IsUnder(p, dir) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy of the map.
func (m ResourceMap) Clone() ResourceMap {
	c := make(ResourceMap, len(m))
	for k, v := range m {
		c[k] = v.Clone()
	}
	return c
}

// IDs returns every identifier in lexical order.
func (m ResourceMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Sorted returns the resources ordered by file path, then document index.
func (m ResourceMap) Sorted() []*Resource {
	out := make([]*Resource, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Resource) int {
		switch {
		case a.FilePath != b.FilePath:
			if a.FilePath < b.FilePath {
				return -1
			}
			return 1
		case a.DocIndex != b.DocIndex:
			return a.DocIndex - b.DocIndex
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Namespaces returns the distinct non-empty namespaces in lexical order.
func (m ResourceMap) Namespaces() []string {
	return m.distinct(func(r *Resource) string { return r.Namespace })
}

// Kinds returns the distinct kinds in lexical order.
func (m ResourceMap) Kinds() []string {
	return m.distinct(func(r *Resource) string { return r.Kind })
}

func (m ResourceMap) distinct(field func(*Resource) string) []string {
	seen := make(map[string]bool)
	for _, r := range m {
		if v := field(r); v != "" {
			seen[v] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// FlagsByID captures the consumer-owned flags of every resource.
func (m ResourceMap) FlagsByID() map[string]Flags {
	out := make(map[string]Flags)
	for id, r := range m {
		if f := r.Flags(); f != (Flags{}) {
			out[id] = f
		}
	}
	return out
}
