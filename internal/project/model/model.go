// Package model defines the file and resource records kept by the engine.
package model

import (
	"path"
	"slices"
	"strings"
)

// RootEntry is the relative path of the synthetic entry representing the
// scanned folder itself.
const RootEntry = "<root>"

// HelmRole classifies files that belong to a Helm chart.
type HelmRole int

const (
	// HelmNone marks files outside any chart.
	HelmNone HelmRole = iota
	// HelmChartFile marks a Chart.yaml.
	HelmChartFile
	// HelmValues marks a values*.yaml next to a Chart.yaml.
	HelmValues
	// HelmTemplate marks files under a chart's templates directory.
	HelmTemplate
)

// String returns the string representation of a HelmRole.
func (r HelmRole) String() string {
	switch r {
	case HelmNone:
		return "none"
	case HelmChartFile:
		return "chart"
	case HelmValues:
		return "values"
	case HelmTemplate:
		return "template"
	default:
		return "unknown"
	}
}

// ChartMeta holds the fields read from a Chart.yaml.
type ChartMeta struct {
	Name    string `cbor:"name"`
	Version string `cbor:"version"`
}

// FileEntry describes one path under the root.
type FileEntry struct {
	// RelPath is slash separated and relative to the root, or RootEntry.
	RelPath string
	// AbsPath is the path on disk.
	AbsPath string
	IsDir   bool
	// Children lists direct child relative paths in lexical order.
	Children []string
	// ResourceIDs lists contained resources in document order.
	ResourceIDs []string
	// ParseError is the structural parse diagnostic, if any.
	ParseError string
	Helm       HelmRole
	Chart      *ChartMeta
}

// Parent returns the relative path of the containing directory, or ""
// for the root entry.
func (f *FileEntry) Parent() string {
	return ParentOf(f.RelPath)
}

// Clone returns a deep copy of the entry.
func (f *FileEntry) Clone() *FileEntry {
	c := *f
	c.Children = slices.Clone(f.Children)
	c.ResourceIDs = slices.Clone(f.ResourceIDs)
	if f.Chart != nil {
		chart := *f.Chart
		c.Chart = &chart
	}
	return &c
}

// AddChild inserts rel into Children keeping lexical order.
func (f *FileEntry) AddChild(rel string) {
	i, found := slices.BinarySearch(f.Children, rel)
	if !found {
		f.Children = slices.Insert(f.Children, i, rel)
	}
}

// RemoveChild drops rel from Children.
func (f *FileEntry) RemoveChild(rel string) {
	if i, found := slices.BinarySearch(f.Children, rel); found {
		f.Children = slices.Delete(f.Children, i, i+1)
	}
}

// ParentOf returns the parent relative path of rel. Top-level paths have
// RootEntry as their parent; RootEntry has none.
func ParentOf(rel string) string {
	if rel == RootEntry || rel == "" {
		return ""
	}
	dir := path.Dir(rel)
	if dir == "." {
		return RootEntry
	}
	return dir
}

// DirOf returns the directory portion of rel usable for path joins, with
// "" standing for the root.
func DirOf(rel string) string {
	if rel == RootEntry {
		return ""
	}
	if dir := path.Dir(rel); dir != "." {
		return dir
	}
	return ""
}

// IsUnder reports whether rel equals dir or lies beneath it. An empty dir
// or RootEntry contains everything.
func IsUnder(rel, dir string) bool {
	if dir == "" || dir == RootEntry {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// Flags are the consumer-owned UI flags carried on a resource.
type Flags struct {
	Selected    bool
	Highlighted bool
}

// Resource is one parsed document.
type Resource struct {
	ID         string
	Name       string
	Kind       string
	APIVersion string
	// FilePath is the owning file's relative path.
	FilePath string
	DocIndex int
	LinePos  int
	// Namespace is empty for cluster-scoped or unscoped documents.
	Namespace string
	Content   map[string]any

	Selected    bool
	Highlighted bool

	IncomingRefs    int
	OutgoingRefs    int
	UnsatisfiedRefs int

	// Diagnostics holds composition problems reported on aggregators.
	Diagnostics []string
}

// Flags returns the consumer-owned flags.
func (r *Resource) Flags() Flags {
	return Flags{Selected: r.Selected, Highlighted: r.Highlighted}
}

// SetFlags replaces the consumer-owned flags.
func (r *Resource) SetFlags(f Flags) {
	r.Selected = f.Selected
	r.Highlighted = f.Highlighted
}

// HasIncomingRefs reports whether another resource refers to this one.
func (r *Resource) HasIncomingRefs() bool { return r.IncomingRefs > 0 }

// HasOutgoingRefs reports whether this resource refers to another one.
func (r *Resource) HasOutgoingRefs() bool { return r.OutgoingRefs > 0 }

// Clone returns a copy of the resource. Content is shared: it is never
// mutated after parsing.
func (r *Resource) Clone() *Resource {
	c := *r
	c.Diagnostics = slices.Clone(r.Diagnostics)
	return &c
}

// Lookup walks Content along keys and returns the value found.
func (r *Resource) Lookup(keys ...string) (any, bool) {
	return Lookup(r.Content, keys...)
}

// Lookup walks nested maps along keys.
func Lookup(content map[string]any, keys ...string) (any, bool) {
	var current any = content
	for _, k := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupString returns the string at keys, or "".
func LookupString(content map[string]any, keys ...string) string {
	v, ok := Lookup(content, keys...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// LookupMap returns the mapping at keys, or nil.
func LookupMap(content map[string]any, keys ...string) map[string]any {
	v, ok := Lookup(content, keys...)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// LookupList returns the sequence at keys, or nil.
func LookupList(content map[string]any, keys ...string) []any {
	v, ok := Lookup(content, keys...)
	if !ok {
		return nil
	}
	l, _ := v.([]any)
	return l
}
