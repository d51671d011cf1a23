// Package kustomize resolves composition edges from aggregator resources
// to the resources of the files and directories they list.
//
// An edge from aggregator A to aggregator B is cyclic when B can reach A
// again through composition. Cyclic edges are kept but marked invalid on
// every aggregator of the cycle, so the outcome does not depend on which
// aggregator resolution started from.
package kustomize

import (
	"path"
	"slices"
	"strings"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/manifest"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/watcher"
)

// Diagnostic prefixes recorded on aggregators.
const (
	DiagUnresolved = "unresolved component "
	DiagCyclic     = "cyclic component reference "
)

// componentLists are the fields holding plain path lists.
var componentLists = []string{"resources", "bases", "components", "crds", "patchesStrategicMerge"}

// componentObjects are the fields holding objects with a path key.
var componentObjects = []string{"patches", "patchesJson6902"}

// Result holds resolved edges and diagnostics keyed by aggregator id.
type Result struct {
	Edges       map[string][]graph.Edge
	Diagnostics map[string][]string
}

// Apply replaces the composition edges of every aggregator in r and
// stores its diagnostics.
func (r Result) Apply(g *graph.Graph, resources model.ResourceMap) error {
	for id, edges := range r.Edges {
		if err := g.ReplaceComposition(id, edges); err != nil {
			return err
		}
		if res := resources[id]; res != nil {
			res.Diagnostics = r.Diagnostics[id]
		}
	}
	return nil
}

// Resolver computes composition over one snapshot of the maps. It caches
// per aggregator work, so build a new Resolver after the maps change.
type Resolver struct {
	files     model.FileMap
	resources model.ResourceMap
	excludes  *watcher.IgnorePatterns

	raw map[string]*rawResolution
}

type rawResolution struct {
	edges   []graph.Edge
	diags   []string
	targets []string // resolved target paths, "" for the root
	links   []string // aggregators reached by a valid edge
}

// New creates a Resolver over files and resources.
func New(files model.FileMap, resources model.ResourceMap, excludes *watcher.IgnorePatterns) *Resolver {
	return &Resolver{
		files:     files,
		resources: resources,
		excludes:  excludes,
		raw:       make(map[string]*rawResolution),
	}
}

// Aggregators returns the ids of every aggregator in lexical order.
func (r *Resolver) Aggregators() []string {
	var ids []string
	for id, res := range r.resources {
		if manifest.IsKustomization(res) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// All resolves every aggregator.
func (r *Resolver) All() Result {
	return r.Resolve(r.Aggregators())
}

// Resolve resolves the given aggregators. Ids that are not aggregators
// are skipped.
func (r *Resolver) Resolve(ids []string) Result {
	out := Result{
		Edges:       make(map[string][]graph.Edge),
		Diagnostics: make(map[string][]string),
	}
	for _, id := range ids {
		res := r.resources[id]
		if res == nil || !manifest.IsKustomization(res) {
			continue
		}
		raw := r.resolveRaw(id)

		edges := make([]graph.Edge, 0, len(raw.edges))
		diags := slices.Clone(raw.diags)
		for _, e := range raw.edges {
			if e.Valid && r.isAggregator(e.To) && r.reaches(e.To, id) {
				e.Valid = false
				diags = append(diags, DiagCyclic+e.Target)
			}
			edges = append(edges, e)
		}

		slices.Sort(diags)
		out.Edges[id] = graph.Sort(edges)
		out.Diagnostics[id] = slices.Compact(diags)
	}
	return out
}

// Affected returns the aggregators whose composition may change when the
// given relative paths changed: aggregators in those files, aggregators
// listing a changed path, and every aggregator composing one of those.
func (r *Resolver) Affected(changed []string) []string {
	affected := make(map[string]bool)
	aggregators := r.Aggregators()

	for _, id := range aggregators {
		if slices.Contains(changed, r.resources[id].FilePath) {
			affected[id] = true
			continue
		}
		for _, t := range r.resolveRaw(id).targets {
			if touches(t, changed) {
				affected[id] = true
				break
			}
		}
	}

	for grown := true; grown; {
		grown = false
		for _, id := range aggregators {
			if affected[id] {
				continue
			}
			for _, l := range r.resolveRaw(id).links {
				if affected[l] {
					affected[id] = true
					grown = true
					break
				}
			}
		}
	}

	out := make([]string, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func touches(target string, changed []string) bool {
	for _, p := range changed {
		if p == model.RootEntry {
			return true
		}
		if model.IsUnder(p, target) || model.IsUnder(target, p) {
			return true
		}
	}
	return false
}

func (r *Resolver) isAggregator(id string) bool {
	res := r.resources[id]
	return res != nil && manifest.IsKustomization(res)
}

// reaches reports whether aggregator to is reachable from aggregator
// from over valid composition links, counting from itself.
func (r *Resolver) reaches(from, to string) bool {
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == to {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		stack = append(stack, r.resolveRaw(current).links...)
	}
	return false
}

// resolveRaw lists the direct components of one aggregator without
// looking at cycles.
func (r *Resolver) resolveRaw(id string) *rawResolution {
	if raw, ok := r.raw[id]; ok {
		return raw
	}
	raw := &rawResolution{}
	r.raw[id] = raw

	agg := r.resources[id]
	dir := model.DirOf(agg.FilePath)
	for _, entry := range componentEntries(agg.Content) {
		target, ok := resolvePath(dir, entry)
		if !ok {
			raw.edges = append(raw.edges, graph.NewDanglingEdge(id, graph.Composition, entry))
			raw.diags = append(raw.diags, DiagUnresolved+entry)
			continue
		}
		raw.targets = append(raw.targets, target)

		key := target
		if key == "" {
			key = model.RootEntry
		}
		ids := r.componentIDs(key)
		if ids == nil {
			raw.edges = append(raw.edges, graph.NewDanglingEdge(id, graph.Composition, key))
			raw.diags = append(raw.diags, DiagUnresolved+key)
			continue
		}
		for _, to := range ids {
			raw.edges = append(raw.edges, graph.NewCompositionEdge(id, to, key))
			if r.isAggregator(to) {
				raw.links = append(raw.links, to)
			}
		}
	}
	return raw
}

// componentIDs returns the resources a component path stands for: every
// resource of a file, or the aggregator of a directory. nil means the
// path does not resolve; an empty non-nil slice means a file without
// resources.
func (r *Resolver) componentIDs(key string) []string {
	entry := r.files[key]
	if entry == nil || (key != model.RootEntry && r.excludes.Excluded(key, entry.IsDir)) {
		return nil
	}
	if !entry.IsDir {
		return append([]string{}, entry.ResourceIDs...)
	}
	for _, child := range entry.Children {
		if !manifest.IsKustomizationFile(path.Base(child)) {
			continue
		}
		f := r.files[child]
		if f == nil {
			continue
		}
		for _, rid := range f.ResourceIDs {
			if r.isAggregator(rid) {
				return []string{rid}
			}
		}
	}
	return nil
}

// resolvePath joins entry onto dir. Paths leaving the root do not resolve.
func resolvePath(dir, entry string) (string, bool) {
	target := path.Clean(path.Join(dir, entry))
	if target == "." {
		return "", true
	}
	if target == ".." || strings.HasPrefix(target, "../") || path.IsAbs(target) {
		return "", false
	}
	return target, true
}

// componentEntries collects the local component paths of an aggregator.
func componentEntries(content map[string]any) []string {
	var entries []string
	add := func(v any) {
		s, ok := v.(string)
		if !ok || s == "" || isRemote(s) || strings.ContainsAny(s, "\n") {
			return
		}
		entries = append(entries, s)
	}
	for _, field := range componentLists {
		for _, item := range model.LookupList(content, field) {
			add(item)
		}
	}
	for _, field := range componentObjects {
		for _, item := range model.LookupList(content, field) {
			if m, ok := item.(map[string]any); ok {
				add(m["path"])
			}
		}
	}
	return entries
}

func isRemote(entry string) bool {
	return strings.Contains(entry, "://") ||
		strings.HasPrefix(entry, "github.com/") ||
		strings.HasPrefix(entry, "git::") ||
		strings.HasPrefix(entry, "git@")
}
