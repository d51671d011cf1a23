package reconcile

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/kustomize"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/refs"
	"github.com/dshills/manifold/internal/project/scanner"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher"
)

// State is the live data a batch is applied to. The Applier mutates it
// in place; the caller guarantees exclusive access.
type State struct {
	Root      string
	Files     model.FileMap
	Resources model.ResourceMap
	Graph     *graph.Graph
	Charts    []model.HelmChart
}

// Report summarizes one applied batch.
type Report struct {
	// Applied counts events that changed the maps; Dropped counts the
	// rest (excluded paths, paths gone from disk, the root itself).
	Applied int
	Dropped int

	Removed     []string // resource ids gone after the batch
	Added       []string // resource ids new after the batch
	Paths       []string // relative paths whose entries changed
	Recomputed  []string // aggregators and reference sources re-resolved
	Diagnostics []model.Diagnostic
}

// Applier applies batches of relative-path events.
type Applier struct {
	fsys vfs.VFS
	opts scanner.Options
	log  *slog.Logger
}

// NewApplier creates an Applier reading through fsys and scanning with
// opts, which also carries the exclude rules.
func NewApplier(fsys vfs.VFS, opts scanner.Options) *Applier {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Applier{fsys: fsys, opts: opts, log: log}
}

// applyRun holds the bookkeeping of one Apply call.
type applyRun struct {
	*Applier
	ctx context.Context
	st  *State

	report  Report
	paths   map[string]bool
	removed map[string]*model.Resource // by id, for flags and kinds
	added   map[string]bool
	touched map[string]bool // endpoints of edges dropped with removed resources
	rescan  map[string]bool // directories replaced this batch
}

// Apply applies batch to st. Event paths are slash separated and relative
// to st.Root. A cancelled ctx stops between events; state already
// applied stays consistent.
func (a *Applier) Apply(ctx context.Context, st *State, batch []watcher.Event) (Report, error) {
	run := &applyRun{
		Applier: a,
		ctx:     ctx,
		st:      st,
		paths:   make(map[string]bool),
		removed: make(map[string]*model.Resource),
		added:   make(map[string]bool),
		touched: make(map[string]bool),
		rescan:  make(map[string]bool),
	}

	var removals, updates []watcher.Event
	for _, ev := range batch {
		rel := path.Clean(ev.Path)
		if rel == "." || rel == "" || rel == model.RootEntry || a.opts.Excludes.Excluded(rel, ev.IsDir) {
			run.report.Dropped++
			continue
		}
		ev.Path = rel
		if ev.Kind == watcher.Removed && !run.exists(rel) {
			removals = append(removals, ev)
		} else {
			// A removal for a path still on disk is a change.
			updates = append(updates, ev)
		}
	}
	slices.SortFunc(removals, byPath)

	for _, ev := range removals {
		if run.st.Files[ev.Path] == nil {
			run.report.Dropped++
			continue
		}
		wasDir := run.st.Files[ev.Path].IsDir
		run.removeEntry(ev.Path)
		run.report.Applied++
		if wasDir {
			if err := run.relink(ev.Path); err != nil {
				return run.report, err
			}
		}
		if model.IsChartFile(path.Base(ev.Path)) {
			// Roles of the remaining chart files change.
			if dir := model.DirOf(ev.Path); run.st.Files[entryKey(dir)] != nil {
				updates = append(updates, watcher.Event{Kind: watcher.Modified, IsDir: true, Path: entryKey(dir)})
			}
		}
	}

	slices.SortFunc(updates, byPath)
	for _, ev := range updates {
		if err := ctx.Err(); err != nil {
			return run.report, err
		}
		if run.underRescan(ev.Path) {
			continue
		}
		applied, err := run.update(ev.Path)
		if err != nil {
			return run.report, err
		}
		if applied {
			run.report.Applied++
		} else {
			run.report.Dropped++
		}
	}

	st.Charts = model.HelmCharts(st.Files)
	if err := run.resolve(); err != nil {
		return run.report, err
	}

	run.report.Paths = sortedKeys(run.paths)
	for id := range run.added {
		if run.removed[id] == nil {
			run.report.Added = append(run.report.Added, id)
		}
	}
	for id := range run.removed {
		if !run.added[id] {
			run.report.Removed = append(run.report.Removed, id)
		}
	}
	slices.Sort(run.report.Added)
	slices.Sort(run.report.Removed)

	a.log.Debug("batch applied",
		"events", len(batch),
		"applied", run.report.Applied,
		"dropped", run.report.Dropped,
		"removed", len(run.report.Removed),
		"added", len(run.report.Added))
	return run.report, nil
}

func byPath(a, b watcher.Event) int {
	switch {
	case a.Path < b.Path:
		return -1
	case a.Path > b.Path:
		return 1
	}
	return 0
}

// entryKey maps a directory key ("" for the root) to its FileMap key.
func entryKey(dir string) string {
	if dir == "" {
		return model.RootEntry
	}
	return dir
}

func (r *applyRun) abs(rel string) string {
	if rel == model.RootEntry {
		return r.st.Root
	}
	return filepath.Join(r.st.Root, filepath.FromSlash(rel))
}

func (r *applyRun) exists(rel string) bool {
	_, err := r.fsys.Stat(r.abs(rel))
	return err == nil
}

func (r *applyRun) underRescan(rel string) bool {
	for dir := range r.rescan {
		if model.IsUnder(rel, dir) {
			return true
		}
	}
	return false
}

// removeEntry deletes rel with everything beneath it, its resources and
// every edge touching them.
func (r *applyRun) removeEntry(rel string) {
	entry := r.st.Files[rel]
	if entry == nil {
		return
	}
	doomed := []string{rel}
	if entry.IsDir {
		doomed = append(doomed, r.st.Files.Descendants(rel)...)
	}
	for _, p := range doomed {
		f := r.st.Files[p]
		if f == nil {
			continue
		}
		for _, id := range f.ResourceIDs {
			r.dropResource(id)
		}
		delete(r.st.Files, p)
		r.paths[p] = true
	}
	if parent := r.st.Files[model.ParentOf(rel)]; parent != nil {
		parent.RemoveChild(rel)
	}
}

func (r *applyRun) dropResource(id string) {
	res := r.st.Resources[id]
	if res == nil {
		return
	}
	r.removed[id] = res
	delete(r.st.Resources, id)
	for _, e := range r.st.Graph.Outgoing(id) {
		if e.To != "" {
			r.touched[e.To] = true
		}
	}
	for _, src := range r.st.Graph.RemoveResource(id) {
		r.touched[src] = true
	}
}

// update brings rel in line with the disk. It reports false when there
// was nothing to apply.
func (r *applyRun) update(rel string) (bool, error) {
	info, err := r.fsys.Stat(r.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			entry := r.st.Files[rel]
			if entry == nil {
				return false, nil
			}
			r.removeEntry(rel)
			if entry.IsDir {
				return true, r.relink(rel)
			}
			return true, nil
		}
		r.diagnose(rel, err.Error())
		return false, nil
	}

	// Create missing parents by scanning the top-most missing ancestor.
	top := rel
	for parent := model.ParentOf(rel); parent != model.RootEntry && r.st.Files[parent] == nil; parent = model.ParentOf(parent) {
		top = parent
	}
	if top != rel {
		return true, r.replaceDir(top)
	}

	if info.IsDir() {
		return true, r.replaceDir(rel)
	}
	if model.IsChartFile(path.Base(rel)) {
		return true, r.replaceDir(entryKey(model.DirOf(rel)))
	}
	r.replaceFile(rel)
	return true, nil
}

// replaceDir rescans the directory rel and swaps it in for whatever was
// there. A real directory may claim contents a link showed until now.
func (r *applyRun) replaceDir(rel string) error {
	if err := r.scanDir(rel); err != nil {
		return err
	}
	if rel == model.RootEntry || r.st.Files[rel] == nil {
		return nil
	}
	if _, real := scanner.RealDir(r.fsys, r.st.Root, rel); !real {
		return nil
	}
	return r.relink(rel)
}

// relink re-evaluates the directory links outside rel after the real
// directory rel was replaced or removed. A full scan walks real
// directories before links, so a link into a real directory stays empty
// and a broken link has no entry.
func (r *applyRun) relink(rel string) error {
	canon, _ := scanner.RealDir(r.fsys, r.st.Root, rel)
	var links []string
	for p, f := range r.st.Files {
		if !f.IsDir || p == model.RootEntry || model.IsUnder(p, rel) || model.IsUnder(rel, p) {
			continue
		}
		target, real := scanner.RealDir(r.fsys, r.st.Root, p)
		if real {
			continue
		}
		if _, parentReal := scanner.RealDir(r.fsys, r.st.Root, model.DirOf(p)); !parentReal {
			continue
		}
		if target == "" || (canon != "" && (target == canon || strings.HasPrefix(target, canon+string(filepath.Separator)))) {
			links = append(links, p)
		}
	}
	slices.Sort(links)

	for _, p := range links {
		if r.st.Files[p] == nil {
			continue
		}
		if !r.exists(p) {
			r.removeEntry(p)
			continue
		}
		if err := r.scanDir(p); err != nil {
			return err
		}
	}
	return nil
}

// scanDir replaces the entry of directory rel with a fresh scan.
func (r *applyRun) scanDir(rel string) error {
	r.rescan[rel] = true
	if rel == model.RootEntry {
		res, err := scanner.Scan(r.ctx, r.fsys, r.st.Root, r.opts)
		if err != nil {
			return err
		}
		for p := range r.st.Files {
			if p != model.RootEntry {
				r.removeEntry(p)
			}
		}
		r.merge(res, "")
		return nil
	}

	res, err := scanner.ScanSubtree(r.ctx, r.fsys, r.st.Root, rel, r.st.Files, r.opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.diagnose(rel, err.Error())
		return nil
	}
	r.removeEntry(rel)
	r.merge(res, rel)
	return nil
}

// replaceFile re-parses the single file rel.
func (r *applyRun) replaceFile(rel string) {
	if old := r.st.Files[rel]; old != nil {
		r.removeEntry(rel)
	}
	entry, resources := scanner.ParseFile(r.fsys, r.st.Root, rel, r.opts)
	if entry.ParseError != "" {
		r.diagnose(rel, entry.ParseError)
	}
	r.merge(&scanner.Result{
		Files:     model.FileMap{rel: entry},
		Resources: resourceMap(resources),
	}, rel)
}

// merge adds a scan result rooted at top ("" when it replaces the root's
// children) and links top into its parent.
func (r *applyRun) merge(res *scanner.Result, top string) {
	for p, f := range res.Files {
		if p == model.RootEntry && top == "" {
			r.st.Files[p].Children = f.Children
			continue
		}
		r.st.Files[p] = f
		r.paths[p] = true
	}
	for id, res := range res.Resources {
		if prev := r.removed[id]; prev != nil {
			res.SetFlags(prev.Flags())
		}
		r.st.Resources[id] = res
		r.added[id] = true
	}
	r.report.Diagnostics = append(r.report.Diagnostics, res.Diagnostics...)
	if top != "" {
		if parent := r.st.Files[model.ParentOf(top)]; parent != nil {
			parent.AddChild(top)
		}
	}
}

func (r *applyRun) diagnose(rel, msg string) {
	r.report.Diagnostics = append(r.report.Diagnostics, model.Diagnostic{Path: rel, Message: msg})
}

// resolve re-runs composition for the aggregators a changed path may
// affect and references for every resource a changed id may affect.
func (r *applyRun) resolve() error {
	if len(r.paths) == 0 {
		return nil
	}

	composer := kustomize.New(r.st.Files, r.st.Resources, r.opts.Excludes)
	aggregators := composer.Affected(sortedKeys(r.paths))
	if err := composer.Resolve(aggregators).Apply(r.st.Graph, r.st.Resources); err != nil {
		return err
	}

	change := refs.Change{IDs: make(map[string]bool), Kinds: make(map[string]bool), Touched: r.touched}
	for id, res := range r.removed {
		change.IDs[id] = true
		change.Kinds[res.Kind] = true
	}
	for id := range r.added {
		change.IDs[id] = true
		change.Kinds[r.st.Resources[id].Kind] = true
	}
	sources, err := refs.New(r.st.Resources).Scoped(r.st.Graph, change)
	if err != nil {
		return err
	}

	recomputed := make(map[string]bool)
	for _, id := range aggregators {
		recomputed[id] = true
	}
	for _, id := range sources {
		recomputed[id] = true
	}
	r.report.Recomputed = sortedKeys(recomputed)
	return nil
}

func resourceMap(list []*model.Resource) model.ResourceMap {
	m := make(model.ResourceMap, len(list))
	for _, res := range list {
		m[res.ID] = res
	}
	return m
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
