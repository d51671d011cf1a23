// Package scanner walks a root folder into a FileMap and ResourceMap.
//
// The walk is depth first with lexically ordered children. Exclude rules
// are applied to directory listings so excluded subtrees are never opened.
// Directories are identified by their canonical path and a directory is
// descended at most once, which makes symbolic link cycles harmless.
// Parsing fans out over a bounded errgroup and results are merged in walk
// order, so two scans of the same tree are identical.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"

	"github.com/dshills/manifold/internal/project/manifest"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher"
	"golang.org/x/sync/errgroup"
)

// Options configures a scan.
type Options struct {
	// Excludes are the exclude rules; nil excludes nothing.
	Excludes *watcher.IgnorePatterns
	// Workers bounds parallel parsing. Zero means GOMAXPROCS.
	Workers int
	// MaxFileSize skips larger files with a diagnostic. Zero means no limit.
	MaxFileSize int64
	Logger      *slog.Logger
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Result holds the maps produced by a scan.
type Result struct {
	Files       model.FileMap
	Resources   model.ResourceMap
	Diagnostics []model.Diagnostic
}

// FileCount returns the number of non-directory entries.
func (r *Result) FileCount() int {
	n := 0
	for _, f := range r.Files {
		if !f.IsDir {
			n++
		}
	}
	return n
}

// Scan walks root and returns the complete maps. root must be an
// existing directory. A cancelled ctx discards partial results.
func Scan(ctx context.Context, fsys vfs.VFS, root string, opts Options) (*Result, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: %w", root, ErrNotDirectory)
	}

	w := newWalker(ctx, fsys, root, opts)
	canon, err := fsys.Canonical(root)
	if err != nil {
		canon = root
	}

	rootEntry := &model.FileEntry{RelPath: model.RootEntry, AbsPath: root, IsDir: true}
	w.files[model.RootEntry] = rootEntry
	if err := w.run(rootEntry, canon); err != nil {
		return nil, err
	}
	return w.finish()
}

// ScanSubtree scans the directory relDir below root. The result holds the
// entry for relDir and everything beneath it; the caller links relDir
// into its parent.
//
// known is the current file map. Its real directories outside relDir
// count as visited, so links into them stay empty the way they do in a
// full scan, which walks real directories before any link.
func ScanSubtree(ctx context.Context, fsys vfs.VFS, root, relDir string, known model.FileMap, opts Options) (*Result, error) {
	abs := filepath.Join(root, filepath.FromSlash(relDir))
	info, err := fsys.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: %w", relDir, ErrNotDirectory)
	}
	canon, err := fsys.Canonical(abs)
	if err != nil {
		return nil, err
	}

	w := newWalker(ctx, fsys, root, opts)
	for rel, f := range known {
		if !f.IsDir || rel == model.RootEntry || model.IsUnder(rel, relDir) {
			continue
		}
		if c, real := RealDir(fsys, root, rel); real {
			w.visited[c] = true
		}
	}
	// Seed the ancestors so links pointing back up are not followed.
	for dir := model.DirOf(relDir); ; dir = model.DirOf(dir) {
		if c, err := fsys.Canonical(filepath.Join(root, filepath.FromSlash(dir))); err == nil {
			w.visited[c] = true
		}
		if hasChartFile(fsys, root, dir) {
			w.chartDirs[dir] = true
		}
		if dir == "" {
			break
		}
	}

	entry := &model.FileEntry{RelPath: relDir, AbsPath: abs, IsDir: true}
	w.files[relDir] = entry
	if err := w.run(entry, canon); err != nil {
		return nil, err
	}
	return w.finish()
}

// RealDir returns the canonical path of the directory rel below root and
// whether rel is reached without following a symbolic link.
func RealDir(fsys vfs.VFS, root, rel string) (string, bool) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	canon, err := fsys.Canonical(abs)
	if err != nil {
		return "", false
	}
	base, err := fsys.Canonical(root)
	if err != nil {
		return canon, false
	}
	return canon, canon == filepath.Join(base, filepath.FromSlash(rel))
}

// ParseFile reads and parses the single file relPath below root, the
// way Scan would have.
func ParseFile(fsys vfs.VFS, root, relPath string, opts Options) (*model.FileEntry, []*model.Resource) {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	role := manifest.HelmRole(relPath, func(dir string) bool {
		return hasChartFile(fsys, root, dir)
	})
	entry := &model.FileEntry{RelPath: relPath, AbsPath: abs, Helm: role}
	if opts.MaxFileSize > 0 {
		if info, err := fsys.Stat(abs); err == nil && info.Size() > opts.MaxFileSize {
			entry.ParseError = fmt.Sprintf("file exceeds %d bytes", opts.MaxFileSize)
			return entry, nil
		}
	}
	resources, _ := parseEntry(fsys, entry)
	for _, r := range resources {
		entry.ResourceIDs = append(entry.ResourceIDs, r.ID)
	}
	return entry, resources
}

func hasChartFile(fsys vfs.VFS, root, dir string) bool {
	base := filepath.Join(root, filepath.FromSlash(dir))
	for _, name := range []string{"Chart.yaml", "Chart.yml"} {
		if info, err := fsys.Stat(filepath.Join(base, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// ErrNotDirectory indicates the scanned path is not a directory.
var ErrNotDirectory = errors.New("not a directory")

type job struct {
	entry     *model.FileEntry
	resources []*model.Resource
	diag      *model.Diagnostic
}

type walker struct {
	ctx  context.Context
	fsys vfs.VFS
	root string
	opts Options
	log  *slog.Logger

	files     model.FileMap
	visited   map[string]bool
	chartDirs map[string]bool
	links     []pendingDir // directory links, followed after real directories
	jobs      []*job
	diags     []model.Diagnostic
}

func newWalker(ctx context.Context, fsys vfs.VFS, root string, opts Options) *walker {
	return &walker{
		ctx:       ctx,
		fsys:      fsys,
		root:      root,
		opts:      opts,
		log:       opts.logger(),
		files:     make(model.FileMap),
		visited:   make(map[string]bool),
		chartDirs: make(map[string]bool),
	}
}

// walkDir lists dir and descends. dirKey is "" for the root.
func (w *walker) walkDir(dir *model.FileEntry, dirKey string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	entries, err := w.fsys.ReadDir(dir.AbsPath)
	if err != nil {
		w.diagnose(dir.RelPath, fmt.Sprintf("read directory: %v", err))
		return nil
	}

	for _, e := range entries {
		if model.IsChartFile(e.Name()) && !e.IsDir() {
			w.chartDirs[dirKey] = true
		}
	}

	for _, e := range entries {
		rel := path.Join(dirKey, e.Name())
		abs := filepath.Join(dir.AbsPath, e.Name())

		kind := e.Kind()
		if e.IsSymlink() {
			if w.opts.Excludes.Match(rel, false) {
				continue
			}
			target, err := w.fsys.Stat(abs)
			if err != nil {
				w.diagnose(rel, fmt.Sprintf("broken symbolic link: %v", err))
				continue
			}
			kind = target.Kind()
		}
		// Pipes and sockets would block or fail a read.
		if kind == vfs.KindOther {
			continue
		}
		isDir := kind == vfs.KindDir
		if w.opts.Excludes.Match(rel, isDir) {
			continue
		}

		if !isDir {
			entry := &model.FileEntry{RelPath: rel, AbsPath: abs}
			entry.Helm = manifest.HelmRole(rel, func(d string) bool { return w.chartDirs[d] })
			w.files[rel] = entry
			dir.Children = append(dir.Children, rel)
			if w.opts.MaxFileSize > 0 && e.Size() > w.opts.MaxFileSize && !e.IsSymlink() {
				entry.ParseError = fmt.Sprintf("file exceeds %d bytes", w.opts.MaxFileSize)
				w.diagnose(rel, entry.ParseError)
				continue
			}
			w.jobs = append(w.jobs, &job{entry: entry})
			continue
		}

		canon, err := w.fsys.Canonical(abs)
		if err != nil {
			w.diagnose(rel, fmt.Sprintf("resolve directory: %v", err))
			continue
		}
		child := &model.FileEntry{RelPath: rel, AbsPath: abs, IsDir: true}
		w.files[rel] = child
		dir.Children = append(dir.Children, rel)
		if e.IsSymlink() {
			w.links = append(w.links, pendingDir{entry: child, canon: canon})
			continue
		}
		if err := w.descend(child, canon); err != nil {
			return err
		}
	}
	return nil
}

type pendingDir struct {
	entry *model.FileEntry
	canon string
}

// run walks the real directories below dir, then follows the directory
// links found on the way, so real directories claim their contents first.
func (w *walker) run(dir *model.FileEntry, canon string) error {
	if err := w.descend(dir, canon); err != nil {
		return err
	}
	for len(w.links) > 0 {
		l := w.links[0]
		w.links = w.links[1:]
		if err := w.descend(l.entry, l.canon); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) descend(dir *model.FileEntry, canon string) error {
	if w.visited[canon] {
		w.log.Debug("skipping already visited directory", "path", dir.RelPath, "target", canon)
		w.diagnose(dir.RelPath, "directory already visited through "+canon)
		return nil
	}
	w.visited[canon] = true
	key := dir.RelPath
	if key == model.RootEntry {
		key = ""
	}
	return w.walkDir(dir, key)
}

func (w *walker) diagnose(rel, msg string) {
	w.diags = append(w.diags, model.Diagnostic{Path: rel, Message: msg})
}

// finish parses every queued file and merges the results in walk order.
func (w *walker) finish() (*Result, error) {
	g, ctx := errgroup.WithContext(w.ctx)
	g.SetLimit(w.opts.workers())
	for _, j := range w.jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			resources, diag := parseEntry(w.fsys, j.entry)
			j.resources = resources
			j.diag = diag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Files:       w.files,
		Resources:   make(model.ResourceMap),
		Diagnostics: w.diags,
	}
	for _, j := range w.jobs {
		if j.diag != nil {
			result.Diagnostics = append(result.Diagnostics, *j.diag)
		}
		for _, r := range j.resources {
			if _, dup := result.Resources[r.ID]; dup {
				result.Diagnostics = append(result.Diagnostics, model.Diagnostic{
					Path:    r.FilePath,
					Message: "duplicate resource identifier " + r.ID,
				})
				continue
			}
			result.Resources[r.ID] = r
			j.entry.ResourceIDs = append(j.entry.ResourceIDs, r.ID)
		}
	}
	w.log.Debug("scan finished",
		"root", w.root,
		"files", len(result.Files),
		"resources", len(result.Resources),
		"diagnostics", len(result.Diagnostics))
	return result, nil
}

// parseEntry reads entry's file and fills its chart metadata or parse
// error. Helm templates are not parsed.
func parseEntry(fsys vfs.VFS, entry *model.FileEntry) ([]*model.Resource, *model.Diagnostic) {
	if entry.Helm == model.HelmTemplate {
		return nil, nil
	}
	name := path.Base(entry.RelPath)
	if !manifest.IsManifestFile(name) {
		return nil, nil
	}

	data, err := fsys.ReadFile(entry.AbsPath)
	if err != nil {
		entry.ParseError = fmt.Sprintf("read: %v", err)
		return nil, &model.Diagnostic{Path: entry.RelPath, Message: entry.ParseError}
	}

	if entry.Helm == model.HelmChartFile {
		chart, err := manifest.ParseChart(entry.RelPath, data)
		if err != nil {
			entry.ParseError = err.Error()
			return nil, &model.Diagnostic{Path: entry.RelPath, Message: entry.ParseError}
		}
		entry.Chart = chart
		return nil, nil
	}

	res := manifest.Parse(entry.RelPath, data)
	if res.Err != nil {
		entry.ParseError = res.Err.Error()
		return nil, &model.Diagnostic{Path: entry.RelPath, Message: entry.ParseError}
	}
	return res.Resources, nil
}
