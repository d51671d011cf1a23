package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dshills/manifold/internal/clock"
	"github.com/dshills/manifold/internal/config"
	"github.com/dshills/manifold/internal/project/access"
	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/history"
	"github.com/dshills/manifold/internal/project/manifest"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/preview"
	"github.com/dshills/manifold/internal/project/reconcile"
	"github.com/dshills/manifold/internal/project/scanner"
	"github.com/dshills/manifold/internal/project/search"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher"
)

// maxEngineDiagnostics bounds the diagnostics not tied to a path, such as
// watch errors.
const maxEngineDiagnostics = 50

// ChangeKind identifies what a Change reports.
type ChangeKind int

const (
	// ChangeScanned reports a committed full scan.
	ChangeScanned ChangeKind = iota
	// ChangeApplied reports an applied watch batch.
	ChangeApplied
	// ChangeCleared reports that the root folder was cleared.
	ChangeCleared
	// ChangePreview reports a preview being activated or exited.
	ChangePreview
)

// String returns the string representation of a ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeScanned:
		return "scanned"
	case ChangeApplied:
		return "applied"
	case ChangeCleared:
		return "cleared"
	case ChangePreview:
		return "preview"
	default:
		return "unknown"
	}
}

// Change is delivered to OnChange handlers after the engine state moved.
type Change struct {
	Kind ChangeKind
	Root string
	// Report is set for ChangeApplied.
	Report reconcile.Report
}

// WatchStatus provides watch status information.
type WatchStatus struct {
	Running       bool
	Dead          bool
	PendingEvents int
	TotalEvents   int64
	Errors        int64
	LastError     error
	StartTime     time.Time
}

// watchSession is one running watch. A session replaced by another is
// stale and its late batches are discarded.
type watchSession struct {
	w       watcher.Watcher
	root    string
	batcher *reconcile.Batcher
	cancel  context.CancelFunc
	started time.Time

	// guarded by Engine.mu
	dead      bool
	events    int64
	errors    int64
	lastError error
}

// Engine owns the file map, the resource map and the edge graph of one
// root folder. Every mutation is serialized under its lock; scans run
// outside the lock and commit only if no newer scan started meanwhile.
type Engine struct {
	mu sync.Mutex

	// Components
	fsys       vfs.VFS
	clock      clock.Clock
	log        *slog.Logger
	newWatcher watcher.Factory
	renderer   preview.Renderer
	excludes   *watcher.IgnorePatterns

	// Settings
	workers     int
	maxFileSize int64
	idle        time.Duration
	maxWait     time.Duration
	capacity    int

	// State
	state      *reconcile.State
	applier    *reconcile.Applier
	diags      []model.Diagnostic
	engineDiag []model.Diagnostic
	gen        uint64
	cancelScan context.CancelFunc
	watch      *watchSession
	closed     bool

	history  *history.History
	previews *preview.Manager
	perms    *access.PermissionSet
	ranker   *search.Ranker
	searcher *search.Searcher

	// Goroutine lifecycle management
	wg sync.WaitGroup

	// Event handlers
	changeHandlers []func(Change)
}

// Option configures an Engine.
type Option func(*Engine)

// WithVFS sets the filesystem scans read through.
func WithVFS(v vfs.VFS) Option {
	return func(e *Engine) {
		e.fsys = v
	}
}

// WithClock sets the clock driving the batch windows.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithWatcherFactory sets how watches are created.
func WithWatcherFactory(f watcher.Factory) Option {
	return func(e *Engine) {
		e.newWatcher = f
	}
}

// WithRenderer sets the renderer used by kustomization and Helm previews.
func WithRenderer(r preview.Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
	}
}

// WithExcludes sets the exclude rules shared by scans and watches.
func WithExcludes(patterns ...string) Option {
	return func(e *Engine) {
		e.excludes = watcher.NewIgnorePatterns(patterns...)
	}
}

// WithBatchWindow sets the idle window and the maximum wait of the watch
// batch accumulator.
func WithBatchWindow(idle, maxWait time.Duration) Option {
	return func(e *Engine) {
		e.idle = idle
		e.maxWait = maxWait
	}
}

// WithHistoryCapacity bounds the selection history.
func WithHistoryCapacity(n int) Option {
	return func(e *Engine) {
		e.capacity = n
	}
}

// WithConfig applies the scan, watch and history settings of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.excludes = cfg.Excludes()
		e.workers = cfg.Scan.Workers
		e.maxFileSize = cfg.Scan.MaxFileSize
		e.idle = cfg.Watch.IdleDelay.Std()
		e.maxWait = cfg.Watch.MaxWait.Std()
		e.capacity = cfg.History.Capacity
		if cfg.Watch.BufferSize > 0 {
			e.newWatcher = watcher.FSNotifyFactory(watcher.WithBufferSize(cfg.Watch.BufferSize))
		}
	}
}

// New creates an Engine with no root folder.
func New(opts ...Option) *Engine {
	e := &Engine{
		idle:     reconcile.DefaultIdle,
		maxWait:  reconcile.DefaultMaxWait,
		capacity: history.DefaultCapacity,
		previews: preview.NewManager(),
		ranker:   search.NewRanker(search.DefaultWeights()),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.fsys == nil {
		e.fsys = vfs.NewOSFS()
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.newWatcher == nil {
		e.newWatcher = watcher.FSNotifyFactory()
	}
	if e.excludes == nil {
		e.excludes = watcher.NewDefaultIgnorePatterns()
	}
	e.history = history.New(e.capacity)
	e.searcher = search.NewSearcher(e.ranker)
	return e
}

func (e *Engine) scanOptions() scanner.Options {
	return scanner.Options{
		Excludes:    e.excludes,
		Workers:     e.workers,
		MaxFileSize: e.maxFileSize,
		Logger:      e.log,
	}
}

// OnChange registers a handler called after every committed change.
// Handlers run without the engine lock held.
func (e *Engine) OnChange(handler func(Change)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changeHandlers = append(e.changeHandlers, handler)
}

func (e *Engine) notify(c Change) {
	e.mu.Lock()
	handlers := slices.Clone(e.changeHandlers)
	e.mu.Unlock()
	for _, h := range handlers {
		h(c)
	}
}

// Root returns the root folder, or "" when none is set.
func (e *Engine) Root() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ""
	}
	return e.state.Root
}

// SetRootFolder scans root and makes it the engine's root folder. A
// missing or non-directory root is rejected with a *RootError and nothing
// changes. A scan still in flight is cancelled first. The previous watch
// is stopped; the new root is not watched until StartWatch.
func (e *Engine) SetRootFolder(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return &RootError{Op: "set root", Root: root, Err: err}
	}
	if err := e.checkRoot("set root", abs); err != nil {
		return err
	}
	return e.load(ctx, "set root", abs)
}

// Rescan reloads the current root folder. Flags survive for resources
// whose identifiers did not change; a running watch keeps running.
func (e *Engine) Rescan(ctx context.Context) error {
	root := e.Root()
	if root == "" {
		return ErrNoRoot
	}
	if err := e.checkRoot("rescan", root); err != nil {
		return err
	}
	return e.load(ctx, "rescan", root)
}

func (e *Engine) checkRoot(op, root string) error {
	info, err := e.fsys.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &RootError{Op: op, Root: root, Err: ErrRootMissing}
	case err != nil:
		return &RootError{Op: op, Root: root, Err: err}
	case !info.IsDir():
		return &RootError{Op: op, Root: root, Err: ErrRootNotDirectory}
	}
	return nil
}

func (e *Engine) load(ctx context.Context, op, root string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.cancelScan != nil {
		e.cancelScan()
	}
	e.gen++
	gen := e.gen
	scanCtx, cancel := context.WithCancel(ctx)
	e.cancelScan = cancel
	opts := e.scanOptions()
	e.mu.Unlock()
	defer cancel()

	start := e.clock.Now()
	st, diags, err := reconcile.Load(scanCtx, e.fsys, root, opts)

	e.mu.Lock()
	if gen != e.gen || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, root, ErrScanCanceled)
	}
	e.cancelScan = nil
	if err != nil {
		e.mu.Unlock()
		if scanCtx.Err() != nil {
			return fmt.Errorf("%s %s: %w: %w", op, root, ErrScanCanceled, err)
		}
		return &RootError{Op: op, Root: root, Err: err}
	}

	sameRoot := e.state != nil && e.state.Root == root
	if sameRoot {
		for id, flags := range e.state.Resources.FlagsByID() {
			if r := st.Resources[id]; r != nil {
				r.SetFlags(flags)
			}
		}
	} else {
		e.stopWatchLocked()
		e.previews.Exit()
		e.ranker = search.NewRanker(search.DefaultWeights())
		e.searcher = search.NewSearcher(e.ranker)
	}
	e.state = st
	e.applier = reconcile.NewApplier(e.fsys, opts)
	e.diags = diags
	e.engineDiag = nil
	e.mu.Unlock()

	e.log.Info("root scanned",
		"root", root,
		"op", op,
		"files", len(st.Files),
		"resources", len(st.Resources),
		"edges", st.Graph.Len(),
		"diagnostics", len(diags),
		"duration", e.clock.Now().Sub(start))
	e.notify(Change{Kind: ChangeScanned, Root: root})
	return nil
}

// ClearRootFolder cancels any scan in flight, stops the watch and drops
// every map. Calling it without a root is a no-op.
func (e *Engine) ClearRootFolder() {
	e.mu.Lock()
	if e.cancelScan != nil {
		e.cancelScan()
		e.cancelScan = nil
	}
	e.gen++
	had := e.state != nil
	e.stopWatchLocked()
	e.state = nil
	e.applier = nil
	e.diags = nil
	e.engineDiag = nil
	e.previews.Exit()
	e.mu.Unlock()

	if had {
		e.log.Info("root cleared")
		e.notify(Change{Kind: ChangeCleared})
	}
}

// Close stops the watch and cancels any scan. The engine cannot be used
// afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.cancelScan != nil {
		e.cancelScan()
		e.cancelScan = nil
	}
	e.gen++
	e.stopWatchLocked()
	// Release lock before waiting for the watch goroutine; it may need it.
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// StartWatch watches the root folder and applies its changes in batches.
// It is a no-op while a live watch runs and restarts a dead one.
func (e *Engine) StartWatch() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return ErrClosed
	case e.state == nil:
		return ErrNoRoot
	case e.watch != nil && !e.watch.dead:
		return nil
	}
	e.stopWatchLocked()

	root := e.state.Root
	w, err := e.newWatcher(root, e.excludes)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.WatchRecursive(root); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", root, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &watchSession{w: w, root: root, cancel: cancel, started: e.clock.Now()}
	s.batcher = reconcile.NewBatcher(
		func(batch []watcher.Event) { e.applyBatch(s, batch) },
		reconcile.WithClock(e.clock),
		reconcile.WithIdle(e.idle),
		reconcile.WithMaxWait(e.maxWait),
	)
	e.watch = s

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runWatch(ctx, s)
	}()

	e.log.Info("watch started", "root", root)
	return nil
}

// StopWatch stops the watch and drops its pending batch.
func (e *Engine) StopWatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watch != nil {
		e.log.Info("watch stopped", "root", e.watch.root)
	}
	e.stopWatchLocked()
}

func (e *Engine) stopWatchLocked() {
	s := e.watch
	if s == nil {
		return
	}
	e.watch = nil
	s.cancel()
	s.batcher.Cancel()
	if err := s.w.Close(); err != nil {
		e.log.Warn("closing watcher", "error", err)
	}
}

// WatchStatus returns the state of the current watch.
func (e *Engine) WatchStatus() WatchStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.watch
	if s == nil {
		return WatchStatus{}
	}
	return WatchStatus{
		Running:       !s.dead,
		Dead:          s.dead,
		PendingEvents: s.batcher.Pending(),
		TotalEvents:   s.events,
		Errors:        s.errors,
		LastError:     s.lastError,
		StartTime:     s.started,
	}
}

func (e *Engine) runWatch(ctx context.Context, s *watchSession) {
	err := watcher.Run(ctx, s.w,
		func(ev watcher.Event) { e.enqueue(s, ev) },
		func(err error) { e.watchError(s, err) },
	)
	if !errors.Is(err, watcher.ErrWatcherClosed) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watch != s {
		return
	}
	s.dead = true
	s.lastError = err
	e.addEngineDiagLocked("watch stopped unexpectedly: " + err.Error())
	e.log.Error("watch died", "root", s.root, "error", err)
}

// enqueue converts an absolute event path to the root-relative form and
// hands the event to the batch accumulator.
func (e *Engine) enqueue(s *watchSession, ev watcher.Event) {
	rel, ok := relativePath(s.root, ev.Path)
	if !ok {
		e.log.Debug("event outside root dropped", "path", ev.Path)
		return
	}
	ev.Path = rel
	s.batcher.Add(ev)

	e.mu.Lock()
	s.events++
	e.mu.Unlock()
}

func (e *Engine) watchError(s *watchSession, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watch != s {
		return
	}
	s.errors++
	s.lastError = err
	msg := "watch: " + err.Error()
	if errors.Is(err, watcher.ErrOverflow) {
		msg += " (rescan to resynchronize)"
	}
	e.addEngineDiagLocked(msg)
	e.log.Warn("watch error", "root", s.root, "error", err)
}

func (e *Engine) addEngineDiagLocked(msg string) {
	e.engineDiag = append(e.engineDiag, model.Diagnostic{Message: msg})
	if over := len(e.engineDiag) - maxEngineDiagnostics; over > 0 {
		e.engineDiag = slices.Delete(e.engineDiag, 0, over)
	}
}

func relativePath(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// applyBatch applies a flushed batch of session s. Batches of a stopped
// or replaced session are discarded.
func (e *Engine) applyBatch(s *watchSession, batch []watcher.Event) {
	e.mu.Lock()
	if e.watch != s || e.state == nil || e.state.Root != s.root {
		e.mu.Unlock()
		return
	}
	report, err := e.applier.Apply(context.Background(), e.state, batch)
	if err != nil {
		e.addEngineDiagLocked("apply: " + err.Error())
		e.log.Error("applying batch", "root", s.root, "error", err)
	}
	e.diags = replaceDiagnostics(e.diags, report.Paths, report.Diagnostics)
	for _, id := range report.Removed {
		e.ranker.Forget(id)
	}
	root := e.state.Root
	e.mu.Unlock()

	e.log.Debug("batch applied",
		"events", len(batch),
		"applied", report.Applied,
		"dropped", report.Dropped,
		"added", len(report.Added),
		"removed", len(report.Removed),
		"recomputed", len(report.Recomputed))
	e.notify(Change{Kind: ChangeApplied, Root: root, Report: report})
}

// replaceDiagnostics drops the diagnostics of every changed path and its
// descendants, then appends the fresh ones.
func replaceDiagnostics(current []model.Diagnostic, paths []string, fresh []model.Diagnostic) []model.Diagnostic {
	out := slices.DeleteFunc(current, func(d model.Diagnostic) bool {
		return slices.ContainsFunc(paths, func(p string) bool { return model.IsUnder(d.Path, p) })
	})
	return append(out, fresh...)
}

// Diagnostics returns the scan, parse and watch diagnostics.
func (e *Engine) Diagnostics() []model.Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Diagnostic, 0, len(e.diags)+len(e.engineDiag))
	out = append(out, e.diags...)
	return append(out, e.engineDiag...)
}

// view returns the resources and graph queries answer from: the active
// preview's, or the base state's.
func (e *Engine) viewLocked() (model.ResourceMap, *graph.Graph) {
	if p := e.previews.Current(); p != nil {
		return p.Resources, p.Graph
	}
	if e.state == nil {
		return nil, nil
	}
	return e.state.Resources, e.state.Graph
}

// Files returns a copy of the file map. It is empty without a root.
func (e *Engine) Files() model.FileMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return model.FileMap{}
	}
	return e.state.Files.Clone()
}

// File returns a copy of the entry at the relative path rel.
func (e *Engine) File(rel string) (*model.FileEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNoRoot
	}
	f := e.state.Files[rel]
	if f == nil {
		return nil, fmt.Errorf("file %s: %w", rel, ErrNotFound)
	}
	return f.Clone(), nil
}

// Resources returns a copy of the resource map, the preview's while one
// is active.
func (e *Engine) Resources() model.ResourceMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	if resources == nil {
		return model.ResourceMap{}
	}
	return resources.Clone()
}

// Resource returns a copy of one resource.
func (e *Engine) Resource(id string) (*model.Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	r := resources[id]
	if r == nil {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

// Edges returns the outgoing and incoming edges of a resource.
func (e *Engine) Edges(id string) (outgoing, incoming []graph.Edge, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, g := e.viewLocked()
	if resources[id] == nil {
		return nil, nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return g.Outgoing(id), g.Incoming(id), nil
}

// AllEdges returns every edge in canonical order.
func (e *Engine) AllEdges() []graph.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, g := e.viewLocked()
	if g == nil {
		return nil
	}
	return g.All()
}

// Snapshot returns a deep copy of the base state.
func (e *Engine) Snapshot() (model.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return model.Snapshot{}, ErrNoRoot
	}
	return e.state.Snapshot(), nil
}

// Namespaces returns the distinct namespaces of the visible resources.
func (e *Engine) Namespaces() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	return resources.Namespaces()
}

// Kinds returns the distinct kinds of the visible resources.
func (e *Engine) Kinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	return resources.Kinds()
}

// HelmCharts returns the charts found under the root.
func (e *Engine) HelmCharts() []model.HelmChart {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	charts := make([]model.HelmChart, len(e.state.Charts))
	for i, c := range e.state.Charts {
		c.ValuesFiles = slices.Clone(c.ValuesFiles)
		charts[i] = c
	}
	return charts
}

// SetFlags replaces the consumer-owned flags of a visible resource. While
// a preview is active only the preview's copy changes.
func (e *Engine) SetFlags(id string, flags model.Flags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	r := resources[id]
	if r == nil {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	r.SetFlags(flags)
	return nil
}

// SelectResource records a visit to a visible resource.
func (e *Engine) SelectResource(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	if resources[id] == nil {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	e.history.Record(history.Entry{Kind: history.ResourceEntry, ID: id})
	e.ranker.RecordVisit(id)
	return nil
}

// SelectFile records a visit to a file or directory of the root.
func (e *Engine) SelectFile(rel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNoRoot
	}
	if e.state.Files[rel] == nil {
		return fmt.Errorf("file %s: %w", rel, ErrNotFound)
	}
	e.history.Record(history.Entry{Kind: history.FileEntry, ID: rel})
	return nil
}

// HistoryBack moves to the nearest earlier entry that still exists.
func (e *Engine) HistoryBack() (history.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Back(e.existsLocked)
}

// HistoryForward moves to the nearest later entry that still exists.
func (e *Engine) HistoryForward() (history.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Forward(e.existsLocked)
}

// History returns the recorded entries and the cursor position.
func (e *Engine) History() ([]history.Entry, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Entries(), e.history.Cursor()
}

func (e *Engine) existsLocked(entry history.Entry) bool {
	switch entry.Kind {
	case history.ResourceEntry:
		resources, _ := e.viewLocked()
		return resources[entry.ID] != nil
	case history.FileEntry:
		return e.state != nil && e.state.Files[entry.ID] != nil
	default:
		return false
	}
}

// PreviewKustomization renders the kustomization resource id in its
// folder and shows the output in place of the project. On failure the
// current view is unchanged.
func (e *Engine) PreviewKustomization(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return ErrNoRoot
	}
	r := e.state.Resources[id]
	if r == nil {
		e.mu.Unlock()
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if !manifest.IsKustomization(r) {
		e.mu.Unlock()
		return fmt.Errorf("resource %s (%s): %w", id, r.Kind, ErrNotAggregator)
	}
	req := preview.RenderRequest{
		Source: preview.Kustomization,
		Dir:    filepath.Join(e.state.Root, filepath.FromSlash(model.DirOf(r.FilePath))),
	}
	gen, renderer := e.gen, e.renderer
	e.mu.Unlock()

	out, err := preview.Render(ctx, renderer, req)
	if err != nil {
		return err
	}
	p, err := preview.FromOutput(preview.Kustomization, id, out)
	if err != nil {
		return err
	}
	return e.activate(gen, p)
}

// PreviewHelm renders the chart owning the values file at the relative
// path valuesPath with that file.
func (e *Engine) PreviewHelm(ctx context.Context, valuesPath string) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return ErrNoRoot
	}
	f := e.state.Files[valuesPath]
	chart, ok := model.ChartFor(e.state.Charts, valuesPath)
	if f == nil || f.Helm != model.HelmValues || !ok {
		e.mu.Unlock()
		return fmt.Errorf("values file %s: %w", valuesPath, ErrNotFound)
	}
	req := preview.RenderRequest{
		Source:     preview.Helm,
		Dir:        filepath.Join(e.state.Root, filepath.FromSlash(chart.Dir)),
		ValuesFile: f.AbsPath,
	}
	gen, renderer := e.gen, e.renderer
	e.mu.Unlock()

	out, err := preview.Render(ctx, renderer, req)
	if err != nil {
		return err
	}
	p, err := preview.FromOutput(preview.Helm, valuesPath, out)
	if err != nil {
		return err
	}
	return e.activate(gen, p)
}

// PreviewCluster shows a cluster listing, the JSON printed by
// "kubectl get -o json", in place of the project. contextName labels the
// payload. No root folder is needed.
func (e *Engine) PreviewCluster(contextName string, data []byte) error {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()

	p, err := preview.FromCluster(contextName, data)
	if err != nil {
		return err
	}
	return e.activate(gen, p)
}

// activate commits p unless the root changed while it was rendered.
func (e *Engine) activate(gen uint64, p *preview.Preview) error {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return fmt.Errorf("preview %s: %w", p.ContextID, ErrScanCanceled)
	}
	e.previews.Activate(p)
	root := ""
	if e.state != nil {
		root = e.state.Root
	}
	e.mu.Unlock()

	e.log.Info("preview activated",
		"source", p.Source,
		"context", p.ContextID,
		"id", p.ID,
		"resources", len(p.Resources))
	e.notify(Change{Kind: ChangePreview, Root: root})
	return nil
}

// ExitPreview returns to the project view. It reports whether a preview
// was active.
func (e *Engine) ExitPreview() bool {
	e.mu.Lock()
	was := e.previews.Exit()
	root := ""
	if e.state != nil {
		root = e.state.Root
	}
	e.mu.Unlock()

	if was {
		e.notify(Change{Kind: ChangePreview, Root: root})
	}
	return was
}

// Preview returns a copy of the active preview, or nil. Use SetFlags to
// change flags on the payload.
func (e *Engine) Preview() *preview.Preview {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previews.Current().Clone()
}

// SetPermissions replaces the permission set consulted by Permitted.
func (e *Engine) SetPermissions(set access.PermissionSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.perms = &set
}

// Permitted reports whether verb is allowed on the kind of a visible
// resource. Without a permission set nothing is permitted.
func (e *Engine) Permitted(id, verb string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	r := resources[id]
	if r == nil {
		return false, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return e.perms.Allowed(access.ResourceName(r.Kind, r.APIVersion), verb), nil
}

// Search matches the visible resources against query. Frequently
// selected resources rank higher when opts.BoostFrequent is set.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) ([]search.Match, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	return e.searcher.Search(ctx, resources, query, opts)
}

// QuickSearch returns the kinds and namespaces starting with query.
func (e *Engine) QuickSearch(query string) search.Groups {
	e.mu.Lock()
	defer e.mu.Unlock()
	resources, _ := e.viewLocked()
	return search.Quick(query, resources)
}
