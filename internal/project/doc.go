// Package project keeps a live model of a folder of Kubernetes manifests.
//
// An Engine scans a root folder into three structures: a file map keyed by
// root-relative path, a resource map keyed by content-derived identifier,
// and a graph of composition and reference edges between resources. A
// filesystem watch keeps them current without rescanning the whole tree.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - Engine: the handle owning all state; every mutation runs under its lock
//   - scanner: parallel parse of a tree honoring exclude rules
//   - kustomize: composition edges from kustomization aggregators
//   - refs: selector and name references between resources
//   - reconcile: the batch accumulator and the incremental applier
//   - preview: rendered kustomize or Helm output and cluster listings
//   - history: bounded back and forward navigation
//
// # Quick Start
//
//	eng := project.New(project.WithLogger(logger))
//	defer eng.Close()
//
//	if err := eng.SetRootFolder(ctx, "/path/to/manifests"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.StartWatch(); err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, r := range eng.Resources().Sorted() {
//	    fmt.Println(r.Kind, r.Namespace, r.Name)
//	}
//
// # Watching
//
// Watch events are gathered per path until the folder has been quiet for
// the idle window, or the maximum wait has passed. A created and then
// removed file never reaches the maps. The batch is applied under the
// engine lock and OnChange handlers are told afterwards:
//
//	eng.OnChange(func(c project.Change) {
//	    if c.Kind == project.ChangeApplied {
//	        fmt.Println("changed:", c.Report.Paths)
//	    }
//	})
//
// A watch whose event stream ends unexpectedly is marked dead in
// WatchStatus; StartWatch starts a new one against the same root.
//
// # Previews
//
// A preview replaces the resource view with a rendered payload. Resources,
// Edges, SetFlags and Search answer from the payload until ExitPreview.
// The base maps are never touched by a preview.
//
//	eng := project.New(project.WithRenderer(renderer))
//	if err := eng.PreviewKustomization(ctx, id); err != nil {
//	    var re *preview.RenderError
//	    if errors.As(err, &re) {
//	        fmt.Println(re.Message)
//	    }
//	}
//
// # Error Handling
//
// A missing or non-directory root is the only error that aborts an
// operation; it is returned as a *RootError wrapping ErrRootMissing or
// ErrRootNotDirectory and leaves the engine untouched. Parse problems,
// unresolved components and watch errors are kept as diagnostics.
package project
