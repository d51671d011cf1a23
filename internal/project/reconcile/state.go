package reconcile

import (
	"context"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/kustomize"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/refs"
	"github.com/dshills/manifold/internal/project/scanner"
	"github.com/dshills/manifold/internal/project/vfs"
)

// Load scans root and resolves composition and references over the
// result. It returns the state and the scan diagnostics.
func Load(ctx context.Context, fsys vfs.VFS, root string, opts scanner.Options) (*State, []model.Diagnostic, error) {
	res, err := scanner.Scan(ctx, fsys, root, opts)
	if err != nil {
		return nil, nil, err
	}
	st := &State{
		Root:      root,
		Files:     res.Files,
		Resources: res.Resources,
		Graph:     graph.New(),
		Charts:    model.HelmCharts(res.Files),
	}
	if err := st.Resolve(opts); err != nil {
		return nil, nil, err
	}
	return st, res.Diagnostics, nil
}

// Resolve recomputes every composition and reference edge of st.
func (st *State) Resolve(opts scanner.Options) error {
	st.Graph.Clear()
	if err := kustomize.New(st.Files, st.Resources, opts.Excludes).All().Apply(st.Graph, st.Resources); err != nil {
		return err
	}
	return refs.New(st.Resources).Full(st.Graph)
}

// Snapshot returns a deep copy of st.
func (st *State) Snapshot() model.Snapshot {
	return model.NewSnapshot(st.Files, st.Resources, st.Graph.All())
}
