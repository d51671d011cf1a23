// Package preview holds the read-only overlay shown in place of the
// scanned project: rendered kustomize or Helm output, or a cluster listing.
package preview

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/manifest"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/refs"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Source identifies where a preview payload came from.
type Source int

const (
	// Kustomization is the rendered output of a kustomization aggregator.
	Kustomization Source = iota
	// Cluster is a listing taken from a live cluster.
	Cluster
	// Helm is the rendered output of a chart with one values file.
	Helm
)

// String returns the string representation of a Source.
func (s Source) String() string {
	switch s {
	case Kustomization:
		return "kustomization"
	case Cluster:
		return "cluster"
	case Helm:
		return "helm"
	default:
		return "unknown"
	}
}

// Preview is one rendered payload. Its resources and graph are private to
// it; flag changes on them never reach the base project.
type Preview struct {
	ID        uuid.UUID
	Source    Source
	ContextID string
	Resources model.ResourceMap
	Graph     *graph.Graph
}

// Edges returns every edge of the payload in canonical order.
func (p *Preview) Edges() []graph.Edge {
	return p.Graph.All()
}

// Clone returns a copy of p with its own resources and graph.
func (p *Preview) Clone() *Preview {
	if p == nil {
		return nil
	}
	c := *p
	c.Resources = p.Resources.Clone()
	c.Graph = p.Graph.Clone()
	return &c
}

// RenderRequest asks a Renderer to render one kustomization or chart.
type RenderRequest struct {
	Source Source
	// Dir is the absolute folder to render: the kustomization directory or
	// the chart directory.
	Dir string
	// ValuesFile is the absolute values file for Helm renders.
	ValuesFile string
}

// RenderResult is the output of a render. A non-empty ErrorText means the
// render failed.
type RenderResult struct {
	Output    string
	ErrorText string
}

// Renderer runs an external render tool.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req RenderRequest) (RenderResult, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	return f(ctx, req)
}

// ErrNoRenderer is returned when a render is requested without a Renderer.
var ErrNoRenderer = errors.New("no renderer configured")

// RenderError reports a failed render.
type RenderError struct {
	Source  Source
	Dir     string
	Message string
	Err     error
}

func (e *RenderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("render %s %s: %v", e.Source, e.Dir, e.Err)
	default:
		return fmt.Sprintf("render %s %s: %s", e.Source, e.Dir, e.Message)
	}
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Render runs r and converts both transport errors and reported error
// text into a *RenderError.
func Render(ctx context.Context, r Renderer, req RenderRequest) (string, error) {
	if r == nil {
		return "", &RenderError{Source: req.Source, Dir: req.Dir, Err: ErrNoRenderer}
	}
	res, err := r.Render(ctx, req)
	if err != nil {
		return "", &RenderError{Source: req.Source, Dir: req.Dir, Err: err}
	}
	if res.ErrorText != "" {
		return "", &RenderError{Source: req.Source, Dir: req.Dir, Message: res.ErrorText}
	}
	return res.Output, nil
}

// FromOutput builds a preview from rendered manifests. The output is parsed
// under a synthetic path derived from contextID and its references are
// resolved within the payload only.
func FromOutput(source Source, contextID, output string) (*Preview, error) {
	rel := path.Join("preview", contextID+".yaml")
	parsed := manifest.Parse(rel, []byte(output))
	if parsed.Err != nil {
		return nil, &RenderError{Source: source, Dir: contextID, Err: parsed.Err}
	}
	resources := make(model.ResourceMap, len(parsed.Resources))
	for _, r := range parsed.Resources {
		resources[r.ID] = r
	}
	return build(source, contextID, resources)
}

// FromCluster builds a preview from "kubectl get -o json" output. Both a
// List with items and a single object are accepted.
func FromCluster(contextID string, data []byte) (*Preview, error) {
	if !gjson.ValidBytes(data) {
		return nil, &RenderError{Source: Cluster, Dir: contextID, Message: "invalid JSON"}
	}
	doc := gjson.ParseBytes(data)
	items := []gjson.Result{doc}
	if list := doc.Get("items"); list.IsArray() {
		items = list.Array()
	}

	resources := make(model.ResourceMap, len(items))
	for i, item := range items {
		content, ok := item.Value().(map[string]any)
		if !ok {
			continue
		}
		ns := item.Get("metadata.namespace").String()
		if ns == "" {
			ns = "_"
		}
		rel := path.Join("cluster", item.Get("kind").String(), ns, item.Get("metadata.name").String()+".json")
		r, ok, err := manifest.NewResource(rel, i, content)
		if err != nil {
			return nil, &RenderError{Source: Cluster, Dir: contextID, Err: err}
		}
		if ok {
			resources[r.ID] = r
		}
	}
	return build(Cluster, contextID, resources)
}

func build(source Source, contextID string, resources model.ResourceMap) (*Preview, error) {
	g := graph.New()
	if err := refs.New(resources).Full(g); err != nil {
		return nil, err
	}
	return &Preview{
		ID:        uuid.New(),
		Source:    source,
		ContextID: contextID,
		Resources: resources,
		Graph:     g,
	}, nil
}

// Manager holds at most one active preview.
type Manager struct {
	mu      sync.RWMutex
	current *Preview
}

// NewManager creates an inactive Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Activate makes p the active preview, replacing any previous one.
func (m *Manager) Activate(p *Preview) {
	m.mu.Lock()
	m.current = p
	m.mu.Unlock()
}

// Exit discards the active preview. It reports whether one was active.
func (m *Manager) Exit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.current != nil
	m.current = nil
	return was
}

// Current returns the active preview, or nil.
func (m *Manager) Current() *Preview {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Active reports whether a preview is shown.
func (m *Manager) Active() bool {
	return m.Current() != nil
}
