package preview

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/model"
)

const rendered = `apiVersion: v1
kind: Service
metadata:
  name: web
  namespace: prod
spec:
  selector:
    app: web
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: prod
spec:
  template:
    metadata:
      labels:
        app: web
`

const clusterList = `{
  "apiVersion": "v1",
  "kind": "List",
  "items": [
    {"apiVersion": "v1", "kind": "ConfigMap", "metadata": {"name": "settings", "namespace": "prod"}, "data": {"a": "1"}},
    {"apiVersion": "apps/v1", "kind": "Deployment", "metadata": {"name": "api", "namespace": "prod"},
     "spec": {"replicas": 2, "template": {"spec": {"containers": [{"name": "api", "envFrom": [{"configMapRef": {"name": "settings"}}]}]}}}},
    {"apiVersion": "v1", "kind": "Namespace", "metadata": {"name": "prod"}}
  ]
}`

func byKind(resources model.ResourceMap, kind string) *model.Resource {
	for _, r := range resources {
		if r.Kind == kind {
			return r
		}
	}
	return nil
}

func TestFromOutput(t *testing.T) {
	p, err := FromOutput(Kustomization, "abc", rendered)
	if err != nil {
		t.Fatalf("FromOutput() error = %v", err)
	}
	if p.Source != Kustomization || p.ContextID != "abc" || len(p.Resources) != 2 {
		t.Fatalf("preview = %+v", p)
	}
	svc := byKind(p.Resources, "Service")
	if svc.FilePath != "preview/abc.yaml" {
		t.Errorf("FilePath = %q", svc.FilePath)
	}
	edges := p.Edges()
	if len(edges) != 1 || edges[0].Kind != graph.SelectorMatch || !edges[0].Valid {
		t.Errorf("Edges() = %+v", edges)
	}
	if svc.OutgoingRefs != 1 {
		t.Errorf("OutgoingRefs = %d, want 1", svc.OutgoingRefs)
	}
}

func TestFromOutput_ParseError(t *testing.T) {
	_, err := FromOutput(Kustomization, "abc", "kind: [\n")
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RenderError", err)
	}
}

func TestFromCluster(t *testing.T) {
	p, err := FromCluster("ctx", []byte(clusterList))
	if err != nil {
		t.Fatalf("FromCluster() error = %v", err)
	}
	if p.Source != Cluster || len(p.Resources) != 3 {
		t.Fatalf("preview = %+v", p.Resources.IDs())
	}
	dep := byKind(p.Resources, "Deployment")
	if dep.Namespace != "prod" || dep.Name != "api" {
		t.Errorf("deployment = %+v", dep)
	}
	if dep.OutgoingRefs != 1 || dep.UnsatisfiedRefs != 0 {
		t.Errorf("deployment refs out %d unsatisfied %d", dep.OutgoingRefs, dep.UnsatisfiedRefs)
	}
	if ns := byKind(p.Resources, "Namespace"); ns.Namespace != "" {
		t.Errorf("cluster-scoped namespace = %q", ns.Namespace)
	}

	single, err := FromCluster("ctx", []byte(`{"apiVersion": "v1", "kind": "Pod", "metadata": {"name": "p"}}`))
	if err != nil || len(single.Resources) != 1 {
		t.Errorf("single object: %v, %d resources", err, len(single.Resources))
	}

	if _, err := FromCluster("ctx", []byte("{not json")); err == nil {
		t.Error("invalid JSON should fail")
	}
}

func TestRender(t *testing.T) {
	req := RenderRequest{Source: Helm, Dir: "/charts/web", ValuesFile: "/charts/web/values.yaml"}

	out, err := Render(context.Background(), RendererFunc(func(_ context.Context, got RenderRequest) (RenderResult, error) {
		if got != req {
			t.Errorf("request = %+v", got)
		}
		return RenderResult{Output: rendered}, nil
	}), req)
	if err != nil || out != rendered {
		t.Errorf("Render() = %q, %v", out, err)
	}

	_, err = Render(context.Background(), RendererFunc(func(context.Context, RenderRequest) (RenderResult, error) {
		return RenderResult{ErrorText: "missing chart"}, nil
	}), req)
	var re *RenderError
	if !errors.As(err, &re) || re.Message != "missing chart" {
		t.Errorf("error = %v, want RenderError with text", err)
	}

	boom := errors.New("boom")
	_, err = Render(context.Background(), RendererFunc(func(context.Context, RenderRequest) (RenderResult, error) {
		return RenderResult{}, boom
	}), req)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped transport error", err)
	}

	if _, err := Render(context.Background(), nil, req); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("error = %v, want ErrNoRenderer", err)
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	if m.Active() || m.Exit() {
		t.Fatal("new manager should be inactive")
	}

	first, _ := FromOutput(Kustomization, "a", rendered)
	second, _ := FromOutput(Kustomization, "b", rendered)
	m.Activate(first)
	m.Activate(second)
	if m.Current() != second {
		t.Error("Activate() should replace the previous preview")
	}
	if first.ID == second.ID {
		t.Error("previews should get distinct identifiers")
	}
	if !m.Exit() || m.Active() {
		t.Error("Exit() should deactivate")
	}
}

func TestPreview_Clone(t *testing.T) {
	p, err := FromOutput(Kustomization, "a", rendered)
	if err != nil {
		t.Fatal(err)
	}
	c := p.Clone()
	if c.ID != p.ID || len(c.Resources) != len(p.Resources) || len(c.Edges()) != len(p.Edges()) {
		t.Fatalf("Clone() = %+v, want a copy of %+v", c, p)
	}
	for id, r := range c.Resources {
		r.SetFlags(model.Flags{Selected: true})
		if p.Resources[id].Selected {
			t.Errorf("flag on clone leaked into %s", id)
		}
	}
	if (*Preview)(nil).Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}
