package scanner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher"
)

const (
	deployYAML = "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: web\n"
	svcYAML    = "apiVersion: v1\nkind: Service\nmetadata:\n  name: web\n"
	kustYAML   = "resources:\n- deployment.yaml\n"
)

// countingFS records every directory listed.
type countingFS struct {
	*vfs.MemFS
	mu     sync.Mutex
	listed []string
}

func (c *countingFS) ReadDir(p string) ([]vfs.FileInfo, error) {
	c.mu.Lock()
	c.listed = append(c.listed, p)
	c.mu.Unlock()
	return c.MemFS.ReadDir(p)
}

func newTree(t *testing.T, files map[string]string) *vfs.MemFS {
	t.Helper()
	fs := vfs.NewMemFS()
	if err := fs.MkdirAll("/root"); err != nil {
		t.Fatal(err)
	}
	for p, content := range files {
		if err := fs.AddFile("/root/"+p, content); err != nil {
			t.Fatalf("AddFile(%s) error = %v", p, err)
		}
	}
	return fs
}

func TestScan_Basic(t *testing.T) {
	fs := newTree(t, map[string]string{
		"app/deployment.yaml":    deployYAML,
		"app/kustomization.yaml": kustYAML,
		"svc.yaml":               svcYAML + "---\n" + svcYAML,
		"README.md":              "# docs",
	})

	res, err := Scan(context.Background(), fs, "/root", Options{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	root := res.Files[model.RootEntry]
	if root == nil || !root.IsDir {
		t.Fatal("root entry missing")
	}
	wantChildren := []string{"README.md", "app", "svc.yaml"}
	if strings.Join(root.Children, ",") != strings.Join(wantChildren, ",") {
		t.Errorf("root children = %v, want %v", root.Children, wantChildren)
	}
	app := res.Files["app"]
	if app == nil || len(app.Children) != 2 || app.Children[0] != "app/deployment.yaml" {
		t.Errorf("app entry = %+v", app)
	}
	if got := len(res.Resources); got != 4 {
		t.Errorf("resources = %d, want 4", got)
	}
	if got := len(res.Files["svc.yaml"].ResourceIDs); got != 2 {
		t.Errorf("svc.yaml resources = %d, want 2", got)
	}
	if res.FileCount() != 4 {
		t.Errorf("FileCount() = %d, want 4", res.FileCount())
	}
	for id, r := range res.Resources {
		if res.Files[r.FilePath] == nil {
			t.Errorf("resource %s points at missing file %s", id, r.FilePath)
		}
	}
}

func TestScan_RootErrors(t *testing.T) {
	fs := newTree(t, map[string]string{"a.yaml": svcYAML})

	if _, err := Scan(context.Background(), fs, "/missing", Options{}); err == nil {
		t.Error("Scan() of a missing root should fail")
	}
	if _, err := Scan(context.Background(), fs, "/root/a.yaml", Options{}); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("Scan() of a file error = %v, want ErrNotDirectory", err)
	}
}

func TestScan_Idempotent(t *testing.T) {
	fs := newTree(t, map[string]string{
		"a/one.yaml":   deployYAML,
		"a/two.yaml":   svcYAML,
		"b/c/d.yaml":   svcYAML + "---\n" + deployYAML,
		"b/broken.yml": "kind: [",
	})

	encode := func() []byte {
		res, err := Scan(context.Background(), fs, "/root", Options{Workers: 3})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		data, err := model.NewSnapshot(res.Files, res.Resources, nil).Canonical()
		if err != nil {
			t.Fatalf("Canonical() error = %v", err)
		}
		return data
	}

	if !bytes.Equal(encode(), encode()) {
		t.Error("two scans of the same tree should be byte-identical")
	}
}

func TestScan_ParseErrorKeepsFile(t *testing.T) {
	fs := newTree(t, map[string]string{"bad.yaml": "kind: [\n"})

	res, err := Scan(context.Background(), fs, "/root", Options{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	entry := res.Files["bad.yaml"]
	if entry == nil {
		t.Fatal("bad.yaml should stay in the file map")
	}
	if entry.ParseError == "" || len(entry.ResourceIDs) != 0 {
		t.Errorf("bad.yaml entry = %+v", entry)
	}
	if len(res.Diagnostics) != 1 {
		t.Errorf("Diagnostics = %v, want one", res.Diagnostics)
	}
}

func TestScan_Excludes(t *testing.T) {
	mem := newTree(t, map[string]string{
		"app/deploy.yaml":          deployYAML,
		"app/vendor/deep/svc.yaml": svcYAML,
		"app/notes.tmp":            svcYAML,
	})
	fs := &countingFS{MemFS: mem}

	opts := Options{Excludes: watcher.NewIgnorePatterns("vendor/", "*.tmp")}
	res, err := Scan(context.Background(), fs, "/root", opts)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	for p := range res.Files {
		if strings.Contains(p, "vendor") || strings.HasSuffix(p, ".tmp") {
			t.Errorf("excluded path %s in file map", p)
		}
	}
	for _, r := range res.Resources {
		if r.Kind == "Service" {
			t.Errorf("excluded content in resource map: %+v", r)
		}
	}
	for _, listed := range fs.listed {
		if strings.Contains(listed, "vendor") {
			t.Errorf("excluded directory %s was opened", listed)
		}
	}
}

func TestScan_SymlinkCycle(t *testing.T) {
	fs := newTree(t, map[string]string{"app/svc.yaml": svcYAML})
	if err := fs.Symlink("..", "/root/app/up"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Symlink("/root/app", "/root/alias"); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(context.Background(), fs, "/root", Options{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := len(res.Resources); got != 1 {
		t.Errorf("resources = %d, want 1", got)
	}
	if e := res.Files["app/svc.yaml"]; e == nil || len(e.ResourceIDs) != 1 {
		t.Errorf("real directory should be scanned, got %+v", e)
	}
	for _, p := range []string{"alias", "app/up"} {
		e := res.Files[p]
		if e == nil || !e.IsDir || len(e.Children) != 0 {
			t.Errorf("%s entry = %+v, want an empty directory entry", p, e)
		}
	}
}

func TestScan_RealDirectoriesBeforeLinks(t *testing.T) {
	fs := newTree(t, map[string]string{
		"a/keep.yaml":     svcYAML,
		"b/real/svc.yaml": svcYAML,
	})
	if err := fs.Symlink("/root/b/real", "/root/a/link"); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(context.Background(), fs, "/root", Options{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if e := res.Files["b/real/svc.yaml"]; e == nil || len(e.ResourceIDs) != 1 {
		t.Errorf("real directory should own its files, got %+v", e)
	}
	if e := res.Files["a/link"]; e == nil || len(e.Children) != 0 {
		t.Errorf("link entry = %+v, want an empty directory entry", e)
	}
	if res.Files["a/link/svc.yaml"] != nil {
		t.Error("files should not be mapped through the link")
	}
}

func TestScanSubtree_KnownDirectories(t *testing.T) {
	fs := newTree(t, map[string]string{
		"a/keep.yaml":     svcYAML,
		"b/real/svc.yaml": svcYAML,
	})
	full, err := Scan(context.Background(), fs, "/root", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Symlink("/root/b/real", "/root/a/link"); err != nil {
		t.Fatal(err)
	}

	res, err := ScanSubtree(context.Background(), fs, "/root", "a/link", full.Files, Options{})
	if err != nil {
		t.Fatalf("ScanSubtree() error = %v", err)
	}
	if got := res.Files.Paths(); strings.Join(got, ",") != "a/link" {
		t.Errorf("Paths() = %v, want only the link entry", got)
	}

	res, err = ScanSubtree(context.Background(), fs, "/root", "a/link", nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Files["a/link/svc.yaml"] == nil {
		t.Error("without a file map the link target should be scanned")
	}
}

func TestRealDir(t *testing.T) {
	fs := newTree(t, map[string]string{"b/real/svc.yaml": svcYAML})
	if err := fs.Symlink("/root/b/real", "/root/link"); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		rel   string
		canon string
		real  bool
	}{
		{"", "/root", true},
		{"b/real", "/root/b/real", true},
		{"link", "/root/b/real", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		canon, real := RealDir(fs, "/root", tt.rel)
		if canon != tt.canon || real != tt.real {
			t.Errorf("RealDir(%q) = %q, %v; want %q, %v", tt.rel, canon, real, tt.canon, tt.real)
		}
	}
}

func TestScan_Cancelled(t *testing.T) {
	fs := newTree(t, map[string]string{"a.yaml": svcYAML})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Scan(ctx, fs, "/root", Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Error("cancelled scan should discard its result")
	}
}

func TestScan_Helm(t *testing.T) {
	fs := newTree(t, map[string]string{
		"chart/Chart.yaml":            "apiVersion: v2\nname: web\nversion: 1.0.0\n",
		"chart/values.yaml":           "replicas: 2\n",
		"chart/templates/deploy.yaml": "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: {{ .Release.Name }}\n",
	})

	res, err := Scan(context.Background(), fs, "/root", Options{})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(res.Resources) != 0 {
		t.Errorf("templates should not be parsed, got %d resources", len(res.Resources))
	}
	if e := res.Files["chart/templates/deploy.yaml"]; e == nil || e.Helm != model.HelmTemplate || e.ParseError != "" {
		t.Errorf("template entry = %+v", e)
	}
	if e := res.Files["chart/values.yaml"]; e.Helm != model.HelmValues {
		t.Errorf("values role = %v", e.Helm)
	}
	charts := model.HelmCharts(res.Files)
	if len(charts) != 1 || charts[0].Name != "web" || len(charts[0].ValuesFiles) != 1 {
		t.Errorf("charts = %+v", charts)
	}
}

func TestScanSubtree(t *testing.T) {
	fs := newTree(t, map[string]string{
		"app/deployment.yaml":      deployYAML,
		"app/nested/svc.yaml":      svcYAML,
		"other/kustomization.yaml": kustYAML,
	})

	res, err := ScanSubtree(context.Background(), fs, "/root", "app", nil, Options{})
	if err != nil {
		t.Fatalf("ScanSubtree() error = %v", err)
	}
	want := []string{"app", "app/deployment.yaml", "app/nested", "app/nested/svc.yaml"}
	if got := res.Files.Paths(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Paths() = %v, want %v", got, want)
	}
	if len(res.Resources) != 2 {
		t.Errorf("resources = %d, want 2", len(res.Resources))
	}

	full, _ := Scan(context.Background(), fs, "/root", Options{})
	for id := range res.Resources {
		if full.Resources[id] == nil {
			t.Errorf("subtree resource %s differs from full scan", id)
		}
	}
}

func TestParseFile(t *testing.T) {
	fs := newTree(t, map[string]string{
		"app/deployment.yaml": deployYAML,
		"chart/Chart.yaml":    "name: c\n",
		"chart/values.yaml":   "x: 1\n",
	})

	entry, resources := ParseFile(fs, "/root", "app/deployment.yaml", Options{})
	if len(resources) != 1 || len(entry.ResourceIDs) != 1 || entry.ResourceIDs[0] != resources[0].ID {
		t.Errorf("ParseFile() = %+v, %v", entry, resources)
	}

	entry, _ = ParseFile(fs, "/root", "chart/values.yaml", Options{})
	if entry.Helm != model.HelmValues {
		t.Errorf("values role = %v", entry.Helm)
	}

	entry, _ = ParseFile(fs, "/root", "app/deployment.yaml", Options{MaxFileSize: 4})
	if entry.ParseError == "" {
		t.Error("oversized file should carry a parse error")
	}
}
