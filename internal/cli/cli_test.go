package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/manifold/internal/project"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher/watchertest"
)

const (
	deployYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  template:
    metadata:
      labels:
        app: web
`
	svcYAML  = "apiVersion: v1\nkind: Service\nmetadata:\n  name: web\nspec:\n  selector:\n    app: web\n"
	kustYAML = "resources:\n- deployment.yaml\n"

	renderedYAML = `apiVersion: v1
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

	clusterJSON = `{"apiVersion":"v1","kind":"List","items":[
{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"settings","namespace":"ops"}}]}`

	canIOutput = `Resources          Non-Resource URLs   Resource Names   Verbs
deployments.apps   []                  []               [get list]
services           []                  []               [get]
`

	// renderScript prints rendered.txt from the folder passed as $0.
	renderScript = `cat "$0"/rendered.txt`
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// newProject writes files under a fresh root and isolates the user
// configuration.
func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	t.Setenv("MANIFOLD_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	t.Setenv("NO_COLOR", "1")
	root := t.TempDir()
	for rel, content := range files {
		mustWriteFile(t, filepath.Join(root, filepath.FromSlash(rel)), content)
	}
	return root
}

func sampleProject(t *testing.T) string {
	return newProject(t, map[string]string{
		"app/kustomization.yaml": kustYAML,
		"app/deployment.yaml":    deployYAML,
		"app/service.yaml":       svcYAML,
		"bad.yaml":               "kind: [\n",
	})
}

func execute(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, context.Background(), "", args...)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := osexec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestScanCommand(t *testing.T) {
	root := sampleProject(t)

	out, err := run(t, "scan", "--root", root)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !strings.Contains(out, "3 resources found in 4 files") {
		t.Errorf("scan output missing summary:\n%s", out)
	}
	if !strings.Contains(out, "parse error: bad.yaml:") {
		t.Errorf("scan output missing parse error:\n%s", out)
	}

	snapshot := filepath.Join(t.TempDir(), "snap.cbor")
	out, err = run(t, "scan", "--root", root, "--json", "--snapshot", snapshot)
	if err != nil {
		t.Fatalf("scan --json failed: %v", err)
	}
	var summary ScanSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if summary.Resources != 3 || summary.Files != 4 || len(summary.ParseErrors) != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Edges == 0 {
		t.Error("expected composition and reference edges")
	}

	first, err := os.ReadFile(snapshot)
	if err != nil || len(first) == 0 {
		t.Fatalf("snapshot not written: %v", err)
	}
	if _, err := run(t, "scan", "--root", root, "--snapshot", snapshot); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	second, _ := os.ReadFile(snapshot)
	if !bytes.Equal(first, second) {
		t.Error("expected byte-identical snapshots of an unchanged folder")
	}
}

func TestScanCommand_MissingRoot(t *testing.T) {
	newProject(t, nil)
	_, err := run(t, "scan", "--root", filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, project.ErrRootMissing) {
		t.Errorf("scan error = %v, want ErrRootMissing", err)
	}
}

func TestTreeCommand(t *testing.T) {
	root := sampleProject(t)

	out, err := run(t, "tree", "--root", root)
	if err != nil {
		t.Fatalf("tree failed: %v", err)
	}
	for _, want := range []string{
		"├── app/",
		"│   ├── deployment.yaml",
		"│   │   └── Deployment web",
		"│   ├── kustomization.yaml",
		"│       └── Service web",
		"└── bad.yaml ! ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("tree output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "tree", "--root", root, "--files-only")
	if err != nil {
		t.Fatalf("tree --files-only failed: %v", err)
	}
	if strings.Contains(out, "Deployment web") || !strings.Contains(out, "service.yaml") {
		t.Errorf("--files-only output:\n%s", out)
	}
}

func TestRefsCommand(t *testing.T) {
	root := sampleProject(t)

	out, err := run(t, "refs", "--root", root, "--json", "Kustomization/app")
	if err != nil {
		t.Fatalf("refs failed: %v", err)
	}
	var result RefsResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if result.Resource.Kind != "Kustomization" || len(result.Outgoing) != 1 {
		t.Fatalf("refs result = %+v", result)
	}
	edge := result.Outgoing[0]
	if edge.Kind != "composition" || !edge.Resolved || edge.Target != "app/deployment.yaml" {
		t.Errorf("edge = %+v", edge)
	}

	out, err = run(t, "refs", "--root", root, "app/deployment.yaml")
	if err != nil {
		t.Fatalf("refs by file failed: %v", err)
	}
	if !strings.HasPrefix(out, "Deployment/web\n") || !strings.Contains(out, "referenced by:") {
		t.Errorf("refs output:\n%s", out)
	}

	if _, err := run(t, "refs", "--root", root, "Deployment/missing"); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("missing resource error = %v, want ErrNotFound", err)
	}
}

func TestSearchCommand(t *testing.T) {
	root := sampleProject(t)

	out, err := run(t, "search", "--root", root, "--json", "--quick", "we")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var result SearchResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(result.Matches) != 2 {
		t.Errorf("matches = %+v, want both web resources", result.Matches)
	}

	out, err = run(t, "search", "--root", root, "--kind", "Service", "web")
	if err != nil {
		t.Fatalf("search --kind failed: %v", err)
	}
	if !strings.Contains(out, "Service") || strings.Contains(out, "Deployment") {
		t.Errorf("kind-filtered output:\n%s", out)
	}

	out, err = run(t, "search", "--root", root, "zzz")
	if err != nil || !strings.Contains(out, `no resources match "zzz"`) {
		t.Errorf("search zzz = %q, %v", out, err)
	}

	if _, err := run(t, "search", "--root", root, "--mode", "nearest", "web"); err == nil {
		t.Error("expected an error for an unknown match mode")
	}
}

func TestPreviewCommands(t *testing.T) {
	requireShell(t)
	root := newProject(t, map[string]string{
		".manifold.toml": "[preview]\n" +
			"kustomizeCommand = ['sh', '-c', '" + renderScript + "']\n" +
			"helmCommand = ['sh', '-c', '" + renderScript + "']\n",
		"app/kustomization.yaml": kustYAML,
		"app/deployment.yaml":    deployYAML,
		"app/rendered.txt":       renderedYAML,
		"chart/Chart.yaml":       "apiVersion: v2\nname: web\nversion: 1.0.0\n",
		"chart/values.yaml":      "replicas: 1\n",
		"chart/rendered.txt":     renderedYAML,
	})

	out, err := run(t, "preview", "kustomize", "--root", root, "Kustomization/app")
	if err != nil {
		t.Fatalf("preview kustomize failed: %v", err)
	}
	if !strings.Contains(out, "2 resources") || !strings.Contains(out, "prod") {
		t.Errorf("kustomize preview output:\n%s", out)
	}

	out, err = run(t, "preview", "helm", "--root", root, "--json", "chart/values.yaml")
	if err != nil {
		t.Fatalf("preview helm failed: %v", err)
	}
	var result PreviewResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if result.Source != "helm" || len(result.Resources) != 2 {
		t.Errorf("helm preview = %+v", result)
	}
	for _, r := range result.Resources {
		if r.Namespace != "prod" {
			t.Errorf("preview resource %s/%s namespace = %q", r.Kind, r.Name, r.Namespace)
		}
	}

	if _, err := run(t, "preview", "kustomize", "--root", root, "Deployment/web"); !errors.Is(err, project.ErrNotAggregator) {
		t.Errorf("preview of a plain resource error = %v, want ErrNotAggregator", err)
	}
}

func TestPreviewCluster(t *testing.T) {
	root := newProject(t, nil)
	listing := filepath.Join(root, "listing.json")
	mustWriteFile(t, listing, clusterJSON)

	out, err := run(t, "preview", "cluster", "--context", "dev", "--json", listing)
	if err != nil {
		t.Fatalf("preview cluster failed: %v", err)
	}
	var result PreviewResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if result.Source != "cluster" || result.Context != "dev" || len(result.Resources) != 1 {
		t.Fatalf("cluster preview = %+v", result)
	}
	if r := result.Resources[0]; r.Kind != "ConfigMap" || r.Name != "settings" || r.Namespace != "ops" {
		t.Errorf("resource = %+v", r)
	}

	out, err = execute(t, context.Background(), clusterJSON, "preview", "cluster", "-")
	if err != nil {
		t.Fatalf("preview cluster from stdin failed: %v", err)
	}
	if !strings.Contains(out, "settings") {
		t.Errorf("stdin preview output:\n%s", out)
	}

	if _, err := execute(t, context.Background(), "not json", "preview", "cluster", "-"); err == nil {
		t.Error("expected an error for an invalid listing")
	}
}

func TestCanICommand(t *testing.T) {
	root := sampleProject(t)
	perms := filepath.Join(t.TempDir(), "can-i.txt")
	mustWriteFile(t, perms, canIOutput)

	out, err := run(t, "can-i", "--root", root, "--permissions", perms, "list")
	if err != nil {
		t.Fatalf("can-i failed: %v", err)
	}
	answers := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
		fields := strings.Fields(line)
		answers[fields[2]] = fields[0]
	}
	want := map[string]string{"Deployment": "yes", "Service": "no", "Kustomization": "no"}
	for kind, answer := range want {
		if answers[kind] != answer {
			t.Errorf("can-i list %s = %q, want %q\n%s", kind, answers[kind], answer, out)
		}
	}

	out, err = run(t, "can-i", "--root", root, "--permissions", perms, "get", "Service/web")
	if err != nil {
		t.Fatalf("can-i get failed: %v", err)
	}
	if !strings.Contains(out, "yes") || strings.Contains(out, "Deployment") {
		t.Errorf("can-i get output:\n%s", out)
	}

	if _, err := run(t, "can-i", "--root", root, "list"); err == nil {
		t.Error("expected an error without --permissions")
	}
}

func TestConfigCommand(t *testing.T) {
	root := newProject(t, map[string]string{
		".manifold.toml": "[watch]\nmaxWait = '10s'\n",
	})

	out, err := run(t, "config", "--root", root)
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out, "[watch]") || !strings.Contains(out, "maxWait") {
		t.Errorf("config output:\n%s", out)
	}

	out, err = run(t, "config", "--root", root, "--sources", "--log-level", "debug")
	if err != nil {
		t.Fatalf("config --sources failed: %v", err)
	}
	sources := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
		fields := strings.Fields(line)
		sources[fields[0]] = fields[len(fields)-1]
	}
	for path, want := range map[string]string{
		"log.level":       "args",
		"watch.maxWait":   "workspace",
		"watch.idleDelay": "default",
	} {
		if sources[path] != want {
			t.Errorf("source of %s = %q, want %q\n%s", path, sources[path], want, out)
		}
	}

	if _, err := run(t, "config", "--root", root, "--log-format", "xml"); err == nil {
		t.Error("expected an error for an unknown log format")
	}
}

func TestWatchCommand(t *testing.T) {
	root := sampleProject(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	out, err := execute(t, ctx, "", "watch", "--root", root)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	for _, want := range []string{"scanned: 3 resources found in 4 files", "watching ", "stopped after"} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}
}

func TestFollowWatch_RestartsOnce(t *testing.T) {
	fs := vfs.NewMemFS()
	if err := fs.AddFile("/root/svc.yaml", svcYAML); err != nil {
		t.Fatal(err)
	}
	rec := &watchertest.Recorder{}
	engine := project.New(project.WithVFS(fs), project.WithWatcherFactory(rec.Factory()))
	defer engine.Close()
	if err := engine.SetRootFolder(context.Background(), "/root"); err != nil {
		t.Fatal(err)
	}
	if err := engine.StartWatch(); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	out := &lockedWriter{w: &bytes.Buffer{}}
	done := make(chan error, 1)
	go func() {
		done <- followWatch(context.Background(), engine, out, log, time.Millisecond)
	}()

	rec.Latest().Die()
	deadline := time.Now().Add(2 * time.Second)
	for rec.Count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the watch to restart")
		}
		time.Sleep(time.Millisecond)
	}
	if !rec.Latest().Watching() {
		t.Error("restarted watch should be running")
	}

	rec.Latest().Die()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "watch stopped") {
			t.Errorf("followWatch() error = %v, want watch stopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("followWatch() should give up after a second death")
	}
	if rec.Count() != 2 {
		t.Errorf("watches started = %d, want 2", rec.Count())
	}
	if !strings.Contains(logs.String(), "watch died, restarting") {
		t.Errorf("missing restart warning in logs:\n%s", logs.String())
	}
}

func TestWatchCommand_Disabled(t *testing.T) {
	root := newProject(t, map[string]string{".manifold.toml": "[watch]\nenabled = false\n"})
	if _, err := run(t, "watch", "--root", root); !errors.Is(err, ErrWatchDisabled) {
		t.Errorf("watch error = %v, want ErrWatchDisabled", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || out != "manifold test\n" {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestFindResource(t *testing.T) {
	resources := model.ResourceMap{
		"d1": {ID: "d1", Kind: "Deployment", Name: "web", Namespace: "a", FilePath: "a.yaml"},
		"d2": {ID: "d2", Kind: "Deployment", Name: "web", Namespace: "b", FilePath: "multi.yaml"},
		"s1": {ID: "s1", Kind: "Service", Name: "web", FilePath: "multi.yaml"},
	}
	files := model.FileMap{
		"a.yaml":     {RelPath: "a.yaml", ResourceIDs: []string{"d1"}},
		"multi.yaml": {RelPath: "multi.yaml", ResourceIDs: []string{"d2", "s1"}},
		"empty.yaml": {RelPath: "empty.yaml"},
	}

	tests := []struct {
		ref     string
		wantID  string
		wantErr bool
	}{
		{"d2", "d2", false},
		{"service/web", "s1", false},
		{"Deployment/b/web", "d2", false},
		{"./a.yaml", "d1", false},
		{"Deployment/web", "", true},
		{"multi.yaml", "", true},
		{"empty.yaml", "", true},
		{"web", "", true},
		{"Service/other/web", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			r, err := findResource(resources, files, tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("findResource(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if err == nil && r.ID != tt.wantID {
				t.Errorf("findResource(%q) = %s, want %s", tt.ref, r.ID, tt.wantID)
			}
		})
	}
}

func TestRelativeToRoot(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work", "proj")
	tests := []struct {
		arg  string
		want string
	}{
		{"chart/values.yaml", "chart/values.yaml"},
		{"./chart/../chart/values.yaml", "chart/values.yaml"},
		{filepath.Join(root, "chart", "values.yaml"), "chart/values.yaml"},
	}
	for _, tt := range tests {
		got, err := relativeToRoot(root, tt.arg)
		if err != nil || got != tt.want {
			t.Errorf("relativeToRoot(%q) = %q, %v; want %q", tt.arg, got, err, tt.want)
		}
	}
}
