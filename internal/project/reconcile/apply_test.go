package reconcile

import (
	"bytes"
	"context"
	"slices"
	"testing"

	"github.com/dshills/manifold/internal/project/graph"
	"github.com/dshills/manifold/internal/project/model"
	"github.com/dshills/manifold/internal/project/scanner"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher"
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
    spec:
      containers:
      - name: web
        envFrom:
        - configMapRef:
            name: web-config
`
	svcYAML  = "apiVersion: v1\nkind: Service\nmetadata:\n  name: web\nspec:\n  selector:\n    app: web\n"
	cmYAML   = "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: web-config\n"
	kustYAML = "resources:\n- deployment.yaml\n"
)

var testOpts = scanner.Options{Excludes: watcher.NewIgnorePatterns("*.tmp", "vendor/")}

func newFS(t *testing.T, files map[string]string) *vfs.MemFS {
	t.Helper()
	fs := vfs.NewMemFS()
	if err := fs.MkdirAll("/root"); err != nil {
		t.Fatal(err)
	}
	for p, content := range files {
		if err := fs.AddFile("/root/"+p, content); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func load(t *testing.T, fs vfs.VFS) *State {
	t.Helper()
	st, _, err := Load(context.Background(), fs, "/root", testOpts)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return st
}

func apply(t *testing.T, fs vfs.VFS, st *State, batch ...watcher.Event) Report {
	t.Helper()
	report, err := NewApplier(fs, testOpts).Apply(context.Background(), st, batch)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return report
}

// assertConverged compares st with a full rescan of fs.
func assertConverged(t *testing.T, fs vfs.VFS, st *State) {
	t.Helper()
	got, err := st.Snapshot().Canonical()
	if err != nil {
		t.Fatal(err)
	}
	want, err := load(t, fs).Snapshot().Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		fresh := load(t, fs)
		t.Errorf("incremental state differs from a full rescan\nfiles: %v vs %v\nresources: %v vs %v\nedges: %+v\nvs %+v",
			st.Files.Paths(), fresh.Files.Paths(),
			st.Resources.IDs(), fresh.Resources.IDs(),
			st.Graph.All(), fresh.Graph.All())
	}
}

func write(t *testing.T, fs *vfs.MemFS, rel, content string) {
	t.Helper()
	if err := fs.AddFile("/root/"+rel, content); err != nil {
		t.Fatal(err)
	}
}

func remove(t *testing.T, fs *vfs.MemFS, rel string) {
	t.Helper()
	if err := fs.RemoveAll("/root/" + rel); err != nil {
		t.Fatal(err)
	}
}

func event(kind watcher.Kind, rel string, isDir bool) watcher.Event {
	return watcher.Event{Kind: kind, Path: rel, IsDir: isDir}
}

func TestApply_RemovedComponentScenario(t *testing.T) {
	fs := newFS(t, map[string]string{
		"app/deployment.yaml":    deployYAML,
		"app/kustomization.yaml": kustYAML,
	})
	st := load(t, fs)
	if len(st.Resources) != 2 {
		t.Fatalf("resources = %d, want 2", len(st.Resources))
	}
	agg := st.Files["app/kustomization.yaml"].ResourceIDs[0]
	if out := st.Graph.Outgoing(agg); len(out) != 1 || !out[0].Valid {
		t.Fatalf("composition edges = %+v", out)
	}

	remove(t, fs, "app/deployment.yaml")
	report := apply(t, fs, st, event(watcher.Removed, "app/deployment.yaml", false))

	if len(st.Resources) != 1 || st.Resources[agg] == nil {
		t.Fatalf("resources = %v, want only the kustomization", st.Resources.IDs())
	}
	out := st.Graph.Outgoing(agg)
	if len(out) != 1 || out[0].Valid || out[0].Kind != graph.Composition || out[0].Target != "app/deployment.yaml" {
		t.Errorf("composition edges = %+v, want one invalid edge", out)
	}
	if len(report.Removed) != 1 || !slices.Contains(report.Recomputed, agg) {
		t.Errorf("report = %+v", report)
	}
	assertConverged(t, fs, st)
}

func TestApply_Convergence(t *testing.T) {
	initial := map[string]string{
		"app/deployment.yaml":    deployYAML,
		"app/kustomization.yaml": kustYAML,
		"svc.yaml":               svcYAML,
		"chart/values.yaml":      "replicas: 1\n",
		"chart/templates/x.yaml": cmYAML,
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, fs *vfs.MemFS) []watcher.Event
	}{
		{"add referenced config map", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			write(t, fs, "cm.yaml", cmYAML)
			return []watcher.Event{event(watcher.Created, "cm.yaml", false)}
		}},
		{"remove selected workload", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			remove(t, fs, "app/deployment.yaml")
			return []watcher.Event{event(watcher.Removed, "app/deployment.yaml", false)}
		}},
		{"edit workload", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			write(t, fs, "app/deployment.yaml", deployYAML+"  replicas: 3\n")
			return []watcher.Event{event(watcher.Modified, "app/deployment.yaml", false)}
		}},
		{"remove directory", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			remove(t, fs, "app")
			return []watcher.Event{
				event(watcher.Removed, "app/deployment.yaml", false),
				event(watcher.Removed, "app", true),
			}
		}},
		{"new nested directory seen through its file", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			write(t, fs, "new/deep/cm.yaml", cmYAML)
			write(t, fs, "new/kustomization.yaml", "resources:\n- deep/cm.yaml\n")
			return []watcher.Event{event(watcher.Created, "new/deep/cm.yaml", false)}
		}},
		{"new directory", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			write(t, fs, "base/kustomization.yaml", "resources:\n- ../app\n")
			return []watcher.Event{event(watcher.Created, "base", true)}
		}},
		{"chart file appears", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			write(t, fs, "chart/Chart.yaml", "apiVersion: v2\nname: web\nversion: 0.1.0\n")
			return []watcher.Event{event(watcher.Created, "chart/Chart.yaml", false)}
		}},
		{"file replaced by directory", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			remove(t, fs, "svc.yaml")
			write(t, fs, "svc.yaml/inner.yaml", svcYAML)
			return []watcher.Event{event(watcher.Modified, "svc.yaml", true)}
		}},
		{"parse error", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			write(t, fs, "svc.yaml", "kind: [\n")
			return []watcher.Event{event(watcher.Modified, "svc.yaml", false)}
		}},
		{"removal of a path still on disk", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			return []watcher.Event{event(watcher.Removed, "svc.yaml", false)}
		}},
		{"remove service", func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
			remove(t, fs, "svc.yaml")
			return []watcher.Event{event(watcher.Removed, "svc.yaml", false)}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFS(t, initial)
			st := load(t, fs)
			apply(t, fs, st, tt.mutate(t, fs)...)
			assertConverged(t, fs, st)
		})
	}
}

func TestApply_ExcludedAndMissingDropped(t *testing.T) {
	fs := newFS(t, map[string]string{"svc.yaml": svcYAML})
	st := load(t, fs)
	write(t, fs, "notes.tmp", svcYAML)
	write(t, fs, "vendor/x.yaml", svcYAML)

	report := apply(t, fs, st,
		event(watcher.Created, "notes.tmp", false),
		event(watcher.Created, "vendor/x.yaml", false),
		event(watcher.Created, "ghost.yaml", false),
	)
	if report.Applied != 0 || report.Dropped != 3 {
		t.Errorf("report = %+v, want three dropped events", report)
	}
	for _, p := range []string{"notes.tmp", "vendor", "vendor/x.yaml", "ghost.yaml"} {
		if st.Files[p] != nil {
			t.Errorf("%s should not be in the file map", p)
		}
	}
}

func TestApply_FlagsCarriedForPreservedIDs(t *testing.T) {
	fs := newFS(t, map[string]string{"multi.yaml": cmYAML + "---\n" + svcYAML})
	st := load(t, fs)
	ids := slices.Clone(st.Files["multi.yaml"].ResourceIDs)
	for _, id := range ids {
		st.Resources[id].SetFlags(model.Flags{Selected: true, Highlighted: true})
	}

	// Only the second document changes.
	write(t, fs, "multi.yaml", cmYAML+"---\n"+svcYAML+"  type: NodePort\n")
	apply(t, fs, st, event(watcher.Modified, "multi.yaml", false))

	kept := st.Resources[ids[0]]
	if kept == nil || !kept.Selected || !kept.Highlighted {
		t.Errorf("unchanged document lost its flags: %+v", kept)
	}
	if st.Resources[ids[1]] != nil {
		t.Fatal("changed document should get a new identifier")
	}
	fresh := st.Files["multi.yaml"].ResourceIDs[1]
	if r := st.Resources[fresh]; r.Selected || r.Highlighted {
		t.Errorf("new identifier should start with cleared flags: %+v", r)
	}
}

func TestApply_ReferenceAnnotationsFollow(t *testing.T) {
	fs := newFS(t, map[string]string{"app/deployment.yaml": deployYAML})
	st := load(t, fs)
	dep := st.Resources[st.Files["app/deployment.yaml"].ResourceIDs[0]]
	if dep.UnsatisfiedRefs != 1 || dep.IncomingRefs != 0 {
		t.Fatalf("deployment annotations = %+v", dep)
	}

	write(t, fs, "svc.yaml", svcYAML)
	write(t, fs, "cm.yaml", cmYAML)
	apply(t, fs, st,
		event(watcher.Created, "svc.yaml", false),
		event(watcher.Created, "cm.yaml", false),
	)
	if dep.IncomingRefs != 1 || dep.OutgoingRefs != 1 || dep.UnsatisfiedRefs != 0 {
		t.Errorf("deployment annotations = in %d out %d unsatisfied %d", dep.IncomingRefs, dep.OutgoingRefs, dep.UnsatisfiedRefs)
	}
	assertConverged(t, fs, st)
}

func TestApply_RemovalRefreshesEndpoints(t *testing.T) {
	fs := newFS(t, map[string]string{
		"deployment.yaml": deployYAML,
		"svc.yaml":        svcYAML,
		"cm.yaml":         cmYAML,
	})
	st := load(t, fs)
	dep := st.Files["deployment.yaml"].ResourceIDs[0]
	cm := st.Files["cm.yaml"].ResourceIDs[0]
	if st.Resources[dep].IncomingRefs != 1 || st.Resources[cm].IncomingRefs != 1 {
		t.Fatalf("initial annotations: deployment in %d, config map in %d",
			st.Resources[dep].IncomingRefs, st.Resources[cm].IncomingRefs)
	}

	remove(t, fs, "svc.yaml")
	apply(t, fs, st, event(watcher.Removed, "svc.yaml", false))
	if r := st.Resources[dep]; r.IncomingRefs != 0 || r.OutgoingRefs != 1 {
		t.Errorf("deployment in %d out %d, want 0 and 1", r.IncomingRefs, r.OutgoingRefs)
	}
	assertConverged(t, fs, st)

	remove(t, fs, "deployment.yaml")
	apply(t, fs, st, event(watcher.Removed, "deployment.yaml", false))
	if r := st.Resources[cm]; r.IncomingRefs != 0 {
		t.Errorf("config map in %d, want 0", r.IncomingRefs)
	}
	assertConverged(t, fs, st)
}

func TestApply_SymlinkConvergence(t *testing.T) {
	initial := map[string]string{
		"a/keep.yaml":     cmYAML,
		"b/real/svc.yaml": svcYAML,
	}
	link := func(t *testing.T, fs *vfs.MemFS, target, rel string) {
		t.Helper()
		if err := fs.Symlink(target, "/root/"+rel); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		setup  func(t *testing.T, fs *vfs.MemFS)
		mutate func(t *testing.T, fs *vfs.MemFS) []watcher.Event
	}{
		{
			name: "link to a mapped directory",
			mutate: func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
				link(t, fs, "/root/b/real", "a/link")
				return []watcher.Event{event(watcher.Created, "a/link", true)}
			},
		},
		{
			name: "link and its target appear together",
			mutate: func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
				write(t, fs, "c/real/cm.yaml", cmYAML)
				link(t, fs, "/root/c/real", "a/link")
				return []watcher.Event{
					event(watcher.Created, "a/link", true),
					event(watcher.Created, "c", true),
				}
			},
		},
		{
			name: "link target removed",
			setup: func(t *testing.T, fs *vfs.MemFS) {
				link(t, fs, "/root/b/real", "a/link")
			},
			mutate: func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
				remove(t, fs, "b")
				return []watcher.Event{event(watcher.Removed, "b", true)}
			},
		},
		{
			name: "link removed",
			setup: func(t *testing.T, fs *vfs.MemFS) {
				link(t, fs, "/root/b/real", "a/link")
			},
			mutate: func(t *testing.T, fs *vfs.MemFS) []watcher.Event {
				remove(t, fs, "a/link")
				return []watcher.Event{event(watcher.Removed, "a/link", true)}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFS(t, initial)
			if tt.setup != nil {
				tt.setup(t, fs)
			}
			st := load(t, fs)
			apply(t, fs, st, tt.mutate(t, fs)...)
			assertConverged(t, fs, st)
		})
	}
}
