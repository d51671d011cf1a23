package layer

import (
	"slices"
	"testing"
)

func TestStack_ResolveBySource(t *testing.T) {
	s := NewStack()
	s.Push(NewLayer("env", SourceEnv, map[string]any{
		"watch": map[string]any{"idleDelay": "2s"},
	}))
	s.Push(NewLayer("default", SourceBuiltin, map[string]any{
		"watch":   map[string]any{"idleDelay": "1s", "maxWait": "5s"},
		"history": map[string]any{"capacity": int64(100)},
	}))
	s.Push(NewLayer("user", SourceUser, map[string]any{
		"watch":   map[string]any{"idleDelay": "500ms"},
		"history": map[string]any{"capacity": int64(50)},
	}))

	var names []string
	for _, l := range s.Layers() {
		names = append(names, l.Name)
	}
	if !slices.Equal(names, []string{"default", "user", "env"}) {
		t.Errorf("Layers() = %v, want source order", names)
	}

	r := s.Resolve()
	for path, want := range map[string]any{
		"watch.idleDelay":  "2s",
		"watch.maxWait":    "5s",
		"history.capacity": int64(50),
	} {
		if v, _ := GetByPath(r.Data, path); v != want {
			t.Errorf("%s = %v, want %v", path, v, want)
		}
	}

	for path, want := range map[string]string{
		"watch.idleDelay":  "env",
		"watch.maxWait":    "default",
		"history.capacity": "user",
	} {
		l, ok := r.Origin(path)
		if !ok || l.Name != want {
			t.Errorf("Origin(%q) = %v, %v; want %s", path, l, ok, want)
		}
	}
	if _, ok := r.Origin("watch"); ok {
		t.Error("tables have no origin")
	}
	if _, ok := r.Origin("missing.key"); ok {
		t.Error("missing settings have no origin")
	}

	want := []string{"history.capacity", "watch.idleDelay", "watch.maxWait"}
	if got := r.Leaves(); !slices.Equal(got, want) {
		t.Errorf("Leaves() = %v, want %v", got, want)
	}
}

func TestStack_ResolveIsDetached(t *testing.T) {
	excludes := []any{"*.tmp"}
	s := NewStack()
	s.Push(NewLayer("default", SourceBuiltin, map[string]any{
		"scan": map[string]any{"excludes": excludes},
	}))

	r := s.Resolve()
	SetByPath(r.Data, "scan.workers", int64(8))
	list, _ := GetByPath(r.Data, "scan.excludes")
	list.([]any)[0] = "changed"

	if _, ok := GetByPath(s.Resolve().Data, "scan.workers"); ok {
		t.Error("mutating a resolved map should not leak into the stack")
	}
	if excludes[0] != "*.tmp" {
		t.Error("mutating a resolved list should not leak into the layer")
	}
}

func TestStack_PushReplacesByName(t *testing.T) {
	s := NewStack()
	s.Push(NewLayer("args", SourceArgs, map[string]any{"log": map[string]any{"level": "debug"}}))
	s.Push(NewLayer("args", SourceArgs, map[string]any{"log": map[string]any{"level": "warn"}}))

	if n := len(s.Layers()); n != 1 {
		t.Fatalf("Layers() = %d, want 1", n)
	}
	if v, _ := GetByPath(s.Resolve().Data, "log.level"); v != "warn" {
		t.Errorf("log.level = %v, want warn", v)
	}
}

func TestStack_ValueReplacesTable(t *testing.T) {
	s := NewStack()
	s.Push(NewLayer("default", SourceBuiltin, map[string]any{
		"preview": map[string]any{"timeout": "30s", "helm": map[string]any{"bin": "helm"}},
	}))
	s.Push(NewLayer("user", SourceUser, map[string]any{
		"preview": map[string]any{"helm": "helm3"},
	}))
	s.Push(NewLayer("args", SourceArgs, map[string]any{
		"preview": map[string]any{"timeout": map[string]any{"seconds": int64(5)}},
	}))

	r := s.Resolve()
	if v, _ := GetByPath(r.Data, "preview.helm"); v != "helm3" {
		t.Errorf("preview.helm = %v, want helm3", v)
	}
	if _, ok := r.Origin("preview.helm.bin"); ok {
		t.Error("a replaced table should lose the origins beneath it")
	}
	if _, ok := r.Origin("preview.timeout"); ok {
		t.Error("a scalar replaced by a table should lose its origin")
	}
	if l, ok := r.Origin("preview.timeout.seconds"); !ok || l.Name != "args" {
		t.Errorf("Origin(preview.timeout.seconds) = %v, %v", l, ok)
	}
}

func TestSetByPath(t *testing.T) {
	data := map[string]any{"a": "scalar"}
	SetByPath(data, "a.b.c", 1)
	if v, ok := GetByPath(data, "a.b.c"); !ok || v != 1 {
		t.Errorf("GetByPath() = %v, %v", v, ok)
	}
	if _, ok := GetByPath(data, "a.x"); ok {
		t.Error("missing path should not be found")
	}
	if _, ok := GetByPath(nil, "a"); ok {
		t.Error("nil data holds nothing")
	}
}

func TestSource_String(t *testing.T) {
	for source, want := range map[Source]string{
		SourceBuiltin:   "builtin",
		SourceUser:      "user",
		SourceWorkspace: "workspace",
		SourceEnv:       "environment",
		SourceArgs:      "arguments",
		Source(99):      "unknown",
	} {
		if got := source.String(); got != want {
			t.Errorf("Source(%d).String() = %q, want %q", source, got, want)
		}
	}
}
