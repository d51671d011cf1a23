package vfs

import (
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"syscall"
)

// maxLinkHops bounds symlink expansion like the kernel's ELOOP limit.
const maxLinkHops = 40

// MemFS is an in-memory tree of slash-separated absolute paths. It holds
// files, directories and symbolic links, so scanner cycle handling can be
// tested without the disk. Errors carry the same syscall values OSFS
// returns. MemFS is safe for concurrent use.
type MemFS struct {
	mu    sync.RWMutex
	nodes map[string]*memNode
}

type memNode struct {
	kind   Kind
	data   []byte
	target string // symlinks only
}

func NewMemFS() *MemFS {
	return &MemFS{nodes: map[string]*memNode{"/": {kind: KindDir}}}
}

var _ VFS = (*MemFS)(nil)

func (m *MemFS) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.lookupLocked(name)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	if n.kind == KindDir {
		return nil, &fs.PathError{Op: "read", Path: name, Err: syscall.EISDIR}
	}
	return slices.Clone(n.data), nil
}

func (m *MemFS) Stat(name string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.lookupLocked(name)
	if err != nil {
		return FileInfo{}, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return NewFileInfo(name, n.kind, int64(len(n.data))), nil
}

func (m *MemFS) ReadDir(name string) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolved, err := m.resolveLocked(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	n := m.nodes[resolved]
	switch {
	case n == nil:
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	case n.kind != KindDir:
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: syscall.ENOTDIR}
	}

	shown := clean(name)
	var entries []FileInfo
	for _, child := range m.childrenLocked(resolved) {
		c := m.nodes[path.Join(resolved, child)]
		entries = append(entries, NewFileInfo(path.Join(shown, child), c.kind, int64(len(c.data))))
	}
	return entries, nil
}

func (m *MemFS) Canonical(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolved, err := m.resolveLocked(name)
	if err != nil {
		return "", &fs.PathError{Op: "canonical", Path: name, Err: err}
	}
	if m.nodes[resolved] == nil {
		return "", &fs.PathError{Op: "canonical", Path: name, Err: fs.ErrNotExist}
	}
	return resolved, nil
}

// WriteFile creates or replaces a file. Its directory must exist.
func (m *MemFS) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(clean(name), data)
}

// AddFile writes content to name, creating missing directories.
func (m *MemFS) AddFile(name, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	if err := m.mkdirAllLocked(path.Dir(name)); err != nil {
		return err
	}
	return m.writeLocked(name, []byte(content))
}

// MkdirAll creates dir and its parents.
func (m *MemFS) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mkdirAllLocked(clean(dir))
}

// Symlink creates link pointing at target. A relative target is read from
// the link's directory, as on disk.
func (m *MemFS) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link = clean(link)
	if p := m.nodes[path.Dir(link)]; p == nil || p.kind != KindDir {
		return &fs.PathError{Op: "symlink", Path: link, Err: fs.ErrNotExist}
	}
	if m.nodes[link] != nil {
		return &fs.PathError{Op: "symlink", Path: link, Err: fs.ErrExist}
	}
	m.nodes[link] = &memNode{kind: KindSymlink, target: target}
	return nil
}

// RemoveAll removes name and everything below it. A link is removed, never
// its target. Removing a missing path succeeds.
func (m *MemFS) RemoveAll(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	if name == "/" {
		return &fs.PathError{Op: "remove", Path: name, Err: syscall.EPERM}
	}
	prefix := name + "/"
	for p := range m.nodes {
		if p == name || strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
		}
	}
	return nil
}

// Files lists every regular file, sorted.
func (m *MemFS) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var files []string
	for p, n := range m.nodes {
		if n.kind == KindFile {
			files = append(files, p)
		}
	}
	slices.Sort(files)
	return files
}

func (m *MemFS) writeLocked(name string, data []byte) error {
	if p := m.nodes[path.Dir(name)]; p == nil || p.kind != KindDir {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrNotExist}
	}
	if n := m.nodes[name]; n != nil && n.kind == KindDir {
		return &fs.PathError{Op: "write", Path: name, Err: syscall.EISDIR}
	}
	m.nodes[name] = &memNode{kind: KindFile, data: slices.Clone(data)}
	return nil
}

func (m *MemFS) mkdirAllLocked(dir string) error {
	current := ""
	for _, part := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		switch n := m.nodes[current]; {
		case n == nil:
			m.nodes[current] = &memNode{kind: KindDir}
		case n.kind != KindDir:
			return &fs.PathError{Op: "mkdir", Path: current, Err: syscall.ENOTDIR}
		}
	}
	return nil
}

// lookupLocked returns the node name resolves to.
func (m *MemFS) lookupLocked(name string) (*memNode, error) {
	resolved, err := m.resolveLocked(name)
	if err != nil {
		return nil, err
	}
	n := m.nodes[resolved]
	if n == nil {
		return nil, fs.ErrNotExist
	}
	return n, nil
}

// childrenLocked returns the sorted names directly under dir.
func (m *MemFS) childrenLocked(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var names []string
	for p := range m.nodes {
		rest, ok := strings.CutPrefix(p, prefix)
		if ok && rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	slices.Sort(names)
	return names
}

// resolveLocked expands symbolic links anywhere in name.
func (m *MemFS) resolveLocked(name string) (string, error) {
	p := clean(name)
	for range maxLinkHops {
		next, expanded := m.expandOnceLocked(p)
		if !expanded {
			return p, nil
		}
		p = next
	}
	return "", syscall.ELOOP
}

// expandOnceLocked replaces the first symlinked prefix of p with its target.
func (m *MemFS) expandOnceLocked(p string) (string, bool) {
	if p == "/" {
		return p, false
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	prefix := ""
	for i, part := range parts {
		prefix += "/" + part
		n := m.nodes[prefix]
		if n == nil || n.kind != KindSymlink {
			continue
		}
		target := n.target
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(prefix), target)
		}
		return clean(path.Join(target, path.Join(parts[i+1:]...))), true
	}
	return p, false
}

func clean(p string) string {
	return path.Clean("/" + p)
}
