// Package vfs is the read-only file system the scanner and reconciler walk.
// Production code reads the disk through OSFS; tests build trees, symbolic
// links included, in a MemFS.
package vfs

import "path/filepath"

// VFS reads a directory tree.
type VFS interface {
	// ReadFile reads a whole file, following symbolic links.
	ReadFile(path string) ([]byte, error)

	// Stat describes path, following symbolic links.
	Stat(path string) (FileInfo, error)

	// ReadDir lists a directory sorted by name. A symbolic link is
	// reported as KindSymlink, not as its target.
	ReadDir(path string) ([]FileInfo, error)

	// Canonical resolves every symbolic link in path and returns the
	// cleaned absolute result. Two paths naming the same directory share
	// one canonical form.
	Canonical(path string) (string, error)
}

// Kind classifies a directory entry.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	// KindOther covers devices, sockets and pipes.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// FileInfo describes one entry.
type FileInfo struct {
	path string
	kind Kind
	size int64
}

// NewFileInfo describes the entry at path. Size is meaningful for files
// only.
func NewFileInfo(path string, kind Kind, size int64) FileInfo {
	if kind != KindFile {
		size = 0
	}
	return FileInfo{path: path, kind: kind, size: size}
}

// Path is the path the entry was reached by.
func (fi FileInfo) Path() string { return fi.path }

// Name is the last element of Path.
func (fi FileInfo) Name() string { return filepath.Base(fi.path) }

func (fi FileInfo) Kind() Kind { return fi.kind }

// Size is the file length in bytes.
func (fi FileInfo) Size() int64 { return fi.size }

func (fi FileInfo) IsDir() bool { return fi.kind == KindDir }

func (fi FileInfo) IsSymlink() bool { return fi.kind == KindSymlink }

// IsRegular reports a plain file.
func (fi FileInfo) IsRegular() bool { return fi.kind == KindFile }
