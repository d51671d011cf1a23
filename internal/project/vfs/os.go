package vfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// OSFS reads the real disk.
type OSFS struct{}

func NewOSFS() *OSFS {
	return &OSFS{}
}

var _ VFS = (*OSFS)(nil)

func (*OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (*OSFS) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return NewFileInfo(path, kindOf(info.Mode()), info.Size()), nil
}

// ReadDir lists path. Sizes of regular files cost one lstat each; an entry
// removed between the listing and its lstat is dropped.
func (*OSFS) ReadDir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(path, entry.Name())
		kind := kindOf(entry.Type())
		var size int64
		if kind == KindFile {
			info, err := entry.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			size = info.Size()
		}
		infos = append(infos, NewFileInfo(full, kind, size))
	}
	return infos, nil
}

func (*OSFS) Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}
