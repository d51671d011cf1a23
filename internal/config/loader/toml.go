package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// File is one TOML configuration file.
type File struct {
	fs   FileSystem
	Path string
}

// NewFile creates a File read through fsys.
func NewFile(fsys FileSystem, path string) *File {
	if fsys == nil {
		fsys = DefaultFS()
	}
	return &File{fs: fsys, Path: path}
}

// Load reads and parses the file. A missing file yields nil, nil.
func (f *File) Load() (map[string]any, error) {
	data, err := f.fs.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", f.Path, err)
	}
	return ParseTOML(f.Path, data)
}

// ParseTOML parses data read from name into nested tables.
func ParseTOML(name string, data []byte) (map[string]any, error) {
	var tables map[string]any
	if err := toml.Unmarshal(data, &tables); err != nil {
		perr := &ParseError{Path: name, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
			perr.Snippet = strings.TrimRight(derr.String(), "\n")
		}
		return nil, perr
	}
	if tables == nil {
		tables = make(map[string]any)
	}
	return tables, nil
}

// ParseError reports malformed TOML.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	// Snippet shows the offending lines with the error marked.
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	default:
		return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
