package manifest

import (
	"errors"
	"fmt"
)

// ErrBinary indicates a file whose content is not text.
var ErrBinary = errors.New("binary content")

// ParseError is the single structural diagnostic produced for a file.
type ParseError struct {
	Path     string
	DocIndex int
	Err      error
}

func (e *ParseError) Error() string {
	if e.DocIndex < 0 {
		return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parse %s (document %d): %v", e.Path, e.DocIndex, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
