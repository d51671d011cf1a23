package project

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRoot is returned by operations that need a root folder before
	// one was set.
	ErrNoRoot = errors.New("no root folder set")

	// The two root rejections. Their text is shown to users as is.
	ErrRootMissing      = errors.New("Missing folder")
	ErrRootNotDirectory = errors.New("Invalid path")

	ErrNotFound = errors.New("not found")

	// ErrNotAggregator rejects a kustomization preview of a resource that
	// is not a Kustomization.
	ErrNotAggregator = errors.New("not a kustomization")

	// ErrScanCanceled reports a scan superseded by a newer one, or whose
	// context ended, before its results were committed.
	ErrScanCanceled = errors.New("scan canceled")

	ErrClosed = errors.New("engine closed")
)

// RootError rejects a root folder. The engine is unchanged when one is
// returned.
type RootError struct {
	Op   string // "set root" or "rescan"
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Root, e.Err)
}

func (e *RootError) Unwrap() error {
	return e.Err
}

// IsNotFound reports an unknown resource, file or values path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRootError reports a rejected root folder.
func IsRootError(err error) bool {
	var re *RootError
	return errors.As(err, &re)
}

// IsCanceled reports a superseded or cancelled scan.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrScanCanceled)
}
