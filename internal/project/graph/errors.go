package graph

import "errors"

// Graph errors.
var (
	// ErrInvalidEdge indicates an edge without a source.
	ErrInvalidEdge = errors.New("invalid edge")
	// ErrSourceMismatch indicates an edge whose source differs from the
	// resource being replaced.
	ErrSourceMismatch = errors.New("edge source does not match")
)
