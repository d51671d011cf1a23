package model

import "fmt"

// Diagnostic is a non-fatal problem attached to a path.
type Diagnostic struct {
	Path    string
	Message string
}

func (d Diagnostic) String() string {
	if d.Path == "" {
		return d.Message
	}
	return fmt.Sprintf("%s: %s", d.Path, d.Message)
}
