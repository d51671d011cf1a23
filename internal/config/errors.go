package config

import (
	"errors"
	"fmt"
)

// ErrInvalidValue indicates a setting holds a value outside its range.
var ErrInvalidValue = errors.New("invalid configuration value")

// ValidationError reports one invalid setting.
type ValidationError struct {
	// Path is the dotted setting path, e.g. "watch.idleDelay".
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidValue
}
