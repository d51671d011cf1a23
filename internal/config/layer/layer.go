// Package layer stacks configuration sources and remembers which source
// supplied each setting.
package layer

// Source is where a layer came from. Sources are ordered: a later source
// overrides every earlier one.
type Source uint8

const (
	SourceBuiltin Source = iota
	// SourceUser is the user config file.
	SourceUser
	// SourceWorkspace is the .manifold.toml at the scanned root.
	SourceWorkspace
	// SourceEnv is MANIFOLD_* variables.
	SourceEnv
	// SourceArgs is command-line flags.
	SourceArgs
)

var sourceNames = [...]string{"builtin", "user", "workspace", "environment", "arguments"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "unknown"
}

// Layer is the settings read from one source, as nested tables.
type Layer struct {
	Name   string
	Source Source
	// File is the config file the layer was read from, if any.
	File string
	Data map[string]any
}

// NewLayer creates a layer. A nil data map is replaced by an empty one.
func NewLayer(name string, source Source, data map[string]any) *Layer {
	if data == nil {
		data = make(map[string]any)
	}
	return &Layer{Name: name, Source: source, Data: data}
}
