package layer

import (
	"maps"
	"slices"
	"strings"
)

// Resolved is the effective settings of a Stack together with the layer
// that supplied each leaf setting.
type Resolved struct {
	Data    map[string]any
	origins map[string]*Layer
}

// Origin returns the layer that supplied the leaf setting at path.
// Tables have no origin of their own.
func (r *Resolved) Origin(path string) (*Layer, bool) {
	l, ok := r.origins[path]
	return l, ok
}

// Leaves returns the path of every leaf setting in lexical order.
func (r *Resolved) Leaves() []string {
	return slices.Sorted(maps.Keys(r.origins))
}

// overlay writes src over dst on behalf of l. Tables merge key by key.
// Any other value, lists included, replaces whatever lower layers held at
// its path, tables beneath it too.
func overlay(dst, src map[string]any, prefix string, l *Layer, origins map[string]*Layer) {
	for key, value := range src {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		table, isTable := value.(map[string]any)
		if !isTable {
			forget(origins, path)
			dst[key] = cloneValue(value)
			origins[path] = l
			continue
		}
		existing, ok := dst[key].(map[string]any)
		if !ok {
			forget(origins, path)
			existing = make(map[string]any, len(table))
			dst[key] = existing
		}
		overlay(existing, table, path, l, origins)
	}
}

// forget drops the origins recorded at path and beneath it.
func forget(origins map[string]*Layer, path string) {
	delete(origins, path)
	prefix := path + "."
	for p := range origins {
		if strings.HasPrefix(p, prefix) {
			delete(origins, p)
		}
	}
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

// GetByPath returns the value at a dotted path.
func GetByPath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		table, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = table[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// SetByPath stores value at a dotted path, creating tables on the way and
// replacing any non-table value standing in for one.
func SetByPath(data map[string]any, path string, value any) {
	if data == nil {
		return
	}
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
