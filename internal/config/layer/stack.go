package layer

import "slices"

// Stack holds layers ordered by Source. It is built once while
// configuration loads and is not safe for concurrent mutation.
type Stack struct {
	layers []*Layer
}

// NewStack creates an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push adds l, replacing a layer of the same name. Layers of one source
// apply in the order they were pushed.
func (s *Stack) Push(l *Layer) {
	s.layers = slices.DeleteFunc(s.layers, func(existing *Layer) bool {
		return existing.Name == l.Name
	})
	i := len(s.layers)
	for i > 0 && s.layers[i-1].Source > l.Source {
		i--
	}
	s.layers = slices.Insert(s.layers, i, l)
}

// Layers returns the layers in the order Resolve applies them.
func (s *Stack) Layers() []*Layer {
	return slices.Clone(s.layers)
}

// Resolve overlays every layer, earliest source first. The result shares
// no maps or lists with the layers.
func (s *Stack) Resolve() *Resolved {
	r := &Resolved{
		Data:    make(map[string]any),
		origins: make(map[string]*Layer),
	}
	for _, l := range s.layers {
		overlay(r.Data, l.Data, "", l, r.origins)
	}
	return r
}
