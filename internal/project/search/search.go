// Package search finds resources by name, kind and namespace.
//
// A query is free text mixed with optional qualifiers:
//
//	kind:Deployment,StatefulSet ns:prod web
//
// Qualifiers narrow the candidates like Options.Kinds and
// Options.Namespace; the remaining text is matched against resource names
// in the selected Mode. A query holding only qualifiers lists every
// resource they select.
package search

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidQuery   = errors.New("invalid search query")
	ErrSearchCanceled = errors.New("search canceled")
)

// Mode selects how query text is matched against names.
type Mode int

const (
	// ModeFuzzy matches the query characters in order, not necessarily
	// adjacent.
	ModeFuzzy Mode = iota
	ModeExact
	ModePrefix
	ModeContains
	// ModeGlob uses path.Match syntax.
	ModeGlob
	// ModeRegex uses RE2 syntax.
	ModeRegex
)

var modeNames = [...]string{"fuzzy", "exact", "prefix", "contains", "glob", "regex"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode returns the mode named s.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return ModeFuzzy, fmt.Errorf("%w: unknown match mode %q", ErrInvalidQuery, s)
}

// Options configures a search.
type Options struct {
	// Limit caps the number of matches; 0 means no cap.
	Limit int
	// Kinds keeps resources of these kinds, compared case-insensitively.
	Kinds []string
	// Namespace keeps resources of one namespace.
	Namespace     string
	CaseSensitive bool
	Mode          Mode
	// BoostFrequent ranks often selected resources higher.
	BoostFrequent bool
}

func DefaultOptions() Options {
	return Options{Limit: 100, Mode: ModeFuzzy}
}

// Match is one search result.
type Match struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Namespace string  `json:"namespace,omitempty"`
	Score     float64 `json:"score"`
	// Positions are the byte offsets of matched characters in Name.
	Positions []int `json:"positions,omitempty"`
	// Qualified is set when only "Kind/name" matched.
	Qualified bool `json:"qualified,omitempty"`
}

// Query is a parsed query string.
type Query struct {
	Text       string
	Kinds      []string
	Namespaces []string
}

// Empty reports a query with neither text nor qualifiers.
func (q Query) Empty() bool {
	return q.Text == "" && len(q.Kinds) == 0 && len(q.Namespaces) == 0
}

// ParseQuery splits s into qualifiers and text. kind: (or k:) and
// namespace: (or ns:) take comma-separated values; any other word,
// including one holding an unknown "key:", is text.
func ParseQuery(s string) Query {
	var q Query
	var text []string
	for _, word := range strings.Fields(s) {
		key, value, ok := strings.Cut(word, ":")
		if !ok || value == "" {
			text = append(text, word)
			continue
		}
		switch strings.ToLower(key) {
		case "kind", "k":
			q.Kinds = append(q.Kinds, splitValues(value)...)
		case "namespace", "ns":
			q.Namespaces = append(q.Namespaces, splitValues(value)...)
		default:
			text = append(text, word)
		}
	}
	q.Text = strings.Join(text, " ")
	return q
}

func splitValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
