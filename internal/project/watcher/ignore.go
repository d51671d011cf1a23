package watcher

import (
	"path"
	"strings"
)

// DefaultExcludes are the rules applied when the configuration sets none.
var DefaultExcludes = []string{
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	".idea/",
	".vscode/",
	"*.swp",
	"*~",
	".DS_Store",
}

// IgnorePatterns is an immutable set of gitignore-style exclude rules,
// shared by the scanner, the watcher and the reconciler. Paths are slash
// separated and relative to the root.
//
//	*.log        any file named *.log, at any depth
//	/build/      the build directory at the root only
//	env/*.yaml   anchored, because of the inner slash
//	**/tmp/**    tmp and everything below it, anywhere
//	!keep.log    re-include what an earlier rule excluded
//	\#notes      a literal leading # or !
//
// The last matching rule decides. A nil *IgnorePatterns excludes nothing.
type IgnorePatterns struct {
	rules []rule
}

type rule struct {
	source   string
	segments []string
	negate   bool
	dirOnly  bool
}

func NewIgnorePatterns(patterns ...string) *IgnorePatterns {
	ip := &IgnorePatterns{}
	for _, p := range patterns {
		if r, ok := compileRule(p); ok {
			ip.rules = append(ip.rules, r)
		}
	}
	return ip
}

// NewDefaultIgnorePatterns holds DefaultExcludes.
func NewDefaultIgnorePatterns() *IgnorePatterns {
	return NewIgnorePatterns(DefaultExcludes...)
}

// compileRule parses one line. Blank lines and # comments yield false.
func compileRule(line string) (rule, bool) {
	p := strings.TrimRight(line, " \t")
	if p == "" || p[0] == '#' {
		return rule{}, false
	}
	r := rule{source: p}
	switch {
	case p[0] == '!':
		r.negate = true
		p = p[1:]
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return rule{}, false
	}
	r.segments = strings.Split(p, "/")
	if !anchored {
		// A bare name matches at any depth.
		r.segments = append([]string{"**"}, r.segments...)
	}
	return r, true
}

// Match reports whether rel itself is excluded, ignoring its ancestors.
// The scanner uses it while walking down from the root.
func (ip *IgnorePatterns) Match(rel string, isDir bool) bool {
	if ip == nil {
		return false
	}
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	excluded := false
	for _, r := range ip.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if matchSegments(r.segments, parts) {
			excluded = !r.negate
		}
	}
	return excluded
}

// Excluded reports whether rel or one of its ancestor directories is
// excluded. It suits paths that arrive without a walk, such as watch
// events. The root itself is never excluded.
func (ip *IgnorePatterns) Excluded(rel string, isDir bool) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return false
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if ip.Match(dir, true) {
			return true
		}
	}
	return ip.Match(rel, isDir)
}

// Patterns returns the rules as written, comments and blanks dropped.
func (ip *IgnorePatterns) Patterns() []string {
	if ip == nil {
		return nil
	}
	out := make([]string, len(ip.rules))
	for i, r := range ip.rules {
		out[i] = r.source
	}
	return out
}

// matchSegments matches path components against glob segments, where a
// ** segment stands for zero or more components.
func matchSegments(segments, parts []string) bool {
	for len(segments) > 0 {
		if segments[0] == "**" {
			rest := segments[1:]
			if len(rest) == 0 {
				return true
			}
			for i := range len(parts) + 1 {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(segments[0], parts[0]); !ok {
			return false
		}
		segments, parts = segments[1:], parts[1:]
	}
	return len(parts) == 0
}
