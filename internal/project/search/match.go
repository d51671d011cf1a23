package search

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/dshills/manifold/internal/project/model"
)

// qualifiedDiscount scales a score earned by "Kind/name" only.
const qualifiedDiscount = 0.8

// Searcher matches resources against queries. It ranks through a Ranker
// when one is given.
type Searcher struct {
	ranker *Ranker
}

// NewSearcher creates a searcher. ranker may be nil.
func NewSearcher(ranker *Ranker) *Searcher {
	return &Searcher{ranker: ranker}
}

// Search returns the resources matching query, best first.
func (s *Searcher) Search(ctx context.Context, resources model.ResourceMap, query string, opts Options) ([]Match, error) {
	q := ParseQuery(query)
	if q.Empty() {
		return nil, nil
	}
	var score scorer
	if q.Text != "" {
		var err error
		if score, err = newScorer(q.Text, opts.Mode, opts.CaseSensitive); err != nil {
			return nil, err
		}
	}

	var matches []Match
	for _, r := range resources.Sorted() {
		if ctx.Err() != nil {
			return nil, ErrSearchCanceled
		}
		if !selected(r, q, opts) {
			continue
		}
		m := Match{ID: r.ID, Name: r.Name, Kind: r.Kind, Namespace: r.Namespace, Score: 1}
		if score != nil {
			m.Score, m.Positions = score(r.Name)
			if m.Score == 0 {
				if qs, _ := score(r.Kind + "/" + r.Name); qs > 0 {
					m.Score, m.Qualified = qs*qualifiedDiscount, true
				}
			}
		}
		if m.Score > 0 {
			matches = append(matches, m)
		}
	}

	if s.ranker != nil {
		s.ranker.Rank(matches, opts.BoostFrequent)
	} else {
		sortMatches(matches)
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// selected applies the kind and namespace filters of opts and q.
func selected(r *model.Resource, q Query, opts Options) bool {
	if opts.Namespace != "" && r.Namespace != opts.Namespace {
		return false
	}
	if len(q.Namespaces) > 0 && !slices.Contains(q.Namespaces, r.Namespace) {
		return false
	}
	kindIs := func(k string) bool { return strings.EqualFold(k, r.Kind) }
	if len(opts.Kinds) > 0 && !slices.ContainsFunc(opts.Kinds, kindIs) {
		return false
	}
	if len(q.Kinds) > 0 && !slices.ContainsFunc(q.Kinds, kindIs) {
		return false
	}
	return true
}

// scorer rates a candidate in (0, 1]; 0 is no match. Positions are byte
// offsets of the matched characters when the mode can tell.
type scorer func(candidate string) (float64, []int)

func newScorer(text string, mode Mode, caseSensitive bool) (scorer, error) {
	fold := func(s string) string { return s }
	if !caseSensitive {
		fold = strings.ToLower
	}
	query := fold(text)
	// Partial matches earn the share of the candidate they cover.
	cover := func(c string) float64 { return float64(len(query)) / float64(len(c)) }

	switch mode {
	case ModeExact:
		return func(c string) (float64, []int) {
			if fold(c) == query {
				return 1, nil
			}
			return 0, nil
		}, nil
	case ModePrefix:
		return func(c string) (float64, []int) {
			if strings.HasPrefix(fold(c), query) {
				return cover(c), span(0, len(query))
			}
			return 0, nil
		}, nil
	case ModeContains:
		return func(c string) (float64, []int) {
			if i := strings.Index(fold(c), query); i >= 0 {
				return cover(c), span(i, len(query))
			}
			return 0, nil
		}, nil
	case ModeGlob:
		if _, err := path.Match(query, ""); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return func(c string) (float64, []int) {
			if ok, _ := path.Match(query, fold(c)); ok {
				return 1, nil
			}
			return 0, nil
		}, nil
	case ModeRegex:
		re, err := compileRegex(text, caseSensitive)
		if err != nil {
			return nil, err
		}
		return func(c string) (float64, []int) {
			loc := re.FindStringIndex(c)
			if loc == nil {
				return 0, nil
			}
			return 1, span(loc[0], loc[1]-loc[0])
		}, nil
	default:
		return func(c string) (float64, []int) {
			return fuzzyScore(query, fold(c))
		}, nil
	}
}

func compileRegex(query string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		query = "(?i)" + query
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return re, nil
}

func span(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

// fuzzyScore matches pattern as a subsequence of name, taking each
// character at its leftmost position. Resource names are DNS labels, so
// a character after '-', '.', '_' or '/' starts a segment: "wf" finds
// web-frontend the way an initialism would. An exact match scores 1 and
// every other match stays below 0.95.
func fuzzyScore(pattern, name string) (float64, []int) {
	if pattern == "" {
		return 1, nil
	}
	if len(pattern) > len(name) {
		return 0, nil
	}
	if pattern == name {
		return 1, span(0, len(name))
	}

	positions := make([]int, 0, len(pattern))
	j := 0
	for i := 0; i < len(name) && j < len(pattern); i++ {
		if name[i] == pattern[j] {
			positions = append(positions, i)
			j++
		}
	}
	if j < len(pattern) {
		return 0, nil
	}

	runs, starts := 1, 0
	for k, p := range positions {
		if k > 0 && p != positions[k-1]+1 {
			runs++
		}
		if p == 0 || isSeparator(name[p-1]) {
			starts++
		}
	}
	n := float64(len(pattern))
	coverage := n / float64(len(name))
	contiguity := 1 - float64(runs-1)/n
	segments := float64(starts) / n
	lead := 1 - float64(positions[0])/float64(len(name))

	score := 0.4*coverage + 0.3*contiguity + 0.2*segments + 0.1*lead
	return min(score, 0.95), positions
}

func isSeparator(b byte) bool {
	return b == '-' || b == '.' || b == '_' || b == '/'
}
