package search

import (
	"context"
	"math"
	"testing"
)

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	if sum := w.Match + w.Frequency + w.Prefix; math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %f, want 1", sum)
	}
}

func TestRanker_Rank_Empty(t *testing.T) {
	r := NewRanker(DefaultWeights())
	if got := r.Rank(nil, true); len(got) != 0 {
		t.Errorf("Rank(nil) = %v", got)
	}
}

func TestRanker_Rank_SortsByScore(t *testing.T) {
	r := NewRanker(DefaultWeights())
	matches := []Match{
		{ID: "a", Name: "a", Score: 0.2},
		{ID: "b", Name: "b", Score: 0.9},
		{ID: "c", Name: "c", Score: 0.5},
		{ID: "d", Name: "c", Score: 0.5},
	}
	got := ids(r.Rank(matches, false))
	want := []string{"b", "c", "d", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRanker_PrefixWeight(t *testing.T) {
	r := NewRanker(Weights{Prefix: 1})
	matches := r.Rank([]Match{
		{ID: "inner", Positions: []int{3}},
		{ID: "qualified", Qualified: true},
		{ID: "leading", Positions: []int{0, 1}},
	}, false)
	if got := ids(matches); got[0] != "leading" || got[1] != "inner" || got[2] != "qualified" {
		t.Errorf("order = %v, want leading, inner, qualified", got)
	}
}

func TestRanker_FrequencyBoost(t *testing.T) {
	r := NewRanker(DefaultWeights())
	for range 20 {
		r.RecordVisit("3")
	}
	if r.Visits("3") != 20 {
		t.Fatalf("Visits() = %d, want 20", r.Visits("3"))
	}

	opts := DefaultOptions()
	opts.Mode = ModePrefix
	opts.BoostFrequent = true
	results, err := NewSearcher(r).Search(context.Background(), testResources(), "web-", opts)
	if err != nil {
		t.Fatalf("Search error = %v", err)
	}
	if results[0].ID != "3" {
		t.Errorf("order = %v, want the visited resource first", ids(results))
	}

	opts.BoostFrequent = false
	results, _ = NewSearcher(r).Search(context.Background(), testResources(), "web-", opts)
	if results[0].ID == "3" {
		t.Errorf("order = %v, visits should not count without BoostFrequent", ids(results))
	}

	r.Forget("3")
	if r.Visits("3") != 0 {
		t.Error("Forget() should drop the count")
	}
}

func TestRanker_frequency(t *testing.T) {
	r := NewRanker(DefaultWeights())
	if f := r.frequencyLocked("x"); f != 0 {
		t.Errorf("unvisited = %f, want 0", f)
	}
	r.RecordVisit("x")
	once := r.frequencyLocked("x")
	if once < 0.3 || once > 0.5 {
		t.Errorf("one visit = %f, want a little above 0.3", once)
	}
	for range saturation - 1 {
		r.RecordVisit("x")
	}
	if f := r.frequencyLocked("x"); math.Abs(f-1) > 1e-9 {
		t.Errorf("saturated = %f, want 1", f)
	}
	for range 400 {
		r.RecordVisit("x")
	}
	if f := r.frequencyLocked("x"); f != 1 {
		t.Errorf("beyond saturation = %f, want 1", f)
	}
}
