package prompts

import (
	"context"
	"testing"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	s := store.NewMemoryStore()
	l := NewLibrary(s)
	if err := l.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults failed: %v", err)
	}
	return l
}

func TestSearchRanksByRelevance(t *testing.T) {
	l := newTestLibrary(t)

	results, err := l.Search(context.Background(), "neon cyberpunk street", "", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Title != "neon city" {
		t.Errorf("expected neon city first, got %q", results[0].Title)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: %f before %f", results[i-1].Score, results[i].Score)
		}
	}
}

func TestSearchNodeKindFilter(t *testing.T) {
	l := newTestLibrary(t)

	results, err := l.Search(context.Background(), "shot", "composeVideo", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected video results")
	}
	for _, r := range results {
		if r.NodeKind != "composeVideo" {
			t.Errorf("filter leaked node kind %q", r.NodeKind)
		}
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	l := newTestLibrary(t)

	results, err := l.Search(context.Background(), "shot light street portrait aerial", "", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) > 2 {
		t.Errorf("expected at most 2 results, got %d", len(results))
	}
}

func TestSearchFuzzyTitleMatch(t *testing.T) {
	l := newTestLibrary(t)

	// Misspelled title still ranks via edit distance.
	results, err := l.Search(context.Background(), "neon citty", "", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected fuzzy match to return results")
	}
	if results[0].Title != "neon city" {
		t.Errorf("expected neon city for misspelled query, got %q", results[0].Title)
	}
}

func TestSearchIrrelevantQuery(t *testing.T) {
	l := newTestLibrary(t)

	results, err := l.Search(context.Background(), "zzzz", "", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Score <= 0 {
			t.Errorf("zero-score sample should be filtered, got %+v", r)
		}
	}
}
