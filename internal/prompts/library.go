// Package prompts serves the example-prompt library: registered sample
// prompts ranked by fuzzy match against a free-text query. The assistant
// loop mixes the best matches into its system prompt as few-shot
// exemplars; the HTTP API exposes the same search to users.
package prompts

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Library searches prompt samples held in the store.
type Library struct {
	store store.PromptSampleStore
}

// NewLibrary creates a prompt library backed by s.
func NewLibrary(s store.PromptSampleStore) *Library {
	return &Library{store: s}
}

// SeedDefaults loads a small starter set so search has something to rank
// before any samples are registered.
func (l *Library) SeedDefaults(ctx context.Context) error {
	defaults := []models.PromptSample{
		{NodeKind: "image", Title: "cinematic portrait", Text: "close-up portrait, dramatic rim lighting, shallow depth of field, 85mm", Tags: []string{"portrait", "cinematic"}},
		{NodeKind: "image", Title: "neon city", Text: "rain-soaked neon street at night, reflections, cyberpunk palette, wide shot", Tags: []string{"city", "cyberpunk"}},
		{NodeKind: "image", Title: "ink wash landscape", Text: "traditional ink wash painting, misty mountains, lone boat on a river", Tags: []string{"landscape", "ink"}},
		{NodeKind: "composeVideo", Title: "slow dolly-in", Text: "slow dolly-in on subject, soft ambient light, 4 second shot", Tags: []string{"camera", "dolly"}},
		{NodeKind: "composeVideo", Title: "sweeping aerial", Text: "sweeping aerial shot over a coastline at golden hour", Tags: []string{"aerial", "landscape"}},
	}
	for i := range defaults {
		if err := l.store.CreatePromptSample(ctx, &defaults[i]); err != nil {
			return err
		}
	}
	return nil
}

// Search ranks samples against a query, optionally filtered by node kind.
// The score blends token overlap with normalized edit distance so short
// queries still rank against long sample texts.
func (l *Library) Search(ctx context.Context, query, nodeKind string, limit int) ([]models.RankedSample, error) {
	samples, err := l.store.ListPromptSamples(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var ranked []models.RankedSample
	for _, sample := range samples {
		if nodeKind != "" && sample.NodeKind != nodeKind {
			continue
		}
		score := scoreSample(q, sample)
		if q != "" && score <= 0 {
			continue
		}
		ranked = append(ranked, models.RankedSample{PromptSample: sample, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// scoreSample blends two signals: the fraction of query tokens present in
// the sample (title, text, tags) and an edit-distance similarity between
// the query and the title. Either alone misbehaves: overlap is zero for
// misspellings, edit distance is tiny for long texts.
func scoreSample(query string, sample models.PromptSample) float64 {
	if query == "" {
		return 0
	}
	haystack := strings.ToLower(sample.Title + " " + sample.Text + " " + strings.Join(sample.Tags, " "))

	tokens := strings.Fields(query)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			matched++
		}
	}
	overlap := 0.0
	if len(tokens) > 0 {
		overlap = float64(matched) / float64(len(tokens))
	}

	title := strings.ToLower(sample.Title)
	dist := levenshtein.ComputeDistance(query, title)
	longer := len([]rune(title))
	if n := len([]rune(query)); n > longer {
		longer = n
	}
	similarity := 0.0
	if longer > 0 {
		similarity = 1.0 - float64(dist)/float64(longer)
	}

	return overlap*0.7 + similarity*0.3
}
