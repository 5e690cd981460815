package assist

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// parseStrategy attempts to read a structured response out of raw model
// text. Strategies are pure and tried in order; the first hit wins.
type parseStrategy func(text string) (*models.ChatResponse, bool)

// parseCascade is the ordered extractor chain: fenced JSON block, whole
// text as JSON, whole text as a bare reply. The last strategy always
// succeeds, so the cascade never returns a miss for non-empty input.
var parseCascade = []parseStrategy{
	parseFencedJSON,
	parseWholeJSON,
	parseRawText,
}

var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json|tapcanvas_actions)?\\s*(\\{.*?\\})\\s*```")

// parseResponse runs the cascade and normalizes the result: nil slices
// become empty, actions with types outside the closed set are dropped.
func parseResponse(text string) *models.ChatResponse {
	for _, strategy := range parseCascade {
		if resp, ok := strategy(text); ok {
			normalizeResponse(resp)
			return resp
		}
	}
	resp := &models.ChatResponse{Reply: text}
	normalizeResponse(resp)
	return resp
}

func parseFencedJSON(text string) (*models.ChatResponse, bool) {
	m := fencedBlockRegex.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	var resp models.ChatResponse
	if err := json.Unmarshal([]byte(m[1]), &resp); err != nil {
		return nil, false
	}
	if resp.Reply == "" && len(resp.Actions) == 0 {
		return nil, false
	}
	return &resp, true
}

func parseWholeJSON(text string) (*models.ChatResponse, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var resp models.ChatResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, false
	}
	if resp.Reply == "" && len(resp.Actions) == 0 {
		return nil, false
	}
	return &resp, true
}

func parseRawText(text string) (*models.ChatResponse, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	return &models.ChatResponse{Reply: trimmed}, true
}

func normalizeResponse(resp *models.ChatResponse) {
	if resp.Plan == nil {
		resp.Plan = []string{}
	}
	valid := resp.Actions[:0]
	for _, a := range resp.Actions {
		if !a.Type.Valid() {
			continue
		}
		if a.Params == nil {
			a.Params = map[string]any{}
		}
		valid = append(valid, a)
	}
	resp.Actions = valid
	if resp.Actions == nil {
		resp.Actions = []models.Action{}
	}
}
