package assist

import (
	"strings"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Keyword sets for the deterministic action fallback. These are
// domain-tuned configuration, not behavior the rest of the loop depends
// on; swapping them changes which fallback fires, nothing else.
var (
	imageKeywords  = []string{"image", "picture", "photo", "图片", "图像", "生成图片", "画"}
	videoKeywords  = []string{"video", "clip", "视频", "生成视频"}
	layoutKeywords = []string{"layout", "arrange", "organize", "tidy", "整理", "排列"}
)

// synthesizeFallbackActions builds deterministic actions from keyword
// matches in the last user message. It always returns at least one
// action, closing the "at least one action" contract when the model
// refused to cooperate across all retries.
func synthesizeFallbackActions(userText string) []models.Action {
	lower := strings.ToLower(userText)

	if matchesAny(lower, imageKeywords) {
		return generationChain("textToImage", userText)
	}
	if matchesAny(lower, videoKeywords) {
		return generationChain("composeVideo", userText)
	}
	if matchesAny(lower, layoutKeywords) {
		return []models.Action{{
			Type:      models.ActionFormatAll,
			Params:    map[string]any{},
			Reasoning: "layout wording in the request",
		}}
	}
	return []models.Action{{
		Type:      models.ActionGetNodes,
		Params:    map[string]any{},
		Reasoning: "no actionable keywords, listing nodes is always safe",
	}}
}

// generationChain is the text → generation-node → connect → run sequence
// synthesized for media requests.
func generationChain(nodeKind, prompt string) []models.Action {
	return []models.Action{
		{
			Type:          models.ActionCreateNode,
			Params:        map[string]any{"nodeType": "text", "content": prompt},
			Reasoning:     "capture the request text as a source node",
			StoreResultAs: "sourceText",
		},
		{
			Type:          models.ActionCreateNode,
			Params:        map[string]any{"nodeType": nodeKind, "prompt": prompt},
			Reasoning:     "generation node for the requested media",
			StoreResultAs: "generator",
		},
		{
			Type:      models.ActionConnectNodes,
			Params:    map[string]any{"source": "{{sourceText}}", "target": "{{generator}}"},
			Reasoning: "feed the text into the generator",
		},
		{
			Type:      models.ActionRunNode,
			Params:    map[string]any{"nodeId": "{{generator}}"},
			Reasoning: "start generation",
		},
	}
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
