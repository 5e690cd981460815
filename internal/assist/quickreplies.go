package assist

import (
	"strings"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

var continuationKeywords = []string{"story", "narrative", "chapter", "续写", "继续", "接着", "故事"}

// suggestQuickReplies returns follow-up suggestions for story-shaped
// requests, so the client can offer one-tap continuation. Non-narrative
// requests get none.
func suggestQuickReplies(userText string) []models.QuickReply {
	lower := strings.ToLower(userText)
	if !matchesAny(lower, continuationKeywords) {
		return nil
	}
	return []models.QuickReply{
		{Label: "Continue the story", Input: "续写这个故事的下一幕"},
		{Label: "Turn it into scenes", Input: "把这个故事拆分成多个画面"},
		{Label: "Generate the visuals", Input: "为每一幕生成图片"},
	}
}
