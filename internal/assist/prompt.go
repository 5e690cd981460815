package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Previews of canvas state in the system prompt are capped so a large
// canvas cannot blow up the token budget.
const (
	maxNodePreviews   = 12
	maxEdgePreviews   = 20
	maxPromptSamples  = 3
	maxSampleTextRune = 200
)

const systemInstructions = `You are the TapCanvas assistant. You drive a node-based content-generation canvas on the user's behalf.

Respond with a single JSON object of the shape:
{"reply": "...", "plan": ["..."], "actions": [{"type": "...", "params": {...}, "reasoning": "...", "storeResultAs": "..."}]}

Rules:
- "actions" must contain at least one entry.
- Valid action types: createNode, updateNode, deleteNode, connectNodes, disconnectNodes, getNodes, findNodes, autoLayout, runNode, runDag, formatAll.
- createNode params require "nodeType" (text | image | textToImage | composeVideo | video).
- Use "storeResultAs" to name an action's output so later actions can reference it as {{name}}.
- Reply in the user's language.`

// actionReminder is appended when the model returned zero actions.
const actionReminder = `Your previous answer contained no actions. You must output at least one action. If nothing needs changing, use {"type": "getNodes", "params": {}}.`

// buildSystemPrompt concatenates the instruction block, a capped summary
// of the canvas, and the best-matching prompt exemplars for the latest
// user utterance.
func (l *Loop) buildSystemPrompt(ctx context.Context, req models.ChatRequest) string {
	var b strings.Builder
	b.WriteString(systemInstructions)

	if summary := summarizeCanvas(req.Context); summary != "" {
		b.WriteString("\n\nCurrent canvas:\n")
		b.WriteString(summary)
	}

	if l.library != nil {
		if query := lastUserMessage(req.Messages); query != "" {
			samples, err := l.library.Search(ctx, query, "", maxPromptSamples)
			if err == nil && len(samples) > 0 {
				b.WriteString("\n\nExample prompts for similar requests:\n")
				for _, s := range samples {
					text := s.Text
					if runes := []rune(text); len(runes) > maxSampleTextRune {
						text = string(runes[:maxSampleTextRune])
					}
					fmt.Fprintf(&b, "- %s: %s\n", s.Title, text)
				}
			}
		}
	}
	return b.String()
}

func summarizeCanvas(canvas *models.CanvasContext) string {
	if canvas == nil || (len(canvas.Nodes) == 0 && len(canvas.Edges) == 0) {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d node(s), %d edge(s).\n", len(canvas.Nodes), len(canvas.Edges))

	for i, node := range canvas.Nodes {
		if i == maxNodePreviews {
			fmt.Fprintf(&b, "… and %d more nodes\n", len(canvas.Nodes)-maxNodePreviews)
			break
		}
		fmt.Fprintf(&b, "- node %s kind=%s", node.ID, node.Kind)
		if node.Label != "" {
			fmt.Fprintf(&b, " label=%q", node.Label)
		}
		if node.Status != "" {
			fmt.Fprintf(&b, " status=%s", node.Status)
		}
		b.WriteString("\n")
	}
	for i, edge := range canvas.Edges {
		if i == maxEdgePreviews {
			fmt.Fprintf(&b, "… and %d more edges\n", len(canvas.Edges)-maxEdgePreviews)
			break
		}
		fmt.Fprintf(&b, "- edge %s → %s\n", edge.Source, edge.Target)
	}
	if canvas.SelectedNodeID != "" {
		fmt.Fprintf(&b, "Selected node: %s\n", canvas.SelectedNodeID)
	}
	return b.String()
}

func lastUserMessage(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
