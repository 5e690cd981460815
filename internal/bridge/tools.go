package bridge

import (
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// canvasTools is the default tool set exposed when the caller supplies
// none: schemas only, no executable body. The bridge never executes a
// tool server-side; every call the provider emits is forwarded as a
// tool-call event, the client performs the effect and reports back on
// the tool-result channel.
var canvasTools = []models.ToolDefinition{
	{
		Name:        "createNode",
		Description: "Create a node on the canvas",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"nodeType": map[string]any{"type": "string", "enum": []string{"text", "image", "textToImage", "composeVideo", "video"}},
				"label":    map[string]any{"type": "string"},
				"prompt":   map[string]any{"type": "string"},
			},
			"required": []string{"nodeType"},
		},
	},
	{
		Name:        "connectNodes",
		Description: "Connect two nodes source to target",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source": map[string]any{"type": "string"},
				"target": map[string]any{"type": "string"},
			},
			"required": []string{"source", "target"},
		},
	},
	{
		Name:        "runNode",
		Description: "Run a generation node",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"nodeId": map[string]any{"type": "string"},
			},
			"required": []string{"nodeId"},
		},
	},
	{
		Name:        "autoLayout",
		Description: "Rearrange the canvas with a named layout",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"layoutType": map[string]any{"type": "string", "enum": []string{"horizontal", "vertical", "grid", "circular", "tree", "force"}},
			},
		},
	},
	{
		Name:        "getNodes",
		Description: "List the nodes currently on the canvas",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	},
}

// selectTools picks the active tool set: caller-supplied tools override
// the default canvas set.
func selectTools(req models.ChatRequest) []models.ToolDefinition {
	if len(req.Tools) > 0 {
		return req.Tools
	}
	return canvasTools
}

// encodeTools renders tool definitions in the function-tool wire shape.
func encodeTools(tools []models.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

// encodeAnthropicTools renders tool definitions in the /v1/messages wire
// shape.
func encodeAnthropicTools(tools []models.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schema,
		})
	}
	return out
}

// anthropicToolChoice maps a caller directive to the /v1/messages wire
// format. The dialect has no "none" value, so that directive omits the
// tool block entirely (include == false). Unknown tool names fall back
// to auto.
func anthropicToolChoice(choice string, tools []models.ToolDefinition) (any, bool) {
	switch choice {
	case "", "auto":
		return map[string]any{"type": "auto"}, true
	case "none":
		return nil, false
	case "required", "any":
		return map[string]any{"type": "any"}, true
	}
	for _, t := range tools {
		if t.Name == choice {
			return map[string]any{"type": "tool", "name": choice}, true
		}
	}
	return map[string]any{"type": "auto"}, true
}

// NormalizeToolChoice maps a caller directive to the provider wire
// format: auto, none, required, or forcing a named tool. Unknown tool
// names fall back to auto.
func NormalizeToolChoice(choice string, tools []models.ToolDefinition) any {
	switch choice {
	case "", "auto":
		return "auto"
	case "none":
		return "none"
	case "required", "any":
		return "required"
	}
	for _, t := range tools {
		if t.Name == choice {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": choice},
			}
		}
	}
	return "auto"
}
