// Package models defines the shared data types for the TapCanvas AI engine:
// chat requests and responses, canvas actions, provider credential records,
// and the event frames streamed to clients.
package models

import "time"

// ── Chat ────────────────────────────────────────────────────

// ChatMessage is a single conversation turn.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant | tool
	Content string `json:"content"`
}

// ChatRequest is the request shape shared by the one-shot and streaming
// chat endpoints.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []ChatMessage     `json:"messages"`
	Context     *CanvasContext    `json:"context,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"maxTokens,omitempty"`

	// Credential overrides; caller-supplied values win over stored records.
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Provider string `json:"provider,omitempty"`

	// Tool control for the streaming endpoint.
	Tools      []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice string            `json:"toolChoice,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`

	// Filled by middleware, not by the client body.
	UserID    string `json:"-"`
	SessionID string `json:"sessionId,omitempty"`
}

// ChatResponse is the one-shot chat result: a reply plus the plan outline
// and the canvas actions the client should apply.
type ChatResponse struct {
	Reply        string       `json:"reply"`
	Plan         []string     `json:"plan"`
	Actions      []Action     `json:"actions"`
	QuickReplies []QuickReply `json:"quickReplies,omitempty"`
}

// QuickReply is a selectable follow-up suggestion rendered by the client.
type QuickReply struct {
	Label string `json:"label"`
	Input string `json:"input"`
}

// ── Actions ─────────────────────────────────────────────────

// ActionType is the closed set of canvas effects the engine may request.
type ActionType string

const (
	ActionCreateNode      ActionType = "createNode"
	ActionUpdateNode      ActionType = "updateNode"
	ActionDeleteNode      ActionType = "deleteNode"
	ActionConnectNodes    ActionType = "connectNodes"
	ActionDisconnectNodes ActionType = "disconnectNodes"
	ActionGetNodes        ActionType = "getNodes"
	ActionFindNodes       ActionType = "findNodes"
	ActionAutoLayout      ActionType = "autoLayout"
	ActionRunNode         ActionType = "runNode"
	ActionRunDag          ActionType = "runDag"
	ActionFormatAll       ActionType = "formatAll"
)

// Valid reports whether t is a member of the closed action set.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreateNode, ActionUpdateNode, ActionDeleteNode,
		ActionConnectNodes, ActionDisconnectNodes, ActionGetNodes,
		ActionFindNodes, ActionAutoLayout, ActionRunNode, ActionRunDag,
		ActionFormatAll:
		return true
	}
	return false
}

// Action is one canvas effect requested of the client.
type Action struct {
	Type          ActionType     `json:"type"`
	Params        map[string]any `json:"params"`
	Reasoning     string         `json:"reasoning,omitempty"`
	StoreResultAs string         `json:"storeResultAs,omitempty"`
}

// ToolDefinition is a function-tool schema exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolResultSubmission is how the client reports the real outcome of a
// tool call the server only requested symbolically.
type ToolResultSubmission struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Output     any    `json:"output,omitempty"`
	ErrorText  string `json:"errorText,omitempty"`
}

// ── Canvas context ──────────────────────────────────────────

// CanvasContext is the client's snapshot of the node graph, carried on chat
// requests so prompts and intent heuristics can see current canvas state.
// The server never mutates it.
type CanvasContext struct {
	Nodes          []CanvasNode `json:"nodes,omitempty"`
	Edges          []CanvasEdge `json:"edges,omitempty"`
	SelectedNodeID string       `json:"selectedNodeId,omitempty"`
}

// CanvasNode is a preview of one canvas node.
type CanvasNode struct {
	ID     string         `json:"id"`
	Label  string         `json:"label,omitempty"`
	Kind   string         `json:"kind,omitempty"` // image | textToImage | composeVideo | video | text
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// CanvasEdge connects two canvas nodes, source → target.
type CanvasEdge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// ── Providers & credentials ─────────────────────────────────

// Vendor identifies a model API dialect.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorGoogle    Vendor = "google"
)

// Token is one API credential inside a provider record. Shared tokens are
// usable as a fallback by users who have none of their own.
type Token struct {
	ID            string     `json:"id"`
	Value         string     `json:"value"`
	Label         string     `json:"label,omitempty"`
	Shared        bool       `json:"shared"`
	Enabled       bool       `json:"enabled"`
	DisabledUntil *time.Time `json:"disabledUntil,omitempty"` // cooldown after provider-side rejection
}

// ProviderRecord holds one user's configuration for a vendor.
type ProviderRecord struct {
	UserID    string    `json:"userId"`
	Vendor    Vendor    `json:"vendor"`
	Aliases   []string  `json:"aliases,omitempty"` // alternate vendor names this record answers for
	BaseURL   string    `json:"baseUrl,omitempty"`
	Tokens    []Token   `json:"tokens"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Credential is the resolved outcome of credential resolution. It lives for
// one request only and is never cached.
type Credential struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"baseUrl"`
	Vendor  Vendor `json:"vendor"`
}

// ── Prompt samples ──────────────────────────────────────────

// PromptSample is a registered example prompt, surfaced to users and mixed
// into system prompts as few-shot exemplars.
type PromptSample struct {
	ID       string   `json:"id"`
	NodeKind string   `json:"nodeKind,omitempty"` // image | composeVideo | ...
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`
}

// RankedSample is a prompt sample with its match score for a query.
type RankedSample struct {
	PromptSample
	Score float64 `json:"score"`
}

// ── Event frames ────────────────────────────────────────────

// EventType labels a frame on the per-user event stream.
type EventType string

const (
	EventToolCall        EventType = "tool-call"
	EventToolResult      EventType = "tool-result"
	EventThinking        EventType = "thinking"
	EventIntent          EventType = "intent"
	EventPlan            EventType = "plan"
	EventOperationResult EventType = "operation-result"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
)

// Event is one frame on the per-user event stream. Tool frames fill the
// ToolCall* fields; pipeline frames carry their stage output in Payload.
type Event struct {
	Type             EventType      `json:"type"`
	Timestamp        time.Time      `json:"timestamp"`
	ToolCallID       string         `json:"toolCallId,omitempty"`
	ToolName         string         `json:"toolName,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
	Output           any            `json:"output,omitempty"`
	ProviderExecuted bool           `json:"providerExecuted,omitempty"`
	Payload          any            `json:"payload,omitempty"`
}

// StreamChunk is a single token/event from a streaming model response.
type StreamChunk struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []StreamToolCall `json:"toolCalls,omitempty"`
	Done      bool             `json:"done,omitempty"`
	Error     string           `json:"error,omitempty"`
	Status    int              `json:"status,omitempty"` // HTTP status of the upstream failure, when known
}

// StreamToolCall is a tool invocation surfaced mid-stream.
type StreamToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON as accumulated from deltas
	Executed  bool   `json:"executed"`  // true when the provider ran the tool itself
}
