package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/credentials"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

func newTestBridge(t *testing.T) (*Bridge, *events.Bus) {
	t.Helper()
	s := store.NewMemoryStore()
	bus := events.NewBus()
	return NewBridge(credentials.NewResolver(s), bus), bus
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, b *Bridge, req models.ChatRequest) ([]models.StreamChunk, error) {
	t.Helper()
	var chunks []models.StreamChunk
	err := b.StreamChat(context.Background(), req, func(c models.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	return chunks, err
}

func TestStreamChatForwardsTokens(t *testing.T) {
	ts := sseServer(t,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
	)
	defer ts.Close()

	b, _ := newTestBridge(t)
	chunks, err := collect(t, b, models.ChatRequest{
		Model:    "gpt-4o",
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
		APIKey:   "sk-test",
		BaseURL:  ts.URL,
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	var text strings.Builder
	sawDone := false
	for _, c := range chunks {
		text.WriteString(c.Content)
		if c.Done {
			sawDone = true
		}
	}
	if text.String() != "Hello" {
		t.Errorf("accumulated text = %q", text.String())
	}
	if !sawDone {
		t.Error("stream did not terminate with a done chunk")
	}
	if !chunks[len(chunks)-1].Done {
		t.Error("done chunk should be last")
	}
}

func TestStreamChatPublishesToolCallEvents(t *testing.T) {
	ts := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"createNode","arguments":"{\"node"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"Type\":\"image\"}"}}]}}]}`,
	)
	defer ts.Close()

	b, bus := newTestBridge(t)
	ch := bus.Subscribe("u1")
	defer bus.Unsubscribe("u1", ch)

	chunks, err := collect(t, b, models.ChatRequest{
		Model:    "gpt-4o",
		Messages: []models.ChatMessage{{Role: "user", Content: "make an image"}},
		APIKey:   "sk-test",
		BaseURL:  ts.URL,
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != models.EventToolCall {
			t.Errorf("expected tool-call event, got %q", ev.Type)
		}
		if ev.ToolCallID != "call_1" || ev.ToolName != "createNode" {
			t.Errorf("tool identity lost: %+v", ev)
		}
		if ev.Input["nodeType"] != "image" {
			t.Errorf("accumulated arguments not parsed: %+v", ev.Input)
		}
	default:
		t.Fatal("no tool-call event published")
	}

	sawToolChunk := false
	for _, c := range chunks {
		for _, tc := range c.ToolCalls {
			if tc.Name == "createNode" && tc.ID == "call_1" {
				sawToolChunk = true
			}
		}
	}
	if !sawToolChunk {
		t.Error("tool call not surfaced to the sink")
	}
}

func TestStreamChatUpstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	b, _ := newTestBridge(t)
	chunks, err := collect(t, b, models.ChatRequest{
		Model:    "gpt-4o",
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
		APIKey:   "sk-test",
		BaseURL:  ts.URL,
		UserID:   "u1",
	})
	var up *models.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if up.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d", up.Status)
	}
	if len(chunks) != 1 || chunks[0].Status != http.StatusServiceUnavailable || !chunks[0].Done {
		t.Errorf("expected a single terminal error chunk, got %+v", chunks)
	}
}

func TestStreamChatRejectsEmptyMessages(t *testing.T) {
	b, _ := newTestBridge(t)
	_, err := collect(t, b, models.ChatRequest{Model: "gpt-4o", APIKey: "sk", UserID: "u1"})
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNormalizeToolChoice(t *testing.T) {
	tools := []models.ToolDefinition{{Name: "createNode"}}
	tests := []struct {
		in   string
		want any
	}{
		{"", "auto"},
		{"auto", "auto"},
		{"none", "none"},
		{"required", "required"},
		{"any", "required"},
		{"no-such-tool", "auto"},
	}
	for _, tt := range tests {
		got := NormalizeToolChoice(tt.in, tools)
		if got != tt.want {
			t.Errorf("NormalizeToolChoice(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	forced := NormalizeToolChoice("createNode", tools)
	m, ok := forced.(map[string]any)
	if !ok {
		t.Fatalf("expected forced-tool map, got %T", forced)
	}
	fn, _ := m["function"].(map[string]any)
	if fn["name"] != "createNode" {
		t.Errorf("forced tool name = %v", fn["name"])
	}
}

func TestSelectToolsCallerOverride(t *testing.T) {
	custom := []models.ToolDefinition{{Name: "customTool"}}
	got := selectTools(models.ChatRequest{Tools: custom})
	if len(got) != 1 || got[0].Name != "customTool" {
		t.Errorf("caller tools should win: %+v", got)
	}
	def := selectTools(models.ChatRequest{})
	if len(def) == 0 {
		t.Error("default canvas tool set should be non-empty")
	}
}

func TestStreamChatAnthropicDialect(t *testing.T) {
	var gotPath, gotAPIKey, gotVersion string
	var gotBody anthropicStreamBody
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"type":"message_start"}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Sure, "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"creating it."}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"createNode"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"node"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"Type\":\"image\"}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_stop"}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
	}))
	defer ts.Close()

	b, bus := newTestBridge(t)
	ch := bus.Subscribe("u1")
	defer bus.Unsubscribe("u1", ch)

	chunks, err := collect(t, b, models.ChatRequest{
		Model: "claude-sonnet-4",
		Messages: []models.ChatMessage{
			{Role: "system", Content: "You are a canvas assistant."},
			{Role: "user", Content: "make an image node"},
		},
		APIKey:  "sk-ant-test",
		BaseURL: ts.URL,
		UserID:  "u1",
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	if gotPath != "/v1/messages" {
		t.Errorf("path = %q, want /v1/messages", gotPath)
	}
	if gotAPIKey != "sk-ant-test" {
		t.Errorf("x-api-key = %q", gotAPIKey)
	}
	if gotVersion == "" {
		t.Error("anthropic-version header missing")
	}
	if gotBody.System != "You are a canvas assistant." {
		t.Errorf("system = %q, want top-level system field", gotBody.System)
	}
	for _, m := range gotBody.Messages {
		if m.Role == "system" {
			t.Errorf("system turn leaked into messages: %+v", gotBody.Messages)
		}
	}
	if gotBody.MaxTokens <= 0 {
		t.Errorf("max_tokens = %d, want a positive default", gotBody.MaxTokens)
	}
	if len(gotBody.Tools) == 0 {
		t.Fatal("tools missing from request")
	}
	if _, ok := gotBody.Tools[0]["input_schema"]; !ok {
		t.Errorf("tool not in input_schema shape: %+v", gotBody.Tools[0])
	}

	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Content)
	}
	if text.String() != "Sure, creating it." {
		t.Errorf("accumulated text = %q", text.String())
	}
	if !chunks[len(chunks)-1].Done {
		t.Error("done chunk should be last")
	}

	select {
	case ev := <-ch:
		if ev.Type != models.EventToolCall || ev.ToolCallID != "toolu_1" || ev.ToolName != "createNode" {
			t.Errorf("tool-call event = %+v", ev)
		}
		if ev.Input["nodeType"] != "image" {
			t.Errorf("accumulated arguments not parsed: %+v", ev.Input)
		}
	default:
		t.Fatal("no tool-call event published")
	}
}

func TestStreamChatPublishesToolCallBeforeStreamEnd(t *testing.T) {
	ts := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"createNode","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"runNode","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"content":"done."}}]}`,
	)
	defer ts.Close()

	b, _ := newTestBridge(t)
	chunks, err := collect(t, b, models.ChatRequest{
		Model:    "gpt-4o",
		Messages: []models.ChatMessage{{Role: "user", Content: "make and run"}},
		APIKey:   "sk-test",
		BaseURL:  ts.URL,
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	firstCall, contentAt := -1, -1
	for i, c := range chunks {
		if firstCall == -1 && len(c.ToolCalls) > 0 {
			firstCall = i
		}
		if contentAt == -1 && c.Content != "" {
			contentAt = i
		}
	}
	if firstCall == -1 || contentAt == -1 {
		t.Fatalf("missing tool or content chunk: %+v", chunks)
	}
	// call_1's arguments were complete once call_2 started, so it must
	// reach the sink before the trailing content token.
	if firstCall > contentAt {
		t.Errorf("first tool call at chunk %d, after content at %d", firstCall, contentAt)
	}
}

func TestAnthropicToolChoice(t *testing.T) {
	tools := []models.ToolDefinition{{Name: "createNode"}}
	tests := []struct {
		in          string
		wantType    string
		wantInclude bool
	}{
		{"", "auto", true},
		{"auto", "auto", true},
		{"none", "", false},
		{"required", "any", true},
		{"any", "any", true},
		{"no-such-tool", "auto", true},
		{"createNode", "tool", true},
	}
	for _, tt := range tests {
		got, include := anthropicToolChoice(tt.in, tools)
		if include != tt.wantInclude {
			t.Errorf("anthropicToolChoice(%q) include = %v, want %v", tt.in, include, tt.wantInclude)
			continue
		}
		if !include {
			continue
		}
		m, ok := got.(map[string]any)
		if !ok || m["type"] != tt.wantType {
			t.Errorf("anthropicToolChoice(%q) = %v, want type %q", tt.in, got, tt.wantType)
		}
	}
}
