// Package bridge wires a streaming model response into the live per-user
// event channel: provider tokens are forwarded to the caller as chunks,
// and tool calls the provider did not execute itself are translated into
// fire-and-forget tool-call events for the client to apply.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/credentials"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

const (
	// drainTimeout caps how long the bridge spends consuming the stream
	// tail after completion so the connection can close cleanly.
	drainTimeout = 2 * time.Second

	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Bridge streams model output to a caller-provided sink.
type Bridge struct {
	resolver *credentials.Resolver
	bus      *events.Bus
	http     *http.Client
}

// NewBridge creates a bridge over the resolver and event bus. The HTTP
// client carries no timeout: streams are bounded by the request context.
func NewBridge(resolver *credentials.Resolver, bus *events.Bus) *Bridge {
	return &Bridge{resolver: resolver, bus: bus, http: &http.Client{}}
}

// Sink receives stream chunks in arrival order. Returning an error stops
// the stream.
type Sink func(models.StreamChunk) error

// StreamChat resolves credentials, starts the provider stream in the
// resolved vendor's dialect, and forwards chunks to sink until
// completion. Upstream failures are delivered as a terminal error chunk
// carrying the upstream status.
func (b *Bridge) StreamChat(ctx context.Context, req models.ChatRequest, sink Sink) error {
	if len(req.Messages) == 0 {
		return &models.ValidationError{Field: "messages", Detail: "at least one message is required"}
	}

	cred, err := b.resolver.Resolve(ctx, credentials.Request{
		Model:    req.Model,
		Provider: req.Provider,
		APIKey:   req.APIKey,
		BaseURL:  req.BaseURL,
		UserID:   req.UserID,
	})
	if err != nil {
		return err
	}

	tools := selectTools(req)

	var hr *http.Request
	if cred.Vendor == models.VendorAnthropic {
		hr, err = anthropicStreamRequest(ctx, cred, req, tools)
	} else {
		hr, err = completionsStreamRequest(ctx, cred, req, tools)
	}
	if err != nil {
		return err
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "text/event-stream")
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}

	resp, err := b.http.Do(hr)
	if err != nil {
		sink(models.StreamChunk{Error: err.Error(), Status: http.StatusBadGateway, Done: true})
		return &models.UpstreamError{Vendor: cred.Vendor, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		upErr := &models.UpstreamError{Vendor: cred.Vendor, Status: resp.StatusCode, Body: string(raw)}
		sink(models.StreamChunk{Error: upErr.Error(), Status: resp.StatusCode, Done: true})
		return upErr
	}

	if cred.Vendor == models.VendorAnthropic {
		err = b.readAnthropicStream(resp.Body, req.UserID, sink)
	} else {
		err = b.readStream(resp.Body, req.UserID, sink)
	}
	drain(resp.Body)
	return err
}

// ── Request building ────────────────────────────────────────

type streamRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream"`
	Tools       []map[string]any     `json:"tools,omitempty"`
	ToolChoice  any                  `json:"tool_choice,omitempty"`
}

func completionsStreamRequest(ctx context.Context, cred *models.Credential, req models.ChatRequest, tools []models.ToolDefinition) (*http.Request, error) {
	body := streamRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
		Tools:       encodeTools(tools),
		ToolChoice:  NormalizeToolChoice(req.ToolChoice, tools),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Authorization", "Bearer "+cred.APIKey)
	return hr, nil
}

type anthropicStreamBody struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream"`
	Tools       []map[string]any     `json:"tools,omitempty"`
	ToolChoice  any                  `json:"tool_choice,omitempty"`
}

// anthropicStreamRequest builds a /v1/messages streaming request: system
// turns move to the top-level system field and tools use the input_schema
// shape.
func anthropicStreamRequest(ctx context.Context, cred *models.Credential, req models.ChatRequest, tools []models.ToolDefinition) (*http.Request, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var system []string
	var messages []models.ChatMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, m)
	}

	body := anthropicStreamBody{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      true,
	}
	if choice, include := anthropicToolChoice(req.ToolChoice, tools); include {
		body.Tools = encodeAnthropicTools(tools)
		body.ToolChoice = choice
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(cred.BaseURL, "/") + "/v1/messages"
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	hr.Header.Set("x-api-key", cred.APIKey)
	hr.Header.Set("anthropic-version", anthropicVersion)
	return hr, nil
}

// ── Stream reading ──────────────────────────────────────────

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// readStream consumes chat-completions SSE lines, accumulating tool-call
// argument deltas by index. A call is published as soon as its arguments
// are complete: when the stream moves on to a later call index, every
// earlier call is done.
func (b *Bridge) readStream(body io.Reader, userID string, sink Sink) error {
	calls := map[int]*models.StreamToolCall{}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		for _, choice := range delta.Choices {
			if choice.Delta.Content != "" {
				if err := sink(models.StreamChunk{Content: choice.Delta.Content}); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := calls[tc.Index]
				if !ok {
					if err := b.flushCallsBelow(calls, tc.Index, userID, sink); err != nil {
						return err
					}
					call = &models.StreamToolCall{}
					calls[tc.Index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
		}
	}

	if err := b.flushCallsBelow(calls, int(^uint(0)>>1), userID, sink); err != nil {
		return err
	}
	return sink(models.StreamChunk{Done: true})
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

// readAnthropicStream consumes /v1/messages SSE events. Text deltas go to
// the sink as they arrive; a tool_use block is published the moment its
// content_block_stop closes it.
func (b *Bridge) readAnthropicStream(body io.Reader, userID string, sink Sink) error {
	calls := map[int]*models.StreamToolCall{}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				calls[ev.Index] = &models.StreamToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "input_json_delta":
				if call, ok := calls[ev.Index]; ok {
					call.Arguments += ev.Delta.PartialJSON
				}
			default:
				if ev.Delta.Text != "" {
					if err := sink(models.StreamChunk{Content: ev.Delta.Text}); err != nil {
						return err
					}
				}
			}
		case "content_block_stop":
			if call, ok := calls[ev.Index]; ok {
				if err := b.emitToolCall(userID, call, sink); err != nil {
					return err
				}
				delete(calls, ev.Index)
			}
		case "message_stop":
			// Any block still open when the message closes is flushed
			// with whatever arguments accumulated.
			for _, idx := range sortedIndexes(calls) {
				if err := b.emitToolCall(userID, calls[idx], sink); err != nil {
					return err
				}
				delete(calls, idx)
			}
			return sink(models.StreamChunk{Done: true})
		}
	}

	for _, idx := range sortedIndexes(calls) {
		if err := b.emitToolCall(userID, calls[idx], sink); err != nil {
			return err
		}
		delete(calls, idx)
	}
	return sink(models.StreamChunk{Done: true})
}

// flushCallsBelow publishes every accumulated call with an index lower
// than before, in index order.
func (b *Bridge) flushCallsBelow(calls map[int]*models.StreamToolCall, before int, userID string, sink Sink) error {
	for _, idx := range sortedIndexes(calls) {
		if idx >= before {
			continue
		}
		if err := b.emitToolCall(userID, calls[idx], sink); err != nil {
			return err
		}
		delete(calls, idx)
	}
	return nil
}

// emitToolCall publishes one completed, unexecuted tool call: a
// fire-and-forget event on the per-user channel plus a sink chunk. The
// bridge never blocks waiting for the client's result.
func (b *Bridge) emitToolCall(userID string, call *models.StreamToolCall, sink Sink) error {
	if call.Executed {
		return nil
	}
	input := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
			input = map[string]any{"raw": call.Arguments}
		}
	}
	b.bus.Publish(userID, models.Event{
		Type:       models.EventToolCall,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      input,
	})
	return sink(models.StreamChunk{ToolCalls: []models.StreamToolCall{*call}})
}

func sortedIndexes(calls map[int]*models.StreamToolCall) []int {
	idxs := make([]int, 0, len(calls))
	for i := range calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return idxs
}

// drain consumes the stream tail so the transport can close cleanly.
// Drain-time errors are swallowed.
func drain(body io.Reader) {
	type done struct{}
	ch := make(chan done, 1)
	go func() {
		_, _ = io.Copy(io.Discard, body)
		ch <- done{}
	}()
	select {
	case <-ch:
	case <-time.After(drainTimeout):
		log.Debug().Msg("Stream tail drain timed out")
	}
}
