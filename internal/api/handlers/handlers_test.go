package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/api/middleware"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/assist"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/bridge"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/capability"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/config"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/credentials"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/execution"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/intent"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/orchestrator"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/plan"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/prompts"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/thinking"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

func newTestHandlers(t *testing.T) (*Handlers, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()

	registry := capability.NewRegistry()
	if err := capability.RegisterBuiltins(registry); err != nil {
		t.Fatalf("register builtins: %v", err)
	}

	bus := events.NewBus()
	resolver := credentials.NewResolver(s)
	library := prompts.NewLibrary(s)
	if err := library.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed samples: %v", err)
	}

	loop := assist.NewLoop(resolver, library, config.AssistConfig{MaxAttempts: 2, RequestTimeout: 5 * time.Second})
	br := bridge.NewBridge(resolver, bus)
	plans := plan.NewManager()
	orch := orchestrator.New(
		intent.NewRecognizer(registry),
		thinking.NewStreamer(registry, bus, 0),
		plans,
		execution.NewEngine(registry, bus),
		loop,
		bus,
	)

	return New(s, loop, br, orch, plans, library, bus), s
}

func asUser(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, userID)
	return r.WithContext(ctx)
}

func withVendorParam(r *http.Request, vendor string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("vendor", vendor)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// ── Chat ────────────────────────────────────────────────────

func TestChatRejectsEmptyMessagesBeforeProviderCall(t *testing.T) {
	h, s := newTestHandlers(t)

	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	err := s.UpsertProviderRecord(context.Background(), &models.ProviderRecord{
		UserID:  "u1",
		Vendor:  models.VendorOpenAI,
		BaseURL: upstream.URL,
		Tokens:  []models.Token{{Value: "sk-test", Enabled: true}},
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	body := `{"model":"gpt-4o","messages":[]}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body)), "u1")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("upstream calls = %d, want 0", n)
	}
}

func TestChatInvalidBody(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{not json")), "u1")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatReturnsStructuredResponse(t *testing.T) {
	h, s := newTestHandlers(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"reply":"Created a node.","actions":[{"type":"createNode","params":{"nodeType":"text"}}]}`
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer upstream.Close()

	err := s.UpsertProviderRecord(context.Background(), &models.ProviderRecord{
		UserID:  "u1",
		Vendor:  models.VendorOpenAI,
		BaseURL: upstream.URL,
		Tokens:  []models.Token{{Value: "sk-test", Enabled: true}},
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"create a text node"}]}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body)), "u1")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Created a node." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].Type != models.ActionCreateNode {
		t.Errorf("actions = %+v", resp.Actions)
	}
}

func TestChatMissingProviderMapsToPreconditionFailed(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body)), "nobody")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
}

func TestChatStreamCredentialFailureStaysJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(body)), "nobody")
	rec := httptest.NewRecorder()
	h.ChatStream(rec, req)

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

func TestIntelligentChatRejectsEmptyMessages(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/chat/intelligent", strings.NewReader(`{"messages":[]}`)), "u1")
	rec := httptest.NewRecorder()
	h.IntelligentChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// ── Tool results & events ───────────────────────────────────

func TestSubmitToolResultPublishesEvent(t *testing.T) {
	h, _ := newTestHandlers(t)

	ch := h.Bus.Subscribe("u1")
	defer h.Bus.Unsubscribe("u1", ch)

	body := `{"toolCallId":"call_1","toolName":"createNode","output":{"nodeId":"n-9"}}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/tools/result", strings.NewReader(body)), "u1")
	rec := httptest.NewRecorder()
	h.SubmitToolResult(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case evt := <-ch:
		if evt.Type != models.EventToolResult {
			t.Errorf("event type = %q", evt.Type)
		}
		if evt.ToolCallID != "call_1" || evt.ToolName != "createNode" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestSubmitToolResultRequiresCallID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/tools/result", strings.NewReader(`{"toolName":"createNode"}`)), "u1")
	rec := httptest.NewRecorder()
	h.SubmitToolResult(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEventsStreamDeliversPublishedEvents(t *testing.T) {
	h, _ := newTestHandlers(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx), "u1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Events(rec, req)
		close(done)
	}()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for h.Bus.SubscriberCount("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Bus.Publish("u1", models.Event{Type: models.EventThinking, Payload: "analyzing"})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not stop on disconnect")
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"thinking"`) {
		t.Errorf("stream body missing event: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if h.Bus.SubscriberCount("u1") != 0 {
		t.Error("subscription leaked after disconnect")
	}
}

// ── Prompts & plans ─────────────────────────────────────────

func TestSearchPromptsRequiresQuery(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/prompts/search", nil), "u1")
	rec := httptest.NewRecorder()
	h.SearchPrompts(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchPromptsRanksSeededSamples(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/prompts/search?q=neon+city&limit=2", nil), "u1")
	rec := httptest.NewRecorder()
	h.SearchPrompts(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Query   string                `json:"query"`
		Samples []models.RankedSample `json:"samples"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Samples) == 0 || len(resp.Samples) > 2 {
		t.Fatalf("samples = %d, want 1..2", len(resp.Samples))
	}
	if !strings.Contains(strings.ToLower(resp.Samples[0].Title), "neon") {
		t.Errorf("top sample = %q, want neon match", resp.Samples[0].Title)
	}
}

func TestSearchPromptsRejectsBadLimit(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/prompts/search?q=sunset&limit=zero", nil), "u1")
	rec := httptest.NewRecorder()
	h.SearchPrompts(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestActivePlansEmpty(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/plans/active", nil), "u1")
	rec := httptest.NewRecorder()
	h.ActivePlans(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count int                    `json:"count"`
		Plans []models.ExecutionPlan `json:"plans"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 0 || resp.Plans == nil {
		t.Errorf("resp = %+v, want empty non-nil plans", resp)
	}
}

// ── Providers ───────────────────────────────────────────────

func TestUpsertAndGetProviderMasksTokens(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := `{"baseUrl":"https://api.openai.com","tokens":[{"value":"sk-verysecretkey","enabled":true}]}`
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/providers/openai", strings.NewReader(body)), "u1")
	req = withVendorParam(req, "openai")
	rec := httptest.NewRecorder()
	h.UpsertProvider(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rec.Code, rec.Body.String())
	}
	var saved models.ProviderRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if saved.Tokens[0].Value != "sk-v****" {
		t.Errorf("upsert token value = %q, want masked", saved.Tokens[0].Value)
	}

	getReq := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/providers/openai", nil), "u1")
	getReq = withVendorParam(getReq, "openai")
	getRec := httptest.NewRecorder()
	h.GetProvider(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
	var fetched models.ProviderRecord
	if err := json.Unmarshal(getRec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if strings.Contains(fetched.Tokens[0].Value, "verysecret") {
		t.Errorf("token leaked: %q", fetched.Tokens[0].Value)
	}
}

func TestUpsertProviderRequiresTokens(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/providers/openai", strings.NewReader(`{"tokens":[]}`)), "u1")
	req = withVendorParam(req, "openai")
	rec := httptest.NewRecorder()
	h.UpsertProvider(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetProviderNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/providers/anthropic", nil), "u1")
	req = withVendorParam(req, "anthropic")
	rec := httptest.NewRecorder()
	h.GetProvider(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListProvidersScopedToUser(t *testing.T) {
	h, s := newTestHandlers(t)

	for _, userID := range []string{"u1", "u2"} {
		err := s.UpsertProviderRecord(context.Background(), &models.ProviderRecord{
			UserID: userID,
			Vendor: models.VendorOpenAI,
			Tokens: []models.Token{{Value: "sk-" + userID, Enabled: true}},
		})
		if err != nil {
			t.Fatalf("seed provider: %v", err)
		}
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil), "u1")
	rec := httptest.NewRecorder()
	h.ListProviders(rec, req)

	var records []models.ProviderRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(records) != 1 || records[0].UserID != "u1" {
		t.Fatalf("records = %+v, want only u1", records)
	}
}

func TestDeleteProviderTwice(t *testing.T) {
	h, s := newTestHandlers(t)

	err := s.UpsertProviderRecord(context.Background(), &models.ProviderRecord{
		UserID: "u1",
		Vendor: models.VendorOpenAI,
		Tokens: []models.Token{{Value: "sk-test", Enabled: true}},
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	req := asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/providers/openai", nil), "u1")
	req = withVendorParam(req, "openai")
	rec := httptest.NewRecorder()
	h.DeleteProvider(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first delete status = %d", rec.Code)
	}

	again := asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/providers/openai", nil), "u1")
	again = withVendorParam(again, "openai")
	rec2 := httptest.NewRecorder()
	h.DeleteProvider(rec2, again)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec2.Code)
	}
}
