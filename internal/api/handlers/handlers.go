// Package handlers implements the HTTP and SSE endpoints of the AI engine.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/api/middleware"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/assist"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/bridge"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/orchestrator"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/plan"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/prompts"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// keepaliveInterval paces SSE comment frames on the long-lived event stream.
const keepaliveInterval = 15 * time.Second

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Loop         *assist.Loop
	Bridge       *bridge.Bridge
	Orchestrator *orchestrator.Orchestrator
	Plans        *plan.Manager
	Library      *prompts.Library
	Bus          *events.Bus
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, loop *assist.Loop, br *bridge.Bridge, orch *orchestrator.Orchestrator, plans *plan.Manager, lib *prompts.Library, bus *events.Bus) *Handlers {
	return &Handlers{
		Store:        s,
		Loop:         loop,
		Bridge:       br,
		Orchestrator: orch,
		Plans:        plans,
		Library:      lib,
		Bus:          bus,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Chat Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Chat serves the one-shot structured chat endpoint.
// POST /api/v1/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.Loop.Run(r.Context(), req)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ChatStream serves the streaming chat bridge over SSE.
// POST /api/v1/chat/stream
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Headers go out on the first chunk so credential failures can still
	// surface as a plain JSON error status.
	started := false
	err := h.Bridge.StreamChat(r.Context(), req, func(chunk models.StreamChunk) error {
		if !started {
			writeSSEHeaders(w)
			flusher.Flush()
			started = true
		}
		data, _ := json.Marshal(chunk)
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})

	if err != nil && !started {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("user", req.UserID).Msg("Chat stream ended with error")
	}
}

// IntelligentChat serves the orchestrated one-shot endpoint: intent
// recognition, planning, operation execution, and the assistant reply
// merged into one response.
// POST /api/v1/chat/intelligent
func (h *Handlers) IntelligentChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	res, err := h.Orchestrator.Chat(r.Context(), req)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// IntelligentChatStream serves the orchestrated pipeline over SSE,
// forwarding thinking, plan, and tool-call events as they happen.
// POST /api/v1/chat/intelligent/stream
func (h *Handlers) IntelligentChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	writeSSEHeaders(w)
	flusher.Flush()

	err := h.Orchestrator.ChatStream(r.Context(), req, func(evt models.Event) error {
		data, _ := json.Marshal(evt)
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		data, _ := json.Marshal(models.Event{Type: models.EventError, Timestamp: time.Now().UTC(), Payload: err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// decodeChatRequest parses the shared chat body and stamps the caller
// identity. Empty message lists are rejected here, before any provider
// traffic.
func (h *Handlers) decodeChatRequest(w http.ResponseWriter, r *http.Request) (models.ChatRequest, bool) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	req.UserID = middleware.GetUserID(r.Context())
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "at least one message is required")
		return req, false
	}
	return req, true
}

// ══════════════════════════════════════════════════════════════
// ── Event Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SubmitToolResult accepts the client-side outcome of a previously
// requested tool call and publishes it on the caller's event stream.
// POST /api/v1/tools/result
func (h *Handlers) SubmitToolResult(w http.ResponseWriter, r *http.Request) {
	var sub models.ToolResultSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if sub.ToolCallID == "" {
		respondError(w, http.StatusBadRequest, "toolCallId is required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	evt := models.Event{
		Type:       models.EventToolResult,
		Timestamp:  time.Now().UTC(),
		ToolCallID: sub.ToolCallID,
		ToolName:   sub.ToolName,
		Output:     sub.Output,
	}
	if sub.ErrorText != "" {
		evt.Payload = map[string]any{"error": sub.ErrorText}
	}
	h.Bus.Publish(userID, evt)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "toolCallId": sub.ToolCallID})
}

// Events serves the long-lived per-user event stream. The subscription is
// dropped as soon as the client disconnects.
// GET /api/v1/events
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	userID := middleware.GetUserID(r.Context())
	ch := h.Bus.Subscribe(userID)
	defer h.Bus.Unsubscribe(userID, ch)

	writeSSEHeaders(w)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ══════════════════════════════════════════════════════════════
// ── Prompt & Plan Handlers ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SearchPrompts ranks registered prompt samples against a free-text query.
// GET /api/v1/prompts/search?q=...&nodeKind=...&limit=...
func (h *Handlers) SearchPrompts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	nodeKind := r.URL.Query().Get("nodeKind")

	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 20 {
			n = 20
		}
		limit = n
	}

	ranked, err := h.Library.Search(r.Context(), query, nodeKind, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ranked == nil {
		ranked = []models.RankedSample{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"query": query, "samples": ranked})
}

// ActivePlans reports the caller's in-flight plans.
// GET /api/v1/plans/active
func (h *Handlers) ActivePlans(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	plans := h.Plans.ActivePlans(userID)
	if plans == nil {
		plans = []models.ExecutionPlan{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": len(plans), "plans": plans})
}

// ══════════════════════════════════════════════════════════════
// ── Provider Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListProviders returns the caller's provider records with token values
// masked.
// GET /api/v1/providers
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	records, err := h.Store.ListProviderRecords(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := []models.ProviderRecord{}
	for i := range records {
		if records[i].UserID != userID {
			continue
		}
		out = append(out, *maskProviderTokens(&records[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetProvider returns one provider record with token values masked.
// GET /api/v1/providers/{vendor}
func (h *Handlers) GetProvider(w http.ResponseWriter, r *http.Request) {
	vendor := models.Vendor(chi.URLParam(r, "vendor"))
	userID := middleware.GetUserID(r.Context())

	record, err := h.Store.GetProviderRecord(r.Context(), userID, vendor)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, maskProviderTokens(record))
}

// UpsertProvider creates or replaces the caller's record for a vendor.
// PUT /api/v1/providers/{vendor}
func (h *Handlers) UpsertProvider(w http.ResponseWriter, r *http.Request) {
	vendor := models.Vendor(chi.URLParam(r, "vendor"))

	var record models.ProviderRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	record.UserID = middleware.GetUserID(r.Context())
	record.Vendor = vendor
	if len(record.Tokens) == 0 {
		respondError(w, http.StatusBadRequest, "at least one token is required")
		return
	}
	for _, t := range record.Tokens {
		if t.Value == "" {
			respondError(w, http.StatusBadRequest, "token value is required")
			return
		}
	}

	if err := h.Store.UpsertProviderRecord(r.Context(), &record); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("user", record.UserID).Str("vendor", string(vendor)).Int("tokens", len(record.Tokens)).Msg("Provider record upserted")
	respondJSON(w, http.StatusOK, maskProviderTokens(&record))
}

// DeleteProvider removes the caller's record for a vendor.
// DELETE /api/v1/providers/{vendor}
func (h *Handlers) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	vendor := models.Vendor(chi.URLParam(r, "vendor"))
	userID := middleware.GetUserID(r.Context())

	if err := h.Store.DeleteProviderRecord(r.Context(), userID, vendor); err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "vendor": string(vendor)})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// errorStatus maps the engine's error taxonomy to HTTP statuses.
func errorStatus(err error) int {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	var cfg *models.ConfigurationMissingError
	if errors.As(err, &cfg) {
		return http.StatusPreconditionFailed
	}
	var cred *models.CredentialMissingError
	if errors.As(err, &cred) {
		return http.StatusPreconditionFailed
	}
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	var up *models.UpstreamError
	if errors.As(err, &up) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// maskProviderTokens redacts token values before returning a record to API
// consumers.
func maskProviderTokens(record *models.ProviderRecord) *models.ProviderRecord {
	cp := *record
	cp.Tokens = make([]models.Token, len(record.Tokens))
	for i, t := range record.Tokens {
		if len(t.Value) > 4 {
			t.Value = t.Value[:4] + "****"
		} else if t.Value != "" {
			t.Value = "****"
		}
		cp.Tokens[i] = t
	}
	return &cp
}
