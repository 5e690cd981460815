// Package assist drives the structured-output generation loop: build a
// system prompt, call the model, parse the response through a cascade of
// extractors, and retry with a corrective reminder until the response
// carries at least one action. A deterministic keyword fallback closes
// the contract when the model never cooperates, and a raw-HTTP path
// serves anthropic-compatible gateways that do not honor structured
// output.
package assist

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/config"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/credentials"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/prompts"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Loop is the structured assistant loop.
type Loop struct {
	resolver *credentials.Resolver
	library  *prompts.Library
	http     *http.Client
	cfg      config.AssistConfig
}

// NewLoop creates a loop with the given credential resolver and prompt
// library. The library may be nil; exemplars are then skipped.
func NewLoop(resolver *credentials.Resolver, library *prompts.Library, cfg config.AssistConfig) *Loop {
	return &Loop{
		resolver: resolver,
		library:  library,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		cfg:      cfg,
	}
}

// Run produces a structured {reply, plan, actions} response for the
// conversation. The returned response always has at least one action.
func (l *Loop) Run(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &models.ValidationError{Field: "messages", Detail: "at least one message is required"}
	}

	cred, err := l.resolver.Resolve(ctx, credentials.Request{
		Model:    req.Model,
		Provider: req.Provider,
		APIKey:   req.APIKey,
		BaseURL:  req.BaseURL,
		UserID:   req.UserID,
	})
	if err != nil {
		return nil, err
	}

	system := l.buildSystemPrompt(ctx, req)
	conversation := make([]models.ChatMessage, 0, len(req.Messages)+1)
	conversation = append(conversation, models.ChatMessage{Role: "system", Content: system})
	conversation = append(conversation, req.Messages...)

	// Non-official anthropic gateways skip structured output entirely.
	rawOnly := cred.Vendor == models.VendorAnthropic && !credentials.IsOfficialAnthropic(cred.BaseURL)

	var resp *models.ChatResponse
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		text, err := l.callModel(ctx, cred, req, conversation, rawOnly)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Str("model", req.Model).Msg("Assistant call failed")
			continue
		}

		resp = parseResponse(text)
		if len(resp.Actions) > 0 {
			resp.QuickReplies = suggestQuickReplies(lastUserMessage(req.Messages))
			return resp, nil
		}

		log.Debug().Int("attempt", attempt).Msg("Response contained no actions, appending reminder")
		conversation = append(conversation,
			models.ChatMessage{Role: "assistant", Content: text},
			models.ChatMessage{Role: "user", Content: actionReminder},
		)
	}

	if resp == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		resp = &models.ChatResponse{Plan: []string{}, Actions: []models.Action{}}
	}

	// Last line of defense: the contract guarantees at least one action.
	userText := lastUserMessage(req.Messages)
	resp.Actions = synthesizeFallbackActions(userText)
	if resp.Reply == "" {
		resp.Reply = "I prepared the canvas changes for your request."
	}
	resp.QuickReplies = suggestQuickReplies(userText)
	log.Info().Str("model", req.Model).Int("actions", len(resp.Actions)).Msg("Applied fallback action synthesis")
	return resp, nil
}

// callModel routes to the structured or raw path. A transport-level
// failure on the structured path falls back to the raw anthropic call
// before surfacing.
func (l *Loop) callModel(ctx context.Context, cred *models.Credential, req models.ChatRequest, conversation []models.ChatMessage, rawOnly bool) (string, error) {
	if rawOnly {
		return l.callAnthropicRaw(ctx, cred, req, conversation)
	}
	text, err := l.callStructured(ctx, cred, req, conversation)
	if err != nil && cred.Vendor == models.VendorAnthropic {
		log.Warn().Err(err).Msg("Structured path failed, attempting raw fallback")
		return l.callAnthropicRaw(ctx, cred, req, conversation)
	}
	return text, err
}
