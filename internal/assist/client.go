package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

const (
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
	transportRetries = 2
)

// ── OpenAI-dialect structured call ──────────────────────────

type chatCompletionRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	Temperature    float64              `json:"temperature,omitempty"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callStructured issues a chat-completions request constrained to a JSON
// object and returns the raw assistant text. Transient transport
// failures are retried with exponential backoff before surfacing.
func (l *Loop) callStructured(ctx context.Context, cred *models.Credential, req models.ChatRequest, messages []models.ChatMessage) (string, error) {
	body := chatCompletionRequest{
		Model:          req.Model,
		Messages:       messages,
		Temperature:    req.Temperature,
		MaxTokens:      maxTokensOr(req.MaxTokens),
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := cred.BaseURL + "/chat/completions"
	raw, err := l.post(ctx, url, payload, func(hr *http.Request) {
		hr.Header.Set("Authorization", "Bearer "+cred.APIKey)
		applyHeaders(hr, req.Headers)
	}, cred.Vendor)
	if err != nil {
		return "", err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &models.UpstreamError{Vendor: cred.Vendor, Body: "unparsable completion response"}
	}
	if parsed.Error != nil {
		return "", &models.UpstreamError{Vendor: cred.Vendor, Body: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &models.UpstreamError{Vendor: cred.Vendor, Body: "completion response has no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// ── Raw anthropic-style call ────────────────────────────────

type anthropicRequest struct {
	Model     string               `json:"model"`
	MaxTokens int                  `json:"max_tokens"`
	Messages  []models.ChatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callAnthropicRaw issues a minimal /v1/messages request. Non-conformant
// gateways only understand user/assistant roles, so system turns are
// merged into the first user turn.
func (l *Loop) callAnthropicRaw(ctx context.Context, cred *models.Credential, req models.ChatRequest, messages []models.ChatMessage) (string, error) {
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokensOr(req.MaxTokens),
		Messages:  mergeSystemIntoUser(messages),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(cred.BaseURL, "/") + "/v1/messages"
	raw, err := l.post(ctx, url, payload, func(hr *http.Request) {
		hr.Header.Set("x-api-key", cred.APIKey)
		hr.Header.Set("anthropic-version", anthropicVersion)
		applyHeaders(hr, req.Headers)
	}, models.VendorAnthropic)
	if err != nil {
		return "", err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &models.UpstreamError{Vendor: models.VendorAnthropic, Body: "unparsable messages response"}
	}
	if parsed.Error != nil {
		return "", &models.UpstreamError{Vendor: models.VendorAnthropic, Body: parsed.Error.Message}
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &models.UpstreamError{Vendor: models.VendorAnthropic, Body: "messages response has no text content"}
	}
	return text.String(), nil
}

// mergeSystemIntoUser folds system turns into the following user turn so
// the conversation alternates strictly user/assistant.
func mergeSystemIntoUser(messages []models.ChatMessage) []models.ChatMessage {
	var system []string
	var out []models.ChatMessage
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user":
			content := m.Content
			if len(system) > 0 {
				content = strings.Join(system, "\n\n") + "\n\n" + content
				system = nil
			}
			out = append(out, models.ChatMessage{Role: "user", Content: content})
		default:
			out = append(out, m)
		}
	}
	if len(system) > 0 {
		out = append(out, models.ChatMessage{Role: "user", Content: strings.Join(system, "\n\n")})
	}
	if len(out) == 0 || out[0].Role != "user" {
		out = append([]models.ChatMessage{{Role: "user", Content: "."}}, out...)
	}
	return out
}

// ── Transport ───────────────────────────────────────────────

// post sends the payload, retrying transient failures (network errors,
// 429, 5xx) a bounded number of times.
func (l *Loop) post(ctx context.Context, url string, payload []byte, decorate func(*http.Request), vendor models.Vendor) ([]byte, error) {
	var result []byte

	operation := func() error {
		hr, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		hr.Header.Set("Content-Type", "application/json")
		decorate(hr)

		resp, err := l.http.Do(hr)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Upstream transport error, retrying")
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &models.UpstreamError{Vendor: vendor, Status: resp.StatusCode, Body: truncate(string(raw), 300)}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&models.UpstreamError{Vendor: vendor, Status: resp.StatusCode, Body: truncate(string(raw), 300)})
		}
		result = raw
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transportRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func applyHeaders(hr *http.Request, headers map[string]string) {
	for k, v := range headers {
		hr.Header.Set(k, v)
	}
}

func maxTokensOr(n int) int {
	if n > 0 {
		return n
	}
	return defaultMaxTokens
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s… (%d bytes)", s[:n], len(s))
}
