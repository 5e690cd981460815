// Package credentials resolves a model request to an API key and base URL.
//
// Resolution walks a fallback chain: a caller-supplied key wins outright;
// otherwise the vendor is inferred from the request, the caller's own
// provider record is consulted, and finally shared tokens from other
// records may be borrowed. The result lives for one request and is never
// cached.
package credentials

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/store"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Default endpoints per vendor, used when no base URL is configured.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultGoogleBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
)

// modelVendorTable maps exact model names to their vendor. Substring
// heuristics in inferVendor cover the rest.
var modelVendorTable = map[string]models.Vendor{
	"gpt-4o":                    models.VendorOpenAI,
	"gpt-4o-mini":               models.VendorOpenAI,
	"gpt-4.1":                   models.VendorOpenAI,
	"o3":                        models.VendorOpenAI,
	"o4-mini":                   models.VendorOpenAI,
	"claude-sonnet-4-20250514":  models.VendorAnthropic,
	"claude-3-5-haiku-20241022": models.VendorAnthropic,
	"glm-4.5":                   models.VendorAnthropic,
	"gemini-2.0-flash":          models.VendorGoogle,
	"gemini-2.5-pro":            models.VendorGoogle,
}

// Resolver resolves per-request credentials against the provider store.
type Resolver struct {
	store store.Store
}

// NewResolver creates a credential resolver backed by s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Request carries the credential-relevant fields of a chat request.
type Request struct {
	Model    string
	Provider string // explicit vendor override
	APIKey   string // caller-supplied key, wins outright
	BaseURL  string
	UserID   string
}

// Resolve walks the fallback chain and returns a usable credential.
//
// Chain: caller key → user's own record for the inferred vendor → a
// shared+enabled token in that record → any shared+enabled token across
// records matching the vendor or its aliases. Tokens inside a cooldown
// window (DisabledUntil in the future) are skipped.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*models.Credential, error) {
	vendor := InferVendor(req.Model, req.Provider, req.BaseURL)

	// (1) Caller-supplied key short-circuits everything.
	if req.APIKey != "" {
		return &models.Credential{
			APIKey:  req.APIKey,
			BaseURL: NormalizeBaseURL(vendor, req.BaseURL),
			Vendor:  vendor,
		}, nil
	}

	// (2) The caller's own record for this vendor.
	rec, err := r.store.GetProviderRecord(ctx, req.UserID, vendor)
	if err == nil {
		if tok, ok := pickToken(rec.Tokens, false); ok {
			return r.credentialFrom(req, vendor, rec, tok), nil
		}
		// Own record but no personal token; shared tokens in it still count.
		if tok, ok := pickToken(rec.Tokens, true); ok {
			return r.credentialFrom(req, vendor, rec, tok), nil
		}
	}

	// (3) Borrow a shared token from another record. Records registered
	// under the vendor itself are consulted before records that only
	// answer through an alias, regardless of list order.
	all, listErr := r.store.ListProviderRecords(ctx)
	if listErr != nil {
		return nil, listErr
	}
	for _, exactOnly := range []bool{true, false} {
		for i := range all {
			other := &all[i]
			if exactOnly != (other.Vendor == vendor) {
				continue
			}
			if !exactOnly && !vendorMatches(other, vendor) {
				continue
			}
			if tok, ok := pickToken(other.Tokens, true); ok {
				log.Debug().
					Str("user", req.UserID).
					Str("vendor", string(vendor)).
					Str("owner", other.UserID).
					Msg("Resolved shared token from another record")
				return r.credentialFrom(req, vendor, other, tok), nil
			}
		}
	}

	if err != nil {
		return nil, &models.ConfigurationMissingError{UserID: req.UserID, Vendor: vendor}
	}
	return nil, &models.CredentialMissingError{UserID: req.UserID, Vendor: vendor}
}

func (r *Resolver) credentialFrom(req Request, vendor models.Vendor, rec *models.ProviderRecord, tok models.Token) *models.Credential {
	base := req.BaseURL
	if base == "" {
		base = rec.BaseURL
	}
	return &models.Credential{
		APIKey:  tok.Value,
		BaseURL: NormalizeBaseURL(vendor, base),
		Vendor:  vendor,
	}
}

// pickToken returns the first usable token. With sharedOnly, only tokens
// marked shared qualify. Disabled tokens and tokens inside their cooldown
// are skipped.
func pickToken(tokens []models.Token, sharedOnly bool) (models.Token, bool) {
	now := time.Now()
	for _, tok := range tokens {
		if !tok.Enabled || tok.Value == "" {
			continue
		}
		if sharedOnly && !tok.Shared {
			continue
		}
		if tok.DisabledUntil != nil && tok.DisabledUntil.After(now) {
			continue
		}
		return tok, true
	}
	return models.Token{}, false
}

// vendorMatches reports whether a record answers for vendor, either
// directly or through one of its aliases.
func vendorMatches(rec *models.ProviderRecord, vendor models.Vendor) bool {
	if rec.Vendor == vendor {
		return true
	}
	for _, alias := range rec.Aliases {
		if strings.EqualFold(alias, string(vendor)) {
			return true
		}
	}
	return false
}

// ── Vendor inference ────────────────────────────────────────

// InferVendor decides which API dialect a request targets. Precedence:
// explicit override → base-URL substring → exact model-name table →
// model-name substring heuristics → openai as default.
func InferVendor(model, override, baseURL string) models.Vendor {
	switch strings.ToLower(strings.TrimSpace(override)) {
	case "openai":
		return models.VendorOpenAI
	case "anthropic", "claude":
		return models.VendorAnthropic
	case "google", "gemini":
		return models.VendorGoogle
	}

	lowerURL := strings.ToLower(baseURL)
	switch {
	case strings.Contains(lowerURL, "anthropic"):
		return models.VendorAnthropic
	case strings.Contains(lowerURL, "googleapis") || strings.Contains(lowerURL, "generativelanguage"):
		return models.VendorGoogle
	case strings.Contains(lowerURL, "openai"):
		return models.VendorOpenAI
	}

	name := strings.ToLower(strings.TrimSpace(model))
	if v, ok := modelVendorTable[name]; ok {
		return v
	}
	switch {
	case strings.Contains(name, "claude"), strings.Contains(name, "glm"):
		return models.VendorAnthropic
	case strings.Contains(name, "gemini"):
		return models.VendorGoogle
	case strings.Contains(name, "gpt"):
		return models.VendorOpenAI
	}
	return models.VendorOpenAI
}

// ── Base URL normalization ──────────────────────────────────

// NormalizeBaseURL canonicalizes a base URL for a vendor: fills the
// vendor default when empty, trims trailing slashes, and inserts the
// path segments each vendor's client expects.
func NormalizeBaseURL(vendor models.Vendor, baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch vendor {
	case models.VendorOpenAI:
		if base == "" {
			return defaultOpenAIBaseURL
		}
		// OpenAI-dialect clients expect the /v1 segment on the base.
		if !strings.HasSuffix(base, "/v1") && !strings.Contains(base, "/v1/") {
			base += "/v1"
		}
		return base
	case models.VendorAnthropic:
		if base == "" {
			return defaultAnthropicBaseURL
		}
		// The messages path is appended per call; strip it if configured in.
		base = strings.TrimSuffix(base, "/v1/messages")
		return strings.TrimRight(base, "/")
	case models.VendorGoogle:
		if base == "" {
			return defaultGoogleBaseURL
		}
		if !strings.Contains(base, "/v1beta") && !strings.Contains(base, "/v1/") && !strings.HasSuffix(base, "/v1") {
			base += "/v1beta"
		}
		return base
	}
	return base
}

// IsOfficialAnthropic reports whether a base URL points at the official
// Anthropic API host. Non-official anthropic-compatible gateways take the
// raw-HTTP request path instead of the structured one.
func IsOfficialAnthropic(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	return strings.Contains(strings.ToLower(baseURL), "api.anthropic.com")
}
