package models

import "fmt"

// Error taxonomy for the request pipeline. Handlers map these to HTTP
// statuses; nothing below the orchestrator boundary panics or crashes the
// process on them.

// ConfigurationMissingError means no provider record exists for the vendor.
type ConfigurationMissingError struct {
	UserID string
	Vendor Vendor
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("no provider configured for vendor %q (user %s)", e.Vendor, e.UserID)
}

// CredentialMissingError means a provider record exists but holds no usable token.
type CredentialMissingError struct {
	UserID string
	Vendor Vendor
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("no usable token for vendor %q (user %s)", e.Vendor, e.UserID)
}

// UpstreamError is a non-2xx or malformed response from a model provider.
type UpstreamError struct {
	Vendor Vendor
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream: status %d: %s", e.Vendor, e.Status, e.Body)
	}
	return fmt.Sprintf("%s upstream: %s", e.Vendor, e.Body)
}

// SchemaViolationError means structured output did not match the contract
// after all retries. The heuristic action fallback absorbs it before it can
// reach a caller.
type SchemaViolationError struct {
	Detail string
}

func (e *SchemaViolationError) Error() string {
	return "structured output violated schema: " + e.Detail
}

// UnsupportedDomainError is an execution dispatch to an unknown domain.
type UnsupportedDomainError struct {
	Domain Domain
}

func (e *UnsupportedDomainError) Error() string {
	return fmt.Sprintf("unsupported capability domain %q", e.Domain)
}

// ValidationError is a request or operation that failed boundary validation.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Detail)
	}
	return "validation: " + e.Detail
}
