// Package store provides the storage interface and in-memory implementation
// for the AI engine's configuration state: provider/token records and the
// prompt-sample library. All of it is in-process and lost on restart;
// plans and conversations are request-scoped by design and never touch
// the store.
package store

import (
	"context"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Store is the engine's storage interface. Handlers and the credential
// resolver depend on this interface, keeping tests on isolated instances.
type Store interface {
	ProviderStore
	PromptSampleStore

	// Ping checks the store is usable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Provider Store ──────────────────────────────────────────

// ProviderStore manages per-user provider/token records. Shared tokens
// inside any record form the fallback pool for users without their own.
type ProviderStore interface {
	GetProviderRecord(ctx context.Context, userID string, vendor models.Vendor) (*models.ProviderRecord, error)
	ListProviderRecords(ctx context.Context) ([]models.ProviderRecord, error)
	ListProviderRecordsByVendor(ctx context.Context, vendor models.Vendor) ([]models.ProviderRecord, error)
	UpsertProviderRecord(ctx context.Context, record *models.ProviderRecord) error
	DeleteProviderRecord(ctx context.Context, userID string, vendor models.Vendor) error
}

// ── Prompt Sample Store ─────────────────────────────────────

type PromptSampleStore interface {
	ListPromptSamples(ctx context.Context) ([]models.PromptSample, error)
	CreatePromptSample(ctx context.Context, sample *models.PromptSample) error
	DeletePromptSample(ctx context.Context, id string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
