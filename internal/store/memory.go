package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// MemoryStore is an in-memory Store backed by maps and a RWMutex.
// Provider records are keyed by (userID, vendor).
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[providerKey]*models.ProviderRecord
	samples   map[string]*models.PromptSample
}

type providerKey struct {
	userID string
	vendor models.Vendor
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[providerKey]*models.ProviderRecord),
		samples:   make(map[string]*models.PromptSample),
	}
}

// ── Provider Records ────────────────────────────────────────

func (s *MemoryStore) GetProviderRecord(ctx context.Context, userID string, vendor models.Vendor) (*models.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.providers[providerKey{userID, vendor}]
	if !ok {
		return nil, &ErrNotFound{Entity: "provider record", Key: userID + "/" + string(vendor)}
	}
	cp := cloneProviderRecord(rec)
	return &cp, nil
}

func (s *MemoryStore) ListProviderRecords(ctx context.Context) ([]models.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ProviderRecord, 0, len(s.providers))
	for _, rec := range s.providers {
		out = append(out, cloneProviderRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Vendor < out[j].Vendor
	})
	return out, nil
}

func (s *MemoryStore) ListProviderRecordsByVendor(ctx context.Context, vendor models.Vendor) ([]models.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ProviderRecord
	for key, rec := range s.providers {
		if key.vendor == vendor {
			out = append(out, cloneProviderRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) UpsertProviderRecord(ctx context.Context, record *models.ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range record.Tokens {
		if record.Tokens[i].ID == "" {
			record.Tokens[i].ID = uuid.NewString()
		}
	}
	record.UpdatedAt = time.Now().UTC()
	cp := cloneProviderRecord(record)
	s.providers[providerKey{record.UserID, record.Vendor}] = &cp
	return nil
}

func (s *MemoryStore) DeleteProviderRecord(ctx context.Context, userID string, vendor models.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := providerKey{userID, vendor}
	if _, ok := s.providers[key]; !ok {
		return &ErrNotFound{Entity: "provider record", Key: userID + "/" + string(vendor)}
	}
	delete(s.providers, key)
	return nil
}

// ── Prompt Samples ──────────────────────────────────────────

func (s *MemoryStore) ListPromptSamples(ctx context.Context) ([]models.PromptSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PromptSample, 0, len(s.samples))
	for _, sample := range s.samples {
		out = append(out, *sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreatePromptSample(ctx context.Context, sample *models.PromptSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	cp := *sample
	s.samples[sample.ID] = &cp
	return nil
}

func (s *MemoryStore) DeletePromptSample(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[id]; !ok {
		return &ErrNotFound{Entity: "prompt sample", Key: id}
	}
	delete(s.samples, id)
	return nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneProviderRecord(rec *models.ProviderRecord) models.ProviderRecord {
	cp := *rec
	cp.Aliases = append([]string(nil), rec.Aliases...)
	cp.Tokens = append([]models.Token(nil), rec.Tokens...)
	return cp
}
