// Package provenance records where each externally derived fact came from
// and until when it is trusted. The ledger is the freshness gate that lets
// the orchestrator skip network calls entirely.
package provenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/clock"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/telemetry"
)

// Method is the closed enumeration of ways a fact was retrieved.
type Method string

const (
	MethodScrape    Method = "scrape"
	MethodAPI       Method = "api"
	MethodUserInput Method = "user_input"
	MethodOCR       Method = "ocr"
	MethodManual    Method = "manual"
	MethodImport    Method = "import"
)

// ValidMethod reports whether m is a known retrieval method.
func ValidMethod(m Method) bool {
	switch m {
	case MethodScrape, MethodAPI, MethodUserInput, MethodOCR, MethodManual, MethodImport:
		return true
	default:
		return false
	}
}

// TTLTable resolves the trust window per field name with a global fallback.
type TTLTable struct {
	PerField map[string]time.Duration
	Default  time.Duration
}

const defaultTTL = 30 * 24 * time.Hour

// For returns the TTL for fieldName.
func (t TTLTable) For(fieldName string) time.Duration {
	if d, ok := t.PerField[fieldName]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return defaultTTL
}

// Hasher digests raw payloads for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces ledger record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Fact is one externally derived datum ready for recording.
type Fact struct {
	EntityID   string
	FieldName  string
	SourceID   string
	SourceURL  string
	Method     Method
	Confidence float64
	Payload    []byte
}

// Ledger persists facts and answers freshness and change queries. Store
// trouble on the read paths degrades to conservative answers ("not fresh",
// "treat as changed") so a broken store causes re-fetching, never silent
// trust in stale data.
type Ledger struct {
	store  storage.ProvenanceStore
	ttl    TTLTable
	hasher Hasher
	ids    IDGenerator
	clk    clock.Clock
	logger *zap.Logger
}

// NewLedger builds a Ledger.
func NewLedger(store storage.ProvenanceStore, ttl TTLTable, hasher Hasher, ids IDGenerator, clk clock.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		ttl:    ttl,
		hasher: hasher,
		ids:    ids,
		clk:    clk,
		logger: logger,
	}
}

// Record validates and persists a fact, computing its trust window from the
// per-field TTL table and hashing the payload for change detection.
func (l *Ledger) Record(ctx context.Context, fact Fact) (storage.ProvenanceRecord, error) {
	if fact.FieldName == "" {
		return storage.ProvenanceRecord{}, fmt.Errorf("field name is required")
	}
	if fact.SourceID == "" {
		return storage.ProvenanceRecord{}, fmt.Errorf("source id is required")
	}
	if !ValidMethod(fact.Method) {
		return storage.ProvenanceRecord{}, fmt.Errorf("invalid retrieval method %q", fact.Method)
	}
	if fact.Confidence < 0 || fact.Confidence > 1 {
		return storage.ProvenanceRecord{}, fmt.Errorf("confidence %v outside [0,1]", fact.Confidence)
	}

	id, err := l.ids.NewID()
	if err != nil {
		return storage.ProvenanceRecord{}, fmt.Errorf("new record id: %w", err)
	}
	hash, err := l.hasher.Hash(fact.Payload)
	if err != nil {
		return storage.ProvenanceRecord{}, fmt.Errorf("hash payload: %w", err)
	}

	now := l.clk.Now()
	rec := storage.ProvenanceRecord{
		ID:              id,
		EntityID:        fact.EntityID,
		FieldName:       fact.FieldName,
		SourceID:        fact.SourceID,
		SourceURL:       fact.SourceURL,
		RetrievalMethod: string(fact.Method),
		Confidence:      fact.Confidence,
		ContentHash:     hash,
		RetrievedAt:     now,
		ExpiresAt:       now.Add(l.ttl.For(fact.FieldName)),
	}
	if err := l.store.UpsertProvenance(ctx, rec); err != nil {
		return storage.ProvenanceRecord{}, fmt.Errorf("record provenance: %w", err)
	}
	return rec, nil
}

// HasFreshData reports whether a still-trusted fact exists for the key.
// Store errors answer false.
func (l *Ledger) HasFreshData(ctx context.Context, entityID, sourceID, fieldName string) bool {
	rec, ok, err := l.store.GetProvenance(ctx, entityID, sourceID, fieldName)
	if err != nil {
		l.logger.Warn("provenance read failed, treating as not fresh",
			zap.String("entity", entityID),
			zap.String("source", sourceID),
			zap.String("field", fieldName),
			zap.Error(err),
		)
		return false
	}
	return ok && rec.Fresh(l.clk.Now())
}

// HasContentChanged compares payload's hash against the latest stored hash,
// catching silent upstream changes inside the freshness window. Missing
// records and store errors answer true.
func (l *Ledger) HasContentChanged(ctx context.Context, entityID, sourceID, fieldName string, payload []byte) bool {
	rec, ok, err := l.store.GetProvenance(ctx, entityID, sourceID, fieldName)
	if err != nil {
		l.logger.Warn("provenance read failed, treating as changed",
			zap.String("entity", entityID),
			zap.String("source", sourceID),
			zap.String("field", fieldName),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		return true
	}
	hash, err := l.hasher.Hash(payload)
	if err != nil {
		return true
	}
	return hash != rec.ContentHash
}

// Get returns the stored fact for the key, if any.
func (l *Ledger) Get(ctx context.Context, entityID, sourceID, fieldName string) (storage.ProvenanceRecord, bool, error) {
	rec, ok, err := l.store.GetProvenance(ctx, entityID, sourceID, fieldName)
	if err != nil {
		return storage.ProvenanceRecord{}, false, fmt.Errorf("get provenance: %w", err)
	}
	return rec, ok, nil
}

// PurgeExpired removes records past their trust window. Explicit maintenance
// operation, invoked by the purge command and the serve loop.
func (l *Ledger) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := l.store.DeleteExpiredProvenance(ctx, l.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired provenance: %w", err)
	}
	if removed > 0 {
		l.logger.Info("purged expired provenance records", zap.Int("removed", removed))
	}
	telemetry.ObserveProvenancePurge(removed)
	return removed, nil
}
