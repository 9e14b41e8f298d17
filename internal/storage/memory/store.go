// Package memory provides an in-memory store for development and testing.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vinoscout/sourcegate/internal/storage"
)

// Store keeps robots and provenance records in maps behind an RWMutex.
type Store struct {
	mu         sync.RWMutex
	robots     map[string]storage.RobotsRecord
	provenance map[string]storage.ProvenanceRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		robots:     make(map[string]storage.RobotsRecord),
		provenance: make(map[string]storage.ProvenanceRecord),
	}
}

// UpsertRobots stores rec keyed by domain.
func (s *Store) UpsertRobots(_ context.Context, rec storage.RobotsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robots[strings.ToLower(rec.Domain)] = rec
	return nil
}

// GetRobots fetches the cache entry for domain.
func (s *Store) GetRobots(_ context.Context, domain string) (storage.RobotsRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.robots[strings.ToLower(domain)]
	return rec, ok, nil
}

// UpsertProvenance stores rec keyed by (entity, source, field).
func (s *Store) UpsertProvenance(_ context.Context, rec storage.ProvenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provenance[provKey(rec.EntityID, rec.SourceID, rec.FieldName)] = rec
	return nil
}

// GetProvenance fetches the fact for the key, if any.
func (s *Store) GetProvenance(_ context.Context, entityID, sourceID, fieldName string) (storage.ProvenanceRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.provenance[provKey(entityID, sourceID, fieldName)]
	return rec, ok, nil
}

// DeleteExpiredProvenance removes records past their trust window.
func (s *Store) DeleteExpiredProvenance(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.provenance {
		if !rec.Fresh(now) {
			delete(s.provenance, key)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func provKey(entityID, sourceID, fieldName string) string {
	return entityID + "\x00" + sourceID + "\x00" + fieldName
}
