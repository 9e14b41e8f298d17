// Package storage defines the persistence contract for the governance layer:
// upsert-by-key plus expiry-based lookups, keyed by domain for robots rules
// and by (entity, source, field) for provenance facts.
package storage

import (
	"context"
	"time"
)

// Robots fetch statuses persisted with each cache entry.
const (
	RobotsFetchSuccess     = "success"
	RobotsFetchNotFound    = "not_found"
	RobotsFetchServerError = "server_error"
	RobotsFetchUnreachable = "unreachable"
)

// RobotsRecord is one cached robots.txt ruleset per domain. The raw body is
// persisted and re-parsed on load so parser upgrades apply to cached entries.
type RobotsRecord struct {
	Domain      string
	Body        []byte
	FetchStatus string
	HTTPStatus  int
	ContentHash string
	FetchCount  int
	ErrorCount  int
	LastError   string
	FetchedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry's TTL has passed.
func (r RobotsRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ProvenanceRecord is one externally derived fact's origin and trust window.
// EntityID may be empty for facts not yet attached to an inventory record.
type ProvenanceRecord struct {
	ID              string
	EntityID        string
	FieldName       string
	SourceID        string
	SourceURL       string
	RetrievalMethod string
	Confidence      float64
	ContentHash     string
	RetrievedAt     time.Time
	ExpiresAt       time.Time
}

// Fresh reports whether the fact is still inside its trust window.
func (r ProvenanceRecord) Fresh(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// RobotsStore persists robots cache entries keyed by domain.
type RobotsStore interface {
	UpsertRobots(ctx context.Context, rec RobotsRecord) error
	GetRobots(ctx context.Context, domain string) (RobotsRecord, bool, error)
}

// ProvenanceStore persists provenance facts keyed by (entity, source, field).
type ProvenanceStore interface {
	UpsertProvenance(ctx context.Context, rec ProvenanceRecord) error
	GetProvenance(ctx context.Context, entityID, sourceID, fieldName string) (ProvenanceRecord, bool, error)
	// DeleteExpiredProvenance removes records whose ExpiresAt is at or before
	// now and returns how many were removed.
	DeleteExpiredProvenance(ctx context.Context, now time.Time) (int, error)
}

// Store is the full persistence surface the governance layer needs.
type Store interface {
	RobotsStore
	ProvenanceStore
	Close() error
}
