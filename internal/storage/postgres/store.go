// Package postgres provides a Postgres-backed persistent store for shared
// deployments where several enrichment processes want one robots cache and
// one provenance ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinoscout/sourcegate/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store writes governance rows into Postgres.
type Store struct {
	pool dbPool
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// UpsertRobots writes or replaces the cache entry for rec.Domain.
func (s *Store) UpsertRobots(ctx context.Context, rec storage.RobotsRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO robots_cache (domain, body, fetch_status, http_status, content_hash,
	fetch_count, error_count, last_error, fetched_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (domain) DO UPDATE SET
	body = EXCLUDED.body,
	fetch_status = EXCLUDED.fetch_status,
	http_status = EXCLUDED.http_status,
	content_hash = EXCLUDED.content_hash,
	fetch_count = EXCLUDED.fetch_count,
	error_count = EXCLUDED.error_count,
	last_error = EXCLUDED.last_error,
	fetched_at = EXCLUDED.fetched_at,
	expires_at = EXCLUDED.expires_at`,
		rec.Domain, rec.Body, rec.FetchStatus, rec.HTTPStatus, rec.ContentHash,
		rec.FetchCount, rec.ErrorCount, rec.LastError, rec.FetchedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert robots %q: %w", rec.Domain, err)
	}
	return nil
}

// GetRobots loads the cache entry for domain.
func (s *Store) GetRobots(ctx context.Context, domain string) (storage.RobotsRecord, bool, error) {
	var rec storage.RobotsRecord
	row := s.pool.QueryRow(ctx, `
SELECT domain, body, fetch_status, http_status, content_hash,
	fetch_count, error_count, last_error, fetched_at, expires_at
FROM robots_cache WHERE domain = $1`, domain)
	err := row.Scan(&rec.Domain, &rec.Body, &rec.FetchStatus, &rec.HTTPStatus, &rec.ContentHash,
		&rec.FetchCount, &rec.ErrorCount, &rec.LastError, &rec.FetchedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.RobotsRecord{}, false, nil
	}
	if err != nil {
		return storage.RobotsRecord{}, false, fmt.Errorf("get robots %q: %w", domain, err)
	}
	return rec, true, nil
}

// UpsertProvenance writes or replaces the fact keyed by (entity, source, field).
func (s *Store) UpsertProvenance(ctx context.Context, rec storage.ProvenanceRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO provenance (id, entity_id, field_name, source_id, source_url,
	retrieval_method, confidence, content_hash, retrieved_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (entity_id, source_id, field_name) DO UPDATE SET
	id = EXCLUDED.id,
	source_url = EXCLUDED.source_url,
	retrieval_method = EXCLUDED.retrieval_method,
	confidence = EXCLUDED.confidence,
	content_hash = EXCLUDED.content_hash,
	retrieved_at = EXCLUDED.retrieved_at,
	expires_at = EXCLUDED.expires_at`,
		rec.ID, rec.EntityID, rec.FieldName, rec.SourceID, rec.SourceURL,
		rec.RetrievalMethod, rec.Confidence, rec.ContentHash, rec.RetrievedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert provenance %s/%s/%s: %w", rec.EntityID, rec.SourceID, rec.FieldName, err)
	}
	return nil
}

// GetProvenance loads the fact for the key.
func (s *Store) GetProvenance(ctx context.Context, entityID, sourceID, fieldName string) (storage.ProvenanceRecord, bool, error) {
	var rec storage.ProvenanceRecord
	row := s.pool.QueryRow(ctx, `
SELECT id, entity_id, field_name, source_id, source_url,
	retrieval_method, confidence, content_hash, retrieved_at, expires_at
FROM provenance WHERE entity_id = $1 AND source_id = $2 AND field_name = $3`,
		entityID, sourceID, fieldName)
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.FieldName, &rec.SourceID, &rec.SourceURL,
		&rec.RetrievalMethod, &rec.Confidence, &rec.ContentHash, &rec.RetrievedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ProvenanceRecord{}, false, nil
	}
	if err != nil {
		return storage.ProvenanceRecord{}, false, fmt.Errorf("get provenance %s/%s/%s: %w", entityID, sourceID, fieldName, err)
	}
	return rec, true, nil
}

// DeleteExpiredProvenance removes facts whose trust window has passed.
func (s *Store) DeleteExpiredProvenance(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM provenance WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired provenance: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
