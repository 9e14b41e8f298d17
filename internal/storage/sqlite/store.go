// Package sqlite provides the default single-file persistent store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/vinoscout/sourcegate/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS robots_cache (
	domain        TEXT PRIMARY KEY,
	body          BLOB,
	fetch_status  TEXT NOT NULL,
	http_status   INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL DEFAULT '',
	fetch_count   INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	fetched_at    TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance (
	id               TEXT NOT NULL,
	entity_id        TEXT NOT NULL DEFAULT '',
	field_name       TEXT NOT NULL,
	source_id        TEXT NOT NULL,
	source_url       TEXT NOT NULL DEFAULT '',
	retrieval_method TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 0,
	content_hash     TEXT NOT NULL DEFAULT '',
	retrieved_at     TIMESTAMP NOT NULL,
	expires_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (entity_id, source_id, field_name)
);

CREATE INDEX IF NOT EXISTS idx_provenance_expires ON provenance (expires_at);
`

// Store persists governance state in a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at dataDir/sourcegate.db.
// If dataDir is empty it defaults to ~/.sourcegate/data.
func New(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sourcegate", "data")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "sourcegate.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// UpsertRobots writes or replaces the cache entry for rec.Domain.
func (s *Store) UpsertRobots(ctx context.Context, rec storage.RobotsRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO robots_cache (domain, body, fetch_status, http_status, content_hash,
	fetch_count, error_count, last_error, fetched_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(domain) DO UPDATE SET
	body = excluded.body,
	fetch_status = excluded.fetch_status,
	http_status = excluded.http_status,
	content_hash = excluded.content_hash,
	fetch_count = excluded.fetch_count,
	error_count = excluded.error_count,
	last_error = excluded.last_error,
	fetched_at = excluded.fetched_at,
	expires_at = excluded.expires_at`,
		rec.Domain, rec.Body, rec.FetchStatus, rec.HTTPStatus, rec.ContentHash,
		rec.FetchCount, rec.ErrorCount, rec.LastError, rec.FetchedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert robots %q: %w", rec.Domain, err)
	}
	return nil
}

// GetRobots loads the cache entry for domain.
func (s *Store) GetRobots(ctx context.Context, domain string) (storage.RobotsRecord, bool, error) {
	var rec storage.RobotsRecord
	row := s.db.QueryRowContext(ctx, `
SELECT domain, body, fetch_status, http_status, content_hash,
	fetch_count, error_count, last_error, fetched_at, expires_at
FROM robots_cache WHERE domain = ?`, domain)
	err := row.Scan(&rec.Domain, &rec.Body, &rec.FetchStatus, &rec.HTTPStatus, &rec.ContentHash,
		&rec.FetchCount, &rec.ErrorCount, &rec.LastError, &rec.FetchedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RobotsRecord{}, false, nil
	}
	if err != nil {
		return storage.RobotsRecord{}, false, fmt.Errorf("get robots %q: %w", domain, err)
	}
	return rec, true, nil
}

// UpsertProvenance writes or replaces the fact keyed by (entity, source, field).
func (s *Store) UpsertProvenance(ctx context.Context, rec storage.ProvenanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO provenance (id, entity_id, field_name, source_id, source_url,
	retrieval_method, confidence, content_hash, retrieved_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_id, source_id, field_name) DO UPDATE SET
	id = excluded.id,
	source_url = excluded.source_url,
	retrieval_method = excluded.retrieval_method,
	confidence = excluded.confidence,
	content_hash = excluded.content_hash,
	retrieved_at = excluded.retrieved_at,
	expires_at = excluded.expires_at`,
		rec.ID, rec.EntityID, rec.FieldName, rec.SourceID, rec.SourceURL,
		rec.RetrievalMethod, rec.Confidence, rec.ContentHash, rec.RetrievedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert provenance %s/%s/%s: %w", rec.EntityID, rec.SourceID, rec.FieldName, err)
	}
	return nil
}

// GetProvenance loads the fact for the key.
func (s *Store) GetProvenance(ctx context.Context, entityID, sourceID, fieldName string) (storage.ProvenanceRecord, bool, error) {
	var rec storage.ProvenanceRecord
	row := s.db.QueryRowContext(ctx, `
SELECT id, entity_id, field_name, source_id, source_url,
	retrieval_method, confidence, content_hash, retrieved_at, expires_at
FROM provenance WHERE entity_id = ? AND source_id = ? AND field_name = ?`,
		entityID, sourceID, fieldName)
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.FieldName, &rec.SourceID, &rec.SourceURL,
		&rec.RetrievalMethod, &rec.Confidence, &rec.ContentHash, &rec.RetrievedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProvenanceRecord{}, false, nil
	}
	if err != nil {
		return storage.ProvenanceRecord{}, false, fmt.Errorf("get provenance %s/%s/%s: %w", entityID, sourceID, fieldName, err)
	}
	return rec, true, nil
}

// DeleteExpiredProvenance removes facts whose trust window has passed.
func (s *Store) DeleteExpiredProvenance(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM provenance WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired provenance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
