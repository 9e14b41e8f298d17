package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vinoscout/sourcegate/internal/storage"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestUpsertRobotsInsertsRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rec := storage.RobotsRecord{
		Domain:      "vivino.com",
		Body:        []byte("User-agent: *\nDisallow: /checkout\n"),
		FetchStatus: storage.RobotsFetchSuccess,
		HTTPStatus:  200,
		ContentHash: "abc123",
		FetchCount:  1,
		FetchedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}

	mock.ExpectExec("INSERT INTO robots_cache").
		WithArgs(
			rec.Domain,
			rec.Body,
			rec.FetchStatus,
			rec.HTTPStatus,
			rec.ContentHash,
			rec.FetchCount,
			rec.ErrorCount,
			rec.LastError,
			rec.FetchedAt,
			rec.ExpiresAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertRobots(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRobotsMissingDomain(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM robots_cache").
		WithArgs("unknown.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"domain", "body", "fetch_status", "http_status", "content_hash",
			"fetch_count", "error_count", "last_error", "fetched_at", "expires_at",
		}))

	_, ok, err := store.GetRobots(context.Background(), "unknown.com")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProvenanceScansRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "entity_id", "field_name", "source_id", "source_url",
		"retrieval_method", "confidence", "content_hash", "retrieved_at", "expires_at",
	}).AddRow(
		"rec-1", "wine-42", "rating", "decanter.com", "https://decanter.com/wine/42",
		"scrape", 0.9, "hash-1", now, now.Add(30*24*time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM provenance").
		WithArgs("wine-42", "decanter.com", "rating").
		WillReturnRows(rows)

	rec, ok, err := store.GetProvenance(context.Background(), "wine-42", "decanter.com", "rating")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "rec-1", rec.ID)
	require.Equal(t, "scrape", rec.RetrievalMethod)
	require.True(t, rec.Fresh(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredProvenance(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("DELETE FROM provenance").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := store.DeleteExpiredProvenance(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 3, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil)
	require.Error(t, err)
}
