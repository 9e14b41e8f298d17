package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/clock/system"
	"github.com/vinoscout/sourcegate/internal/hash/sha256"
	"github.com/vinoscout/sourcegate/internal/id/uuid"
	"github.com/vinoscout/sourcegate/internal/policy/circuit"
	"github.com/vinoscout/sourcegate/internal/policy/robots"
	"github.com/vinoscout/sourcegate/internal/policy/semaphore"
	"github.com/vinoscout/sourcegate/internal/provenance"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	clk := system.New()
	hasher := sha256.New()
	sem := semaphore.New(2)
	circuits := circuit.NewRegistry(circuit.Options{FailureThreshold: 2}, clk, zap.NewNop())
	robotsGov := robots.NewGovernor(robots.Options{}, store, sem, hasher, clk, zap.NewNop())
	ledger := provenance.NewLedger(store, provenance.TTLTable{}, hasher, uuid.NewGenerator(), clk, zap.NewNop())
	return NewServer(circuits, robotsGov, ledger, sem, zap.NewNop()), store
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Circuits(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	server.circuits.RecordFailure("vivino.com", context.DeadlineExceeded)
	server.circuits.RecordFailure("vivino.com", context.DeadlineExceeded)

	req := httptest.NewRequest(http.MethodGet, "/v1/circuits", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "vivino.com")
	require.Contains(t, rec.Body.String(), "open")
}

func TestServer_RobotsCheck(t *testing.T) {
	t.Parallel()
	server, store := newTestServer(t)

	// Seed a cached ruleset so no network fetch happens.
	now := time.Now()
	err := store.UpsertRobots(context.Background(), storage.RobotsRecord{
		Domain:      "decanter.com",
		Body:        []byte("User-agent: *\nDisallow: /private\n"),
		FetchStatus: storage.RobotsFetchSuccess,
		HTTPStatus:  200,
		FetchedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/robots/check?domain=decanter.com&path=/private/x", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"allowed":false`)

	req = httptest.NewRequest(http.MethodGet, "/v1/robots/check?domain=decanter.com&path=/wines", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"allowed":true`)
}

func TestServer_RobotsCheckMissingParams(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/robots/check?domain=decanter.com", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProvenancePurge(t *testing.T) {
	t.Parallel()
	server, store := newTestServer(t)

	err := store.UpsertProvenance(context.Background(), storage.ProvenanceRecord{
		ID: "r1", EntityID: "w1", SourceID: "a.com", FieldName: "price",
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/provenance/purge", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"removed":1`)
}

func TestServer_Semaphore(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/semaphore", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
