package provenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinoscout/sourcegate/internal/hash/sha256"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	n int
}

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return string(rune('a' + g.n - 1)), nil
}

// failingStore injects errors on the read and delete paths.
type failingStore struct {
	storage.ProvenanceStore
	err error
}

func (s *failingStore) GetProvenance(ctx context.Context, entityID, sourceID, fieldName string) (storage.ProvenanceRecord, bool, error) {
	return storage.ProvenanceRecord{}, false, s.err
}

func (s *failingStore) DeleteExpiredProvenance(ctx context.Context, now time.Time) (int, error) {
	return 0, s.err
}

func newLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	ttl := TTLTable{
		PerField: map[string]time.Duration{"tasting_notes": 24 * time.Hour},
		Default:  7 * 24 * time.Hour,
	}
	return NewLedger(memory.New(), ttl, sha256.New(), &seqIDs{}, clk, nil), clk
}

func TestTTLTable_Resolution(t *testing.T) {
	t.Parallel()
	ttl := TTLTable{
		PerField: map[string]time.Duration{"price": time.Hour},
		Default:  48 * time.Hour,
	}
	require.Equal(t, time.Hour, ttl.For("price"))
	require.Equal(t, 48*time.Hour, ttl.For("region"))
	require.Equal(t, defaultTTL, TTLTable{}.For("anything"))
}

func TestLedger_RecordAndFreshness(t *testing.T) {
	t.Parallel()
	l, clk := newLedger(t)
	ctx := context.Background()

	rec, err := l.Record(ctx, Fact{
		EntityID:   "wine-123",
		FieldName:  "tasting_notes",
		SourceID:   "decanter.com",
		SourceURL:  "https://decanter.com/wine/123",
		Method:     MethodScrape,
		Confidence: 0.9,
		Payload:    []byte("blackcurrant, cedar"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.NotEmpty(t, rec.ContentHash)
	require.Equal(t, clk.now.Add(24*time.Hour), rec.ExpiresAt)

	require.True(t, l.HasFreshData(ctx, "wine-123", "decanter.com", "tasting_notes"))
	require.False(t, l.HasFreshData(ctx, "wine-123", "vivino.com", "tasting_notes"))

	// Past the field TTL the fact is no longer trusted.
	clk.now = clk.now.Add(25 * time.Hour)
	require.False(t, l.HasFreshData(ctx, "wine-123", "decanter.com", "tasting_notes"))
}

func TestLedger_RecordValidation(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(t)
	ctx := context.Background()

	base := Fact{
		EntityID:   "wine-1",
		FieldName:  "price",
		SourceID:   "wine-searcher.com",
		Method:     MethodAPI,
		Confidence: 0.7,
	}

	bad := base
	bad.Method = Method("telepathy")
	_, err := l.Record(ctx, bad)
	require.Error(t, err)

	bad = base
	bad.Confidence = 1.3
	_, err = l.Record(ctx, bad)
	require.Error(t, err)

	bad = base
	bad.FieldName = ""
	_, err = l.Record(ctx, bad)
	require.Error(t, err)
}

func TestLedger_HasContentChanged(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(t)
	ctx := context.Background()

	payload := []byte(`{"score": 93}`)
	_, err := l.Record(ctx, Fact{
		EntityID:   "wine-9",
		FieldName:  "critic_score",
		SourceID:   "jancisrobinson.com",
		Method:     MethodScrape,
		Confidence: 0.95,
		Payload:    payload,
	})
	require.NoError(t, err)

	require.False(t, l.HasContentChanged(ctx, "wine-9", "jancisrobinson.com", "critic_score", payload))
	require.True(t, l.HasContentChanged(ctx, "wine-9", "jancisrobinson.com", "critic_score", []byte(`{"score": 94}`)))

	// Unknown key counts as changed.
	require.True(t, l.HasContentChanged(ctx, "wine-9", "vivino.com", "critic_score", payload))
}

func TestLedger_UpsertReplacesByKey(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(t)
	ctx := context.Background()

	fact := Fact{
		EntityID:   "wine-5",
		FieldName:  "price",
		SourceID:   "wine-searcher.com",
		Method:     MethodAPI,
		Confidence: 0.6,
		Payload:    []byte("42.00"),
	}
	_, err := l.Record(ctx, fact)
	require.NoError(t, err)

	fact.Confidence = 0.8
	fact.Payload = []byte("44.00")
	_, err = l.Record(ctx, fact)
	require.NoError(t, err)

	rec, ok, err := l.Get(ctx, "wine-5", "wine-searcher.com", "price")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.8, rec.Confidence)
	require.False(t, l.HasContentChanged(ctx, "wine-5", "wine-searcher.com", "price", []byte("44.00")))
}

func TestLedger_DegradesOnStoreErrors(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Now()}
	broken := &failingStore{err: errors.New("disk on fire")}
	l := NewLedger(broken, TTLTable{}, sha256.New(), &seqIDs{}, clk, nil)
	ctx := context.Background()

	require.False(t, l.HasFreshData(ctx, "e", "s", "f"))
	require.True(t, l.HasContentChanged(ctx, "e", "s", "f", []byte("x")))

	_, err := l.PurgeExpired(ctx)
	require.Error(t, err)
}

func TestLedger_PurgeExpired(t *testing.T) {
	t.Parallel()
	l, clk := newLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, Fact{
		EntityID: "wine-1", FieldName: "tasting_notes", SourceID: "a.com",
		Method: MethodScrape, Confidence: 0.9, Payload: []byte("x"),
	})
	require.NoError(t, err)
	_, err = l.Record(ctx, Fact{
		EntityID: "wine-1", FieldName: "region", SourceID: "a.com",
		Method: MethodScrape, Confidence: 0.9, Payload: []byte("y"),
	})
	require.NoError(t, err)

	// Only the 24h field expires.
	clk.now = clk.now.Add(48 * time.Hour)
	removed, err := l.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.True(t, l.HasFreshData(ctx, "wine-1", "a.com", "region"))
}
