package robots

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/hash/sha256"
	"github.com/vinoscout/sourcegate/internal/policy/semaphore"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	status int
	body   string
	err    error
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) set(status int, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.body = body
	f.err = err
}

func newTestGovernor(t *testing.T, transport *fakeTransport) (*Governor, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.New()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGovernor(Options{
		CacheTTL:          24 * time.Hour,
		NotFoundTTL:       time.Hour,
		DefaultCrawlDelay: 2 * time.Second,
	}, store, semaphore.New(4), sha256.New(), clk, zap.NewNop())
	g.client = &http.Client{Transport: transport}
	return g, store, clk
}

const rulesWithOverride = "User-agent: *\nCrawl-delay: 1.5\nDisallow: /private\nAllow: /private/public\n"

func TestGovernor_LongestMatchWins(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{status: 200, body: rulesWithOverride}
	g, _, _ := newTestGovernor(t, transport)
	ctx := context.Background()

	dec, err := g.IsPathAllowed(ctx, "vivino.com", "/private/public/page")
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	dec, err = g.IsPathAllowed(ctx, "vivino.com", "/private/other")
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	require.Contains(t, dec.Reason, "disallowed")
}

func TestGovernor_CrawlDelayFromRules(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{status: 200, body: rulesWithOverride}
	g, _, _ := newTestGovernor(t, transport)

	dec, err := g.IsPathAllowed(context.Background(), "vivino.com", "/wines")
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	require.Equal(t, 1500*time.Millisecond, dec.CrawlDelay)
}

func TestGovernor_NotFoundAllowsAll(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{status: 404}
	g, _, _ := newTestGovernor(t, transport)

	dec, err := g.IsPathAllowed(context.Background(), "smallwinery.example", "/anything")
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	require.Contains(t, dec.Reason, "404")
	require.Equal(t, 2*time.Second, dec.CrawlDelay)
}

func TestGovernor_UnreachableNoCacheFailsClosed(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{err: errors.New("dial tcp: i/o timeout")}
	g, _, _ := newTestGovernor(t, transport)

	dec, err := g.IsPathAllowed(context.Background(), "dead.example", "/")
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	require.Contains(t, dec.Reason, "disallow all")
}

func TestGovernor_StaleIfError(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{status: 200, body: rulesWithOverride}
	g, store, clk := newTestGovernor(t, transport)
	ctx := context.Background()

	dec, err := g.IsPathAllowed(ctx, "vivino.com", "/private/public/page")
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	// Entry expires; the refetch hits a 503. The old ruleset must keep
	// serving decisions.
	clk.Advance(25 * time.Hour)
	transport.set(503, "", nil)

	dec, err = g.IsPathAllowed(ctx, "vivino.com", "/private/other")
	require.NoError(t, err)
	require.False(t, dec.Allowed)

	rec, ok, err := store.GetRobots(ctx, "vivino.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, storage.RobotsFetchSuccess, rec.FetchStatus)
	require.Equal(t, 1, rec.ErrorCount)
	require.Equal(t, 2, rec.FetchCount)
}

func TestGovernor_CacheAvoidsRefetch(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{status: 200, body: rulesWithOverride}
	g, _, _ := newTestGovernor(t, transport)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.IsPathAllowed(ctx, "vivino.com", "/wines")
		require.NoError(t, err)
	}
	require.Equal(t, 1, transport.callCount())
}

func TestGovernor_AgentSpecificGroup(t *testing.T) {
	t.Parallel()
	body := "User-agent: sourcegate\nDisallow: /members\n\nUser-agent: *\nDisallow: /\n"
	transport := &fakeTransport{status: 200, body: body}
	g, _, _ := newTestGovernor(t, transport)
	ctx := context.Background()

	// Our agent token matches the specific section, not the deny-all wildcard.
	dec, err := g.IsPathAllowed(ctx, "critics.example", "/reviews")
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	dec, err = g.IsPathAllowed(ctx, "critics.example", "/members/area")
	require.NoError(t, err)
	require.False(t, dec.Allowed)
}

func TestGovernor_Sitemaps(t *testing.T) {
	t.Parallel()
	body := "User-agent: *\nDisallow:\nSitemap: https://vivino.com/sitemap.xml\n"
	transport := &fakeTransport{status: 200, body: body}
	g, _, _ := newTestGovernor(t, transport)

	maps, err := g.Sitemaps(context.Background(), "vivino.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://vivino.com/sitemap.xml"}, maps)
}
