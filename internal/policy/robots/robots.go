// Package robots implements crawl-exclusion governance. It fetches, parses,
// and caches robots.txt per domain, applying the status-code semantics of the
// exclusion protocol: 2xx rules are honored, 4xx means no restrictions, and
// server or network failure falls back to the last good cache or, absent one,
// denies everything.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/clock"
	"github.com/vinoscout/sourcegate/internal/policy/semaphore"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/telemetry"
)

// Options tunes fetching and caching. Zero values fall back to defaults.
type Options struct {
	UserAgent         string
	CacheTTL          time.Duration
	NotFoundTTL       time.Duration
	DefaultCrawlDelay time.Duration
	MaxRedirects      int
	MaxBodySize       int64
	FetchTimeout      time.Duration
}

const (
	defaultUserAgent   = "sourcegate/1.0 (+https://github.com/vinoscout/sourcegate)"
	defaultCacheTTL    = 24 * time.Hour
	defaultNotFoundTTL = 6 * time.Hour
	defaultCrawlDelay  = 2 * time.Second
	defaultRedirects   = 5
	defaultMaxBody     = 512 * 1024
	defaultTimeout     = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaultCacheTTL
	}
	if o.NotFoundTTL <= 0 {
		o.NotFoundTTL = defaultNotFoundTTL
	}
	if o.DefaultCrawlDelay <= 0 {
		o.DefaultCrawlDelay = defaultCrawlDelay
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = defaultRedirects
	}
	if o.MaxBodySize <= 0 {
		o.MaxBodySize = defaultMaxBody
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultTimeout
	}
	return o
}

// Hasher digests robots.txt bodies for change detection across refetches.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Decision is the answer for one (domain, path) query. Reason explains denial
// and fallback branches so skipped fetches can be audited.
type Decision struct {
	Allowed    bool
	CrawlDelay time.Duration
	Reason     string
}

// Governor decides per-path crawl permission backed by a persisted cache.
type Governor struct {
	opts   Options
	client *http.Client
	store  storage.RobotsStore
	clk    clock.Clock
	sem    *semaphore.Semaphore
	hasher Hasher
	logger *zap.Logger

	mu     sync.Mutex
	parsed map[string]parsedEntry
}

type parsedEntry struct {
	hash string
	data *robotstxt.RobotsData
}

// NewGovernor builds a Governor. The semaphore is mandatory: robots fetches
// count against the same global fetch cap as content fetches.
func NewGovernor(opts Options, store storage.RobotsStore, sem *semaphore.Semaphore, hasher Hasher, clk clock.Clock, logger *zap.Logger) *Governor {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		opts:   opts,
		store:  store,
		clk:    clk,
		sem:    sem,
		hasher: hasher,
		logger: logger,
		parsed: make(map[string]parsedEntry),
	}
	g.client = &http.Client{
		Timeout: opts.FetchTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
			}
			return nil
		},
	}
	return g
}

// IsPathAllowed reports whether path on domain may be fetched, with the
// effective crawl delay and the reason for the decision.
func (g *Governor) IsPathAllowed(ctx context.Context, domain, path string) (Decision, error) {
	if path == "" {
		path = "/"
	}
	rec, err := g.entry(ctx, domain)
	if err != nil {
		return Decision{}, err
	}
	return g.decide(domain, path, rec), nil
}

// Sitemaps returns the sitemap URLs listed for domain, if its rules were
// fetched successfully.
func (g *Governor) Sitemaps(ctx context.Context, domain string) ([]string, error) {
	rec, err := g.entry(ctx, domain)
	if err != nil {
		return nil, err
	}
	if rec.FetchStatus != storage.RobotsFetchSuccess {
		return nil, nil
	}
	data, err := g.parse(domain, rec)
	if err != nil {
		return nil, err
	}
	return data.Sitemaps, nil
}

// entry returns a usable cache record for domain, fetching when the cache is
// missing or expired. Store read failures degrade to a fetch attempt.
func (g *Governor) entry(ctx context.Context, domain string) (storage.RobotsRecord, error) {
	domain = strings.ToLower(domain)
	now := g.clk.Now()

	prior, havePrior, err := g.store.GetRobots(ctx, domain)
	if err != nil {
		g.logger.Warn("robots cache read failed", zap.String("domain", domain), zap.Error(err))
		havePrior = false
	}
	if havePrior && !prior.Expired(now) {
		return prior, nil
	}

	rec, fetchErr := g.fetch(ctx, domain, prior, havePrior)
	if fetchErr != nil {
		return storage.RobotsRecord{}, fetchErr
	}
	if err := g.store.UpsertRobots(ctx, rec); err != nil {
		// Cache write trouble must not block the decision.
		g.logger.Warn("robots cache write failed", zap.String("domain", domain), zap.Error(err))
	}
	return rec, nil
}

// fetch retrieves robots.txt and folds the outcome into a cache record,
// applying stale-if-error against the prior entry.
func (g *Governor) fetch(ctx context.Context, domain string, prior storage.RobotsRecord, havePrior bool) (storage.RobotsRecord, error) {
	now := g.clk.Now()
	rec := storage.RobotsRecord{
		Domain:     domain,
		FetchCount: prior.FetchCount + 1,
		ErrorCount: prior.ErrorCount,
		FetchedAt:  now,
	}

	var (
		status int
		body   []byte
	)
	err := g.sem.Do(ctx, func(ctx context.Context) error {
		var ferr error
		status, body, ferr = g.doFetch(ctx, domain)
		return ferr
	})
	if ctx.Err() != nil {
		return storage.RobotsRecord{}, fmt.Errorf("robots fetch for %s: %w", domain, ctx.Err())
	}

	switch {
	case err != nil:
		telemetry.ObserveRobotsFetch(storage.RobotsFetchUnreachable)
		rec.FetchStatus = storage.RobotsFetchUnreachable
		rec.ErrorCount++
		rec.LastError = err.Error()
		rec.ExpiresAt = now.Add(g.opts.NotFoundTTL)
		g.logger.Warn("robots fetch failed", zap.String("domain", domain), zap.Error(err))
		return g.applyStaleIfError(rec, prior, havePrior, now), nil

	case status >= 500:
		telemetry.ObserveRobotsFetch(storage.RobotsFetchServerError)
		rec.FetchStatus = storage.RobotsFetchServerError
		rec.HTTPStatus = status
		rec.ErrorCount++
		rec.LastError = fmt.Sprintf("http status %d", status)
		rec.ExpiresAt = now.Add(g.opts.NotFoundTTL)
		return g.applyStaleIfError(rec, prior, havePrior, now), nil

	case status >= 400:
		// The exclusion protocol treats an absent robots.txt as permission.
		telemetry.ObserveRobotsFetch(storage.RobotsFetchNotFound)
		rec.FetchStatus = storage.RobotsFetchNotFound
		rec.HTTPStatus = status
		rec.ExpiresAt = now.Add(g.opts.NotFoundTTL)
		return rec, nil

	default:
		if _, perr := robotstxt.FromBytes(body); perr != nil {
			telemetry.ObserveRobotsFetch(storage.RobotsFetchServerError)
			rec.FetchStatus = storage.RobotsFetchServerError
			rec.HTTPStatus = status
			rec.ErrorCount++
			rec.LastError = fmt.Sprintf("parse robots: %v", perr)
			rec.ExpiresAt = now.Add(g.opts.NotFoundTTL)
			return g.applyStaleIfError(rec, prior, havePrior, now), nil
		}
		telemetry.ObserveRobotsFetch(storage.RobotsFetchSuccess)
		rec.FetchStatus = storage.RobotsFetchSuccess
		rec.HTTPStatus = status
		rec.Body = body
		if hash, herr := g.hasher.Hash(body); herr == nil {
			rec.ContentHash = hash
		}
		rec.ExpiresAt = now.Add(g.opts.CacheTTL)
		return rec, nil
	}
}

func (g *Governor) doFetch(ctx context.Context, domain string) (int, []byte, error) {
	robotsURL := "https://" + domain + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.opts.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.opts.MaxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// applyStaleIfError keeps the prior successful ruleset alive when the current
// fetch failed. Without one, the failure entry stands and decide() fails closed.
func (g *Governor) applyStaleIfError(rec, prior storage.RobotsRecord, havePrior bool, now time.Time) storage.RobotsRecord {
	if havePrior && prior.FetchStatus == storage.RobotsFetchSuccess {
		stale := prior
		stale.FetchCount = rec.FetchCount
		stale.ErrorCount = rec.ErrorCount
		stale.LastError = rec.LastError
		stale.FetchedAt = now
		stale.ExpiresAt = now.Add(g.opts.NotFoundTTL)
		g.logger.Info("serving stale robots rules after fetch failure",
			zap.String("domain", rec.Domain))
		return stale
	}
	return rec
}

func (g *Governor) decide(domain, path string, rec storage.RobotsRecord) Decision {
	switch rec.FetchStatus {
	case storage.RobotsFetchNotFound:
		return Decision{
			Allowed:    true,
			CrawlDelay: g.opts.DefaultCrawlDelay,
			Reason:     fmt.Sprintf("robots.txt returned %d: no restrictions", rec.HTTPStatus),
		}
	case storage.RobotsFetchServerError, storage.RobotsFetchUnreachable:
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("robots.txt unavailable (%s) and no prior rules cached: disallow all", rec.FetchStatus),
		}
	case storage.RobotsFetchSuccess:
		data, err := g.parse(domain, rec)
		if err != nil {
			return Decision{Allowed: false, Reason: fmt.Sprintf("robots rules unreadable: %v", err)}
		}
		group := data.FindGroup(g.opts.UserAgent)
		delay := g.opts.DefaultCrawlDelay
		if group != nil && group.CrawlDelay > 0 {
			delay = group.CrawlDelay
		}
		if group == nil || group.Test(path) {
			return Decision{Allowed: true, CrawlDelay: delay, Reason: "allowed by robots rules"}
		}
		return Decision{Allowed: false, CrawlDelay: delay, Reason: fmt.Sprintf("path %s disallowed by robots rules", path)}
	default:
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown robots fetch status %q", rec.FetchStatus)}
	}
}

// parse returns the parsed ruleset for rec, reusing the in-memory parse when
// the cached body is unchanged.
func (g *Governor) parse(domain string, rec storage.RobotsRecord) (*robotstxt.RobotsData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.parsed[domain]; ok && entry.hash == rec.ContentHash {
		return entry.data, nil
	}
	data, err := robotstxt.FromBytes(rec.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots for %s: %w", domain, err)
	}
	g.parsed[domain] = parsedEntry{hash: rec.ContentHash, data: data}
	return data, nil
}
