// Package ratelimit enforces per-source minimum spacing between requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinoscout/sourcegate/internal/govern"
	"github.com/vinoscout/sourcegate/internal/telemetry"
)

// Config holds spacing defaults. Resolution order for a source is: explicit
// override on the Source, then PerSource, then the lens default, then Default.
type Config struct {
	Default   time.Duration
	PerLens   map[govern.Lens]time.Duration
	PerSource map[string]time.Duration
}

// Limiter manages one token-bucket limiter per source, configured for burst 1
// so consecutive grants are never closer than the resolved spacing. Waiters
// on the same source are served in reservation order.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// Delay resolves the effective minimum spacing for src.
func (l *Limiter) Delay(src govern.Source) time.Duration {
	if src.RateLimit > 0 {
		return src.RateLimit
	}
	if d, ok := l.cfg.PerSource[src.ID]; ok && d > 0 {
		return d
	}
	if d, ok := l.cfg.PerLens[src.Lens]; ok && d > 0 {
		return d
	}
	return l.cfg.Default
}

// Wait blocks until src may be called again, then stamps the request. The
// spacing invariant holds under concurrent callers because each caller takes
// a reservation before suspending.
func (l *Limiter) Wait(ctx context.Context, src govern.Source) error {
	limiter := l.limiterFor(src)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", src.ID, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(src.ID, waited)
	}
	return nil
}

// Check reports whether a call to src would proceed without waiting. It does
// not consume the slot.
func (l *Limiter) Check(src govern.Source) bool {
	return l.limiterFor(src).Tokens() >= 1
}

// EnsureDelay widens the spacing for one source when d exceeds what is
// currently in effect. Used to honor robots.txt crawl-delay directives
// without ever loosening a configured limit.
func (l *Limiter) EnsureDelay(src govern.Source, d time.Duration) {
	if d <= 0 {
		return
	}
	limiter := l.limiterFor(src)
	l.mu.Lock()
	defer l.mu.Unlock()
	want := rate.Every(d)
	if want < limiter.Limit() {
		limiter.SetLimit(want)
	}
}

// Reset clears the spacing state for one source.
func (l *Limiter) Reset(sourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, sourceID)
}

// ResetAll clears every source. Test and recovery use only.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}

func (l *Limiter) limiterFor(src govern.Source) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[src.ID]; ok {
		return limiter
	}
	delay := l.Delay(src)
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter := rate.NewLimiter(limit, 1)
	l.limiters[src.ID] = limiter
	return limiter
}
