package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinoscout/sourcegate/internal/govern"
)

func TestLimiter_EnforcesSpacing(t *testing.T) {
	t.Parallel()
	l := New(Config{Default: 100 * time.Millisecond})
	src := govern.Source{ID: "decanter.com", Lens: govern.LensCritic}
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, src))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, src))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_SourcesIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{Default: time.Second})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, govern.Source{ID: "a.com"}))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, govern.Source{ID: "b.com"}))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_DelayResolution(t *testing.T) {
	t.Parallel()
	l := New(Config{
		Default: time.Second,
		PerLens: map[govern.Lens]time.Duration{
			govern.LensCommunity: 2 * time.Second,
		},
		PerSource: map[string]time.Duration{
			"cellartracker.com": 3 * time.Second,
		},
	})

	// Explicit override on the source wins over everything.
	require.Equal(t, 500*time.Millisecond, l.Delay(govern.Source{
		ID: "cellartracker.com", Lens: govern.LensCommunity, RateLimit: 500 * time.Millisecond,
	}))
	// Configured per-source beats lens default.
	require.Equal(t, 3*time.Second, l.Delay(govern.Source{
		ID: "cellartracker.com", Lens: govern.LensCommunity,
	}))
	// Lens default beats global.
	require.Equal(t, 2*time.Second, l.Delay(govern.Source{
		ID: "other.com", Lens: govern.LensCommunity,
	}))
	// Global fallback.
	require.Equal(t, time.Second, l.Delay(govern.Source{ID: "other.com"}))
}

func TestLimiter_CheckDoesNotConsume(t *testing.T) {
	t.Parallel()
	l := New(Config{Default: 100 * time.Millisecond})
	src := govern.Source{ID: "vivino.com"}

	require.True(t, l.Check(src))
	require.True(t, l.Check(src))

	require.NoError(t, l.Wait(context.Background(), src))
	require.False(t, l.Check(src))
}

func TestLimiter_Reset(t *testing.T) {
	t.Parallel()
	l := New(Config{Default: time.Minute})
	src := govern.Source{ID: "jancisrobinson.com"}
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, src))
	require.False(t, l.Check(src))

	l.Reset(src.ID)
	require.True(t, l.Check(src))

	require.NoError(t, l.Wait(ctx, src))
	l.ResetAll()
	require.True(t, l.Check(src))
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()
	l := New(Config{Default: time.Minute})
	src := govern.Source{ID: "slow.com"}

	require.NoError(t, l.Wait(context.Background(), src))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, src)
	require.Error(t, err)
}

func TestLimiter_EnsureDelayOnlyWidens(t *testing.T) {
	t.Parallel()
	l := New(Config{Default: 50 * time.Millisecond})
	src := govern.Source{ID: "chateau.example"}
	ctx := context.Background()

	// A crawl-delay wider than the configured spacing takes effect.
	l.EnsureDelay(src, 150*time.Millisecond)
	require.NoError(t, l.Wait(ctx, src))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, src))
	require.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)

	// A narrower value never loosens the limit in effect.
	l.EnsureDelay(src, time.Millisecond)
	start = time.Now()
	require.NoError(t, l.Wait(ctx, src))
	require.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}
