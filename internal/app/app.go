// Package app initializes and holds the long-lived services of the process,
// acting as the dependency injection container the commands pull from.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/clock"
	"github.com/vinoscout/sourcegate/internal/clock/system"
	"github.com/vinoscout/sourcegate/internal/config"
	"github.com/vinoscout/sourcegate/internal/govern"
	"github.com/vinoscout/sourcegate/internal/hash/sha256"
	"github.com/vinoscout/sourcegate/internal/id/uuid"
	"github.com/vinoscout/sourcegate/internal/logging"
	"github.com/vinoscout/sourcegate/internal/policy/circuit"
	"github.com/vinoscout/sourcegate/internal/policy/ratelimit"
	"github.com/vinoscout/sourcegate/internal/policy/robots"
	"github.com/vinoscout/sourcegate/internal/policy/semaphore"
	"github.com/vinoscout/sourcegate/internal/provenance"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/storage/memory"
	"github.com/vinoscout/sourcegate/internal/storage/postgres"
	"github.com/vinoscout/sourcegate/internal/storage/sqlite"
)

// App holds every shared service: the store, the policy components, and the
// gate composed from them. Built once at startup, closed once at shutdown.
type App struct {
	Cfg      config.Config
	Logger   *zap.Logger
	Store    storage.Store
	Clock    clock.Clock
	Circuits *circuit.Registry
	Limiter  *ratelimit.Limiter
	Sem      *semaphore.Semaphore
	Robots   *robots.Governor
	Ledger   *provenance.Ledger
	Gate     *govern.Gate
}

// New builds the full service graph from cfg, failing fast when any piece
// cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage (%s): %w", cfg.Storage.Backend, err)
	}
	logger.Info("storage ready", zap.String("backend", cfg.Storage.Backend))

	clk := system.New()
	hasher := sha256.New()

	sem := semaphore.New(cfg.Governance.Concurrency)
	limiter := ratelimit.New(rateLimitConfig(cfg.Governance.RateLimits))
	circuits := circuit.NewRegistry(circuit.Options{
		FailureThreshold: cfg.Governance.CircuitThreshold,
		Cooldown:         time.Duration(cfg.Governance.CircuitCooldownSec) * time.Second,
	}, clk, logger)

	robotsGov := robots.NewGovernor(robots.Options{
		UserAgent:         cfg.Robots.UserAgent,
		CacheTTL:          time.Duration(cfg.Robots.CacheTTLHours) * time.Hour,
		NotFoundTTL:       time.Duration(cfg.Robots.NotFoundTTLHours) * time.Hour,
		DefaultCrawlDelay: time.Duration(cfg.Robots.DefaultCrawlDelayMs) * time.Millisecond,
		MaxRedirects:      cfg.Robots.MaxRedirects,
		MaxBodySize:       int64(cfg.Robots.MaxBodyKB) * 1024,
		FetchTimeout:      time.Duration(cfg.Robots.FetchTimeoutSeconds) * time.Second,
	}, store, sem, hasher, clk, logger)

	ledger := provenance.NewLedger(store, ttlTable(cfg.Provenance), hasher, uuid.NewGenerator(), clk, logger)

	gate := govern.NewGate(govern.GateOptions{
		CallTimeout: time.Duration(cfg.Governance.CallTimeoutSeconds) * time.Second,
	}, circuits, limiter, robotsGov, ledger, sem, logger)

	logger.Info("governance services initialized",
		zap.Int("concurrency", cfg.Governance.Concurrency),
		zap.Int("circuit_threshold", cfg.Governance.CircuitThreshold),
	)

	return &App{
		Cfg:      cfg,
		Logger:   logger,
		Store:    store,
		Clock:    clk,
		Circuits: circuits,
		Limiter:  limiter,
		Sem:      sem,
		Robots:   robotsGov,
		Ledger:   ledger,
		Gate:     gate,
	}, nil
}

// Close releases held resources.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("closing store", zap.Error(err))
	}
	_ = a.Logger.Sync() //nolint:errcheck // best-effort flush
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: time.Duration(cfg.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func rateLimitConfig(cfg config.RateLimitConfig) ratelimit.Config {
	out := ratelimit.Config{
		Default:   time.Duration(cfg.DefaultMs) * time.Millisecond,
		PerLens:   make(map[govern.Lens]time.Duration, len(cfg.PerLensMs)),
		PerSource: make(map[string]time.Duration, len(cfg.PerSourceMs)),
	}
	for lens, ms := range cfg.PerLensMs {
		out.PerLens[govern.Lens(lens)] = time.Duration(ms) * time.Millisecond
	}
	for id, ms := range cfg.PerSourceMs {
		out.PerSource[id] = time.Duration(ms) * time.Millisecond
	}
	return out
}

func ttlTable(cfg config.ProvenanceConfig) provenance.TTLTable {
	table := provenance.TTLTable{
		PerField: make(map[string]time.Duration, len(cfg.PerFieldDays)),
		Default:  time.Duration(cfg.DefaultTTLDays) * 24 * time.Hour,
	}
	for field, days := range cfg.PerFieldDays {
		table.PerField[field] = time.Duration(days) * 24 * time.Hour
	}
	return table
}
