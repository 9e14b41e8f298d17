package govern

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vinoscout/sourcegate/internal/policy/robots"
	"github.com/vinoscout/sourcegate/internal/policy/semaphore"
	"github.com/vinoscout/sourcegate/internal/provenance"
	"github.com/vinoscout/sourcegate/internal/storage"
	"github.com/vinoscout/sourcegate/internal/telemetry"
)

// FetchFunc performs the actual outbound call. It runs under the global
// concurrency cap with a per-call deadline already applied to ctx. Only its
// payload or error matter to governance.
type FetchFunc func(ctx context.Context) (FetchResult, error)

// FetchResult is what a fetch hands back for provenance recording.
type FetchResult struct {
	Payload    []byte
	SourceURL  string
	Method     provenance.Method
	Confidence float64
}

// Request describes one governed call.
type Request struct {
	Source    Source
	EntityID  string
	FieldName string
	// Path, when set, is checked against the source's crawl-exclusion rules
	// before any fetch.
	Path string
	// Force skips the freshness check and always attempts the fetch.
	Force bool
	// Timeout overrides the gate's per-call deadline when positive.
	Timeout time.Duration
	Fetch   FetchFunc
}

// Result is the outcome of a governed call. Status is never a bare boolean;
// Reason explains skips and failures.
type Result struct {
	Status     Status
	Reason     string
	RetryAfter time.Duration
	Payload    []byte
	Record     storage.ProvenanceRecord
	// Changed reports whether the fetched payload differs from the last
	// recorded hash for the same key.
	Changed bool
	Err     error
}

// CircuitRegistry is the per-source failure tracker the gate consults. Every
// IsOpen that returns false may have admitted a half-open trial; the gate
// must resolve it with RecordSuccess/RecordFailure or hand it back via
// AbandonProbe, never drop it.
type CircuitRegistry interface {
	IsOpen(sourceID string) bool
	RetryAfter(sourceID string) time.Duration
	RecordSuccess(sourceID string)
	RecordFailure(sourceID string, err error)
	AbandonProbe(sourceID string)
}

// RateLimiter spaces calls per source.
type RateLimiter interface {
	Wait(ctx context.Context, src Source) error
	EnsureDelay(src Source, d time.Duration)
}

// RobotsPolicy answers per-path crawl permission.
type RobotsPolicy interface {
	IsPathAllowed(ctx context.Context, domain, path string) (robots.Decision, error)
}

// Ledger is the provenance surface the gate needs.
type Ledger interface {
	HasFreshData(ctx context.Context, entityID, sourceID, fieldName string) bool
	HasContentChanged(ctx context.Context, entityID, sourceID, fieldName string, payload []byte) bool
	Record(ctx context.Context, fact provenance.Fact) (storage.ProvenanceRecord, error)
}

// GateOptions tunes the gate. Zero values fall back to defaults.
type GateOptions struct {
	// CallTimeout bounds each fetch. Default 30s.
	CallTimeout time.Duration
}

const defaultCallTimeout = 30 * time.Second

// Gate composes freshness, circuit, robots, rate-limit, and concurrency
// checks into the single entry point for outbound calls. The fixed ordering
// (check, wait, call, record) is what keeps the in-memory policy state
// race-free: state is only mutated after the blocking points.
type Gate struct {
	opts     GateOptions
	circuits CircuitRegistry
	limiter  RateLimiter
	robots   RobotsPolicy
	ledger   Ledger
	sem      *semaphore.Semaphore
	logger   *zap.Logger
}

// NewGate builds a Gate. robotsPolicy may be nil, in which case requests
// carrying a Path fail validation.
func NewGate(opts GateOptions, circuits CircuitRegistry, limiter RateLimiter, robotsPolicy RobotsPolicy, ledger Ledger, sem *semaphore.Semaphore, logger *zap.Logger) *Gate {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		opts:     opts,
		circuits: circuits,
		limiter:  limiter,
		robots:   robotsPolicy,
		ledger:   ledger,
		sem:      sem,
		logger:   logger,
	}
}

// WithGovernance runs one governed call:
//
//  1. unless forced, fresh provenance short-circuits to StatusCached;
//  2. an open circuit short-circuits to StatusCircuitOpen with a hint;
//  3. crawl-exclusion rules are checked when the request names a path;
//  4. a slot under the global cap is acquired and the per-source spacing
//     is waited out inside it;
//  5. the fetch runs once with a per-call deadline, and its outcome is
//     recorded against the circuit and the provenance ledger.
//
// Retrying is never done here; that decision belongs to the caller and its
// retry budget.
func (g *Gate) WithGovernance(ctx context.Context, req Request) (Result, error) {
	if err := g.validate(req); err != nil {
		return Result{}, err
	}
	src := req.Source

	if !req.Force && g.ledger.HasFreshData(ctx, req.EntityID, src.ID, req.FieldName) {
		g.logger.Debug("fresh provenance, skipping fetch",
			zap.String("source", src.ID),
			zap.String("entity", req.EntityID),
			zap.String("field", req.FieldName),
		)
		telemetry.ObserveGovernedCall(src.ID, string(StatusCached))
		return Result{Status: StatusCached, Reason: "fresh provenance on record"}, nil
	}

	if g.circuits.IsOpen(src.ID) {
		retryAfter := g.circuits.RetryAfter(src.ID)
		telemetry.ObserveGovernedCall(src.ID, string(StatusCircuitOpen))
		return Result{
			Status:     StatusCircuitOpen,
			Reason:     fmt.Sprintf("circuit open for %s", src.ID),
			RetryAfter: retryAfter,
		}, nil
	}

	// Past this point the circuit may have admitted us as its half-open
	// trial. Any exit that does not record an outcome must return the trial,
	// or the breaker would reject everything until restart.
	if req.Path != "" {
		decision, err := g.robots.IsPathAllowed(ctx, src.ID, req.Path)
		if err != nil {
			g.circuits.AbandonProbe(src.ID)
			return Result{}, fmt.Errorf("robots check for %s: %w", src.ID, err)
		}
		if !decision.Allowed {
			g.circuits.AbandonProbe(src.ID)
			telemetry.ObserveGovernedCall(src.ID, string(StatusRobotsDenied))
			return Result{Status: StatusRobotsDenied, Reason: decision.Reason}, nil
		}
		g.limiter.EnsureDelay(src, decision.CrawlDelay)
	}

	// The spacing wait runs inside the held slot so the grant is stamped
	// right before the outbound call; waiting outside would let grants
	// queue up behind the semaphore and then fire back-to-back.
	var out FetchResult
	var fetchErr error
	semErr := g.sem.Do(ctx, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx, src); err != nil {
			return err
		}
		stats := g.sem.Stats()
		telemetry.SetFetchSlots(stats.Active, stats.Queued)
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout(req))
		defer cancel()
		out, fetchErr = req.Fetch(callCtx)
		return nil
	})
	stats := g.sem.Stats()
	telemetry.SetFetchSlots(stats.Active, stats.Queued)

	if semErr != nil {
		// No fetch was attempted; nothing to hold against the source.
		g.circuits.AbandonProbe(src.ID)
		return Result{}, semErr
	}

	if fetchErr != nil {
		if errors.Is(fetchErr, context.Canceled) && ctx.Err() != nil {
			// The caller gave up, not the source. Holding this against the
			// circuit would let an impatient caller open a healthy source.
			g.circuits.AbandonProbe(src.ID)
			return Result{}, fmt.Errorf("governed call to %s canceled: %w", src.ID, fetchErr)
		}
		g.circuits.RecordFailure(src.ID, fetchErr)
		kind := Classify(fetchErr)
		g.logger.Warn("governed fetch failed",
			zap.String("source", src.ID),
			zap.String("kind", kind.String()),
			zap.Error(fetchErr),
		)
		telemetry.ObserveGovernedCall(src.ID, string(StatusError))
		return Result{
			Status: StatusError,
			Reason: fmt.Sprintf("%s: %v", kind, fetchErr),
			Err:    fetchErr,
		}, nil
	}

	g.circuits.RecordSuccess(src.ID)
	changed := g.ledger.HasContentChanged(ctx, req.EntityID, src.ID, req.FieldName, out.Payload)

	method := out.Method
	if method == "" {
		method = provenance.MethodScrape
	}
	rec, err := g.ledger.Record(ctx, provenance.Fact{
		EntityID:   req.EntityID,
		FieldName:  req.FieldName,
		SourceID:   src.ID,
		SourceURL:  out.SourceURL,
		Method:     method,
		Confidence: out.Confidence,
		Payload:    out.Payload,
	})
	if err != nil {
		// The fetch itself succeeded; a ledger write failure just means the
		// next call re-fetches instead of hitting the freshness gate.
		g.logger.Warn("provenance write failed",
			zap.String("source", src.ID),
			zap.String("entity", req.EntityID),
			zap.String("field", req.FieldName),
			zap.Error(err),
		)
	}

	telemetry.ObserveGovernedCall(src.ID, string(StatusSuccess))
	return Result{
		Status:  StatusSuccess,
		Reason:  "fetched",
		Payload: out.Payload,
		Record:  rec,
		Changed: changed,
	}, nil
}

// WithGovernanceBatch runs a set of governed calls, grouped by source:
// different sources proceed concurrently while calls to the same source run
// strictly in sequence, preserving the spacing invariant. Results align with
// the input by index. Per-call failures land in their Result; only context
// cancellation aborts the batch.
func (g *Gate) WithGovernanceBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))

	bySource := make(map[string][]int)
	for i, req := range reqs {
		bySource[req.Source.ID] = append(bySource[req.Source.ID], i)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, indices := range bySource {
		indices := indices
		eg.Go(func() error {
			for _, i := range indices {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := g.WithGovernance(ctx, reqs[i])
				if err != nil {
					return err
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, fmt.Errorf("governed batch: %w", err)
	}
	return results, nil
}

func (g *Gate) validate(req Request) error {
	if err := req.Source.Validate(); err != nil {
		return err
	}
	if req.Fetch == nil {
		return fmt.Errorf("fetch function is required for source %q", req.Source.ID)
	}
	if req.EntityID == "" || req.FieldName == "" {
		return fmt.Errorf("entity id and field name are required for source %q", req.Source.ID)
	}
	if req.Path != "" && g.robots == nil {
		return fmt.Errorf("request names path %q but no robots policy is configured", req.Path)
	}
	return nil
}

func (g *Gate) callTimeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return g.opts.CallTimeout
}
