// Package circuit implements a per-source failure circuit breaker. It turns
// a slow failure mode (repeated timeouts against a dead site) into a fast,
// cheap rejection.
package circuit

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/clock"
	"github.com/vinoscout/sourcegate/internal/telemetry"
)

// State of one source circuit.
type State string

const (
	// StateClosed admits every attempt.
	StateClosed State = "closed"
	// StateOpen rejects attempts until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen admits exactly one trial attempt.
	StateHalfOpen State = "half_open"
)

// Options tunes the breaker. Zero values fall back to defaults.
type Options struct {
	// FailureThreshold is the consecutive failure count that opens a circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects before permitting a trial.
	Cooldown time.Duration
	// CooldownGrowth multiplies the cooldown each time a half-open trial
	// fails. 1 disables growth.
	CooldownGrowth float64
	// MaxCooldown caps cooldown growth.
	MaxCooldown time.Duration
}

const (
	defaultThreshold   = 5
	defaultCooldown    = time.Minute
	defaultGrowth      = 2.0
	defaultMaxCooldown = 15 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = defaultThreshold
	}
	if o.Cooldown <= 0 {
		o.Cooldown = defaultCooldown
	}
	if o.CooldownGrowth < 1 {
		o.CooldownGrowth = defaultGrowth
	}
	if o.MaxCooldown <= 0 {
		o.MaxCooldown = defaultMaxCooldown
	}
	return o
}

type breaker struct {
	state               State
	consecutiveFailures int
	timeoutFailures     int
	lastFailureAt       time.Time
	nextRetryAt         time.Time
	cooldown            time.Duration
	lastErr             error
	probing             bool
}

// Info is a read-only snapshot of one circuit for diagnostics.
type Info struct {
	SourceID            string    `json:"source_id"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TimeoutFailures     int       `json:"timeout_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	NextRetryAt         time.Time `json:"next_retry_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Registry owns circuit state for every source. State is in-memory only: a
// process restart resets all circuits to closed, giving every source a fresh
// chance after an operator intervention.
type Registry struct {
	mu       sync.Mutex
	opts     Options
	clk      clock.Clock
	logger   *zap.Logger
	circuits map[string]*breaker
}

// NewRegistry builds an empty registry.
func NewRegistry(opts Options, clk clock.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		opts:     opts.withDefaults(),
		clk:      clk,
		logger:   logger,
		circuits: make(map[string]*breaker),
	}
}

// IsOpen is the O(1) fast-path check run before any attempt. A circuit whose
// cooldown has elapsed moves to half-open here and admits the caller as the
// single trial; concurrent callers during the trial are rejected.
func (r *Registry) IsOpen(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.circuits[sourceID]
	if !ok {
		return false
	}
	switch b.state {
	case StateClosed:
		return false
	case StateHalfOpen:
		if b.probing {
			return true
		}
		b.probing = true
		return false
	case StateOpen:
		if r.clk.Now().Before(b.nextRetryAt) {
			return true
		}
		b.state = StateHalfOpen
		b.probing = true
		r.logger.Info("circuit half-open, admitting trial", zap.String("source", sourceID))
		r.publishOpenCount()
		return false
	default:
		return false
	}
}

// AbandonProbe returns a half-open trial that was admitted by IsOpen but
// never resolved to a success or failure, so a later caller can probe
// instead. Without this, a trial abandoned before its fetch (robots error,
// canceled wait) would leave the circuit rejecting everything forever.
func (r *Registry) AbandonProbe(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.circuits[sourceID]
	if !ok {
		return
	}
	if b.state == StateHalfOpen && b.probing {
		b.probing = false
		r.logger.Debug("half-open trial abandoned", zap.String("source", sourceID))
	}
}

// RetryAfter estimates how long until sourceID admits another attempt.
func (r *Registry) RetryAfter(sourceID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.circuits[sourceID]
	if !ok || b.state == StateClosed {
		return 0
	}
	remaining := b.nextRetryAt.Sub(r.clk.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSuccess closes the circuit and resets failure accounting.
func (r *Registry) RecordSuccess(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.circuits[sourceID]
	if !ok {
		return
	}
	if b.state != StateClosed {
		r.logger.Info("circuit closed after successful trial", zap.String("source", sourceID))
	}
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.timeoutFailures = 0
	b.cooldown = r.opts.Cooldown
	b.lastErr = nil
	b.probing = false
	r.publishOpenCount()
}

// RecordFailure counts a failure against sourceID, retaining err for
// diagnostics. Timeouts are tallied separately so a source that is slow can
// be told apart from one that is erroring. Crossing the threshold opens the
// circuit; a failed half-open trial reopens it with a grown cooldown.
func (r *Registry) RecordFailure(sourceID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.circuits[sourceID]
	if !ok {
		b = &breaker{state: StateClosed, cooldown: r.opts.Cooldown}
		r.circuits[sourceID] = b
	}
	now := r.clk.Now()
	b.consecutiveFailures++
	if isTimeout(err) {
		b.timeoutFailures++
	}
	b.lastFailureAt = now
	b.lastErr = err

	switch b.state {
	case StateHalfOpen:
		b.cooldown = r.growCooldown(b.cooldown)
		b.state = StateOpen
		b.nextRetryAt = now.Add(b.cooldown)
		b.probing = false
		r.logger.Warn("circuit reopened after failed trial",
			zap.String("source", sourceID),
			zap.Duration("cooldown", b.cooldown),
			zap.Error(err),
		)
	case StateClosed:
		if b.consecutiveFailures >= r.opts.FailureThreshold {
			b.state = StateOpen
			b.nextRetryAt = now.Add(b.cooldown)
			r.logger.Warn("circuit opened",
				zap.String("source", sourceID),
				zap.Int("failures", b.consecutiveFailures),
				zap.Error(err),
			)
		}
	case StateOpen:
		// Failures recorded while open (e.g. racing callers) just extend
		// the accounting; the cooldown clock is not restarted.
	}
	r.publishOpenCount()
}

// Snapshot lists every tracked circuit for the admin API.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.circuits))
	for id, b := range r.circuits {
		info := Info{
			SourceID:            id,
			State:               b.state,
			ConsecutiveFailures: b.consecutiveFailures,
			TimeoutFailures:     b.timeoutFailures,
			LastFailureAt:       b.lastFailureAt,
			NextRetryAt:         b.nextRetryAt,
		}
		if b.lastErr != nil {
			info.LastError = b.lastErr.Error()
		}
		out = append(out, info)
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (r *Registry) growCooldown(current time.Duration) time.Duration {
	if current <= 0 {
		current = r.opts.Cooldown
	}
	grown := time.Duration(float64(current) * r.opts.CooldownGrowth)
	if grown > r.opts.MaxCooldown {
		grown = r.opts.MaxCooldown
	}
	return grown
}

// publishOpenCount must be called with the mutex held.
func (r *Registry) publishOpenCount() {
	open := 0
	for _, b := range r.circuits {
		if b.state == StateOpen {
			open++
		}
	}
	telemetry.SetCircuitsOpen(open)
}
