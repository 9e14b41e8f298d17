// Package retrybudget caps how many retries one enrichment operation may
// spend across all of its sub-fetches, bounding worst-case latency when many
// sources could each want a second attempt.
package retrybudget

import (
	"time"

	"github.com/vinoscout/sourcegate/internal/clock"
)

const (
	defaultMaxRetries = 1
	defaultTimeout    = 2 * time.Minute

	// No reservation is granted once this share of the operation's wall
	// clock has elapsed; a late retry would not finish in time anyway.
	elapsedCutoff = 0.8
)

// Budget tracks retry spending for a single operation. It is owned and
// touched synchronously by that operation, so it carries no locking.
type Budget struct {
	maxRetries     int
	usedRetries    int
	retriedDomains map[string]string
	startedAt      time.Time
	deadline       time.Time
	clk            clock.Clock
}

// New creates a Budget for one operation. maxRetries <= 0 and timeout <= 0
// fall back to defaults.
func New(maxRetries int, timeout time.Duration, clk clock.Clock) *Budget {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := clk.Now()
	return &Budget{
		maxRetries:     maxRetries,
		retriedDomains: make(map[string]string),
		startedAt:      now,
		deadline:       now.Add(timeout),
		clk:            clk,
	}
}

// Reserve grants a retry for domain iff the budget is not exhausted, the
// domain has not already retried this operation, and less than 80% of the
// wall-clock timeout has elapsed. The reason is kept for auditing.
func (b *Budget) Reserve(domain, reason string) bool {
	if b.usedRetries >= b.maxRetries {
		return false
	}
	if _, done := b.retriedDomains[domain]; done {
		return false
	}
	total := b.deadline.Sub(b.startedAt)
	elapsed := b.clk.Now().Sub(b.startedAt)
	if float64(elapsed) >= float64(total)*elapsedCutoff {
		return false
	}
	b.usedRetries++
	b.retriedDomains[domain] = reason
	return true
}

// Remaining reports how many retries are still available.
func (b *Budget) Remaining() int {
	return b.maxRetries - b.usedRetries
}

// Retried reports whether domain already spent its retry, and the reason.
func (b *Budget) Retried(domain string) (string, bool) {
	reason, ok := b.retriedDomains[domain]
	return reason, ok
}

// Deadline returns the operation's wall-clock cutoff.
func (b *Budget) Deadline() time.Time {
	return b.deadline
}
