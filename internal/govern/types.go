// Package govern mediates every outbound call made to third-party wine data
// sources. It composes freshness, circuit, rate-limit, and policy checks into
// a single call contract so callers never talk to the network directly.
package govern

import (
	"fmt"
	"time"
)

// Lens categorizes a source by the kind of authority it represents.
type Lens string

// Recognized lenses. Rate-limit defaults are resolved per lens when a source
// carries no explicit override.
const (
	LensCompetition Lens = "competition"
	LensPanelGuide  Lens = "panel_guide"
	LensCritic      Lens = "critic"
	LensCommunity   Lens = "community"
	LensAggregator  Lens = "aggregator"
	LensProducer    Lens = "producer"
)

// ValidLens reports whether l is a known lens value.
func ValidLens(l Lens) bool {
	switch l {
	case LensCompetition, LensPanelGuide, LensCritic, LensCommunity, LensAggregator, LensProducer:
		return true
	default:
		return false
	}
}

// Source identifies an external content provider, usually by domain.
type Source struct {
	// ID is the stable identifier, e.g. "decanter.com" or a named provider.
	ID string
	// Lens selects the rate-limit default bucket for the source.
	Lens Lens
	// RateLimit overrides the lens/global minimum spacing when non-zero.
	RateLimit time.Duration
}

// Validate checks the source is usable as a governance key.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if s.Lens != "" && !ValidLens(s.Lens) {
		return fmt.Errorf("unknown lens %q for source %q", s.Lens, s.ID)
	}
	return nil
}

// Status is the outcome of a governed call.
type Status string

// Governed call outcomes. Every outcome carries a human-readable reason in
// the Result so skipped fetches can be explained in logs.
const (
	// StatusCached means fresh provenance existed and no call was made.
	StatusCached Status = "cached"
	// StatusSuccess means the fetch ran and its result was recorded.
	StatusSuccess Status = "success"
	// StatusCircuitOpen means the source circuit rejected the attempt.
	StatusCircuitOpen Status = "circuit_open"
	// StatusRobotsDenied means the exclusion rules forbid the path.
	StatusRobotsDenied Status = "robots_denied"
	// StatusError means the fetch ran and failed.
	StatusError Status = "error"
)
