// Package session bounds how much work a single "find data for this wine"
// operation may do: tiered spending caps, a one-shot escalation ladder, and
// an early-stop rule once enough trustworthy results are in hand.
package session

import (
	"fmt"
	"time"

	"github.com/vinoscout/sourcegate/internal/clock"
)

// Mode is the spending tier a session runs under.
type Mode string

const (
	// ModeStandard is the default tier for routine enrichment.
	ModeStandard Mode = "standard"
	// ModeImportant raises caps for high-value bottles.
	ModeImportant Mode = "important"
	// ModeDeep is the exhaustive tier; it cannot escalate further.
	ModeDeep Mode = "deep"
)

// ValidMode reports whether m is a known tier.
func ValidMode(m Mode) bool {
	return m == ModeStandard || m == ModeImportant || m == ModeDeep
}

// nextTier returns the tier one step up, if any.
func nextTier(m Mode) (Mode, bool) {
	switch m {
	case ModeStandard:
		return ModeImportant, true
	case ModeImportant:
		return ModeDeep, true
	default:
		return "", false
	}
}

// Preset fixes the caps for one tier.
type Preset struct {
	MaxSearchCalls     int  `mapstructure:"max_search_calls" json:"max_search_calls"`
	MaxUnlockCalls     int  `mapstructure:"max_unlock_calls" json:"max_unlock_calls"`
	MaxAIExtractCalls  int  `mapstructure:"max_ai_extract_calls" json:"max_ai_extract_calls"`
	EarlyStopThreshold int  `mapstructure:"early_stop_threshold" json:"early_stop_threshold"`
	EscalationAllowed  bool `mapstructure:"escalation_allowed" json:"escalation_allowed"`
}

// DefaultPresets returns the built-in tier table.
func DefaultPresets() map[Mode]Preset {
	return map[Mode]Preset{
		ModeStandard:  {MaxSearchCalls: 3, MaxUnlockCalls: 1, MaxAIExtractCalls: 1, EarlyStopThreshold: 2, EscalationAllowed: true},
		ModeImportant: {MaxSearchCalls: 6, MaxUnlockCalls: 2, MaxAIExtractCalls: 2, EarlyStopThreshold: 3, EscalationAllowed: true},
		ModeDeep:      {MaxSearchCalls: 12, MaxUnlockCalls: 4, MaxAIExtractCalls: 4, EarlyStopThreshold: 5, EscalationAllowed: false},
	}
}

// EscalationReason is the closed set of justifications for moving a tier up.
type EscalationReason string

const (
	// ReasonScarceSources: the usual sources had little or nothing.
	ReasonScarceSources EscalationReason = "scarce_sources"
	// ReasonConflictingData: sources disagree and a tiebreaker is needed.
	ReasonConflictingData EscalationReason = "conflicting_data"
	// ReasonHighValueEntity: the bottle justifies extra spend.
	ReasonHighValueEntity EscalationReason = "high_value_entity"
	// ReasonZeroResults: nothing at all came back from the first pass.
	ReasonZeroResults EscalationReason = "zero_results"
)

// ValidEscalationReason reports whether r is in the closed enumeration.
func ValidEscalationReason(r EscalationReason) bool {
	switch r {
	case ReasonScarceSources, ReasonConflictingData, ReasonHighValueEntity, ReasonZeroResults:
		return true
	default:
		return false
	}
}

// Confidence buckets for collected results.
const (
	BucketHigh   = "high"
	BucketMedium = "medium"
	BucketLow    = "low"
)

// Bucket maps a confidence score onto its bucket.
func Bucket(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return BucketHigh
	case confidence >= 0.5:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Event is one append-only history entry for audit and replay.
type Event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Result is one collected datum. The full list is best-effort; the bucket
// counters are the source of truth after a restore.
type Result struct {
	SourceID   string  `json:"source_id"`
	Confidence float64 `json:"confidence"`
}

// Session tracks spending for one enrichment operation. Like the retry
// budget it is owned by a single operation and carries no locking.
type Session struct {
	mode    Mode
	preset  Preset
	presets map[Mode]Preset

	searchCalls    int
	unlockCalls    int
	aiExtractCalls int

	buckets map[string]int
	results []Result

	escalated        bool
	escalationReason EscalationReason
	earlyStopped     bool

	startedAt time.Time
	timeLimit time.Duration
	history   []Event
	clk       clock.Clock
}

// New creates a Session in the given mode. Unknown modes and modes missing
// from the preset table fail eagerly.
func New(mode Mode, presets map[Mode]Preset, timeLimit time.Duration, clk clock.Clock) (*Session, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("invalid session mode %q", mode)
	}
	if presets == nil {
		presets = DefaultPresets()
	}
	preset, ok := presets[mode]
	if !ok {
		return nil, fmt.Errorf("no budget preset for mode %q", mode)
	}
	if timeLimit <= 0 {
		timeLimit = 5 * time.Minute
	}
	s := &Session{
		mode:      mode,
		preset:    preset,
		presets:   presets,
		buckets:   map[string]int{BucketHigh: 0, BucketMedium: 0, BucketLow: 0},
		startedAt: clk.Now(),
		timeLimit: timeLimit,
		clk:       clk,
	}
	s.append("session_started", string(mode))
	return s, nil
}

// Mode returns the current tier.
func (s *Session) Mode() Mode { return s.mode }

// Escalated reports whether the session has already moved up a tier.
func (s *Session) Escalated() (bool, EscalationReason) {
	return s.escalated, s.escalationReason
}

// OverTime reports whether the session's wall-clock ceiling has passed. A
// session under its call caps but past its ceiling still stops.
func (s *Session) OverTime() bool {
	return s.clk.Now().Sub(s.startedAt) >= s.timeLimit
}

// CanSearch reports whether another search call fits the budget.
func (s *Session) CanSearch() bool {
	return !s.OverTime() && s.searchCalls < s.preset.MaxSearchCalls
}

// CanUnlock reports whether another paid anti-block call fits the budget.
func (s *Session) CanUnlock() bool {
	return !s.OverTime() && s.unlockCalls < s.preset.MaxUnlockCalls
}

// CanAIExtract reports whether another paid AI extraction fits the budget.
func (s *Session) CanAIExtract() bool {
	return !s.OverTime() && s.aiExtractCalls < s.preset.MaxAIExtractCalls
}

// RecordSearch spends one search call.
func (s *Session) RecordSearch(detail string) {
	s.searchCalls++
	s.append("search", detail)
}

// RecordUnlock spends one anti-block call.
func (s *Session) RecordUnlock(detail string) {
	s.unlockCalls++
	s.append("unlock", detail)
}

// RecordAIExtract spends one AI extraction call.
func (s *Session) RecordAIExtract(detail string) {
	s.aiExtractCalls++
	s.append("ai_extract", detail)
}

// RecordResult registers a collected datum under its confidence bucket.
func (s *Session) RecordResult(sourceID string, confidence float64) {
	s.buckets[Bucket(confidence)]++
	s.results = append(s.results, Result{SourceID: sourceID, Confidence: confidence})
	s.append("result", fmt.Sprintf("%s confidence=%.2f", sourceID, confidence))
}

// RequestEscalation moves the session exactly one tier up, at most once per
// session, and only when the current tier permits it. Reasons outside the
// closed enumeration are an error, not a silent escalation.
func (s *Session) RequestEscalation(reason EscalationReason) (bool, error) {
	if !ValidEscalationReason(reason) {
		return false, fmt.Errorf("invalid escalation reason %q", reason)
	}
	if s.escalated {
		return false, nil
	}
	if !s.preset.EscalationAllowed {
		return false, nil
	}
	next, ok := nextTier(s.mode)
	if !ok {
		return false, nil
	}
	preset, ok := s.presets[next]
	if !ok {
		return false, fmt.Errorf("no budget preset for mode %q", next)
	}
	s.mode = next
	s.preset = preset
	s.escalated = true
	s.escalationReason = reason
	s.append("escalated", fmt.Sprintf("%s: %s", next, reason))
	return true, nil
}

// ShouldEarlyStop reports whether enough high-confidence results have been
// collected. Once triggered it stays triggered for the session's lifetime.
func (s *Session) ShouldEarlyStop() bool {
	if s.earlyStopped {
		return true
	}
	if s.preset.EarlyStopThreshold > 0 && s.buckets[BucketHigh] >= s.preset.EarlyStopThreshold {
		s.earlyStopped = true
		s.append("early_stop", fmt.Sprintf("%d high-confidence results", s.buckets[BucketHigh]))
	}
	return s.earlyStopped
}

// History returns the append-only event log.
func (s *Session) History() []Event {
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}

// Spent reports the counters for logging and snapshots.
func (s *Session) Spent() (searches, unlocks, aiExtracts int) {
	return s.searchCalls, s.unlockCalls, s.aiExtractCalls
}

// BucketCounts returns a copy of the confidence tallies.
func (s *Session) BucketCounts() map[string]int {
	out := make(map[string]int, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}

func (s *Session) append(kind, detail string) {
	s.history = append(s.history, Event{At: s.clk.Now(), Kind: kind, Detail: detail})
}
