package session

import (
	"fmt"
	"time"

	"github.com/vinoscout/sourcegate/internal/clock"
)

// Snapshot is the plain serialized form of a Session. The bucket counters
// are authoritative on restore; Results is carried best-effort and may be
// truncated by the persistence layer.
type Snapshot struct {
	Mode             Mode             `json:"mode"`
	SearchCalls      int              `json:"search_calls"`
	UnlockCalls      int              `json:"unlock_calls"`
	AIExtractCalls   int              `json:"ai_extract_calls"`
	Buckets          map[string]int   `json:"buckets"`
	Results          []Result         `json:"results,omitempty"`
	Escalated        bool             `json:"escalated"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	EarlyStopped     bool             `json:"early_stopped"`
	StartedAt        time.Time        `json:"started_at"`
	TimeLimit        time.Duration    `json:"time_limit"`
	History          []Event          `json:"history,omitempty"`
}

// Snapshot serializes the session.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Mode:             s.mode,
		SearchCalls:      s.searchCalls,
		UnlockCalls:      s.unlockCalls,
		AIExtractCalls:   s.aiExtractCalls,
		Buckets:          s.BucketCounts(),
		Results:          append([]Result(nil), s.results...),
		Escalated:        s.escalated,
		EscalationReason: s.escalationReason,
		EarlyStopped:     s.earlyStopped,
		StartedAt:        s.startedAt,
		TimeLimit:        s.timeLimit,
		History:          s.History(),
	}
}

// Restore rebuilds a Session from a snapshot. Counters come straight from
// the snapshot; the per-result list is taken as-is without recomputing the
// buckets from it.
func Restore(snap Snapshot, presets map[Mode]Preset, clk clock.Clock) (*Session, error) {
	if !ValidMode(snap.Mode) {
		return nil, fmt.Errorf("invalid session mode %q in snapshot", snap.Mode)
	}
	if presets == nil {
		presets = DefaultPresets()
	}
	preset, ok := presets[snap.Mode]
	if !ok {
		return nil, fmt.Errorf("no budget preset for mode %q", snap.Mode)
	}
	buckets := map[string]int{BucketHigh: 0, BucketMedium: 0, BucketLow: 0}
	for k, v := range snap.Buckets {
		buckets[k] = v
	}
	timeLimit := snap.TimeLimit
	if timeLimit <= 0 {
		timeLimit = 5 * time.Minute
	}
	startedAt := snap.StartedAt
	if startedAt.IsZero() {
		startedAt = clk.Now()
	}
	return &Session{
		mode:             snap.Mode,
		preset:           preset,
		presets:          presets,
		searchCalls:      snap.SearchCalls,
		unlockCalls:      snap.UnlockCalls,
		aiExtractCalls:   snap.AIExtractCalls,
		buckets:          buckets,
		results:          append([]Result(nil), snap.Results...),
		escalated:        snap.Escalated,
		escalationReason: snap.EscalationReason,
		earlyStopped:     snap.EarlyStopped,
		startedAt:        startedAt,
		timeLimit:        timeLimit,
		history:          append([]Event(nil), snap.History...),
		clk:              clk,
	}, nil
}
