package govern

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies a governance failure for retry and circuit decisions.
type Kind int

const (
	// KindPolicyDenied covers circuit-open and robots-disallow rejections.
	// Never retried at this layer.
	KindPolicyDenied Kind = iota
	// KindBudgetExhausted covers retry/session budget refusals. Surfaced as
	// a skip, never a hard error.
	KindBudgetExhausted
	// KindTransient covers 5xx responses and non-timeout network errors.
	KindTransient
	// KindTimeout covers deadline and network timeouts. Kept distinct from
	// KindTransient so the circuit breaker can weight slowness separately
	// from hard errors.
	KindTimeout
	// KindPermanent covers 4xx content errors where a retry would not help.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindPolicyDenied:
		return "policy_denied"
	case KindBudgetExhausted:
		return "budget_exhausted"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by governance decisions. It always
// carries a reason so callers and logs can explain why a fetch was skipped.
type Error struct {
	Kind       Kind
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// PolicyDenied builds a policy rejection with an optional retry-after hint.
func PolicyDenied(reason string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindPolicyDenied, Reason: reason, RetryAfter: retryAfter}
}

// BudgetExhausted builds a budget refusal.
func BudgetExhausted(reason string) *Error {
	return &Error{Kind: KindBudgetExhausted, Reason: reason}
}

// Transient wraps a retryable upstream failure.
func Transient(reason string, err error) *Error {
	return &Error{Kind: KindTransient, Reason: reason, Err: err}
}

// Permanent wraps a failure retrying cannot fix.
func Permanent(reason string, err error) *Error {
	return &Error{Kind: KindPermanent, Reason: reason, Err: err}
}

// HTTPError reports an upstream HTTP status failure. Fetch callbacks return
// it so classification can distinguish 4xx from 5xx.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// Classify maps an arbitrary fetch error onto the taxonomy. Timeouts are kept
// distinct from other transient failures so the circuit breaker can weight
// them separately. Unknown errors classify as transient so they stay eligible
// for the caller's retry budget.
func Classify(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if IsTimeout(err) {
		return KindTimeout
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		if herr.StatusCode >= 400 && herr.StatusCode < 500 {
			return KindPermanent
		}
		return KindTransient
	}
	return KindTransient
}

// IsTimeout reports whether err represents a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Retryable reports whether a retry budget reservation makes sense for err.
// Permanent and policy failures are excluded outright.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	kind := Classify(err)
	return kind == KindTransient || kind == KindTimeout
}
