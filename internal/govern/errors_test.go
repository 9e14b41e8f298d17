package govern

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindPolicyDenied, Classify(PolicyDenied("circuit open", time.Minute)))
	require.Equal(t, KindBudgetExhausted, Classify(BudgetExhausted("session over budget")))
	require.Equal(t, KindPermanent, Classify(&HTTPError{StatusCode: 404, URL: "https://a.com"}))
	require.Equal(t, KindTransient, Classify(&HTTPError{StatusCode: 503, URL: "https://a.com"}))
	require.Equal(t, KindTransient, Classify(errors.New("connection reset")))
	require.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	require.Equal(t, KindTimeout, Classify(fmt.Errorf("fetch page: %w", context.DeadlineExceeded)))

	// Wrapped errors classify through the chain.
	wrapped := fmt.Errorf("fetch page: %w", &HTTPError{StatusCode: 410, URL: "https://a.com"})
	require.Equal(t, KindPermanent, Classify(wrapped))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, Retryable(nil))
	require.False(t, Retryable(context.Canceled))
	require.False(t, Retryable(PolicyDenied("robots disallow", 0)))
	require.False(t, Retryable(&HTTPError{StatusCode: 403, URL: "https://a.com"}))
	require.True(t, Retryable(&HTTPError{StatusCode: 502, URL: "https://a.com"}))
	require.True(t, Retryable(errors.New("dial tcp: i/o timeout")))
	require.True(t, Retryable(context.DeadlineExceeded))
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	require.True(t, IsTimeout(context.DeadlineExceeded))
	require.True(t, IsTimeout(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	require.False(t, IsTimeout(errors.New("connection refused")))
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := Transient("upstream 503", cause)
	require.Contains(t, err.Error(), "transient")
	require.Contains(t, err.Error(), "upstream 503")
	require.ErrorIs(t, err, cause)
}

func TestSourceValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Source{}.Validate())
	require.Error(t, Source{ID: "a.com", Lens: Lens("blog")}.Validate())
	require.NoError(t, Source{ID: "a.com", Lens: LensCritic}.Validate())
	require.NoError(t, Source{ID: "a.com"}.Validate())
}
