package govern

import (
	"context"

	"github.com/vinoscout/sourcegate/internal/policy/retrybudget"
)

// Retry runs one governed call and, when it fails transiently and the
// budget still permits a retry for the source's domain, tries exactly once
// more. The gate itself never retries; this is the caller-side policy
// packaged as a helper.
func Retry(ctx context.Context, g *Gate, req Request, budget *retrybudget.Budget) (Result, error) {
	res, err := g.WithGovernance(ctx, req)
	if err != nil {
		return res, err
	}
	if res.Status != StatusError || !Retryable(res.Err) {
		return res, nil
	}
	if !budget.Reserve(req.Source.ID, res.Reason) {
		return res, nil
	}
	return g.WithGovernance(ctx, req)
}
