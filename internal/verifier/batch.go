package verifier

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// VerifyBatch verifies reqs concurrently with at most limit calls in
// flight (GOMAXPROCS when limit <= 0). Results are in input order. Once
// ctx is done, items not yet started get a cancellation result.
func (v *Verifier) VerifyBatch(ctx context.Context, reqs []Request, limit int) []*Result {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			results[i] = newResult().fail("request", err)
			continue
		}
		g.Go(func() error {
			results[i] = v.Verify(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	v.logger.Debug("batch verified", "count", len(reqs), "limit", limit)
	return results
}
