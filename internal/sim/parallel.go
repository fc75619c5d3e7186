package sim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Ensemble runs s once per seed, starting at the configured seeds, with at
// most workers runs in flight. Results keep seed order.
func Ensemble(ctx context.Context, s Setup, runs, workers int) ([]*Result, error) {
	results := make([]*Result, runs)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := 0; i < runs; i++ {
		g.Go(func() error {
			cp := s
			cp.Sim.Seed = s.Sim.Seed + uint64(i)
			cp.Link.Seed = s.Link.Seed + uint64(i)
			r, err := Run(ctx, cp)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summarize averages each metric across results.
func Summarize(results []*Result) map[string]float64 {
	out := make(map[string]float64)
	if len(results) == 0 {
		return out
	}
	for _, r := range results {
		for k, v := range r.Metrics {
			out[k] += v
		}
	}
	for k := range out {
		out[k] /= float64(len(results))
	}
	return out
}
