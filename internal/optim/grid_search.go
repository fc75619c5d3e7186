package optim

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/physync/internal/sim"
)

// Knobs are the setup fields a search can vary.
var Knobs = map[string]func(*sim.Setup, float64){
	"buffer_depth":       func(s *sim.Setup, v float64) { s.Replication.BufferDepth = int(v) },
	"frame_skip":         func(s *sim.Setup, v float64) { s.Replication.FrameSkip = int(v) },
	"heartbeat":          func(s *sim.Setup, v float64) { s.Replication.Detector.Heartbeat = v },
	"position_threshold": func(s *sim.Setup, v float64) { s.Replication.Detector.PositionThreshold = v },
	"rotation_threshold": func(s *sim.Setup, v float64) { s.Replication.Detector.RotationThreshold = v },
	"position_max":       func(s *sim.Setup, v float64) { s.Replication.Correction.Position.Max = v },
	"error_rel":          func(s *sim.Setup, v float64) { s.Replication.Correction.Position.ErrorRel = v },
	"latency":            func(s *sim.Setup, v float64) { s.Link.Latency = v },
	"jitter":             func(s *sim.Setup, v float64) { s.Link.Jitter = v },
	"loss":               func(s *sim.Setup, v float64) { s.Link.Loss = v },
}

type Point struct {
	Params  map[string]float64
	Metrics map[string]float64
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64, workers int) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%d params but %d ranges", len(params), len(ranges))
	}
	for i, p := range params {
		if _, ok := Knobs[p]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", p)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("parameter %q has no values", p)
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges, workers: workers}, nil
}

// Search runs base once per grid point and returns every point in grid
// order along with the index of the one minimising metric.
func (g *GridSearch) Search(ctx context.Context, base sim.Setup, metric string) ([]Point, int, error) {
	var grid []map[string]float64
	g.enumerate(0, map[string]float64{}, &grid)

	points := make([]Point, len(grid))
	eg, ctx := errgroup.WithContext(ctx)
	if g.workers > 0 {
		eg.SetLimit(g.workers)
	}
	for i, params := range grid {
		eg.Go(func() error {
			s := base
			for name, v := range params {
				Knobs[name](&s, v)
			}
			r, err := sim.Run(ctx, s)
			if err != nil {
				return fmt.Errorf("grid point %v: %w", params, err)
			}
			points[i] = Point{Params: params, Metrics: r.Metrics}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, -1, err
	}

	best, bestVal := -1, math.Inf(1)
	for i, p := range points {
		v, ok := p.Metrics[metric]
		if !ok {
			return points, -1, fmt.Errorf("unknown metric %q", metric)
		}
		if v < bestVal {
			best, bestVal = i, v
		}
	}
	return points, best, nil
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, maps.Clone(current))
		return
	}
	name := g.paramNames[depth]
	for _, v := range g.ranges[depth] {
		current[name] = v
		g.enumerate(depth+1, current, out)
	}
	delete(current, name)
}

// KnobNames lists the parameters a search can vary.
func KnobNames() []string {
	return slices.Sorted(maps.Keys(Knobs))
}
