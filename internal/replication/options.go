package replication

import (
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/san-kum/physync/internal/metrics"
)

type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(clk Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithRand seeds heartbeat jitter. Without it the first heartbeat of every
// object is due one full interval after registration.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = r }
}

func WithCommandHandler(h CommandHandler) Option {
	return func(c *Coordinator) { c.handler = h }
}
