package transport

import (
	"math/rand/v2"
	"slices"
)

type LinkConfig struct {
	// Latency is the one-way delay in seconds.
	Latency float64 `yaml:"latency"`
	// Jitter adds a uniform delay in [0, Jitter). Packets may reorder.
	Jitter float64 `yaml:"jitter"`
	// Loss is the probability a packet is dropped.
	Loss float64 `yaml:"loss"`
	Seed    uint64  `yaml:"seed"`
}

type LinkStats struct {
	Sent      int
	Lost      int
	Delivered int
	Bytes     int
}

type packet struct {
	at   float64
	seq  int
	data []byte
}

// Loopback is a one-directional simulated link. It is not safe for
// concurrent use.
type Loopback struct {
	cfg   LinkConfig
	rng   *rand.Rand
	queue []packet
	seq   int
	stats LinkStats
}

func NewLoopback(cfg LinkConfig) *Loopback {
	return &Loopback{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Send schedules data for delivery and reports whether it survived loss.
// The slice is copied.
func (l *Loopback) Send(now float64, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	l.stats.Sent++
	l.stats.Bytes += len(data)
	if l.cfg.Loss > 0 && l.rng.Float64() < l.cfg.Loss {
		l.stats.Lost++
		return false
	}

	at := now + l.cfg.Latency
	if l.cfg.Jitter > 0 {
		at += l.rng.Float64() * l.cfg.Jitter
	}
	p := packet{at: at, seq: l.seq, data: slices.Clone(data)}
	l.seq++

	i, _ := slices.BinarySearchFunc(l.queue, p, comparePackets)
	l.queue = slices.Insert(l.queue, i, p)
	return true
}

// Deliver returns every packet due by now in arrival order.
func (l *Loopback) Deliver(now float64) [][]byte {
	n := 0
	for n < len(l.queue) && l.queue[n].at <= now {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = l.queue[i].data
	}
	l.queue = slices.Delete(l.queue, 0, n)
	l.stats.Delivered += n
	return out
}

// InFlight is the number of packets sent but not yet delivered.
func (l *Loopback) InFlight() int { return len(l.queue) }

func (l *Loopback) Stats() LinkStats { return l.stats }

func comparePackets(a, b packet) int {
	switch {
	case a.at < b.at:
		return -1
	case a.at > b.at:
		return 1
	}
	return a.seq - b.seq
}
