package metrics

import (
	"math"

	"github.com/san-kum/physync/internal/pose"
)

// Observation is one tick of a replication run as seen by both peers.
type Observation struct {
	Time          float64
	Owner         pose.Pose
	Replica       pose.Pose
	Bytes         int
	Extrapolating bool
}

type Metric interface {
	Name() string
	Observe(o Observation)
	Value() float64
	Reset()
}

// Standard returns the metrics recorded for every run.
func Standard() []Metric {
	return []Metric{
		NewPositionError(),
		NewMaxPositionError(),
		NewRotationError(),
		NewBandwidth(),
		NewStarvation(),
	}
}

type PositionError struct {
	sum     float64
	samples int
}

func NewPositionError() *PositionError { return &PositionError{} }

func (m *PositionError) Name() string { return "position_error_mean" }

func (m *PositionError) Observe(o Observation) {
	m.sum += o.Owner.Position.Sub(o.Replica.Position).Len()
	m.samples++
}

func (m *PositionError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *PositionError) Reset() {
	m.sum = 0
	m.samples = 0
}

type MaxPositionError struct {
	max float64
}

func NewMaxPositionError() *MaxPositionError { return &MaxPositionError{} }

func (m *MaxPositionError) Name() string { return "position_error_max" }

func (m *MaxPositionError) Observe(o Observation) {
	m.max = math.Max(m.max, o.Owner.Position.Sub(o.Replica.Position).Len())
}

func (m *MaxPositionError) Value() float64 { return m.max }
func (m *MaxPositionError) Reset()         { m.max = 0 }

// RotationError is the mean angular difference in degrees.
type RotationError struct {
	sum     float64
	samples int
}

func NewRotationError() *RotationError { return &RotationError{} }

func (m *RotationError) Name() string { return "rotation_error_mean" }

func (m *RotationError) Observe(o Observation) {
	m.sum += pose.AngleBetween(o.Owner.Rotation, o.Replica.Rotation)
	m.samples++
}

func (m *RotationError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *RotationError) Reset() {
	m.sum = 0
	m.samples = 0
}

// Bandwidth is bytes per second over the observed time span.
type Bandwidth struct {
	bytes      int
	start, end float64
	seen       bool
}

func NewBandwidth() *Bandwidth { return &Bandwidth{} }

func (m *Bandwidth) Name() string { return "bandwidth_bytes_per_sec" }

func (m *Bandwidth) Observe(o Observation) {
	if !m.seen {
		m.start = o.Time
		m.seen = true
	}
	m.end = o.Time
	m.bytes += o.Bytes
}

func (m *Bandwidth) Value() float64 {
	span := m.end - m.start
	if span <= 0 {
		return 0
	}
	return float64(m.bytes) / span
}

func (m *Bandwidth) Reset() { *m = Bandwidth{} }

// Starvation is the fraction of ticks spent extrapolating.
type Starvation struct {
	starved int
	samples int
}

func NewStarvation() *Starvation { return &Starvation{} }

func (m *Starvation) Name() string { return "starvation_ratio" }

func (m *Starvation) Observe(o Observation) {
	m.samples++
	if o.Extrapolating {
		m.starved++
	}
}

func (m *Starvation) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return float64(m.starved) / float64(m.samples)
}

func (m *Starvation) Reset() {
	m.starved = 0
	m.samples = 0
}
