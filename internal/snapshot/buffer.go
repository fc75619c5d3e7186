package snapshot

import (
	"math"

	"github.com/san-kum/physync/internal/interp"
	"github.com/san-kum/physync/internal/pose"
)

// DefaultDepth is the number of queued samples kept ahead of playback.
const DefaultDepth = 3

// ExtrapolationExponent damps the time used for extrapolation past the
// youngest sample: the pose advances by dt^ExtrapolationExponent seconds.
const ExtrapolationExponent = 0.25

type Status int

const (
	// Unavailable means fewer than two samples have ever been seen.
	Unavailable Status = iota
	// Holding means playback time has not reached the first interval yet.
	Holding
	Interpolating
	// Extrapolating means the buffer ran dry and the pose is a damped guess.
	Extrapolating
)

func (s Status) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Holding:
		return "holding"
	case Interpolating:
		return "interpolating"
	case Extrapolating:
		return "extrapolating"
	}
	return "unknown"
}

// Buffer is a per-object queue of samples with an active interpolation
// window [start, end]. It is not safe for concurrent use.
type Buffer struct {
	depth   int
	queue   []pose.Sample
	start   pose.Sample
	end     pose.Sample
	started bool

	latest    float64
	hasLatest bool
	dropped   int
}

func New(depth int) *Buffer {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Buffer{
		depth: depth,
		queue: make([]pose.Sample, 0, 2*depth),
	}
}

// Push appends s. Samples not strictly newer than the latest pushed sample
// are dropped and Push returns false. When the queue is full the oldest
// queued sample is discarded.
func (b *Buffer) Push(s pose.Sample) bool {
	if b.hasLatest && s.Time <= b.latest {
		return false
	}
	b.latest = s.Time
	b.hasLatest = true

	// two samples are needed before playback can start
	limit := b.depth
	if !b.started && limit < 2 {
		limit = 2
	}
	if len(b.queue) >= limit {
		b.queue = b.queue[1:]
		b.dropped++
	}
	b.queue = append(b.queue, s)
	return true
}

// Advance moves the window to now and returns the pose to apply.
// The returned pose is meaningless when the status is Unavailable.
func (b *Buffer) Advance(now float64) (pose.Pose, Status) {
	if !b.started {
		if len(b.queue) < 2 {
			return pose.Pose{}, Unavailable
		}
		b.start = b.dequeue()
		b.end = b.dequeue()
		b.started = true
	}

	for now > b.end.Time && len(b.queue) > 0 {
		b.start = b.end
		b.end = b.dequeue()
	}

	if now < b.start.Time {
		return b.start.Pose, Holding
	}

	if now > b.end.Time {
		return b.extrapolate(now), Extrapolating
	}

	span := b.end.Time - b.start.Time
	t := 1.0
	if span > 0 {
		t = (now - b.start.Time) / span
	}
	return interp.Interpolate(b.start, b.end, t), Interpolating
}

func (b *Buffer) extrapolate(now float64) pose.Pose {
	dt := now - b.end.Time
	damped := math.Pow(dt, ExtrapolationExponent)

	p := b.end.Pose
	p.Position = b.end.Pose.Position.Add(b.end.Pose.LinearVelocity.Mul(damped))
	p.Rotation = interp.Slerp(b.start.Pose.Rotation, b.end.Pose.Rotation, 1+damped)
	return p
}

func (b *Buffer) dequeue() pose.Sample {
	s := b.queue[0]
	b.queue = b.queue[1:]
	return s
}

// Age returns how far now is past the youngest sample in the active window.
func (b *Buffer) Age(now float64) float64 {
	if !b.started {
		return 0
	}
	return now - b.end.Time
}

// Latest returns the time of the newest pushed sample.
func (b *Buffer) Latest() (float64, bool) { return b.latest, b.hasLatest }

// Len returns the number of samples queued ahead of the active window.
func (b *Buffer) Len() int { return len(b.queue) }

func (b *Buffer) Started() bool { return b.started }

// Dropped counts samples discarded because the queue was full.
func (b *Buffer) Dropped() int { return b.dropped }

// Reset clears all samples and history.
func (b *Buffer) Reset() {
	b.queue = b.queue[:0]
	b.start = pose.Sample{}
	b.end = pose.Sample{}
	b.started = false
	b.latest = 0
	b.hasLatest = false
	b.dropped = 0
}
