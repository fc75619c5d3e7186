package detect

import (
	"math/rand/v2"

	"github.com/san-kum/physync/internal/pose"
)

const (
	DefaultHeartbeat         = 1.0
	DefaultPositionThreshold = 0.01
	DefaultRotationThreshold = 2.0
	DefaultScaleThreshold    = 0.01
)

// Config holds the dead-reckoning thresholds. Rotation is in degrees.
type Config struct {
	Heartbeat         float64 `yaml:"heartbeat"`
	PositionThreshold float64 `yaml:"position_threshold"`
	RotationThreshold float64 `yaml:"rotation_threshold"`
	ScaleThreshold    float64 `yaml:"scale_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Heartbeat:         DefaultHeartbeat,
		PositionThreshold: DefaultPositionThreshold,
		RotationThreshold: DefaultRotationThreshold,
		ScaleThreshold:    DefaultScaleThreshold,
	}
}

// Reason explains why a send was (or was not) triggered.
type Reason int

const (
	None Reason = iota
	First
	Heartbeat
	Moved
	Rotated
	Scaled
	SleepChanged
	KinematicChanged
)

func (r Reason) String() string {
	switch r {
	case None:
		return "none"
	case First:
		return "first"
	case Heartbeat:
		return "heartbeat"
	case Moved:
		return "moved"
	case Rotated:
		return "rotated"
	case Scaled:
		return "scaled"
	case SleepChanged:
		return "sleep_changed"
	case KinematicChanged:
		return "kinematic_changed"
	}
	return "unknown"
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

func (d *Detector) Config() Config { return d.cfg }

// ShouldSend reports whether current differs enough from lastSent, or enough
// time has elapsed, to justify a transmission.
func (d *Detector) ShouldSend(current pose.Body, lastSent *pose.Body, elapsed float64) bool {
	return d.Evaluate(current, lastSent, elapsed) != None
}

// Evaluate is ShouldSend with the triggering reason.
//
// A body that was already asleep at the last send stays silent until the
// heartbeat; the transition into sleep is itself sent once. A kinematic flip
// is sent even while asleep.
func (d *Detector) Evaluate(current pose.Body, lastSent *pose.Body, elapsed float64) Reason {
	if elapsed >= d.cfg.Heartbeat {
		return Heartbeat
	}
	if lastSent == nil {
		return First
	}
	if current.Sleeping != lastSent.Sleeping {
		return SleepChanged
	}
	if current.Kinematic != lastSent.Kinematic {
		return KinematicChanged
	}
	if current.Sleeping {
		return None
	}

	if current.Pose.Position.Sub(lastSent.Pose.Position).Len() > d.cfg.PositionThreshold {
		return Moved
	}
	if pose.AngleBetween(current.Pose.Rotation, lastSent.Pose.Rotation) > d.cfg.RotationThreshold {
		return Rotated
	}
	if current.Scale.Sub(lastSent.Scale).Len() > d.cfg.ScaleThreshold {
		return Scaled
	}
	return None
}

// InitialElapsed returns a randomized starting value for the time since the
// last send, so the first heartbeat of a newly registered object falls
// uniformly in [0.5, 1] heartbeats from now.
func (d *Detector) InitialElapsed(rng *rand.Rand) float64 {
	if rng == nil {
		return 0
	}
	return rng.Float64() * 0.5 * d.cfg.Heartbeat
}
