package control

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/interp"
	"github.com/san-kum/physync/internal/pose"
)

type Mode int

const (
	ModeCorrective Mode = iota
	ModeKinematic
)

func (m Mode) String() string {
	if m == ModeKinematic {
		return "kinematic"
	}
	return "corrective"
}

// State is the outstanding correction. When Active is false no residual
// error is applied.
type State struct {
	PositionError        mgl64.Vec3
	InitialPositionError float64
	RotationAxis         mgl64.Vec3
	RotationAngle        float64
	InitialRotationAngle float64
	PositionActive       bool
	RotationActive       bool
}

func (s State) Active() bool { return s.PositionActive || s.RotationActive }

// PositionErrorMagnitude is the remaining positional error.
func (s State) PositionErrorMagnitude() float64 { return s.PositionError.Len() }

// Corrective owns the reconciliation state machine for a single body.
// It is not safe for concurrent use.
type Corrective struct {
	cfg   Config
	mode  Mode
	state State

	// latest authoritative pose, used when the owner reports sleep
	target    pose.Pose
	hasTarget bool
	adopt     bool
	sleep     bool

	follow kinematic
}

func NewCorrective(cfg Config) *Corrective {
	return &Corrective{cfg: cfg}
}

func (c *Corrective) Mode() Mode     { return c.mode }
func (c *Corrective) State() State   { return c.state }
func (c *Corrective) Config() Config { return c.cfg }

// SetMode switches between corrective and kinematic follow. Entering either
// mode clears all correction and follow state.
func (c *Corrective) SetMode(m Mode) {
	if m == c.mode {
		return
	}
	c.mode = m
	c.Reset()
}

// Reset zeroes correction state without changing mode.
func (c *Corrective) Reset() {
	c.state = State{}
	c.follow = kinematic{}
	c.adopt = false
	c.sleep = false
}

// Receive records an authoritative sample. In corrective mode the error is
// measured against the current simulated body; in kinematic mode the sample
// becomes the new follow target.
func (c *Corrective) Receive(s pose.Sample, current pose.Body) {
	c.target = s.Pose
	c.hasTarget = true
	c.sleep = false

	if c.mode == ModeKinematic {
		c.follow.push(s)
		return
	}

	c.state.PositionError = s.Pose.Position.Sub(current.Pose.Position)
	c.state.InitialPositionError = c.state.PositionError.Len()
	c.state.PositionActive = true

	rotErr := s.Pose.Rotation.Mul(current.Pose.Rotation.Inverse())
	angle, axis := interp.ToAngleAxis(rotErr)
	c.state.RotationAngle = angle
	c.state.InitialRotationAngle = angle
	c.state.RotationAxis = axis
	c.state.RotationActive = true
	c.adopt = true
}

// Sleep snaps to the last authoritative pose on the next step and stops
// motion. It is a no-op before any sample arrived.
func (c *Corrective) Sleep() {
	if !c.hasTarget {
		return
	}
	c.state = State{}
	c.follow = kinematic{}
	c.adopt = false
	c.sleep = true
}

// Step advances one physics tick and returns the pose to write. ok is false
// when nothing needs to be written this tick.
func (c *Corrective) Step(now, dt float64, current pose.Body) (pose.Write, bool) {
	if c.sleep {
		c.sleep = false
		p := c.target
		p.LinearVelocity = mgl64.Vec3{}
		p.AngularVelocity = mgl64.Vec3{}
		return pose.Write{Pose: p, HasVelocity: true, Sleep: true}, true
	}

	if c.mode == ModeKinematic {
		p, ok := c.follow.at(now)
		if !ok {
			return pose.Write{}, false
		}
		return pose.Write{Pose: p, HasVelocity: true, Kinematic: true}, true
	}

	if !c.state.Active() {
		return pose.Write{}, false
	}

	out := current.Pose
	w := pose.Write{}
	if c.adopt {
		out.LinearVelocity = c.target.LinearVelocity
		out.AngularVelocity = c.target.AngularVelocity
		w.HasVelocity = true
		c.adopt = false
	}

	if c.state.PositionActive {
		out.Position = out.Position.Add(c.stepPosition(current.Pose.Speed(), dt))
	}
	if c.state.RotationActive {
		angularSpeed := mgl64.RadToDeg(current.Pose.AngularVelocity.Len())
		out.Rotation = c.stepRotation(angularSpeed, dt).Mul(out.Rotation).Normalize()
	}

	w.Pose = out
	return w, true
}

func (c *Corrective) stepPosition(speed, dt float64) mgl64.Vec3 {
	errLen := c.state.PositionError.Len()
	amount, done := c.cfg.Position.Step(errLen, speed, dt)
	if done || errLen == 0 {
		delta := c.state.PositionError
		c.state.PositionError = mgl64.Vec3{}
		c.state.PositionActive = false
		return delta
	}
	delta := c.state.PositionError.Mul(amount / errLen)
	c.state.PositionError = c.state.PositionError.Sub(delta)
	return delta
}

func (c *Corrective) stepRotation(angularSpeed, dt float64) mgl64.Quat {
	amount, done := c.cfg.Rotation.Step(c.state.RotationAngle, angularSpeed, dt)
	q := interp.AngleAxis(amount, c.state.RotationAxis)
	if done {
		c.state.RotationAngle = 0
		c.state.RotationActive = false
		return q
	}
	c.state.RotationAngle -= amount
	return q
}
