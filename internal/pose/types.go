package pose

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ObjectID is the network identity of a replicated body. Zero means unassigned.
type ObjectID int32

type Pose struct {
	Position        mgl64.Vec3
	Rotation        mgl64.Quat
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// Identity returns a pose at the origin with no rotation and no motion.
func Identity() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

// Normalized returns a copy with a unit rotation. A zero quaternion becomes identity.
func (p Pose) Normalized() Pose {
	if p.Rotation.Len() == 0 {
		p.Rotation = mgl64.QuatIdent()
		return p
	}
	p.Rotation = p.Rotation.Normalize()
	return p
}

func (p Pose) IsValid() bool {
	return finiteVec(p.Position) && finiteVec(p.LinearVelocity) &&
		finiteVec(p.AngularVelocity) && finiteVec(p.Rotation.V) &&
		!math.IsNaN(p.Rotation.W) && !math.IsInf(p.Rotation.W, 0)
}

// Validate reports why a pose cannot be used, or nil.
func (p Pose) Validate() error {
	if !p.IsValid() {
		return ErrInvalidPose
	}
	if p.Rotation.Len() == 0 {
		return ErrDegenerateRotation
	}
	return nil
}

// Speed is the magnitude of the linear velocity.
func (p Pose) Speed() float64 { return p.LinearVelocity.Len() }

func (p Pose) String() string {
	return fmt.Sprintf("pos=(%.3f %.3f %.3f) rot=(%.3f %.3f %.3f %.3f)",
		p.Position[0], p.Position[1], p.Position[2],
		p.Rotation.W, p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2])
}

// Sample is an immutable time-stamped observation. Time is in seconds on the
// receiving peer's clock.
type Sample struct {
	Time float64
	Pose Pose
}

func NewSample(t float64, p Pose) Sample {
	return Sample{Time: t, Pose: p.Normalized()}
}

// Body is the per-tick state the host reads from its physics engine.
type Body struct {
	Pose      Pose
	Scale     mgl64.Vec3
	Sleeping  bool
	Kinematic bool
}

// Write is the per-tick output the host applies to its physics engine.
// Velocities are only applied when HasVelocity is set.
type Write struct {
	ID          ObjectID
	Pose        Pose
	HasVelocity bool
	Kinematic   bool
	Sleep       bool
}

func finiteVec(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// AngleBetween returns the smallest rotation angle in degrees taking a to b.
func AngleBetween(a, b mgl64.Quat) float64 {
	d := math.Abs(a.Normalize().Dot(b.Normalize()))
	if d > 1 {
		d = 1
	}
	return mgl64.RadToDeg(2 * math.Acos(d))
}
