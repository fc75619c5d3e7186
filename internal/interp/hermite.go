package interp

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/pose"
)

// Hermite blends two points with their tangents using the cubic Hermite basis.
// t is not clamped.
func Hermite(p0, m0, p1, m1 mgl64.Vec3, t float64) mgl64.Vec3 {
	t2 := t * t
	t3 := t2 * t
	h1 := 2*t3 - 3*t2 + 1
	h2 := -2*t3 + 3*t2
	h3 := t3 - 2*t2 + t
	h4 := t3 - t2

	var out mgl64.Vec3
	for i := 0; i < 3; i++ {
		out[i] = h1*p0[i] + h2*p1[i] + h3*m0[i] + h4*m1[i]
	}
	return out
}

// Interpolate returns the pose between start and end at fraction t.
//
// Sample velocities are in units per second; they are scaled by the interval
// length to form Hermite tangents, so interpolating a sample with itself is
// the identity. Velocities are blended linearly. t is not clamped.
func Interpolate(start, end pose.Sample, t float64) pose.Pose {
	span := end.Time - start.Time
	a, b := start.Pose, end.Pose

	return pose.Pose{
		Position:        Hermite(a.Position, a.LinearVelocity.Mul(span), b.Position, b.LinearVelocity.Mul(span), t),
		Rotation:        Slerp(a.Rotation, b.Rotation, t),
		LinearVelocity:  lerp(a.LinearVelocity, b.LinearVelocity, t),
		AngularVelocity: lerp(a.AngularVelocity, b.AngularVelocity, t),
	}
}

func lerp(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
