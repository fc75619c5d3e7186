package interp

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Slerp is a shortest-path spherical blend. Fractions outside [0,1]
// extrapolate along the same great arc.
func Slerp(a, b mgl64.Quat, t float64) mgl64.Quat {
	a, b = a.Normalize(), b.Normalize()
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl64.QuatSlerp(a, b, t).Normalize()
}

// ToAngleAxis decomposes q into an angle in degrees within [0,180] and a unit
// axis. A rotation of zero returns the X axis.
func ToAngleAxis(q mgl64.Quat) (float64, mgl64.Vec3) {
	q = q.Normalize()
	if q.W < 0 {
		q = q.Scale(-1)
	}
	w := mgl64.Clamp(q.W, -1, 1)
	angle := 2 * math.Acos(w)
	s := math.Sqrt(1 - w*w)
	if s < 1e-9 {
		return 0, mgl64.Vec3{1, 0, 0}
	}
	return mgl64.RadToDeg(angle), q.V.Mul(1 / s)
}

// AngleAxis builds the rotation of angle degrees about axis.
func AngleAxis(angle float64, axis mgl64.Vec3) mgl64.Quat {
	if axis.Len() == 0 {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(mgl64.DegToRad(angle), axis.Normalize())
}
