package interp

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestSlerp_ShortestPath(t *testing.T) {
	axis := mgl64.Vec3{0, 1, 0}
	a := mgl64.QuatRotate(mgl64.DegToRad(10), axis)
	b := mgl64.QuatRotate(mgl64.DegToRad(30), axis).Scale(-1)

	got := Slerp(a, b, 0.5)
	want := mgl64.QuatRotate(mgl64.DegToRad(20), axis)
	if math.Abs(math.Abs(got.Dot(want))-1) > 1e-9 {
		t.Errorf("slerp took the long way: got %v, want %v", got, want)
	}
}

func TestSlerp_Extrapolates(t *testing.T) {
	axis := mgl64.Vec3{1, 0, 0}
	a := mgl64.QuatIdent()
	b := mgl64.QuatRotate(mgl64.DegToRad(20), axis)

	got := Slerp(a, b, 1.5)
	want := mgl64.QuatRotate(mgl64.DegToRad(30), axis)
	if math.Abs(math.Abs(got.Dot(want))-1) > 1e-9 {
		t.Errorf("extrapolated slerp %v, want %v", got, want)
	}
}

func TestAngleAxis_RoundTrip(t *testing.T) {
	tests := []struct {
		angle float64
		axis  mgl64.Vec3
	}{
		{15, mgl64.Vec3{0, 1, 0}},
		{90, mgl64.Vec3{1, 0, 0}},
		{170, mgl64.Vec3{0, 0, 1}},
		{45, mgl64.Vec3{1, 1, 0}.Normalize()},
	}

	for _, tt := range tests {
		q := AngleAxis(tt.angle, tt.axis)
		angle, axis := ToAngleAxis(q)
		if math.Abs(angle-tt.angle) > 1e-9 {
			t.Errorf("angle: got %f, want %f", angle, tt.angle)
		}
		if !axis.ApproxEqualThreshold(tt.axis, 1e-9) {
			t.Errorf("axis: got %v, want %v", axis, tt.axis)
		}
	}
}

func TestToAngleAxis_Identity(t *testing.T) {
	angle, axis := ToAngleAxis(mgl64.QuatIdent())
	if angle != 0 {
		t.Errorf("expected zero angle, got %f", angle)
	}
	if axis.Len() != 1 {
		t.Errorf("expected unit fallback axis, got %v", axis)
	}
}
