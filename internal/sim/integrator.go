package sim

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/pose"
)

// Integrator advances linear motion under a constant acceleration.
type Integrator interface {
	Step(p *pose.Pose, accel mgl64.Vec3, dt float64)
}

type Euler struct{}

func NewEuler() *Euler { return &Euler{} }

func (e *Euler) Step(p *pose.Pose, accel mgl64.Vec3, dt float64) {
	p.Position = p.Position.Add(p.LinearVelocity.Mul(dt))
	p.LinearVelocity = p.LinearVelocity.Add(accel.Mul(dt))
}

// Verlet is velocity Verlet, exact for constant acceleration.
type Verlet struct{}

func NewVerlet() *Verlet { return &Verlet{} }

func (v *Verlet) Step(p *pose.Pose, accel mgl64.Vec3, dt float64) {
	p.Position = p.Position.Add(p.LinearVelocity.Mul(dt)).Add(accel.Mul(0.5 * dt * dt))
	p.LinearVelocity = p.LinearVelocity.Add(accel.Mul(dt))
}

func NewIntegrator(name string) (Integrator, error) {
	switch name {
	case "euler":
		return NewEuler(), nil
	case "verlet", "":
		return NewVerlet(), nil
	}
	return nil, fmt.Errorf("unknown integrator %q", name)
}

// integrateRotation advances q by angular velocity w (rad/s).
func integrateRotation(q mgl64.Quat, w mgl64.Vec3, dt float64) mgl64.Quat {
	if w.Len() == 0 {
		return q
	}
	spin := mgl64.Quat{W: 0, V: w}.Mul(q).Scale(0.5 * dt)
	return q.Add(spin).Normalize()
}
