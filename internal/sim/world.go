package sim

import (
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/interp"
	"github.com/san-kum/physync/internal/pose"
)

const (
	// restingBounce is the rebound speed below which a floor contact stops.
	restingBounce = 0.5
	// wakeDistance is how far a write must move a sleeping body to wake it.
	wakeDistance = 1e-4
)

type WorldConfig struct {
	Gravity        float64 `yaml:"gravity"`
	Restitution    float64 `yaml:"restitution"`
	Friction       float64 `yaml:"friction"`
	AngularDamping float64 `yaml:"angular_damping"`
	SleepSpeed     float64 `yaml:"sleep_speed"`
	SleepTime      float64 `yaml:"sleep_time"`
	HalfExtent     float64 `yaml:"half_extent"`
	Bounds         float64 `yaml:"bounds"`
}

func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Gravity:        9.81,
		Restitution:    0.5,
		Friction:       2.0,
		AngularDamping: 0.5,
		SleepSpeed:     0.05,
		SleepTime:      0.5,
		HalfExtent:     0.25,
		Bounds:         5,
	}
}

type RigidBody struct {
	ID        pose.ObjectID
	Pose      pose.Pose
	Sleeping  bool
	Kinematic bool
	rest      float64
}

// World is a minimal rigid-body scene: boxes treated as spheres under
// gravity, bouncing off a floor at y=0 and walls at ±Bounds.
type World struct {
	cfg        WorldConfig
	integrator Integrator
	Bodies     []*RigidBody
}

func NewWorld(cfg WorldConfig, integrator Integrator) *World {
	return &World{cfg: cfg, integrator: integrator}
}

// Spawn adds n bodies with ids 1..n thrown in random directions.
func (w *World) Spawn(n int, throwSpeed float64, rng *rand.Rand) {
	span := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	for i := 1; i <= n; i++ {
		axis := mgl64.Vec3{span(-1, 1), span(-1, 1), span(-1, 1)}
		if axis.Len() < 1e-6 {
			axis = mgl64.Vec3{0, 1, 0}
		}
		w.Bodies = append(w.Bodies, &RigidBody{
			ID: pose.ObjectID(i),
			Pose: pose.Pose{
				Position:        mgl64.Vec3{span(-3, 3), span(1, 4), span(-3, 3)},
				Rotation:        interp.AngleAxis(span(0, 360), axis),
				LinearVelocity:  mgl64.Vec3{span(-throwSpeed, throwSpeed), span(0, throwSpeed), span(-throwSpeed, throwSpeed)},
				AngularVelocity: mgl64.Vec3{span(-3, 3), span(-3, 3), span(-3, 3)},
			},
		})
	}
}

// Clone returns a deep copy sharing configuration.
func (w *World) Clone() *World {
	c := &World{cfg: w.cfg, integrator: w.integrator, Bodies: make([]*RigidBody, len(w.Bodies))}
	for i, b := range w.Bodies {
		cp := *b
		c.Bodies[i] = &cp
	}
	return c
}

func (w *World) Body(id pose.ObjectID) *RigidBody {
	for _, b := range w.Bodies {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (w *World) Step(dt float64) {
	gravity := mgl64.Vec3{0, -w.cfg.Gravity, 0}
	for _, b := range w.Bodies {
		if b.Kinematic || b.Sleeping {
			continue
		}
		w.integrator.Step(&b.Pose, gravity, dt)
		b.Pose.Rotation = integrateRotation(b.Pose.Rotation, b.Pose.AngularVelocity, dt)
		b.Pose.AngularVelocity = b.Pose.AngularVelocity.Mul(math.Max(0, 1-w.cfg.AngularDamping*dt))
		w.collide(b, dt)
		w.settle(b, dt)
	}
}

func (w *World) collide(b *RigidBody, dt float64) {
	p := &b.Pose
	h := w.cfg.HalfExtent
	if p.Position[1] <= h {
		p.Position[1] = h
		if p.LinearVelocity[1] < 0 {
			p.LinearVelocity[1] = -p.LinearVelocity[1] * w.cfg.Restitution
			if p.LinearVelocity[1] < restingBounce {
				p.LinearVelocity[1] = 0
			}
		}
		drag := math.Max(0, 1-w.cfg.Friction*dt)
		p.LinearVelocity[0] *= drag
		p.LinearVelocity[2] *= drag
		p.AngularVelocity = p.AngularVelocity.Mul(drag)
	}

	if w.cfg.Bounds <= 0 {
		return
	}
	for _, axis := range []int{0, 2} {
		limit := w.cfg.Bounds - h
		if p.Position[axis] > limit {
			p.Position[axis] = limit
			p.LinearVelocity[axis] = -math.Abs(p.LinearVelocity[axis]) * w.cfg.Restitution
		} else if p.Position[axis] < -limit {
			p.Position[axis] = -limit
			p.LinearVelocity[axis] = math.Abs(p.LinearVelocity[axis]) * w.cfg.Restitution
		}
	}
}

func (w *World) settle(b *RigidBody, dt float64) {
	onFloor := b.Pose.Position[1] <= w.cfg.HalfExtent+1e-9
	if onFloor && b.Pose.Speed() < w.cfg.SleepSpeed && b.Pose.AngularVelocity.Len() < w.cfg.SleepSpeed {
		b.rest += dt
		if b.rest >= w.cfg.SleepTime {
			b.Sleeping = true
			b.Pose.LinearVelocity = mgl64.Vec3{}
			b.Pose.AngularVelocity = mgl64.Vec3{}
		}
		return
	}
	b.rest = 0
}

// Wake lets a sleeping body move again.
func (b *RigidBody) Wake() {
	b.Sleeping = false
	b.rest = 0
}

// Reads returns the physics state of every body for the coordinator.
func (w *World) Reads() map[pose.ObjectID]pose.Body {
	out := make(map[pose.ObjectID]pose.Body, len(w.Bodies))
	for _, b := range w.Bodies {
		out[b.ID] = pose.Body{
			Pose:      b.Pose,
			Scale:     mgl64.Vec3{1, 1, 1},
			Sleeping:  b.Sleeping,
			Kinematic: b.Kinematic,
		}
	}
	return out
}

// Apply writes coordinator output back into the bodies.
func (w *World) Apply(writes []pose.Write) {
	for _, wr := range writes {
		b := w.Body(wr.ID)
		if b == nil {
			continue
		}
		moved := wr.Pose.Position.Sub(b.Pose.Position).Len()
		b.Pose.Position = wr.Pose.Position
		b.Pose.Rotation = wr.Pose.Rotation
		if wr.HasVelocity {
			b.Pose.LinearVelocity = wr.Pose.LinearVelocity
			b.Pose.AngularVelocity = wr.Pose.AngularVelocity
		}
		b.Kinematic = wr.Kinematic
		if wr.Sleep {
			b.Sleeping = true
			b.Pose.LinearVelocity = mgl64.Vec3{}
			b.Pose.AngularVelocity = mgl64.Vec3{}
		} else if b.Sleeping && moved > wakeDistance {
			b.Wake()
		}
	}
}
