package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/metrics"
	"github.com/san-kum/physync/internal/pose"
	"github.com/san-kum/physync/internal/replication"
	"github.com/san-kum/physync/internal/snapshot"
	"github.com/san-kum/physync/internal/transport"
	"github.com/san-kum/physync/internal/wire"
)

const (
	ownerID   int16 = 1
	replicaID int16 = 2

	tracked = pose.ObjectID(1)
	// grabRadius is the circle the owner moves a held body along.
	grabRadius = 1.0
)

// Harness runs an owner and a replica peer in one process, connected by a
// simulated link. The owner simulates every body; the replica mirrors them
// through its coordinator.
type Harness struct {
	setup   Setup
	mode    replication.Mode
	dt      float64
	steps   int
	owner   *replication.Coordinator
	replica *replication.Coordinator
	link    *transport.Loopback

	ownerWorld   *World
	replicaWorld *World
	metrics      []metrics.Metric

	tick    int
	grabbed bool
	result  *Result
}

func validate(s Setup) error {
	if s.Sim.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", s.Sim.Duration)
	}
	if s.Sim.Bodies < 1 {
		return fmt.Errorf("need at least one body, got %d", s.Sim.Bodies)
	}
	if s.Replication.FixedDt <= 0 {
		return fmt.Errorf("fixed_dt must be positive, got %f", s.Replication.FixedDt)
	}
	if s.Link.Loss < 0 || s.Link.Loss >= 1 {
		return fmt.Errorf("loss must be in [0, 1), got %f", s.Link.Loss)
	}
	return nil
}

func NewHarness(s Setup) (*Harness, error) {
	if err := validate(s); err != nil {
		return nil, err
	}
	mode, ok := replication.ParseMode(s.Sim.Mode)
	if !ok {
		return nil, fmt.Errorf("unknown replication mode %q", s.Sim.Mode)
	}
	integrator, err := NewIntegrator(s.Sim.Integrator)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(s.Sim.Seed, s.Sim.Seed+1))

	ownerCfg := s.Replication
	ownerCfg.SenderID = ownerID
	replicaCfg := s.Replication
	replicaCfg.SenderID = replicaID

	h := &Harness{
		setup: s,
		mode:  mode,
		dt:    s.Replication.FixedDt,
		steps: int(math.Round(s.Sim.Duration / s.Replication.FixedDt)),
		owner: replication.New(ownerCfg,
			replication.WithLogger(s.Logger.With().Str("peer", "owner").Logger()),
			replication.WithRand(rand.New(rand.NewPCG(s.Sim.Seed, 2)))),
		replica: replication.New(replicaCfg,
			replication.WithLogger(s.Logger.With().Str("peer", "replica").Logger()),
			replication.WithMetrics(s.Metrics)),
		link:    transport.NewLoopback(s.Link),
		metrics: metrics.Standard(),
		result: &Result{
			Mode:    mode.String(),
			Metrics: make(map[string]float64),
		},
	}

	h.ownerWorld = NewWorld(s.Sim.World, integrator)
	h.ownerWorld.Spawn(s.Sim.Bodies, s.Sim.ThrowSpeed, rng)
	h.replicaWorld = h.ownerWorld.Clone()
	if mode == replication.Corrective && s.Sim.Drift > 0 {
		for _, b := range h.replicaWorld.Bodies {
			dir := mgl64.Vec3{rng.Float64() - 0.5, rng.Float64(), rng.Float64() - 0.5}
			if dir.Len() > 0 {
				b.Pose.Position = b.Pose.Position.Add(dir.Normalize().Mul(s.Sim.Drift))
			}
		}
	}

	for _, b := range h.ownerWorld.Bodies {
		if err := h.owner.Register(b.ID, replication.LocallyOwned, mode); err != nil {
			return nil, err
		}
		if err := h.replica.Register(b.ID, replication.RemotelyOwned, mode); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Harness) Owner() *replication.Coordinator   { return h.owner }
func (h *Harness) Replica() *replication.Coordinator { return h.replica }
func (h *Harness) Done() bool                        { return h.tick > h.steps }
func (h *Harness) Steps() int                        { return h.steps }

// Step advances both peers by one fixed tick.
func (h *Harness) Step() (TickInfo, error) {
	now := float64(h.tick) * h.dt

	if err := h.grab(now); err != nil {
		return TickInfo{}, fmt.Errorf("tick %d: %w", h.tick, err)
	}
	h.ownerWorld.Step(h.dt)

	f, err := h.owner.Tick(now, h.ownerWorld.Reads())
	if err != nil {
		return TickInfo{}, fmt.Errorf("owner tick %d: %w", h.tick, err)
	}
	if f.Batch != nil {
		h.link.Send(now, f.Batch)
		h.result.BatchesSent++
		h.result.BytesSent += len(f.Batch)
	}

	for _, data := range h.link.Deliver(now) {
		if err := h.replica.HandleBatch(now, data); err != nil {
			h.result.Errors = append(h.result.Errors, err.Error())
		}
	}

	rf, err := h.replica.Tick(now, h.replicaWorld.Reads())
	if err != nil {
		return TickInfo{}, fmt.Errorf("replica tick %d: %w", h.tick, err)
	}
	h.replicaWorld.Apply(rf.Writes)
	if h.mode == replication.Corrective {
		h.replicaWorld.Step(h.dt)
	}

	info := TickInfo{
		Index:   h.tick,
		Objects: h.replica.Objects(),
		Link:    h.link.Stats(),
		Bytes:   len(f.Batch),
	}
	for i, ob := range h.ownerWorld.Bodies {
		rb := h.replicaWorld.Body(ob.ID)
		oi, _ := h.replica.Info(ob.ID)
		o := metrics.Observation{
			Time:          now,
			Owner:         ob.Pose,
			Replica:       rb.Pose,
			Extrapolating: oi.Status == snapshot.Extrapolating,
		}
		if i == 0 {
			o.Bytes = len(f.Batch)
		}
		for _, m := range h.metrics {
			m.Observe(o)
		}
		if ob.ID == tracked {
			info.Point = TracePoint{
				Time:    now,
				Owner:   [3]float64(ob.Pose.Position),
				Replica: [3]float64(rb.Pose.Position),
				Error:   ob.Pose.Position.Sub(rb.Pose.Position).Len(),
				Status:  ObjectStatus(oi),
			}
		}
	}
	h.result.Trace = append(h.result.Trace, info.Point)
	h.result.Steps++
	h.tick++
	return info, nil
}

// ObjectStatus is a one-word description of what a replica is doing with an
// object.
func ObjectStatus(oi replication.ObjectInfo) string {
	switch {
	case oi.Ownership == replication.LocallyOwned:
		return "owned"
	case oi.Mode == replication.Playback:
		return oi.Status.String()
	case oi.Following:
		return "following"
	case oi.Correction.Active():
		return "correcting"
	}
	return "settled"
}

// grab holds the tracked body on a circle for the configured window, then
// releases it with its circular velocity.
func (h *Harness) grab(now float64) error {
	cfg := h.setup.Sim
	if cfg.GrabEnd <= cfg.GrabStart {
		return nil
	}
	b := h.ownerWorld.Body(tracked)
	if b == nil {
		return nil
	}

	switch {
	case !h.grabbed && now >= cfg.GrabStart && now < cfg.GrabEnd:
		h.grabbed = true
		b.Kinematic = true
		b.Wake()
		if err := h.owner.Notify(tracked, wire.CommandGrab); err != nil {
			return fmt.Errorf("grab: %w", err)
		}
	case h.grabbed && now >= cfg.GrabEnd:
		h.grabbed = false
		b.Kinematic = false
		if err := h.owner.Notify(tracked, wire.CommandUngrab); err != nil {
			return fmt.Errorf("ungrab: %w", err)
		}
		return nil
	}
	if !h.grabbed {
		return nil
	}

	phase := (now - cfg.GrabStart) * 2
	b.Pose.Position = mgl64.Vec3{grabRadius * math.Cos(phase), 2, grabRadius * math.Sin(phase)}
	b.Pose.LinearVelocity = mgl64.Vec3{-2 * grabRadius * math.Sin(phase), 0, 2 * grabRadius * math.Cos(phase)}
	b.Pose.AngularVelocity = mgl64.Vec3{}
	return nil
}

// Result finalizes metrics and returns the run summary.
func (h *Harness) Result() *Result {
	for _, m := range h.metrics {
		h.result.Metrics[m.Name()] = m.Value()
	}
	h.result.Link = h.link.Stats()
	return h.result
}

func Run(ctx context.Context, s Setup) (*Result, error) {
	return RunWithCallback(ctx, s, nil)
}

// RunWithCallback runs to completion, calling fn after every step. A false
// return from fn stops the run early.
func RunWithCallback(ctx context.Context, s Setup, fn func(TickInfo) bool) (*Result, error) {
	h, err := NewHarness(s)
	if err != nil {
		return nil, err
	}

	for !h.Done() {
		select {
		case <-ctx.Done():
			return h.Result(), ctx.Err()
		default:
		}

		info, err := h.Step()
		if err != nil {
			return h.Result(), err
		}
		if fn != nil && !fn(info) {
			break
		}
	}
	return h.Result(), nil
}
