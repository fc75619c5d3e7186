package replication

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/san-kum/physync/internal/control"
	"github.com/san-kum/physync/internal/detect"
	"github.com/san-kum/physync/internal/metrics"
	"github.com/san-kum/physync/internal/pose"
	"github.com/san-kum/physync/internal/snapshot"
	"github.com/san-kum/physync/internal/wire"
)

type Coordinator struct {
	cfg      Config
	detector *detect.Detector
	log      zerolog.Logger
	metrics  *metrics.Collector
	clock    Clock
	handler  CommandHandler

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.RWMutex
	objects map[pose.ObjectID]*object

	tickMu sync.Mutex
	frame  int32

	outMu  sync.Mutex
	outbox []wire.Command
}

func New(cfg Config, opts ...Option) *Coordinator {
	if cfg.FixedDt <= 0 {
		cfg.FixedDt = DefaultConfig().FixedDt
	}
	if cfg.BufferDepth < 1 {
		cfg.BufferDepth = snapshot.DefaultDepth
	}
	if cfg.FrameSkip < 0 {
		cfg.FrameSkip = 0
	}

	c := &Coordinator{
		cfg:      cfg,
		detector: detect.New(cfg.Detector),
		log:      zerolog.Nop(),
		clock:    OffsetClock(0),
		objects:  make(map[pose.ObjectID]*object),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Config() Config { return c.cfg }

// Register adds an object. Registering an id that is already present is a
// no-op; use SetOwnership or SetMode to change an existing object.
func (c *Coordinator) Register(id pose.ObjectID, own Ownership, mode Mode) error {
	if id == 0 {
		return ErrZeroID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[id]; ok {
		return nil
	}

	obj := &object{
		id:        id,
		ownership: own,
		mode:      mode,
		buffer:    snapshot.New(c.cfg.BufferDepth),
	}
	obj.reset(c.cfg, c.jitter())
	c.objects[id] = obj
	c.updateGauge()

	c.log.Debug().
		Int32("object", int32(id)).
		Stringer("ownership", own).
		Stringer("mode", mode).
		Msg("registered object")
	return nil
}

// Unregister removes an object. Unknown ids are ignored.
func (c *Coordinator) Unregister(id pose.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[id]; !ok {
		return
	}
	delete(c.objects, id)
	c.updateGauge()
	c.log.Debug().Int32("object", int32(id)).Msg("unregistered object")
}

// SetOwnership switches an object between local and remote authority and
// clears all replication history for it.
func (c *Coordinator) SetOwnership(id pose.ObjectID, own Ownership) error {
	obj := c.lookup(id)
	if obj == nil {
		return fmt.Errorf("set ownership of %d: %w", id, ErrUnknownObject)
	}

	obj.mu.Lock()
	changed := obj.ownership != own
	if changed {
		obj.ownership = own
		obj.reset(c.cfg, c.jitter())
	}
	obj.mu.Unlock()

	if changed {
		c.mu.Lock()
		c.updateGauge()
		c.mu.Unlock()
		c.log.Debug().Int32("object", int32(id)).Stringer("ownership", own).Msg("ownership changed")
	}
	return nil
}

// SetMode changes how a remote object is driven. Correction and buffer state
// are cleared when the mode changes.
func (c *Coordinator) SetMode(id pose.ObjectID, mode Mode) error {
	obj := c.lookup(id)
	if obj == nil {
		return fmt.Errorf("set mode of %d: %w", id, ErrUnknownObject)
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.mode != mode {
		obj.mode = mode
		obj.reset(c.cfg, obj.elapsed)
	}
	return nil
}

// Notify queues an interaction command for the next outgoing batch.
func (c *Coordinator) Notify(id pose.ObjectID, kind wire.CommandKind) error {
	if c.lookup(id) == nil {
		return fmt.Errorf("notify %s on %d: %w", kind, id, ErrUnknownObject)
	}
	c.outMu.Lock()
	c.outbox = append(c.outbox, wire.Command{Object: id, Kind: kind, Actor: c.cfg.SenderID})
	c.outMu.Unlock()
	c.metrics.Command("out", kind.String())
	return nil
}

func (c *Coordinator) Info(id pose.ObjectID) (ObjectInfo, bool) {
	obj := c.lookup(id)
	if obj == nil {
		return ObjectInfo{}, false
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.info(), true
}

// Objects returns a view of every registered object ordered by id.
func (c *Coordinator) Objects() []ObjectInfo {
	objs := c.sorted()
	out := make([]ObjectInfo, 0, len(objs))
	for _, obj := range objs {
		obj.mu.Lock()
		out = append(out, obj.info())
		obj.mu.Unlock()
	}
	return out
}

func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// Tick runs one fixed physics step. reads holds the current body state of
// every object the host simulates; remote playback objects need no entry.
func (c *Coordinator) Tick(now float64, reads map[pose.ObjectID]pose.Body) (Frame, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	frame := Frame{Index: c.frame}
	sendFrame := c.frame%int32(1+c.cfg.FrameSkip) == 0
	c.frame++

	var records []wire.Record
	var commands []wire.Command
	for _, obj := range c.sorted() {
		obj.mu.Lock()
		if obj.ownership == LocallyOwned {
			if body, ok := reads[obj.id]; ok {
				rec, cmds, send := c.tickLocal(obj, body, sendFrame)
				if send {
					records = append(records, rec)
				}
				commands = append(commands, cmds...)
			}
		} else if w, ok := c.tickRemote(obj, now, reads); ok {
			frame.Writes = append(frame.Writes, w)
		}
		obj.mu.Unlock()
	}

	c.outMu.Lock()
	commands = append(commands, c.outbox...)
	c.outbox = c.outbox[:0]
	c.outMu.Unlock()

	if len(records) == 0 && len(commands) == 0 {
		return frame, nil
	}

	b := wire.Batch{
		Header: wire.Header{
			ServerTimeMillis: wire.Millis(c.clock.ServerTime(now) + c.cfg.ForwardDelay()),
			SenderID:         c.cfg.SenderID,
			FrameIndex:       frame.Index,
		},
		Records:  records,
		Commands: commands,
	}
	data, err := b.Encode()
	if err != nil {
		return frame, fmt.Errorf("encode frame %d: %w", frame.Index, err)
	}
	frame.Batch = data
	frame.Records = len(records)
	c.metrics.BatchSent(len(data))
	return frame, nil
}

func (c *Coordinator) tickLocal(obj *object, body pose.Body, sendFrame bool) (wire.Record, []wire.Command, bool) {
	obj.elapsed += c.cfg.FixedDt
	if !sendFrame {
		return wire.Record{}, nil, false
	}

	body.Pose = body.Pose.Normalized()
	reason := c.detector.Evaluate(body, obj.lastSent, obj.elapsed)
	if reason == detect.None {
		return wire.Record{}, nil, false
	}

	var cmds []wire.Command
	if obj.lastSent != nil && body.Sleeping != obj.lastSent.Sleeping {
		kind := wire.CommandWake
		if body.Sleeping {
			kind = wire.CommandSleep
		}
		cmds = append(cmds, wire.Command{Object: obj.id, Kind: kind, Actor: c.cfg.SenderID})
		c.metrics.Command("out", kind.String())
	}

	sent := body
	obj.lastSent = &sent
	obj.elapsed = 0
	c.metrics.RecordSent(reason.String())
	return wire.RecordFrom(obj.id, body), cmds, true
}

func (c *Coordinator) tickRemote(obj *object, now float64, reads map[pose.ObjectID]pose.Body) (pose.Write, bool) {
	switch obj.mode {
	case Playback:
		p, status := obj.buffer.Advance(now)
		obj.status = status
		c.trackStarvation(obj, now, status)
		if status == snapshot.Unavailable {
			return pose.Write{}, false
		}
		return pose.Write{ID: obj.id, Pose: p, Kinematic: true}, true

	case Corrective:
		body, ok := reads[obj.id]
		if !ok {
			return pose.Write{}, false
		}
		body.Pose = body.Pose.Normalized()
		if obj.pending != nil {
			target := *obj.pending
			if !obj.pendingSpin {
				target.Pose.AngularVelocity = body.Pose.AngularVelocity
			}
			obj.corrective.Receive(target, body)
			if obj.corrective.Mode() == control.ModeCorrective {
				c.metrics.ObserveCorrection(obj.corrective.State().InitialPositionError)
			}
			obj.pending = nil
		}
		if obj.pendingSleep {
			obj.corrective.Sleep()
			obj.pendingSleep = false
		}
		w, ok := obj.corrective.Step(now, c.cfg.FixedDt, body)
		w.ID = obj.id
		return w, ok

	case Direct:
		if obj.pending == nil {
			return pose.Write{}, false
		}
		w := pose.Write{ID: obj.id, Pose: obj.pending.Pose}
		obj.pending = nil
		return w, true
	}
	return pose.Write{}, false
}

func (c *Coordinator) trackStarvation(obj *object, now float64, status snapshot.Status) {
	if status == snapshot.Extrapolating && !obj.asleep {
		c.metrics.Starved()
		if !obj.starving {
			obj.starving = true
			c.log.Warn().
				Int32("object", int32(obj.id)).
				Float64("age_ms", obj.buffer.Age(now)*1000).
				Msg("snapshot buffer starved, extrapolating")
		}
		return
	}
	if obj.starving && status == snapshot.Interpolating {
		obj.starving = false
		c.log.Info().Int32("object", int32(obj.id)).Msg("snapshot buffer recovered")
	}
}

// HandleBatch decodes an incoming batch and routes its records and commands.
// A malformed batch is dropped whole and reported; registry state is left
// untouched.
func (c *Coordinator) HandleBatch(now float64, data []byte) error {
	b, err := wire.Decode(data)
	c.metrics.BatchReceived(len(data), err == nil)
	if err != nil {
		c.metrics.Drop("malformed")
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed batch")
		return fmt.Errorf("handle batch: %w", err)
	}

	// map the sender's timestamp onto the local clock
	serverNow := wire.Millis(c.clock.ServerTime(now))
	sampleTime := now + float64(wire.DeltaMillis(b.Header.ServerTimeMillis, serverNow))/1000

	for _, r := range b.Records {
		c.receive(now, sampleTime, b.Header.ServerTimeMillis, r)
	}
	for _, cmd := range b.Commands {
		c.command(b.Header.SenderID, cmd)
	}
	return nil
}

func (c *Coordinator) receive(now, sampleTime float64, stamp int32, r wire.Record) {
	obj := c.lookup(r.ID)
	if obj == nil {
		c.metrics.Drop("unknown_object")
		c.log.Debug().Int32("object", int32(r.ID)).Msg("state for unknown object")
		return
	}

	p := r.Pose()
	if err := p.Validate(); err != nil {
		c.metrics.Drop("invalid")
		c.log.Debug().Err(err).Int32("object", int32(r.ID)).Msg("dropping invalid record")
		return
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.ownership == LocallyOwned {
		c.metrics.Drop("owned")
		c.log.Debug().Int32("object", int32(r.ID)).Msg("state for locally owned object")
		return
	}
	if obj.hasStamp && wire.DeltaMillis(stamp, obj.lastStamp) <= 0 {
		c.metrics.Drop("stale")
		c.log.Debug().Int32("object", int32(r.ID)).Int32("stamp", stamp).Msg("stale sample")
		return
	}
	obj.lastStamp = stamp
	obj.hasStamp = true
	if r.Extended {
		c.applyState(obj, r.Flags)
	}

	switch obj.mode {
	case Playback:
		if !obj.buffer.Push(pose.NewSample(sampleTime, p)) {
			c.metrics.Drop("stale")
		}
	case Corrective, Direct:
		// corrective targets are timed by arrival
		s := pose.NewSample(now, p)
		obj.pending = &s
		obj.pendingSpin = r.Extended
	}
}

// applyState follows the owner's body flags. Only changes against the last
// received flags are applied, so a lost Grab, Ungrab, Sleep or Wake is
// repaired by the next record and command-only hosts are left alone.
func (c *Coordinator) applyState(obj *object, flags wire.StateFlags) {
	changed := flags ^ obj.flags
	obj.flags = flags

	if changed&wire.FlagKinematic != 0 {
		kind := wire.CommandUngrab
		if flags&wire.FlagKinematic != 0 {
			kind = wire.CommandGrab
		}
		c.applyCommand(obj, kind)
	}
	if changed&wire.FlagSleeping != 0 {
		kind := wire.CommandWake
		if flags&wire.FlagSleeping != 0 {
			kind = wire.CommandSleep
		}
		c.applyCommand(obj, kind)
	}
}

func (c *Coordinator) command(sender int16, cmd wire.Command) {
	c.metrics.Command("in", cmd.Kind.String())

	if obj := c.lookup(cmd.Object); obj != nil {
		obj.mu.Lock()
		if obj.ownership == RemotelyOwned {
			c.applyCommand(obj, cmd.Kind)
		}
		obj.mu.Unlock()
	} else {
		c.log.Debug().Int32("object", int32(cmd.Object)).Stringer("kind", cmd.Kind).Msg("command for unknown object")
	}

	if c.handler != nil {
		c.handler.HandleCommand(sender, cmd)
	}
}

func (c *Coordinator) applyCommand(obj *object, kind wire.CommandKind) {
	switch kind {
	case wire.CommandGrab:
		obj.corrective.SetMode(control.ModeKinematic)
	case wire.CommandUngrab:
		obj.corrective.SetMode(control.ModeCorrective)
	case wire.CommandSleep:
		obj.asleep = true
		if obj.mode == Corrective {
			obj.pendingSleep = true
		}
	case wire.CommandWake:
		obj.asleep = false
		obj.pendingSleep = false
	}
}

func (c *Coordinator) lookup(id pose.ObjectID) *object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.objects[id]
}

func (c *Coordinator) sorted() []*object {
	c.mu.RLock()
	objs := make([]*object, 0, len(c.objects))
	for _, obj := range c.objects {
		objs = append(objs, obj)
	}
	c.mu.RUnlock()

	slices.SortFunc(objs, func(a, b *object) int { return cmp.Compare(a.id, b.id) })
	return objs
}

// updateGauge must be called with c.mu held.
func (c *Coordinator) updateGauge() {
	if c.metrics == nil {
		return
	}
	var local, remote int
	for _, obj := range c.objects {
		obj.mu.Lock()
		if obj.ownership == LocallyOwned {
			local++
		} else {
			remote++
		}
		obj.mu.Unlock()
	}
	c.metrics.SetObjects(local, remote)
}

func (c *Coordinator) jitter() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.detector.InitialElapsed(c.rng)
}
