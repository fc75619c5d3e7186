package replication

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/san-kum/physync/internal/metrics"
	"github.com/san-kum/physync/internal/pose"
	"github.com/san-kum/physync/internal/snapshot"
	"github.com/san-kum/physync/internal/wire"
)

const (
	dt  = 0.02
	box = pose.ObjectID(7)
)

func bodyAt(x float64) pose.Body {
	return pose.Body{Pose: pose.Pose{
		Position:       mgl64.Vec3{x, 0, 0},
		Rotation:       mgl64.QuatIdent(),
		LinearVelocity: mgl64.Vec3{1, 0, 0},
	}}
}

func reads(id pose.ObjectID, b pose.Body) map[pose.ObjectID]pose.Body {
	return map[pose.ObjectID]pose.Body{id: b}
}

func writeFor(f Frame, id pose.ObjectID) (pose.Write, bool) {
	for _, w := range f.Writes {
		if w.ID == id {
			return w, true
		}
	}
	return pose.Write{}, false
}

func newPeer(sender int16, opts ...Option) *Coordinator {
	cfg := DefaultConfig()
	cfg.SenderID = sender
	cfg.FixedDt = dt
	return New(cfg, opts...)
}

var _ = Describe("Coordinator", func() {
	var (
		owner   *Coordinator
		replica *Coordinator
		reg     *prometheus.Registry
		col     *metrics.Collector
	)

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		var err error
		col, err = metrics.NewCollector(reg)
		Expect(err).NotTo(HaveOccurred())

		owner = newPeer(1)
		replica = newPeer(2, WithMetrics(col))
	})

	Describe("registry", func() {
		It("rejects the zero id", func() {
			Expect(owner.Register(0, LocallyOwned, Playback)).To(MatchError(ErrZeroID))
		})

		It("is idempotent", func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			Expect(owner.Register(box, RemotelyOwned, Corrective)).To(Succeed())
			info, ok := owner.Info(box)
			Expect(ok).To(BeTrue())
			Expect(info.Ownership).To(Equal(LocallyOwned))
			Expect(owner.Len()).To(Equal(1))

			owner.Unregister(box)
			owner.Unregister(box)
			Expect(owner.Len()).To(Equal(0))
		})

		It("reports unknown objects", func() {
			Expect(owner.SetOwnership(99, RemotelyOwned)).To(MatchError(ErrUnknownObject))
			Expect(owner.SetMode(99, Direct)).To(MatchError(ErrUnknownObject))
			Expect(owner.Notify(99, wire.CommandGrab)).To(MatchError(ErrUnknownObject))
		})

		It("lists objects in id order", func() {
			for _, id := range []pose.ObjectID{9, 3, 5} {
				Expect(owner.Register(id, RemotelyOwned, Playback)).To(Succeed())
			}
			ids := []pose.ObjectID{}
			for _, info := range owner.Objects() {
				ids = append(ids, info.ID)
			}
			Expect(ids).To(Equal([]pose.ObjectID{3, 5, 9}))
		})
	})

	Describe("binding", func() {
		It("moves the registration when the id changes", func() {
			b := owner.Bind(LocallyOwned, Playback)
			changed, err := b.Sync(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, _ = b.Sync(10)
			Expect(changed).To(BeFalse())

			_, err = b.Sync(11)
			Expect(err).NotTo(HaveOccurred())
			_, ok := owner.Info(10)
			Expect(ok).To(BeFalse())
			_, ok = owner.Info(11)
			Expect(ok).To(BeTrue())

			b.Close()
			Expect(owner.Len()).To(Equal(0))
		})
	})

	Describe("outbound", func() {
		BeforeEach(func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
		})

		It("sends on first sight, then only on change", func() {
			f, err := owner.Tick(0, reads(box, bodyAt(0)))
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Records).To(Equal(1))

			f, _ = owner.Tick(dt, reads(box, bodyAt(0.005)))
			Expect(f.Batch).To(BeNil())

			f, _ = owner.Tick(2*dt, reads(box, bodyAt(0.05)))
			Expect(f.Records).To(Equal(1))
		})

		It("sends a heartbeat for a still object", func() {
			owner.Tick(0, reads(box, bodyAt(0)))
			sent := 0
			for i := 1; i <= 60; i++ {
				f, _ := owner.Tick(float64(i)*dt, reads(box, bodyAt(0)))
				sent += f.Records
			}
			Expect(sent).To(Equal(1))
		})

		It("stamps batches with the forward delay", func() {
			f, _ := owner.Tick(1.0, reads(box, bodyAt(0)))
			b, err := wire.Decode(f.Batch)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Header.SenderID).To(Equal(int16(1)))
			Expect(b.Header.ServerTimeMillis).To(Equal(int32(1080)))
		})

		It("respects frame skip", func() {
			cfg := DefaultConfig()
			cfg.FixedDt = dt
			cfg.FrameSkip = 1
			skipper := New(cfg)
			Expect(skipper.Register(box, LocallyOwned, Playback)).To(Succeed())

			var sentOn []int32
			for i := 0; i < 6; i++ {
				f, _ := skipper.Tick(float64(i)*dt, reads(box, bodyAt(float64(i))))
				if f.Records > 0 {
					sentOn = append(sentOn, f.Index)
				}
			}
			Expect(sentOn).To(Equal([]int32{0, 2, 4}))
		})

		It("emits sleep and wake commands on transitions", func() {
			owner.Tick(0, reads(box, bodyAt(0)))

			asleep := bodyAt(0)
			asleep.Sleeping = true
			f, _ := owner.Tick(dt, reads(box, asleep))
			b, err := wire.Decode(f.Batch)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Commands).To(ConsistOf(wire.Command{Object: box, Kind: wire.CommandSleep, Actor: 1}))

			moved := asleep
			moved.Pose.Position = mgl64.Vec3{5, 0, 0}
			f, _ = owner.Tick(2*dt, reads(box, moved))
			Expect(f.Batch).To(BeNil())

			f, _ = owner.Tick(3*dt, reads(box, bodyAt(5)))
			b, _ = wire.Decode(f.Batch)
			Expect(b.Commands).To(ConsistOf(wire.Command{Object: box, Kind: wire.CommandWake, Actor: 1}))
		})

		It("jitters the first heartbeat", func() {
			jittered := newPeer(1, WithRand(rand.New(rand.NewPCG(1, 2))))
			Expect(jittered.Register(box, LocallyOwned, Playback)).To(Succeed())
			obj := jittered.lookup(box)
			Expect(obj.elapsed).To(BeNumerically(">=", 0))
			Expect(obj.elapsed).To(BeNumerically("<", 0.5*jittered.cfg.Detector.Heartbeat))
		})
	})

	Describe("playback", func() {
		BeforeEach(func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			Expect(replica.Register(box, RemotelyOwned, Playback)).To(Succeed())
		})

		It("trails the owner by the forward delay", func() {
			var last pose.Write
			for i := 0; i <= 50; i++ {
				now := float64(i) * dt
				f, err := owner.Tick(now, reads(box, bodyAt(now)))
				Expect(err).NotTo(HaveOccurred())
				Expect(replica.HandleBatch(now, f.Batch)).To(Succeed())

				rf, _ := replica.Tick(now, nil)
				if w, ok := writeFor(rf, box); ok {
					last = w
				}
			}

			delay := owner.Config().ForwardDelay()
			Expect(last.Kinematic).To(BeTrue())
			Expect(last.Pose.Position.X()).To(BeNumerically("~", 1.0-delay, 1e-3))

			info, _ := replica.Info(box)
			Expect(info.Status).To(Equal(snapshot.Interpolating))
		})

		It("warns once on starvation and recovers", func() {
			var logs bytes.Buffer
			replica = newPeer(2, WithLogger(zerolog.New(&logs)), WithMetrics(col))
			Expect(replica.Register(box, RemotelyOwned, Playback)).To(Succeed())

			step := func(i int, send bool) {
				now := float64(i) * dt
				f, _ := owner.Tick(now, reads(box, bodyAt(now)))
				if send {
					Expect(replica.HandleBatch(now, f.Batch)).To(Succeed())
				}
				replica.Tick(now, nil)
			}

			for i := 0; i < 10; i++ {
				step(i, true)
			}
			for i := 10; i < 30; i++ {
				step(i, false)
			}
			info, _ := replica.Info(box)
			Expect(info.Starving).To(BeTrue())
			Expect(strings.Count(logs.String(), "starved")).To(Equal(1))
			Expect(testutil.ToFloat64(col.StarvedTicks)).To(BeNumerically(">", 1))

			for i := 30; i < 40; i++ {
				step(i, true)
			}
			info, _ = replica.Info(box)
			Expect(info.Starving).To(BeFalse())
			Expect(logs.String()).To(ContainSubstring("recovered"))
		})
	})

	Describe("inbound errors", func() {
		It("drops malformed batches whole", func() {
			Expect(replica.Register(box, RemotelyOwned, Playback)).To(Succeed())
			err := replica.HandleBatch(0, []byte{1, 2, 3})
			Expect(err).To(MatchError(wire.ErrShortPayload))
			Expect(testutil.ToFloat64(col.Dropped.WithLabelValues("malformed"))).To(Equal(1.0))
			Expect(replica.Len()).To(Equal(1))
		})

		It("skips unknown objects without failing", func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			f, _ := owner.Tick(0, reads(box, bodyAt(0)))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())
			Expect(testutil.ToFloat64(col.Dropped.WithLabelValues("unknown_object"))).To(Equal(1.0))
		})

		It("drops stale and duplicate batches", func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			Expect(replica.Register(box, RemotelyOwned, Playback)).To(Succeed())

			early, _ := owner.Tick(0, reads(box, bodyAt(0)))
			late, _ := owner.Tick(dt, reads(box, bodyAt(1)))

			Expect(replica.HandleBatch(dt, late.Batch)).To(Succeed())
			Expect(replica.HandleBatch(dt, early.Batch)).To(Succeed())
			Expect(replica.HandleBatch(dt, late.Batch)).To(Succeed())
			Expect(testutil.ToFloat64(col.Dropped.WithLabelValues("stale"))).To(Equal(2.0))
		})

		It("ignores state for objects it owns", func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			Expect(replica.Register(box, LocallyOwned, Playback)).To(Succeed())
			f, _ := owner.Tick(0, reads(box, bodyAt(0)))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())
			Expect(testutil.ToFloat64(col.Dropped.WithLabelValues("owned"))).To(Equal(1.0))
		})
	})

	Describe("corrective", func() {
		BeforeEach(func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			Expect(replica.Register(box, RemotelyOwned, Corrective)).To(Succeed())
		})

		It("converges on the authoritative pose without snapping", func() {
			target := bodyAt(0.5)
			target.Pose.LinearVelocity = mgl64.Vec3{}
			f, _ := owner.Tick(0, reads(box, target))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())

			local := bodyAt(0)
			local.Pose.LinearVelocity = mgl64.Vec3{}
			prevErr := 0.5
			ticks := 0
			for ; ticks < 200; ticks++ {
				rf, _ := replica.Tick(float64(ticks)*dt, reads(box, local))
				w, ok := writeFor(rf, box)
				if !ok {
					break
				}
				local.Pose.Position = w.Pose.Position
				local.Pose.Rotation = w.Pose.Rotation
				errNow := 0.5 - local.Pose.Position.X()
				Expect(errNow).To(BeNumerically("<=", prevErr))
				prevErr = errNow
			}
			Expect(ticks).To(BeNumerically(">", 1))
			Expect(local.Pose.Position.X()).To(BeNumerically("~", 0.5, 1e-6))
		})

		It("follows kinematically while grabbed", func() {
			Expect(owner.Notify(box, wire.CommandGrab)).To(Succeed())
			f, _ := owner.Tick(0, reads(box, bodyAt(0)))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())

			rf, _ := replica.Tick(0, reads(box, bodyAt(3)))
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.Kinematic).To(BeTrue())
			Expect(w.Pose.Position.X()).To(BeNumerically("~", 0, 1e-6))

			info, _ := replica.Info(box)
			Expect(info.Following).To(BeTrue())

			Expect(owner.Notify(box, wire.CommandUngrab)).To(Succeed())
			f, _ = owner.Tick(dt, reads(box, bodyAt(0)))
			Expect(replica.HandleBatch(dt, f.Batch)).To(Succeed())
			info, _ = replica.Info(box)
			Expect(info.Following).To(BeFalse())
		})

		It("keeps the owner's spin through a correction", func() {
			spin := mgl64.Vec3{0, 5, 0}
			target := bodyAt(0.5)
			target.Pose.AngularVelocity = spin
			f, _ := owner.Tick(0, reads(box, target))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())

			local := bodyAt(0)
			local.Pose.AngularVelocity = spin
			rf, _ := replica.Tick(0, reads(box, local))
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.HasVelocity).To(BeTrue())
			Expect(w.Pose.AngularVelocity).To(Equal(spin))
		})

		It("keeps the local spin for records without state", func() {
			spin := mgl64.Vec3{0, 5, 0}
			b := &wire.Batch{
				Header:  wire.Header{ServerTimeMillis: 80, SenderID: 1},
				Records: []wire.Record{{ID: box, Position: mgl64.Vec3{0.5, 0, 0}, Rotation: mgl64.QuatIdent()}},
			}
			data, err := b.Encode()
			Expect(err).NotTo(HaveOccurred())
			Expect(replica.HandleBatch(0, data)).To(Succeed())

			local := bodyAt(0)
			local.Pose.AngularVelocity = spin
			rf, _ := replica.Tick(0, reads(box, local))
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.Pose.AngularVelocity).To(Equal(spin))
		})

		It("follows an owner that is kinematic without a grab command", func() {
			held := bodyAt(0)
			held.Kinematic = true
			f, _ := owner.Tick(0, reads(box, held))
			b, err := wire.Decode(f.Batch)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Commands).To(BeEmpty())
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())

			info, _ := replica.Info(box)
			Expect(info.Following).To(BeTrue())

			rf, _ := replica.Tick(0, reads(box, bodyAt(3)))
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.Kinematic).To(BeTrue())
		})

		It("recovers from a lost ungrab on the next heartbeat", func() {
			held := bodyAt(0)
			held.Kinematic = true
			Expect(owner.Notify(box, wire.CommandGrab)).To(Succeed())
			f, _ := owner.Tick(0, reads(box, held))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())

			released := bodyAt(0)
			Expect(owner.Notify(box, wire.CommandUngrab)).To(Succeed())
			lost, _ := owner.Tick(dt, reads(box, released))
			Expect(lost.Records).To(Equal(1))

			info, _ := replica.Info(box)
			Expect(info.Following).To(BeTrue())

			var beat Frame
			now := dt
			for i := 2; i < 100 && beat.Batch == nil; i++ {
				now = float64(i) * dt
				beat, _ = owner.Tick(now, reads(box, released))
			}
			Expect(beat.Batch).NotTo(BeNil())
			b, err := wire.Decode(beat.Batch)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Commands).To(BeEmpty())

			Expect(replica.HandleBatch(now, beat.Batch)).To(Succeed())
			info, _ = replica.Info(box)
			Expect(info.Following).To(BeFalse())
		})

		It("sleeps on a heartbeat when the sleep command was lost", func() {
			owner.Tick(0, reads(box, bodyAt(0)))
			asleep := bodyAt(0.3)
			asleep.Sleeping = true
			lost, _ := owner.Tick(dt, reads(box, asleep))
			Expect(lost.Records).To(Equal(1))

			var beat Frame
			now := dt
			for i := 2; i < 100 && beat.Batch == nil; i++ {
				now = float64(i) * dt
				beat, _ = owner.Tick(now, reads(box, asleep))
			}
			Expect(replica.HandleBatch(now, beat.Batch)).To(Succeed())

			rf, _ := replica.Tick(now, reads(box, bodyAt(0)))
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.Sleep).To(BeTrue())
			Expect(w.Pose.Position.X()).To(BeNumerically("~", 0.3, 1e-6))
		})

		It("snaps to rest when the owner sleeps", func() {
			owner.Tick(0, reads(box, bodyAt(0)))
			asleep := bodyAt(0.3)
			asleep.Sleeping = true
			f, _ := owner.Tick(dt, reads(box, asleep))
			Expect(replica.HandleBatch(dt, f.Batch)).To(Succeed())

			rf, _ := replica.Tick(dt, reads(box, bodyAt(0)))
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.Sleep).To(BeTrue())
			Expect(w.Pose.Position.X()).To(BeNumerically("~", 0.3, 1e-6))
			Expect(w.Pose.LinearVelocity).To(Equal(mgl64.Vec3{}))
		})

		It("delivers commands to the host handler", func() {
			var got []wire.Command
			handled := newPeer(2, WithCommandHandler(CommandHandlerFunc(func(sender int16, cmd wire.Command) {
				Expect(sender).To(Equal(int16(1)))
				got = append(got, cmd)
			})))
			Expect(handled.Register(box, RemotelyOwned, Corrective)).To(Succeed())

			Expect(owner.Notify(box, wire.CommandTouch)).To(Succeed())
			f, _ := owner.Tick(0, nil)
			Expect(f.Records).To(Equal(0))
			Expect(handled.HandleBatch(0, f.Batch)).To(Succeed())
			Expect(got).To(ConsistOf(wire.Command{Object: box, Kind: wire.CommandTouch, Actor: 1}))
		})
	})

	Describe("direct", func() {
		It("writes the newest sample once", func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			Expect(replica.Register(box, RemotelyOwned, Direct)).To(Succeed())
			f, _ := owner.Tick(0, reads(box, bodyAt(2)))
			Expect(replica.HandleBatch(0, f.Batch)).To(Succeed())

			rf, _ := replica.Tick(0, nil)
			w, ok := writeFor(rf, box)
			Expect(ok).To(BeTrue())
			Expect(w.Pose.Position.X()).To(BeNumerically("~", 2, 1e-6))
			Expect(w.HasVelocity).To(BeFalse())

			rf, _ = replica.Tick(dt, nil)
			Expect(rf.Writes).To(BeEmpty())
		})
	})

	Describe("ownership", func() {
		It("clears history on handoff", func() {
			Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
			owner.Tick(0, reads(box, bodyAt(0)))

			Expect(owner.SetOwnership(box, RemotelyOwned)).To(Succeed())
			Expect(owner.SetOwnership(box, LocallyOwned)).To(Succeed())
			f, _ := owner.Tick(dt, reads(box, bodyAt(0)))
			Expect(f.Records).To(Equal(1))
		})
	})

	It("tolerates batches arriving while ticking", func() {
		Expect(owner.Register(box, LocallyOwned, Playback)).To(Succeed())
		Expect(replica.Register(box, RemotelyOwned, Playback)).To(Succeed())

		var batches [][]byte
		for i := 0; i < 100; i++ {
			f, _ := owner.Tick(float64(i)*dt, reads(box, bodyAt(float64(i))))
			batches = append(batches, f.Batch)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer GinkgoRecover()
			for i, b := range batches {
				Expect(replica.HandleBatch(float64(i)*dt, b)).To(Succeed())
			}
		}()
		for i := 0; i < 100; i++ {
			replica.Tick(float64(i)*dt, nil)
		}
		wg.Wait()
	})
})
