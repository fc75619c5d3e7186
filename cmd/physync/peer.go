package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/physync/internal/config"
	"github.com/san-kum/physync/internal/metrics"
	"github.com/san-kum/physync/internal/replication"
	"github.com/san-kum/physync/internal/sim"
	"github.com/san-kum/physync/internal/transport"
	"github.com/san-kum/physync/internal/wire"
)

var (
	listenAddr  string
	remoteAddr  string
	metricsAddr string
	objects     int
	owner       bool
	senderID    int16
)

func peerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "replicate bodies with another peer over UDP",
		Long: `Run one side of a replication session over UDP. The owner simulates
the bodies and sends batches; the other side mirrors them. Start one peer
with --own and point the two at each other with --listen and --remote.`,
		Args: cobra.NoArgs,
		RunE: runPeer,
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7400", "local UDP address")
	cmd.Flags().StringVar(&remoteAddr, "remote", "127.0.0.1:7401", "remote peer UDP address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().IntVar(&objects, "objects", 8, "number of replicated bodies")
	cmd.Flags().BoolVar(&owner, "own", false, "simulate and send the bodies")
	cmd.Flags().Int16Var(&senderID, "sender", 0, "sender id (default 1 when owning, 2 otherwise)")
	cmd.Flags().StringVar(&mode, "mode", "playback", "replica mode (playback, corrective, direct)")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func runPeer(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") || cfg.UDP.Listen == "" {
		cfg.UDP.Listen = listenAddr
	}
	if flags.Changed("remote") || cfg.UDP.Remote == "" {
		cfg.UDP.Remote = remoteAddr
	}
	switch {
	case flags.Changed("sender"):
		cfg.Replication.SenderID = senderID
	case owner:
		cfg.Replication.SenderID = 1
	default:
		cfg.Replication.SenderID = 2
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	replMode, _ := replication.ParseMode(cfg.Simulation.Mode)
	integrator, err := sim.NewIntegrator(cfg.Simulation.Integrator)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}

	udp, err := transport.ListenUDP(cfg.UDP, log)
	if err != nil {
		return err
	}
	defer udp.Close()

	// Peers share wall-clock time; skew between hosts shows up as a
	// constant playback offset.
	epoch := time.Now()
	elapsed := func() float64 { return time.Since(epoch).Seconds() }
	coord := replication.New(cfg.Replication,
		replication.WithLogger(log),
		replication.WithMetrics(collector),
		replication.WithClock(replication.OffsetClock(float64(epoch.UnixMilli())/1000)),
		replication.WithCommandHandler(replication.CommandHandlerFunc(func(sender int16, c wire.Command) {
			log.Debug().Int16("sender", sender).Int32("object", int32(c.Object)).Stringer("kind", c.Kind).Msg("command")
		})),
	)

	rng := rand.New(rand.NewPCG(cfg.Simulation.Seed, cfg.Simulation.Seed+1))
	world := sim.NewWorld(cfg.Simulation.World, integrator)
	world.Spawn(objects, cfg.Simulation.ThrowSpeed, rng)
	own := replication.RemotelyOwned
	if owner {
		own = replication.LocallyOwned
	}
	for _, b := range world.Bodies {
		if err := coord.Register(b.ID, own, replMode); err != nil {
			return err
		}
	}

	log.Info().
		Stringer("listen", udp.Addr()).
		Str("remote", cfg.UDP.Remote).
		Stringer("ownership", own).
		Stringer("mode", replMode).
		Int("objects", objects).
		Msg("peer started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return udp.Serve(ctx, func(data []byte) {
			if err := coord.HandleBatch(elapsed(), data); err != nil {
				log.Debug().Err(err).Msg("batch dropped")
			}
		})
	})

	g.Go(func() error {
		return peerLoop(ctx, cfg, peerState{
			coord:   coord,
			udp:     udp,
			world:   world,
			mode:    replMode,
			rng:     rng,
			log:     log,
			elapsed: elapsed,
		})
	})

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(collector), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	return g.Wait()
}

func metricsMux(c *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

type peerState struct {
	coord   *replication.Coordinator
	udp     *transport.UDP
	world   *sim.World
	mode    replication.Mode
	rng     *rand.Rand
	log     zerolog.Logger
	elapsed func() float64
}

// peerLoop runs the fixed-rate tick until ctx is done. The owner rethrows
// bodies that have come to rest so there is always something to send.
func peerLoop(ctx context.Context, cfg *config.Config, p peerState) error {
	dt := cfg.Replication.FixedDt
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			sent, limited := p.udp.Stats()
			p.log.Info().Int64("sent", sent).Int64("rate_limited", limited).Int("objects", p.coord.Len()).Msg("peer status")
		case <-ticker.C:
			now := p.elapsed()
			if owner {
				for _, b := range p.world.Bodies {
					if b.Sleeping && p.rng.Float64() < dt/3 {
						throw(b, cfg.Simulation.ThrowSpeed, p.rng)
						if err := p.coord.Notify(b.ID, wire.CommandTouch); err != nil {
							p.log.Warn().Err(err).Msg("notify")
						}
					}
				}
				p.world.Step(dt)
			}

			f, err := p.coord.Tick(now, p.world.Reads())
			if err != nil {
				return err
			}
			p.world.Apply(f.Writes)
			if !owner && p.mode == replication.Corrective {
				p.world.Step(dt)
			}

			if f.Batch == nil {
				continue
			}
			switch err := p.udp.Send(f.Batch); {
			case errors.Is(err, transport.ErrRateLimited):
				p.log.Debug().Int32("frame", f.Index).Int("bytes", len(f.Batch)).Msg("batch over bandwidth cap")
			case err != nil:
				p.log.Warn().Err(err).Msg("send failed")
			}
		}
	}
}

func throw(b *sim.RigidBody, speed float64, rng *rand.Rand) {
	b.Pose.LinearVelocity = mgl64.Vec3{
		(rng.Float64() - 0.5) * speed,
		speed * (0.5 + rng.Float64()/2),
		(rng.Float64() - 0.5) * speed,
	}
	b.Wake()
}
