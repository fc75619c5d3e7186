package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/physync/internal/control"
	"github.com/san-kum/physync/internal/logging"
	"github.com/san-kum/physync/internal/replication"
	"github.com/san-kum/physync/internal/sim"
	"github.com/san-kum/physync/internal/transport"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full tunable surface. Replication keys live at the top level
// of the YAML document.
type Config struct {
	Replication replication.Config   `yaml:",inline"`
	Simulation  sim.Config           `yaml:"simulation"`
	Link        transport.LinkConfig `yaml:"link"`
	UDP         transport.UDPConfig  `yaml:"udp"`
	Log         logging.Config       `yaml:"log"`
	DataDir     string               `yaml:"data_dir"`
}

func DefaultConfig() *Config {
	return &Config{
		Replication: replication.DefaultConfig(),
		Simulation:  sim.DefaultConfig(),
		Link:        transport.LinkConfig{Latency: 0.03, Jitter: 0.01, Seed: 1},
		UDP:         transport.DefaultUDPConfig(),
		Log:         logging.DefaultConfig(),
		DataDir:     "./runs",
	}
}

// Load overlays the file at path on the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Setup assembles a harness run from the configuration.
func (c *Config) Setup() sim.Setup {
	return sim.Setup{
		Sim:         c.Simulation,
		Replication: c.Replication,
		Link:        c.Link,
	}
}

// Validate reports every problem found, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	r := c.Replication
	check(r.FixedDt > 0, "fixed_dt must be positive, got %g", r.FixedDt)
	check(r.BufferDepth >= 1, "buffer_depth must be at least 1, got %d", r.BufferDepth)
	check(r.FrameSkip >= 0, "frame_skip must not be negative, got %d", r.FrameSkip)
	check(r.Detector.Heartbeat > 0, "detector.heartbeat must be positive, got %g", r.Detector.Heartbeat)
	check(r.Detector.PositionThreshold >= 0, "detector.position_threshold must not be negative")
	check(r.Detector.RotationThreshold >= 0, "detector.rotation_threshold must not be negative")
	check(r.Detector.ScaleThreshold >= 0, "detector.scale_threshold must not be negative")
	validateRate(check, "correction.position", r.Correction.Position)
	validateRate(check, "correction.rotation", r.Correction.Rotation)

	s := c.Simulation
	check(s.Duration > 0, "simulation.duration must be positive, got %g", s.Duration)
	check(s.Bodies >= 1, "simulation.bodies must be at least 1, got %d", s.Bodies)
	_, ok := replication.ParseMode(s.Mode)
	check(ok, "simulation.mode %q is not playback, corrective or direct", s.Mode)
	_, err := sim.NewIntegrator(s.Integrator)
	check(err == nil, "simulation.integrator %q is unknown", s.Integrator)

	check(c.Link.Latency >= 0, "link.latency must not be negative")
	check(c.Link.Jitter >= 0, "link.jitter must not be negative")
	check(c.Link.Loss >= 0 && c.Link.Loss < 1, "link.loss must be in [0, 1), got %g", c.Link.Loss)
	check(c.UDP.BytesPerSecond >= 0, "udp.bytes_per_second must not be negative")

	return errors.Join(errs...)
}

func validateRate(check func(bool, string, ...any), name string, r control.Rate) {
	check(r.Absolute >= 0 && r.ErrorRel >= 0 && r.SpeedRel >= 0, "%s coefficients must not be negative", name)
	// without an absolute rate, error_rel below 1 only decays the error and
	// needs a min band to finish
	check(r.Absolute > 0 || r.ErrorRel >= 1 || (r.ErrorRel > 0 && r.Min > 0),
		"%s needs a positive absolute rate, or error_rel with a positive min, to converge", name)
	check(r.Min >= 0 && r.Min < r.Max, "%s requires 0 <= min < max, got min=%g max=%g", name, r.Min, r.Max)
}
