package config

import (
	"slices"

	"github.com/san-kum/physync/internal/replication"
)

type Preset struct {
	Description string
	apply       func(*Config)
}

var Presets = map[string]Preset{
	"lan": {
		Description: "low latency, no loss, playback",
		apply: func(c *Config) {
			c.Link.Latency, c.Link.Jitter, c.Link.Loss = 0.005, 0.002, 0
		},
	},
	"wan": {
		Description: "80ms latency with jitter and light loss, deeper buffer",
		apply: func(c *Config) {
			c.Link.Latency, c.Link.Jitter, c.Link.Loss = 0.08, 0.02, 0.01
			c.Replication.BufferDepth = 4
		},
	},
	"lossy": {
		Description: "20% loss, faster heartbeat",
		apply: func(c *Config) {
			c.Link.Latency, c.Link.Jitter, c.Link.Loss = 0.05, 0.03, 0.2
			c.Replication.Detector.Heartbeat = 0.5
		},
	},
	"corrective": {
		Description: "replica simulates locally and is corrected, with a grab",
		apply: func(c *Config) {
			c.Simulation.Mode = replication.Corrective.String()
			c.Simulation.GrabStart, c.Simulation.GrabEnd = 2, 4
			c.Link.Latency, c.Link.Jitter, c.Link.Loss = 0.04, 0.01, 0.02
		},
	},
	"sleepy": {
		Description: "many bodies at half send rate, long enough to fall asleep",
		apply: func(c *Config) {
			c.Simulation.Bodies = 12
			c.Simulation.Duration = 20
			c.Replication.FrameSkip = 1
		},
	},
}

// GetPreset returns the defaults with the named preset applied, or nil.
func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	p.apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
