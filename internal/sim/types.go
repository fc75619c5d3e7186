package sim

import (
	"github.com/rs/zerolog"
	"github.com/san-kum/physync/internal/metrics"
	"github.com/san-kum/physync/internal/replication"
	"github.com/san-kum/physync/internal/transport"
)

type Config struct {
	Duration float64 `yaml:"duration"`
	Bodies   int     `yaml:"bodies"`
	Seed     uint64  `yaml:"seed"`
	// Mode is how the replica drives remote bodies: playback, corrective or direct.
	Mode       string      `yaml:"mode"`
	Integrator string      `yaml:"integrator"`
	World      WorldConfig `yaml:"world"`
	ThrowSpeed float64     `yaml:"throw_speed"`
	// Drift offsets the replica's initial bodies in corrective mode.
	Drift float64 `yaml:"drift"`
	// The owner holds body 1 kinematically between GrabStart and GrabEnd.
	GrabStart float64 `yaml:"grab_start"`
	GrabEnd   float64 `yaml:"grab_end"`
}

func DefaultConfig() Config {
	return Config{
		Duration:   10,
		Bodies:     4,
		Seed:       1,
		Mode:       replication.Playback.String(),
		Integrator: "verlet",
		World:      DefaultWorldConfig(),
		ThrowSpeed: 4,
		Drift:      0.3,
	}
}

// Setup is everything needed for one harness run.
type Setup struct {
	Sim         Config
	Replication replication.Config
	Link        transport.LinkConfig
	Logger      zerolog.Logger
	// Metrics, if set, is attached to the replica coordinator.
	Metrics *metrics.Collector
}

// TracePoint follows the first body on both peers.
type TracePoint struct {
	Time    float64    `json:"time"`
	Owner   [3]float64 `json:"owner"`
	Replica [3]float64 `json:"replica"`
	Error   float64    `json:"error"`
	Status  string     `json:"status"`
}

type Result struct {
	Mode        string              `json:"mode"`
	Steps       int                 `json:"steps"`
	Trace       []TracePoint        `json:"trace"`
	Metrics     map[string]float64  `json:"metrics"`
	Link        transport.LinkStats `json:"link"`
	BatchesSent int                 `json:"batches_sent"`
	BytesSent   int                 `json:"bytes_sent"`
	Errors      []string            `json:"errors,omitempty"`
}

// TickInfo is passed to RunWithCallback after every step.
type TickInfo struct {
	Index   int
	Point   TracePoint
	Objects []replication.ObjectInfo
	Link    transport.LinkStats
	Bytes   int
}
