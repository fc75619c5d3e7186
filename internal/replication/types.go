package replication

import (
	"github.com/san-kum/physync/internal/control"
	"github.com/san-kum/physync/internal/detect"
	"github.com/san-kum/physync/internal/pose"
	"github.com/san-kum/physync/internal/snapshot"
	"github.com/san-kum/physync/internal/wire"
)

type Ownership int

const (
	LocallyOwned Ownership = iota
	RemotelyOwned
)

func (o Ownership) String() string {
	if o == RemotelyOwned {
		return "remote"
	}
	return "local"
}

type Mode int

const (
	Playback Mode = iota
	Corrective
	Direct
)

func (m Mode) String() string {
	switch m {
	case Playback:
		return "playback"
	case Corrective:
		return "corrective"
	case Direct:
		return "direct"
	}
	return "unknown"
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, bool) {
	for _, m := range []Mode{Playback, Corrective, Direct} {
		if m.String() == s {
			return m, true
		}
	}
	return Playback, false
}

type Config struct {
	SenderID int16 `yaml:"sender_id"`
	// FixedDt is the physics step in seconds.
	FixedDt float64 `yaml:"fixed_dt"`
	// BufferDepth is the snapshot queue length per object.
	BufferDepth int `yaml:"buffer_depth"`
	// FrameSkip sends state every 1+FrameSkip ticks.
	FrameSkip  int            `yaml:"frame_skip"`
	Detector   detect.Config  `yaml:"detector"`
	Correction control.Config `yaml:"correction"`
}

func DefaultConfig() Config {
	return Config{
		SenderID:    1,
		FixedDt:     0.02,
		BufferDepth: snapshot.DefaultDepth,
		Detector:    detect.DefaultConfig(),
		Correction:  control.DefaultConfig(),
	}
}

// ForwardDelay is added to outgoing timestamps so receivers hold a margin of
// samples before each one is due.
func (c Config) ForwardDelay() float64 {
	return float64(1+c.BufferDepth) * c.FixedDt * float64(1+c.FrameSkip)
}

// Frame is the result of one tick.
type Frame struct {
	Index  int32
	Writes []pose.Write
	// Batch is the encoded outgoing message, nil when there is nothing to send.
	Batch   []byte
	Records int
}

// ObjectInfo is a read-only view of one registered object.
type ObjectInfo struct {
	ID         pose.ObjectID
	Ownership  Ownership
	Mode       Mode
	Status     snapshot.Status
	Correction control.State
	Following  bool
	Starving   bool
	Buffered   int
}

// CommandHandler receives interaction commands from remote peers.
type CommandHandler interface {
	HandleCommand(sender int16, cmd wire.Command)
}

type CommandHandlerFunc func(sender int16, cmd wire.Command)

func (f CommandHandlerFunc) HandleCommand(sender int16, cmd wire.Command) { f(sender, cmd) }

// Clock maps the local tick time into the time domain shared by all peers.
type Clock interface {
	ServerTime(local float64) float64
}

// OffsetClock is a Clock with a fixed offset from local time.
type OffsetClock float64

func (o OffsetClock) ServerTime(local float64) float64 { return local + float64(o) }
