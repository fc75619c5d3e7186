package replication

import (
	"sync"

	"github.com/san-kum/physync/internal/control"
	"github.com/san-kum/physync/internal/pose"
	"github.com/san-kum/physync/internal/snapshot"
	"github.com/san-kum/physync/internal/wire"
)

// object is the replication state of one body. Every field is guarded by mu
// since the receive path and the tick may interleave.
type object struct {
	mu        sync.Mutex
	id        pose.ObjectID
	ownership Ownership
	mode      Mode

	// locally owned
	lastSent *pose.Body
	elapsed  float64

	// remotely owned
	buffer       *snapshot.Buffer
	corrective   *control.Corrective
	pending      *pose.Sample
	pendingSpin  bool
	pendingSleep bool
	flags        wire.StateFlags
	lastStamp    int32
	hasStamp     bool
	status       snapshot.Status
	starving     bool
	asleep       bool
}

func (o *object) reset(cfg Config, elapsed float64) {
	o.lastSent = nil
	o.elapsed = elapsed

	o.buffer.Reset()
	o.corrective = control.NewCorrective(cfg.Correction)
	o.pending = nil
	o.pendingSpin = false
	o.pendingSleep = false
	o.flags = 0
	o.lastStamp = 0
	o.hasStamp = false
	o.status = snapshot.Unavailable
	o.starving = false
	o.asleep = false
}

func (o *object) info() ObjectInfo {
	return ObjectInfo{
		ID:         o.id,
		Ownership:  o.ownership,
		Mode:       o.mode,
		Status:     o.status,
		Correction: o.corrective.State(),
		Following:  o.corrective.Mode() == control.ModeKinematic,
		Starving:   o.starving,
		Buffered:   o.buffer.Len(),
	}
}
