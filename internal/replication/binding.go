package replication

import "github.com/san-kum/physync/internal/pose"

// Binding ties one host object to its current replication id. Hosts call
// Sync whenever they observe the id, so an id reassigned while the object is
// alive moves its registration instead of leaving a stale entry behind.
// A Binding is not safe for concurrent use.
type Binding struct {
	c         *Coordinator
	ownership Ownership
	mode      Mode
	id        pose.ObjectID
}

func (c *Coordinator) Bind(own Ownership, mode Mode) *Binding {
	return &Binding{c: c, ownership: own, mode: mode}
}

func (b *Binding) ID() pose.ObjectID { return b.id }

// Sync registers id, unregistering the previously bound id first when it
// differs. A zero id only unregisters. It reports whether the binding changed.
func (b *Binding) Sync(id pose.ObjectID) (bool, error) {
	if id == b.id {
		return false, nil
	}
	if b.id != 0 {
		b.c.Unregister(b.id)
	}
	b.id = id
	if id == 0 {
		return true, nil
	}
	return true, b.c.Register(id, b.ownership, b.mode)
}

// Close unregisters the bound id.
func (b *Binding) Close() {
	if b.id != 0 {
		b.c.Unregister(b.id)
		b.id = 0
	}
}
