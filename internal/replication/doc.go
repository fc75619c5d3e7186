// Package replication coordinates rigid-body state replication between peers.
//
// A Coordinator owns the registry of replicated objects. Once per fixed tick
// the host calls Tick with the bodies it read from its physics engine and
// gets back the poses to write plus, at most, one encoded batch to send.
// Batches received from the transport are handed to HandleBatch, which may be
// called from another goroutine.
//
// Objects owned locally are gated by a change detector and packed into the
// outgoing batch. Remote objects are driven in one of three modes: Playback
// through a snapshot buffer, Corrective through a bounded corrective
// controller, or Direct where the newest sample is written as is.
package replication
