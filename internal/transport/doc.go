// Package transport carries encoded batches between peers.
//
// Loopback is a simulated link with latency, jitter and loss driven by the
// caller's clock; the simulation harness uses it to run two peers in one
// process. UDP sends real datagrams with optional lz4 compression and an
// outgoing bandwidth cap. Neither retransmits: lost batches are recovered by
// the next heartbeat.
package transport
