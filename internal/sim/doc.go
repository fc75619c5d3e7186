// Package sim is a two-peer replication harness.
//
// An owner world throws rigid bodies around under gravity; its coordinator
// sends their state over a simulated lossy link to a replica coordinator,
// whose writes drive a second world. Each run records how far the replica's
// tracked body strays from the owner's.
package sim
