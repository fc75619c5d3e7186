// Package snapshot buffers time-stamped samples for one replicated object and
// plays them back with a fixed delay.
//
// Samples are pushed in timestamp order as they arrive from the network.
// Each tick [Buffer.Advance] slides the active interval forward to the
// current time and returns either an interpolated pose, the first pose
// (holding until playback time reaches it) or, when the network stalls, a
// damped extrapolation past the youngest sample.
//
// The queue is bounded: pushing into a full queue discards the oldest
// queued sample, so memory and added latency stay fixed.
package snapshot
