// Package detect decides when a body's state is worth transmitting.
//
// The policy is lossy dead reckoning: a send happens when the body moved,
// rotated or scaled past a threshold since the last send, when its sleep
// state flipped, or when the heartbeat interval elapsed. Missed sends are
// corrected by the next heartbeat; extra sends only cost bandwidth.
package detect
