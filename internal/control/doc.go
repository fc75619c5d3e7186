// Package control reconciles a locally simulated body with an authoritative
// remote pose.
//
// [Corrective] runs in one of two modes:
//
//   - corrective: the body keeps simulating locally; every authoritative
//     sample records a position and rotation error which is then removed a
//     bounded amount per physics tick (see [Rate])
//   - kinematic follow: the body is driven purely by the two latest
//     authoritative samples using Hermite interpolation
//
// Switching modes clears all residual correction state.
//
// # Usage
//
//	c := control.NewCorrective(control.DefaultConfig())
//	c.Receive(sample, body)            // when an update arrives
//	w, ok := c.Step(now, dt, body)     // every physics tick
package control
