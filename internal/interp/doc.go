// Package interp computes smooth poses between two time-stamped samples.
//
// Positions use a cubic Hermite blend so velocity stays continuous at both
// endpoints; rotations use a shortest-path slerp. All functions are pure.
package interp
