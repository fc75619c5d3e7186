// Package pose provides the value types shared by every replication component.
//
// The package defines the state that crosses the boundary between the
// replication core and the host physics engine:
//
//   - [Pose]: position, rotation, linear and angular velocity of a rigid body
//   - [Sample]: a time-stamped, immutable observation of a Pose
//   - [Body]: what the host reads from its physics engine each tick
//   - [ObjectID]: the stable network identity of a replicated body
//
// Vector and quaternion math is delegated to mgl64. Rotations are always
// normalized before use; velocities are world units per second and angular
// velocities radians per second.
//
// # Example
//
//	p := pose.Pose{Position: mgl64.Vec3{0, 1, 0}, Rotation: mgl64.QuatIdent()}
//	s := pose.NewSample(0.25, p)
package pose
