package pose

import "errors"

var (
	// ErrInvalidPose indicates a pose containing NaN or Inf components.
	ErrInvalidPose = errors.New("pose: invalid pose (NaN or Inf detected)")

	// ErrDegenerateRotation indicates a rotation quaternion of zero length.
	ErrDegenerateRotation = errors.New("pose: rotation quaternion has zero length")
)
