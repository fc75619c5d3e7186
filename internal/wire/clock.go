package wire

import "math"

// Millis converts seconds to a wrapping 32-bit millisecond timestamp.
func Millis(seconds float64) int32 {
	return int32(uint32(int64(math.Round(seconds * 1000))))
}

// DeltaMillis returns a-b in milliseconds, correct across a wrap of the
// 32-bit counter as long as the real gap is under ~24 days.
func DeltaMillis(a, b int32) int32 {
	return int32(uint32(a) - uint32(b))
}
