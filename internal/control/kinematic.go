package control

import (
	"github.com/san-kum/physync/internal/interp"
	"github.com/san-kum/physync/internal/pose"
)

// kinematic follows the two latest authoritative samples. Playback of the
// pair starts at the newer sample's time and lasts as long as the gap
// between them; the first sample is applied hard.
type kinematic struct {
	start, target pose.Sample
	count         int
	applied       bool
}

func (k *kinematic) push(s pose.Sample) {
	k.start = k.target
	k.target = s
	k.count++
	if k.count == 1 {
		k.applied = false
	}
}

func (k *kinematic) at(now float64) (pose.Pose, bool) {
	switch {
	case k.count == 0:
		return pose.Pose{}, false
	case k.count == 1:
		if k.applied {
			return pose.Pose{}, false
		}
		k.applied = true
		return k.target.Pose, true
	}

	span := k.target.Time - k.start.Time
	if span <= 0 {
		return k.target.Pose, true
	}
	fraction := (now - k.target.Time) / span
	if fraction > 1 {
		return k.target.Pose, true
	}
	if fraction < 0 {
		fraction = 0
	}
	return interp.Interpolate(k.start, k.target, fraction), true
}
