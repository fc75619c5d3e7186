package control

// Rate computes how much of an outstanding error to remove in one tick.
type Rate struct {
	// Absolute is removed per second regardless of error size.
	Absolute float64 `yaml:"absolute"`
	// ErrorRel is the fraction of the current error removed per tick.
	ErrorRel float64 `yaml:"error_rel"`
	// SpeedRel scales with the body's current speed, hiding corrections in motion.
	SpeedRel float64 `yaml:"speed_rel"`
	// Min and Max bound the gradual band; errors outside it are applied at once.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Correction returns the magnitude to apply this tick.
func (r Rate) Correction(currentError, speed, dt float64) float64 {
	return r.Absolute*dt + r.ErrorRel*currentError + r.SpeedRel*speed
}

// Snaps reports whether err lies outside the gradual band.
func (r Rate) Snaps(err float64) bool {
	return err >= r.Max || err <= r.Min
}

// Step returns the amount of err to remove now and whether that finishes it.
func (r Rate) Step(err, speed, dt float64) (float64, bool) {
	if r.Snaps(err) {
		return err, true
	}
	c := r.Correction(err, speed, dt)
	if c >= err {
		return err, true
	}
	return c, false
}

// Config holds position (world units) and rotation (degrees) rates.
type Config struct {
	Position Rate `yaml:"position"`
	Rotation Rate `yaml:"rotation"`
}

func DefaultConfig() Config {
	return Config{
		Position: Rate{Absolute: 1.0, ErrorRel: 0.2, SpeedRel: 0.1, Min: 0.02, Max: 1.0},
		Rotation: Rate{Absolute: 5.0, ErrorRel: 0.2, SpeedRel: 0.1, Min: 1.0, Max: 30.0},
	}
}
