package rewind

type (
	// Clock supplies monotonic game time and the current time scale. The
	// Controller sets the authoritative time directly when it commits
	Clock interface {
		Now() float64
		TimeScale() float64
		SetNow(float64)
	}

	// ManualClock is a Clock advanced explicitly by its owner, suitable for
	// fixed-step simulations and tests. It is not safe for concurrent use
	ManualClock struct {
		now   float64
		scale float64
	}
)

// NewManualClock creates a ManualClock at time zero with a time scale of 1
func NewManualClock() *ManualClock {
	return &ManualClock{scale: 1}
}

// Now returns the current game time
func (c *ManualClock) Now() float64 {
	return c.now
}

// TimeScale returns the current time scale multiplier
func (c *ManualClock) TimeScale() float64 {
	return c.scale
}

// SetNow sets the authoritative game time
func (c *ManualClock) SetNow(now float64) {
	c.now = now
}

// SetTimeScale changes the multiplier applied to advancing time. Negative
// values are treated as zero
func (c *ManualClock) SetTimeScale(scale float64) {
	c.scale = max(scale, 0)
}

// Advance moves game time forward by the unscaled delta multiplied by the
// time scale, returning the new time
func (c *ManualClock) Advance(delta float64) float64 {
	c.now += delta * c.scale
	return c.now
}
