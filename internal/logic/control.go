package logic

import "time"

// Hysteresis decides the heater state for a reading against a setpoint and band.
// Below setpoint-band the heater turns on, above setpoint+band it turns off,
// inside the band the current state is kept.
func Hysteresis(current bool, reading, setpoint, band float64) bool {
	switch {
	case reading < setpoint-band:
		return true
	case reading > setpoint+band:
		return false
	}
	return current
}

// InBand reports whether reading lies within setpoint±band (inclusive).
func InBand(reading, setpoint, band float64) bool {
	return reading >= setpoint-band && reading <= setpoint+band
}

// SettleCounter counts consecutive in-band samples.
type SettleCounter struct {
	Setpoint float64
	Band     float64
	// Needed is the number of consecutive in-band samples that count as settled.
	Needed int

	count int
}

// Observe records one sample and reports whether the counter has settled.
// A missing or out-of-band sample resets the count.
func (c *SettleCounter) Observe(reading float64, ok bool) bool {
	if !ok || !InBand(reading, c.Setpoint, c.Band) {
		c.count = 0
		return false
	}
	c.count++
	return c.count >= c.Needed
}

// Count returns the current run of in-band samples.
func (c *SettleCounter) Count() int {
	return c.count
}

// Ticks is a free-running millisecond counter that wraps at 2^32.
type Ticks uint32

// TicksDiff returns end-start, correct across a single wraparound as long as
// the real difference is below 2^31 ms (about 24.8 days).
func TicksDiff(end, start Ticks) time.Duration {
	return time.Duration(int32(end-start)) * time.Millisecond
}

// TimedOut reports whether more than timeout has elapsed between start and now.
func TimedOut(start, now Ticks, timeout time.Duration) bool {
	return TicksDiff(now, start) > timeout
}
