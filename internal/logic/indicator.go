package logic

import "time"

// Pattern is a blink cycle for the status indicator.
type Pattern struct {
	Frequency float64 // Hz
	DutyCycle float64 // 0..1
}

// Named patterns.
var (
	PatternConstant   = Pattern{Frequency: 10, DutyCycle: 1}
	PatternWarning    = Pattern{Frequency: 0.8, DutyCycle: 0.125}
	PatternSlowCalm   = Pattern{Frequency: 1.5, DutyCycle: 0.625}
	PatternActiveCalm = Pattern{Frequency: 4, DutyCycle: 0.75}
	PatternActive     = Pattern{Frequency: 8, DutyCycle: 0.75}
	PatternIdleCalm   = Pattern{Frequency: 0.3, DutyCycle: 0.7}
	PatternIdleFast   = Pattern{Frequency: 1, DutyCycle: 0.75}
)

var modePatterns = map[Mode]Pattern{
	ModeError:         PatternConstant,
	ModeUnknown:       PatternWarning,
	ModeStarting:      PatternSlowCalm,
	ModeHeating:       PatternActiveCalm,
	ModeExhausting:    PatternActive,
	ModeRunning:       PatternIdleCalm,
	ModeTargetReached: PatternIdleFast,
}

// PatternFor returns the indicator pattern for m.
// Unmapped modes get the warning pattern.
func PatternFor(m Mode) Pattern {
	if p, ok := modePatterns[m]; ok {
		return p
	}
	return PatternWarning
}

// Timing returns the on and off durations of one blink period.
// A non-positive frequency yields a constant-on pattern of one second.
func (p Pattern) Timing() (on, off time.Duration) {
	if p.Frequency <= 0 {
		return time.Second, 0
	}
	duty := clamp01(p.DutyCycle)
	period := time.Duration(float64(time.Second) / p.Frequency)
	on = time.Duration(float64(period) * duty)
	return on, period - on
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
