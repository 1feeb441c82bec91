// Package sensor reads the chamber's temperature and humidity, and the
// platform's own temperature.
package sensor

import (
	"errors"
	"time"
)

// ErrUnavailable indicates a reading could not be obtained right now.
// It is transient: callers continue with the last known value, or none.
var ErrUnavailable = errors.New("sensor: reading unavailable")

// Reading is one sample from a humidity/temperature device.
type Reading struct {
	Temperature    float64
	HasTemperature bool
	Humidity       float64
	HasHumidity    bool
}

// Device is a humidity/temperature sensor.
type Device interface {
	Sense() (Reading, error)
}

// Analog is a scalar input already scaled to a physical unit.
type Analog interface {
	Read() (float64, error)
}

// Clock supplies the current time for the read throttle.
type Clock interface {
	Now() time.Time
}
