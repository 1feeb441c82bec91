package sensor

import (
	"time"

	"github.com/sirupsen/logrus"
)

// MinReadInterval is the shortest time between two physical reads.
const MinReadInterval = time.Second

// Hygrometer caches the latest device reading. A failed read keeps the
// previous values. Not safe for concurrent use.
type Hygrometer struct {
	dev   Device
	clock Clock
	log   logrus.FieldLogger

	last     Reading
	lastRead time.Time
	tried    bool
}

// NewHygrometer wraps dev with a read-throttled cache.
func NewHygrometer(dev Device, clock Clock, log logrus.FieldLogger) *Hygrometer {
	return &Hygrometer{dev: dev, clock: clock, log: log}
}

// TryRead refreshes the cache unless the last attempt was less than
// MinReadInterval ago. It reports whether a fresh value was obtained.
func (h *Hygrometer) TryRead() bool {
	now := h.clock.Now()
	if h.tried && now.Sub(h.lastRead) < MinReadInterval {
		return false
	}
	h.tried = true
	h.lastRead = now

	r, err := h.dev.Sense()
	if err != nil {
		h.log.Warnf("hygrometer: read failed: %v", err)
		return false
	}
	if r.HasTemperature {
		h.last.Temperature, h.last.HasTemperature = r.Temperature, true
	}
	if r.HasHumidity {
		h.last.Humidity, h.last.HasHumidity = r.Humidity, true
	}
	return true
}

// Refresh is TryRead for use as a periodic task. It never fails.
func (h *Hygrometer) Refresh() error {
	h.TryRead()
	return nil
}

// Temperature returns the cached temperature in °C.
func (h *Hygrometer) Temperature() (float64, bool) {
	return h.last.Temperature, h.last.HasTemperature
}

// Humidity returns the cached relative humidity in %.
func (h *Hygrometer) Humidity() (float64, bool) {
	return h.last.Humidity, h.last.HasHumidity
}

// Latest returns the whole cached reading.
func (h *Hygrometer) Latest() Reading {
	return h.last
}
