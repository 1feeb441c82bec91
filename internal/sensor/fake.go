package sensor

import "time"

// FakeDevice is a test double that returns queued readings.
// Once the queue is exhausted the last reading repeats.
type FakeDevice struct {
	Readings []Reading
	// Err, when set, is returned by every Sense call.
	Err   error
	Calls int
}

// Sense returns the next queued reading.
func (f *FakeDevice) Sense() (Reading, error) {
	f.Calls++
	if f.Err != nil {
		return Reading{}, f.Err
	}
	if len(f.Readings) == 0 {
		return Reading{}, ErrUnavailable
	}
	r := f.Readings[0]
	if len(f.Readings) > 1 {
		f.Readings = f.Readings[1:]
	}
	return r, nil
}

// Set replaces the queue with a single reading.
func (f *FakeDevice) Set(temp, humidity float64) {
	f.Readings = []Reading{{Temperature: temp, HasTemperature: true, Humidity: humidity, HasHumidity: true}}
}

// FakeAnalog is a test double analog input.
type FakeAnalog struct {
	Value float64
	Err   error
}

// Read returns Value or Err.
func (f *FakeAnalog) Read() (float64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Value, nil
}

// FakeClock is a settable clock.
type FakeClock struct {
	T time.Time
}

// Now returns T.
func (c *FakeClock) Now() time.Time {
	return c.T
}
