package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280 is a humidity/temperature sensor on an I²C bus.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// OpenBME280 initialises the host drivers, opens the named I²C bus ("" for
// the first one) and connects to the sensor at addr (0x76 or 0x77).
func OpenBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02x: %w", addr, err)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

// Sense performs one measurement.
func (b *BME280) Sense() (Reading, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Reading{
		Temperature:    e.Temperature.Celsius(),
		HasTemperature: true,
		Humidity:       float64(e.Humidity) / float64(physic.PercentRH),
		HasHumidity:    true,
	}, nil
}

// Close halts the sensor and releases the bus.
func (b *BME280) Close() error {
	if err := b.dev.Halt(); err != nil {
		b.bus.Close()
		return fmt.Errorf("halt bme280: %w", err)
	}
	return b.bus.Close()
}
