package sensor

import (
	"fmt"
	"path/filepath"
	"strings"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/sysfs"
)

// DefaultThermalZone is the SoC temperature on Raspberry Pi class boards.
const DefaultThermalZone = "thermal_zone0"

// envSensor is the part of a periph sensor ThermalZone reads.
type envSensor interface {
	Sense(e *physic.Env) error
}

// ThermalZone is the platform temperature from a sysfs thermal sensor,
// reported as Celsius*Scale + Offset.
type ThermalZone struct {
	Name   string
	Scale  float64
	Offset float64

	open func(name string) (envSensor, error)
	dev  envSensor
}

// NewThermalZone reads the named sysfs thermal sensor. A sysfs path such as
// /sys/class/thermal/thermal_zone0/temp is accepted and reduced to its zone.
func NewThermalZone(name string) *ThermalZone {
	return &ThermalZone{Name: zoneName(name), Scale: 1, open: openSysfsThermal}
}

func zoneName(name string) string {
	if name == "" {
		return DefaultThermalZone
	}
	if strings.Contains(name, "/") {
		if filepath.Base(name) == "temp" {
			name = filepath.Dir(name)
		}
		return filepath.Base(name)
	}
	return name
}

func openSysfsThermal(name string) (envSensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	return sysfs.ThermalSensorByName(name)
}

// Read returns the scaled temperature. The sensor is opened on first use and
// reopened after a failed open.
func (z *ThermalZone) Read() (float64, error) {
	if z.dev == nil {
		dev, err := z.open(z.Name)
		if err != nil {
			return 0, fmt.Errorf("%w: thermal sensor %s: %v", ErrUnavailable, z.Name, err)
		}
		z.dev = dev
	}
	var e physic.Env
	if err := z.dev.Sense(&e); err != nil {
		return 0, fmt.Errorf("%w: thermal sensor %s: %v", ErrUnavailable, z.Name, err)
	}
	return e.Temperature.Celsius()*z.Scale + z.Offset, nil
}
