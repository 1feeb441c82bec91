//go:build !linux

package gpio

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Chip is not available on non-Linux platforms.
type Chip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string, log logrus.FieldLogger) (*Chip, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Output is not implemented on non-Linux platforms.
func (c *Chip) Output(name string, offset int) (*RealOutput, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (c *Chip) Close() error {
	return nil
}

// Release is not implemented on non-Linux platforms.
func (c *Chip) Release() error {
	return nil
}

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// On does nothing.
func (o *RealOutput) On() {}

// Off does nothing.
func (o *RealOutput) Off() {}
