//go:build linux

package gpio

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// Chip owns the output lines requested from a Linux GPIO chip.
type Chip struct {
	chip  *gpiocdev.Chip
	lines []*RealOutput
	log   logrus.FieldLogger
}

// OpenChip opens the named GPIO chip, e.g. "gpiochip0".
func OpenChip(name string, log logrus.FieldLogger) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("drybox"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &Chip{chip: chip, log: log}, nil
}

// Output requests the line at offset as an output, initially low.
func (c *Chip) Output(name string, offset int) (*RealOutput, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request %s pin %d: %w", name, offset, err)
	}
	out := &RealOutput{
		name: name,
		line: line,
		log:  c.log.WithField("output", name),
	}
	c.lines = append(c.lines, out)
	return out, nil
}

// Close drives every output low and releases it.
// Lines are reconfigured to input with pull-down (matching Pi boot defaults)
// before closing so relays stay off across a reboot.
func (c *Chip) Close() error {
	var result error
	for _, out := range c.lines {
		if err := out.line.SetValue(0); err != nil {
			result = multierror.Append(result, fmt.Errorf("drive %s low: %w", out.name, err))
		}
		if err := out.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			result = multierror.Append(result, fmt.Errorf("reconfigure %s pin: %w", out.name, err))
		}
	}
	return c.release(result)
}

// Release gives the lines back to the kernel without driving them, so each
// output keeps its last level. Used after a panic, when the fans must stay on
// while the host halts.
func (c *Chip) Release() error {
	for _, out := range c.lines {
		c.log.Warnf("gpio: releasing %s as-is", out.name)
	}
	return c.release(nil)
}

func (c *Chip) release(result error) error {
	for _, out := range c.lines {
		if err := out.line.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s pin: %w", out.name, err))
		}
	}
	c.lines = nil

	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}
	return result
}

// RealOutput is a GPIO line driven as a digital output.
type RealOutput struct {
	name string
	line *gpiocdev.Line
	log  logrus.FieldLogger
}

// On drives the line high.
func (o *RealOutput) On() {
	o.set(1)
}

// Off drives the line low.
func (o *RealOutput) Off() {
	o.set(0)
}

func (o *RealOutput) set(v int) {
	if err := o.line.SetValue(v); err != nil {
		o.log.Errorf("gpio: set %s=%d: %v", o.name, v, err)
	}
}
