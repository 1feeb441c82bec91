// Package power halts the host after a safety fault.
package power

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Halter powers the host down.
type Halter interface {
	Halt() error
}

// Command halts the host by running an external program.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// NewShutdown returns a Command running "shutdown -h now".
func NewShutdown() *Command {
	return &Command{Name: "shutdown", Args: []string{"-h", "now"}, Timeout: 10 * time.Second}
}

// Halt runs the command and waits for it to exit.
func (c *Command) Halt() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, c.Name, c.Args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %q)", c.Name, err, out)
	}
	return nil
}

// FakeHalter records Halt calls.
type FakeHalter struct {
	Calls int
	Err   error
}

// Halt records the call.
func (f *FakeHalter) Halt() error {
	f.Calls++
	return f.Err
}
