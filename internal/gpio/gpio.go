// Package gpio provides digital outputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single digital line.
// On and Off are idempotent and never fail; hardware errors are logged by
// the implementation.
type Output interface {
	On()
	Off()
}

// Nop is an Output that does nothing, used when a line is not configured.
type Nop struct{}

// On does nothing.
func (Nop) On() {}

// Off does nothing.
func (Nop) Off() {}
