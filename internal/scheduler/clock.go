package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/drybox/internal/logic"
)

// Clock supplies time to the scheduler and to code that measures elapsed time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Ticks returns the free-running millisecond counter.
	Ticks() logic.Ticks

	// WaitUntil blocks until t has been reached or ctx is done.
	WaitUntil(ctx context.Context, t time.Time) error
}

// RealClock is the wall clock.
type RealClock struct {
	start time.Time
}

// NewRealClock creates a RealClock whose tick counter starts at zero now.
func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

// Now returns time.Now().
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Ticks returns milliseconds since the clock was created, wrapping at 2^32.
func (c *RealClock) Ticks() logic.Ticks {
	return logic.Ticks(uint64(time.Since(c.start) / time.Millisecond))
}

// WaitUntil sleeps until t or until ctx is done.
func (c *RealClock) WaitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// VirtualClock is a manually driven clock for tests. WaitUntil returns
// immediately after moving time forward, so timed scenarios run instantly.
type VirtualClock struct {
	mu        sync.Mutex
	start     time.Time
	now       time.Time
	baseTicks logic.Ticks
}

// NewVirtualClock creates a VirtualClock at start with the tick counter at zero.
func NewVirtualClock(start time.Time) *VirtualClock {
	return NewVirtualClockAt(start, 0)
}

// NewVirtualClockAt creates a VirtualClock whose tick counter reads ticks at start.
// Starting close to 2^32 exercises counter wraparound.
func NewVirtualClockAt(start time.Time, ticks logic.Ticks) *VirtualClock {
	return &VirtualClock{start: start, now: start, baseTicks: ticks}
}

// Now returns the virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Ticks returns the virtual tick counter.
func (c *VirtualClock) Ticks() logic.Ticks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseTicks + logic.Ticks(uint64(c.now.Sub(c.start)/time.Millisecond))
}

// Advance moves time forward by d, simulating work that takes time.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Elapsed returns the virtual time since the clock was created.
func (c *VirtualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// WaitUntil jumps to t if it is in the future.
func (c *VirtualClock) WaitUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
	return nil
}
