// Package clock provides the monotonic tick counter that drives timers and the
// fiber scheduler.
//
// A Clock is advanced by exactly one writer, the tick source, which calls
// Increment once per hardware (or simulated) tick. Every other party only
// reads. Readers never take a lock: Now is a single atomic load and Uptime
// uses a sequence counter to read the 64-bit extended value without tearing.
//
// In production, drive a Clock with a Driver. In tests and simulations, use
// NewFake() for deterministic time control.
package clock

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Timestamp is a tick count. It wraps modulo 2^32; compare timestamps with
// Diff or After, never with < or >=.
type Timestamp uint32

// Source provides the current tick count and the tick period.
type Source interface {
	// Now returns the current tick count.
	Now() Timestamp

	// Resolution returns the wall-clock duration of one tick.
	Resolution() time.Duration
}

// Clock is a process-wide monotonic tick counter.
//
// The zero value is not usable; create one with New or NewMicro.
type Clock struct {
	now   atomic.Uint32
	epoch atomic.Uint32
	seq   atomic.Uint32

	resolution time.Duration

	// notify is closed and replaced on every increment so idle readers can
	// sleep until the next tick.
	notify atomic.Pointer[chan struct{}]
}

// New returns a millisecond clock starting at zero.
func New() *Clock {
	return NewWithResolution(time.Millisecond)
}

// NewMicro returns a microsecond clock starting at zero.
func NewMicro() *Clock {
	return NewWithResolution(time.Microsecond)
}

// NewWithResolution returns a clock whose ticks last d.
// Non-positive resolutions are coerced to one millisecond.
func NewWithResolution(d time.Duration) *Clock {
	if d <= 0 {
		d = time.Millisecond
	}
	c := &Clock{resolution: d}
	ch := make(chan struct{})
	c.notify.Store(&ch)
	return c
}

// Now returns the current tick count.
func (c *Clock) Now() Timestamp {
	return Timestamp(c.now.Load())
}

// Resolution returns the duration of one tick.
func (c *Clock) Resolution() time.Duration {
	return c.resolution
}

// Increment advances the counter by step ticks.
//
// Increment must only be called from the single tick source. Concurrent
// callers race on the wrap epoch.
func (c *Clock) Increment(step uint32) {
	if step == 0 {
		return
	}
	c.seq.Add(1)
	prev := c.now.Load()
	next := prev + step
	c.now.Store(next)
	if next < prev {
		c.epoch.Add(1)
	}
	c.seq.Add(1)

	fresh := make(chan struct{})
	old := c.notify.Swap(&fresh)
	close(*old)
}

// Uptime returns the total number of ticks since the clock was created,
// including every wrap of the 32-bit counter.
func (c *Clock) Uptime() uint64 {
	for {
		s1 := c.seq.Load()
		if s1&1 != 0 {
			runtime.Gosched()
			continue
		}
		hi := c.epoch.Load()
		lo := c.now.Load()
		if c.seq.Load() == s1 {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// Wait blocks until the tick count differs from after, then returns it.
func (c *Clock) Wait(ctx context.Context, after Timestamp) (Timestamp, error) {
	for {
		ch := c.notify.Load()
		if now := c.Now(); now != after {
			return now, nil
		}
		select {
		case <-ctx.Done():
			return c.Now(), ctx.Err()
		case <-*ch:
		}
	}
}

// Diff returns to - from as a signed tick count. The result is correct across
// wraparound as long as the two timestamps are less than 2^31 ticks apart.
func Diff(from, to Timestamp) int32 {
	return int32(to - from)
}

// After reports whether a is later than b.
func After(a, b Timestamp) bool {
	return Diff(b, a) > 0
}

// Ticks converts d into whole ticks of src, rounding toward zero.
func Ticks(src Source, d time.Duration) int64 {
	return int64(d / src.Resolution())
}

// Duration converts a tick count of src into a time.Duration.
func Duration(src Source, ticks int64) time.Duration {
	return time.Duration(ticks) * src.Resolution()
}
