package timer

import (
	"time"

	"github.com/NavarchProject/tickfiber/pkg/clock"
)

// TimeoutOf is a single-shot deadline counted in T-wide ticks.
//
// Expiry is detected lazily on query and is sticky: once IsExpired has
// reported true it keeps doing so until Restart or Stop, even if the counter
// later wraps past the start point again.
type TimeoutOf[T Stamp] struct {
	src      clock.Source
	start    T
	interval T
	state    State
	fired    bool
}

// Timeout counts in 32-bit ticks; its longest interval is 2^32-1 ticks, about
// 49.7 days at 1ms and 71.6 minutes at 1µs.
type Timeout = TimeoutOf[uint32]

// ShortTimeout counts in 16-bit ticks; its longest interval is 65535 ticks.
type ShortTimeout = TimeoutOf[uint16]

// NewTimeout returns a Timeout armed for d.
func NewTimeout(src clock.Source, d time.Duration) *Timeout {
	t := &Timeout{src: src}
	t.Restart(d)
	return t
}

// NewShortTimeout returns a ShortTimeout armed for d.
func NewShortTimeout(src clock.Source, d time.Duration) *ShortTimeout {
	t := &ShortTimeout{src: src}
	t.Restart(d)
	return t
}

// NewStoppedTimeout returns a stopped Timeout bound to src.
func NewStoppedTimeout(src clock.Source) *Timeout {
	return &Timeout{src: src}
}

// NewStoppedShortTimeout returns a stopped ShortTimeout bound to src.
func NewStoppedShortTimeout(src clock.Source) *ShortTimeout {
	return &ShortTimeout{src: src}
}

// Restart arms the timeout to expire d from now. A negative d stops it and a
// zero d makes it expire immediately. A d longer than the longest interval is
// clamped to it.
func (t *TimeoutOf[T]) Restart(d time.Duration) {
	n, ok := ticks[T](t.src, d)
	if !ok {
		t.Stop()
		return
	}
	t.start = now[T](t.src)
	t.interval = n
	t.state = Armed
	t.fired = false
}

// Stop disarms the timeout. A stopped timeout never expires.
func (t *TimeoutOf[T]) Stop() {
	t.state = Stopped
	t.fired = false
	t.interval = 0
}

// State evaluates the timeout against the clock.
func (t *TimeoutOf[T]) State() State {
	if t.state == Armed && now[T](t.src)-t.start >= t.interval {
		t.state = Expired
	}
	return t.state
}

// IsExpired reports whether the deadline has been reached.
func (t *TimeoutOf[T]) IsExpired() bool {
	return t.State() == Expired
}

// IsArmed reports whether the timeout is counting down.
func (t *TimeoutOf[T]) IsArmed() bool {
	return t.State() == Armed
}

// IsStopped reports whether the timeout is stopped.
func (t *TimeoutOf[T]) IsStopped() bool {
	return t.state == Stopped
}

// Execute returns true exactly once per arming: on the first call that
// observes the timeout as expired.
func (t *TimeoutOf[T]) Execute() bool {
	if t.fired || !t.IsExpired() {
		return false
	}
	t.fired = true
	return true
}

// Remaining returns the time left until expiry. It is negative once the
// deadline has passed and zero for a stopped timeout.
func (t *TimeoutOf[T]) Remaining() time.Duration {
	st := t.State()
	if st == Stopped {
		return 0
	}
	elapsed := now[T](t.src) - t.start
	left := int64(t.interval) - int64(elapsed)
	if st == Expired && left > 0 {
		// The counter wrapped after expiry was latched.
		left = 0
	}
	return clock.Duration(t.src, left)
}
