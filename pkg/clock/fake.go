package clock

import "time"

// Fake is a deterministic clock for simulation and testing.
//
// Time only advances when Advance or Set is called. Unlike a real Clock, Set
// may move time to any value, including backwards, so tests can place the
// counter right before a wrap.
type Fake struct {
	*Clock
}

// NewFake creates a millisecond Fake starting at zero.
func NewFake() *Fake {
	return &Fake{Clock: New()}
}

// NewFakeWithResolution creates a Fake whose ticks last d.
func NewFakeWithResolution(d time.Duration) *Fake {
	return &Fake{Clock: NewWithResolution(d)}
}

// Advance moves the clock forward by n ticks.
func (f *Fake) Advance(n uint32) {
	f.Increment(n)
}

// AdvanceDuration moves the clock forward by d, rounded down to whole ticks.
func (f *Fake) AdvanceDuration(d time.Duration) {
	if n := Ticks(f, d); n > 0 {
		f.Increment(uint32(n))
	}
}

// Set places the counter at t. Waiters are woken if the value changed.
func (f *Fake) Set(t Timestamp) {
	cur := f.Now()
	if cur == t {
		return
	}
	f.seq.Add(1)
	f.now.Store(uint32(t))
	f.seq.Add(1)

	fresh := make(chan struct{})
	old := f.notify.Swap(&fresh)
	close(*old)
}

// SetMillis places the counter at the tick corresponding to ms milliseconds.
// Negative values wrap, matching the behavior of an unsigned hardware counter.
func (f *Fake) SetMillis(ms int64) {
	f.Set(Timestamp(uint32(Ticks(f, time.Duration(ms)*time.Millisecond))))
}
