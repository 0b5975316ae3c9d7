package timer

import (
	"time"

	"github.com/NavarchProject/tickfiber/pkg/clock"
)

// PeriodicOf is an auto-rearming timer counted in T-wide ticks.
//
// Catch-up policy: a poll that finds the timer due fires once and moves the
// deadline to the first period boundary strictly after now. Boundaries stay
// aligned to the arm time, so a late poll never shifts later deadlines.
// Periods missed because the caller polled too slowly are skipped; Poll
// reports how many there were.
//
// A zero period fires on every poll.
type PeriodicOf[T Stamp] struct {
	src    clock.Source
	start  T // deadline - period
	period T
	state  State
}

// PeriodicTimer counts in 32-bit ticks.
type PeriodicTimer = PeriodicOf[uint32]

// ShortPeriodicTimer counts in 16-bit ticks.
type ShortPeriodicTimer = PeriodicOf[uint16]

// NewPeriodicTimer returns a PeriodicTimer that first fires period from now.
func NewPeriodicTimer(src clock.Source, period time.Duration) *PeriodicTimer {
	p := &PeriodicTimer{src: src}
	p.Restart(period)
	return p
}

// NewShortPeriodicTimer returns a ShortPeriodicTimer that first fires period from now.
func NewShortPeriodicTimer(src clock.Source, period time.Duration) *ShortPeriodicTimer {
	p := &ShortPeriodicTimer{src: src}
	p.Restart(period)
	return p
}

// Restart redefines the period and places the next deadline period from now.
// A negative period stops the timer and a period longer than the timer width
// can count is clamped to the longest interval.
func (p *PeriodicOf[T]) Restart(period time.Duration) {
	n, ok := ticks[T](p.src, period)
	if !ok {
		p.Stop()
		return
	}
	p.start = now[T](p.src)
	p.period = n
	p.state = Armed
}

// Stop disarms the timer.
func (p *PeriodicOf[T]) Stop() {
	p.state = Stopped
}

// IsStopped reports whether the timer is stopped.
func (p *PeriodicOf[T]) IsStopped() bool {
	return p.state == Stopped
}

// State reports Expired while a firing is pending, Armed otherwise.
func (p *PeriodicOf[T]) State() State {
	if p.state == Stopped {
		return Stopped
	}
	if now[T](p.src)-p.start >= p.period {
		return Expired
	}
	return Armed
}

// Execute returns true if at least one period elapsed since the previous
// firing, and rearms.
func (p *PeriodicOf[T]) Execute() bool {
	return p.Poll() > 0
}

// Poll fires the timer if it is due and returns the number of periods the
// firing accounts for: ceil(late/period), at least one, where late is how far
// now is past the deadline. It returns 0 if the timer is not due or stopped.
func (p *PeriodicOf[T]) Poll() uint32 {
	if p.state == Stopped {
		return 0
	}
	t := now[T](p.src)
	elapsed := t - p.start
	if elapsed < p.period {
		return 0
	}
	if p.period == 0 {
		p.start = t
		return 1
	}

	late := elapsed - p.period
	missed := late / p.period
	count := uint32(missed)
	if late%p.period != 0 {
		count++
	}
	if count == 0 {
		count = 1
	}

	// Advance whole periods so the new deadline is the first boundary after t.
	p.start += (missed + 1) * p.period
	return count
}

// Remaining returns the time until the next deadline, negative if a firing is
// overdue and zero when stopped.
func (p *PeriodicOf[T]) Remaining() time.Duration {
	if p.state == Stopped {
		return 0
	}
	elapsed := now[T](p.src) - p.start
	return clock.Duration(p.src, int64(p.period)-int64(elapsed))
}
