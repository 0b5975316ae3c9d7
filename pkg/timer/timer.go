// Package timer provides Timeout and PeriodicTimer, deadline value types
// evaluated lazily against a clock.Source.
//
// Timers are owned by a single fiber and are not safe for concurrent use.
// All elapsed-time arithmetic is done in the unsigned width of the timer
// (16 or 32 bits), so timers keep working across counter wraparound.
package timer

import (
	"time"

	"github.com/NavarchProject/tickfiber/pkg/clock"
)

// State is the observable state of a timer.
type State uint8

const (
	// Stopped timers never expire.
	Stopped State = iota
	// Armed timers have a deadline in the future.
	Armed
	// Expired timers have reached their deadline.
	Expired
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Armed:
		return "armed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Stamp is the set of unsigned widths a timer can count in.
type Stamp interface {
	~uint16 | ~uint32
}

// ticks converts d to ticks of src. Durations longer than the timer width
// can count are clamped to the longest interval it can hold, so a long
// deadline fires late rather than early. ok is false for negative durations.
func ticks[T Stamp](src clock.Source, d time.Duration) (T, bool) {
	if d < 0 {
		return 0, false
	}
	longest := ^T(0)
	n := clock.Ticks(src, d)
	if uint64(n) > uint64(longest) {
		return longest, true
	}
	return T(n), true
}

func now[T Stamp](src clock.Source) T {
	return T(src.Now())
}
