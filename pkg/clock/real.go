package clock

import (
	"context"
	"sync"
	"time"
)

// Driver turns wall-clock time into Increment calls on a Clock. It stands in
// for the periodic timer interrupt of a microcontroller and is the only
// writer of the clock it drives.
//
// Wakeups that arrive late are caught up: the driver accumulates elapsed
// wall time and increments by the number of whole ticks that passed, keeping
// the remainder for the next wakeup.
type Driver struct {
	clock    *Clock
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    time.Time
	acc     time.Duration
	now     func() time.Time
	running bool
}

// NewDriver returns a driver for c that wakes up every interval. An interval
// shorter than the clock resolution is raised to the resolution.
func NewDriver(c *Clock, interval time.Duration) *Driver {
	if interval < c.Resolution() {
		interval = c.Resolution()
	}
	return &Driver{
		clock:    c,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins driving the clock until ctx is done or Stop is called.
// Calling Start on a running driver is a no-op.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.running = true
	d.last = d.now()
	d.acc = 0
	go d.loop(ctx, d.done)
}

// Stop halts the driver and waits for its goroutine to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	done := d.done
	d.running = false
	d.mu.Unlock()
	<-done
}

func (d *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.step()
		}
	}
}

// step converts the wall time elapsed since the previous call into ticks.
func (d *Driver) step() {
	now := d.now()
	d.acc += now.Sub(d.last)
	d.last = now

	res := d.clock.Resolution()
	ticks := d.acc / res
	if ticks <= 0 {
		return
	}
	d.acc %= res
	for ticks > 0 {
		n := ticks
		if n > 1<<31 {
			n = 1 << 31
		}
		d.clock.Increment(uint32(n))
		ticks -= n
	}
}
