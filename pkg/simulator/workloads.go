package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NavarchProject/tickfiber/pkg/fiber"
	"github.com/NavarchProject/tickfiber/pkg/protothread"
	"github.com/NavarchProject/tickfiber/pkg/retry"
	"github.com/NavarchProject/tickfiber/pkg/timer"
)

const defaultFrameWords = 16

// attemptError is the failure of one simulated retry attempt.
type attemptError struct {
	attempt   int
	permanent bool
}

func (e *attemptError) Error() string {
	if e.permanent {
		return fmt.Sprintf("attempt %d: permanent failure", e.attempt)
	}
	return fmt.Sprintf("attempt %d: transient failure", e.attempt)
}

// Temporary reports whether retrying can help.
func (e *attemptError) Temporary() bool { return !e.permanent }

// workload is the runner-side record of a simulated fiber.
type workload struct {
	spec  FiberSpec
	fiber *fiber.Fiber
	stack *fiber.Stack

	iterations int
	missed     uint64
	attempts   int
	timedOut   int
	firings    []uint64 // elapsed ticks at each firing
	err        error
}

func (w *workload) more() bool {
	return w.spec.Count == 0 || w.iterations < w.spec.Count
}

func (w *workload) frameWords() int {
	if w.spec.Frame > 0 {
		return w.spec.Frame
	}
	return defaultFrameWords
}

// enter reserves the body's frame. A failed reservation leaves the stack
// marked as overflowed and the scheduler stops the run at the next switch.
func (w *workload) enter() bool {
	_, err := w.stack.Reserve(w.frameWords())
	return err == nil
}

// spawn registers the fiber for spec on the scheduler.
func (r *Runner) spawn(spec FiberSpec) (*workload, error) {
	w := &workload{spec: spec}

	if spec.Kind == KindProgram {
		f, err := r.sched.SpawnRunner(spec.Name, r.program(w))
		if err != nil {
			return nil, err
		}
		w.fiber = f
		return w, nil
	}

	words := spec.StackWords
	if words == 0 {
		words = r.stackWords
	}
	w.stack = fiber.MakeStack(words)

	var body func()
	switch spec.Kind {
	case KindBlink:
		body = r.blink(w)
	case KindPeriodic:
		body = r.periodic(w)
	case KindCounter:
		body = r.counter(w)
	case KindTimeout:
		body = r.timeout(w)
	case KindWaiter:
		body = r.waiter(w)
	case KindRetry:
		body = r.retrying(w)
	case KindStack:
		body = r.deepStack(w)
	default:
		return nil, fmt.Errorf("fiber %s: unknown kind %q", spec.Name, spec.Kind)
	}

	f, err := r.sched.Spawn(spec.Name, w.stack, body)
	if err != nil {
		return nil, err
	}
	w.fiber = f
	return w, nil
}

// record notes a firing that accounted for periods timer periods.
func (r *Runner) record(w *workload, periods uint32) {
	w.iterations++
	w.firings = append(w.firings, r.elapsed)
	if periods > 1 {
		w.missed += uint64(periods - 1)
	}
	r.metrics.RecordTimerFiring(w.spec.Name, periods)
}

func (r *Runner) blink(w *workload) func() {
	return func() {
		if !w.enter() {
			return
		}
		for w.more() {
			r.record(w, 1)
			r.sched.Sleep(w.spec.Period.Duration())
		}
	}
}

type poller interface {
	Poll() uint32
}

func (r *Runner) periodic(w *workload) func() {
	return func() {
		if !w.enter() {
			return
		}
		var p poller
		if w.spec.Short {
			p = timer.NewShortPeriodicTimer(r.clock, w.spec.Period.Duration())
		} else {
			p = timer.NewPeriodicTimer(r.clock, w.spec.Period.Duration())
		}
		for w.more() {
			var n uint32
			r.sched.WaitUntil(func() bool {
				n = p.Poll()
				return n > 0
			})
			r.record(w, n)
			if w.spec.Work > 0 {
				r.busy(w.spec.Work.Duration())
			}
			r.sched.Yield()
		}
	}
}

func (r *Runner) counter(w *workload) func() {
	return func() {
		if !w.enter() {
			return
		}
		for w.more() {
			w.iterations++
			r.sched.Yield()
		}
	}
}

func (r *Runner) timeout(w *workload) func() {
	return func() {
		if !w.enter() {
			return
		}
		d := w.spec.Timeout.Duration()
		if w.spec.Short {
			t := timer.NewStoppedShortTimeout(r.clock)
			for w.more() {
				t.Restart(d)
				r.sched.WaitUntil(t.IsExpired)
				r.record(w, 1)
			}
			return
		}
		t := timer.NewStoppedTimeout(r.clock)
		for w.more() {
			t.Restart(d)
			r.sched.WaitFor(t)
			r.record(w, 1)
		}
	}
}

func (r *Runner) waiter(w *workload) func() {
	return func() {
		if !w.enter() {
			return
		}
		sig := w.spec.Signal
		for w.more() {
			var deadline *timer.Timeout
			if w.spec.Timeout > 0 {
				deadline = timer.NewTimeout(r.clock, w.spec.Timeout.Duration())
			}
			r.sched.WaitUntil(func() bool {
				return r.signals[sig] || (deadline != nil && deadline.IsExpired())
			})
			if r.signals[sig] {
				r.signals[sig] = false
				r.record(w, 1)
				continue
			}
			w.timedOut++
			r.logger.Debug("wait timed out",
				slog.String("fiber", w.spec.Name),
				slog.String("signal", sig),
			)
			if w.spec.Count > 0 && w.timedOut >= w.spec.Count {
				return
			}
		}
	}
}

func (r *Runner) retrying(w *workload) func() {
	return func() {
		if !w.enter() {
			return
		}
		cfg := retry.DefaultConfig()
		if w.spec.Attempts > 0 {
			cfg.MaxAttempts = w.spec.Attempts
		}
		if w.spec.Period > 0 {
			cfg.InitialDelay = w.spec.Period.Duration()
		}
		cfg.Sleeper = r.sched
		cfg.Rand = r.rng
		cfg.RetryableFunc = retry.Combine(retry.IsTemporary, retry.IsTimeout)
		cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
			r.logger.Debug("retrying",
				slog.String("fiber", w.spec.Name),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}

		err := retry.Do(r.ctx, cfg, func(ctx context.Context) error {
			w.attempts++
			switch {
			case w.spec.Failures == PermanentFailure:
				return &attemptError{attempt: w.attempts, permanent: true}
			case w.attempts <= w.spec.Failures:
				return &attemptError{attempt: w.attempts}
			}
			return nil
		})
		if err != nil {
			w.err = err
			return
		}
		r.record(w, 1)
	}
}

func (r *Runner) deepStack(w *workload) func() {
	return func() {
		var descend func()
		descend = func() {
			if !w.enter() {
				return
			}
			w.iterations++
			r.sched.Yield()
			if w.more() {
				descend()
			}
			w.stack.Release(w.frameWords())
		}
		descend()
	}
}

// program builds a stackless fiber that counts expirations of a Timeout
// re-armed every period.
func (r *Runner) program(w *workload) protothread.Runner {
	period := w.spec.Period.Duration()
	t := timer.NewStoppedTimeout(r.clock)
	return protothread.NewProgram(
		func() protothread.Action {
			t.Restart(period)
			return protothread.Next
		},
		func() protothread.Action {
			return protothread.WaitUntil(t.IsExpired)
		},
		func() protothread.Action {
			r.record(w, 1)
			if !w.more() {
				return protothread.Exit
			}
			return protothread.Goto(0)
		},
	)
}
