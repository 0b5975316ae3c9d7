package fiber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/NavarchProject/tickfiber/pkg/clock"
	"github.com/NavarchProject/tickfiber/pkg/protothread"
	"github.com/NavarchProject/tickfiber/pkg/timer"
)

// Idler is called by Run when no fiber is ready.
type Idler interface {
	Idle(ctx context.Context, now clock.Timestamp) error
}

// IdlerFunc adapts a function to Idler.
type IdlerFunc func(ctx context.Context, now clock.Timestamp) error

// Idle calls f.
func (f IdlerFunc) Idle(ctx context.Context, now clock.Timestamp) error {
	return f(ctx, now)
}

// Scheduler runs fibers round-robin in registration order.
//
// Fibers are registered during a setup phase. Once Step, RunTurns or Run has
// been called the set of fibers is fixed. The scheduler and its fibers share
// one logical thread of execution; only Stats may be called concurrently.
type Scheduler struct {
	src          clock.Source
	logger       *slog.Logger
	idler        Idler
	stopWhenDone bool

	fibers  []*Fiber
	names   map[string]*Fiber
	current *Fiber
	cursor  int
	started bool
	closed  bool
	fatal   error

	mu          sync.Mutex // guards fiber state and counters for Stats
	turns       uint64
	idles       uint64
	completions uint64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithIdler replaces the default idler, which waits for the next clock tick.
func WithIdler(idler Idler) SchedulerOption {
	return func(s *Scheduler) {
		s.idler = idler
	}
}

// WithStopWhenDone makes Run return once every fiber is done.
func WithStopWhenDone() SchedulerOption {
	return func(s *Scheduler) {
		s.stopWhenDone = true
	}
}

// NewScheduler creates a scheduler reading time from src.
func NewScheduler(src clock.Source, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		src:   src,
		names: make(map[string]*Fiber),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	if s.idler == nil {
		s.idler = tickIdler(src)
	}
	return s
}

type tickWaiter interface {
	Wait(ctx context.Context, after clock.Timestamp) (clock.Timestamp, error)
}

// tickIdler sleeps until the clock moves. Sources that cannot signal ticks
// are polled once per resolution.
func tickIdler(src clock.Source) Idler {
	if w, ok := src.(tickWaiter); ok {
		return IdlerFunc(func(ctx context.Context, now clock.Timestamp) error {
			_, err := w.Wait(ctx, now)
			return err
		})
	}
	return IdlerFunc(func(ctx context.Context, _ clock.Timestamp) error {
		t := time.NewTimer(src.Resolution())
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	})
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() clock.Source {
	return s.src
}

// Add registers f. Fibers run in the order they were added.
func (s *Scheduler) Add(f *Fiber) error {
	if f == nil {
		return ErrNilBody
	}
	if s.started {
		return fmt.Errorf("add fiber %q: %w", f.name, ErrStarted)
	}
	if _, ok := s.names[f.name]; ok {
		return fmt.Errorf("add fiber %q: %w", f.name, ErrDuplicateName)
	}
	s.names[f.name] = f
	s.fibers = append(s.fibers, f)
	s.logger.Debug("fiber added",
		slog.String("fiber", f.name),
		slog.Bool("stackless", f.Stackless()),
	)
	return nil
}

// Spawn creates a stackful fiber and adds it.
func (s *Scheduler) Spawn(name string, stack *Stack, body func()) (*Fiber, error) {
	if s.started {
		return nil, fmt.Errorf("spawn fiber %q: %w", name, ErrStarted)
	}
	f, err := New(name, stack, body)
	if err != nil {
		return nil, fmt.Errorf("spawn fiber %q: %w", name, err)
	}
	if err := s.Add(f); err != nil {
		return nil, err
	}
	return f, nil
}

// SpawnRunner creates a stackless fiber around r and adds it. A runner that
// implements protothread.Waiter, such as a Program, is Blocked while it waits
// in WaitUntil; any other runner is resumed on every turn it is Ready.
func (s *Scheduler) SpawnRunner(name string, r protothread.Runner) (*Fiber, error) {
	f, err := NewRunner(name, r)
	if err != nil {
		return nil, fmt.Errorf("spawn fiber %q: %w", name, err)
	}
	if err := s.Add(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Fibers returns the registered fibers in scheduling order.
func (s *Scheduler) Fibers() []*Fiber {
	out := make([]*Fiber, len(s.fibers))
	copy(out, s.fibers)
	return out
}

// Lookup returns the fiber registered under name.
func (s *Scheduler) Lookup(name string) (*Fiber, bool) {
	f, ok := s.names[name]
	return f, ok
}

// Current returns the running fiber, or nil when called from the scheduler.
func (s *Scheduler) Current() *Fiber {
	return s.current
}

// Turns returns the number of turns taken so far. Each turn resumes one
// fiber.
func (s *Scheduler) Turns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// State returns the scheduling state of f.
func (s *Scheduler) State(f *Fiber) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f.state
}

// Step takes one scheduling turn. Blocked fibers whose timeout expired or
// whose condition holds become ready, then the next ready fiber after the
// previous one runs until it yields, blocks or returns. Step reports false
// when no fiber was ready.
//
// A stack overflow or a panicking fiber is fatal: Step returns the error and
// every later call returns it again.
func (s *Scheduler) Step() (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if s.fatal != nil {
		return false, s.fatal
	}
	if !s.started {
		s.started = true
		s.logger.Debug("scheduler started", slog.Int("fibers", len(s.fibers)))
	}

	if err := s.wakeBlocked(); err != nil {
		s.fatal = err
		s.logger.Error("wake condition failed", slog.String("error", err.Error()))
		return false, err
	}

	f := s.next()
	if f == nil {
		s.mu.Lock()
		s.idles++
		s.mu.Unlock()
		return false, nil
	}
	if err := s.dispatch(f); err != nil {
		s.fatal = err
		s.logger.Error("fiber failed", slog.String("fiber", f.name), slog.String("error", err.Error()))
		return true, err
	}
	return true, nil
}

// RunTurns takes exactly n turns, idling while no fiber is ready.
func (s *Scheduler) RunTurns(ctx context.Context, n int) error {
	for taken := 0; taken < n; {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := s.Step()
		if err != nil {
			return err
		}
		if ran {
			taken++
			continue
		}
		if s.AllDone() {
			return fmt.Errorf("after %d of %d turns: %w", taken, n, ErrAllDone)
		}
		if err := s.idler.Idle(ctx, s.src.Now()); err != nil {
			return err
		}
	}
	return nil
}

// Run is the scheduler loop. It returns when ctx is done, when a fiber fails,
// or, with WithStopWhenDone, once every fiber is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler running", slog.Int("fibers", len(s.fibers)))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := s.Step()
		if err != nil {
			return err
		}
		if s.stopWhenDone && s.AllDone() {
			s.logger.Info("all fibers done", slog.Uint64("turns", s.Turns()))
			return nil
		}
		if ran {
			continue
		}
		if err := s.idler.Idle(ctx, s.src.Now()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("idle: %w", err)
		}
	}
}

// AllDone reports whether every registered fiber has completed.
func (s *Scheduler) AllDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fibers {
		if f.state != Done {
			return false
		}
	}
	return true
}

// Close unwinds every fiber that has not finished. Deferred calls in fiber
// bodies run. Close must not be called from inside a fiber.
func (s *Scheduler) Close() error {
	if s.current != nil {
		panic("fiber: Close called from inside a fiber")
	}
	if s.closed {
		return nil
	}
	s.closed = true
	for _, f := range s.fibers {
		f.ctx.abort()
		s.setState(f, Done)
	}
	return nil
}

// Yield gives up control until the fiber's next turn. It panics with
// ErrNotInFiber outside a stackful fiber.
func (s *Scheduler) Yield() {
	f := s.mustCurrent()
	s.suspend(f)
}

// Sleep blocks the calling fiber for at least d. A non-positive d yields.
func (s *Scheduler) Sleep(d time.Duration) {
	f := s.mustCurrent()
	if d <= 0 {
		s.suspend(f)
		return
	}
	f.sleep = *timer.NewTimeout(s.src, d)
	s.block(f, f.sleep.IsExpired)
}

// WaitUntil blocks the calling fiber until cond returns true. cond is
// evaluated by the scheduler at the start of each turn and must not block.
// If cond already holds, WaitUntil returns without yielding.
func (s *Scheduler) WaitUntil(cond func() bool) {
	f := s.mustCurrent()
	if cond() {
		return
	}
	s.block(f, cond)
}

// WaitFor blocks the calling fiber until t expires. A stopped timeout never
// expires, so WaitFor returns immediately for one.
func (s *Scheduler) WaitFor(t *timer.Timeout) {
	f := s.mustCurrent()
	if t.IsStopped() || t.IsExpired() {
		return
	}
	s.block(f, func() bool { return t.IsStopped() || t.IsExpired() })
}

func (s *Scheduler) mustCurrent() *Fiber {
	f := s.current
	if f == nil || f.Stackless() {
		panic(ErrNotInFiber)
	}
	return f
}

func (s *Scheduler) block(f *Fiber, wake func() bool) {
	f.wake = wake
	s.setState(f, Blocked)
	s.suspend(f)
}

func (s *Scheduler) suspend(f *Fiber) {
	f.ctx.suspend()
}

func (s *Scheduler) setState(f *Fiber, st State) {
	s.mu.Lock()
	f.state = st
	s.mu.Unlock()
}

// wakeBlocked readies every blocked fiber whose wake condition holds. A
// condition that panics fails its fiber.
func (s *Scheduler) wakeBlocked() error {
	for _, f := range s.fibers {
		if f.state != Blocked || f.wake == nil {
			continue
		}
		ready, err := pollWake(f)
		if err != nil {
			f.wake = nil
			f.ctx.abort()
			s.mu.Lock()
			f.err = err
			f.state = Done
			s.completions++
			s.mu.Unlock()
			return err
		}
		if ready {
			f.wake = nil
			s.setState(f, Ready)
		}
	}
	return nil
}

func pollWake(f *Fiber) (ready bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Fiber: f.name, Value: v, Stack: debug.Stack()}
		}
	}()
	return f.wake(), nil
}

// next returns the first ready fiber at or after the cursor, wrapping around.
func (s *Scheduler) next() *Fiber {
	n := len(s.fibers)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		if f := s.fibers[idx]; f.state == Ready {
			s.cursor = (idx + 1) % n
			return f
		}
	}
	return nil
}

// dispatch runs f until it hands control back and settles its state.
func (s *Scheduler) dispatch(f *Fiber) error {
	s.mu.Lock()
	f.state = Running
	f.switches++
	s.turns++
	s.mu.Unlock()

	s.current = f
	f.ctx.resume()
	s.current = nil

	var err error
	if f.stack != nil {
		if serr := f.stack.Check(); serr != nil {
			err = serr
			f.ctx.abort()
		}
	}
	if err == nil {
		if v, trace := f.ctx.recovered(); v != nil {
			err = &PanicError{Fiber: f.name, Value: v, Stack: trace}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f.stack != nil {
		f.stackUsed = f.stack.Usage()
	}
	switch {
	case err != nil:
		f.err = err
		f.state = Done
		s.completions++
	case f.ctx.finished():
		f.state = Done
		s.completions++
		s.logger.Debug("fiber done", slog.String("fiber", f.name), slog.Uint64("switches", f.switches))
	case f.state == Running:
		f.state = Ready
		if rc, ok := f.ctx.(*runnerContext); ok {
			if cond := rc.waitingOn(); cond != nil {
				f.wake = cond
				f.state = Blocked
			}
		}
	}
	return err
}
