// Package fiber implements cooperative fibers and the round-robin scheduler
// that runs them.
//
// A fiber runs until it calls Yield, Sleep, WaitUntil or WaitFor on its
// scheduler, or until its body returns. Nothing preempts a fiber, so a body
// must reach one of those calls within bounded time. Stackful fibers run a
// func() on a fixed, caller-supplied Stack; stackless fibers run a
// protothread.Runner and keep their state in the runner itself.
package fiber

import (
	"github.com/NavarchProject/tickfiber/pkg/protothread"
	"github.com/NavarchProject/tickfiber/pkg/timer"
)

// State is the scheduling state of a fiber.
type State uint8

const (
	// Ready fibers are eligible for the next turn.
	Ready State = iota
	// Running is the state of the fiber that holds control.
	Running
	// Blocked fibers wait for a timeout or a condition.
	Blocked
	// Done fibers have returned and are never scheduled again.
	Done
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Fiber is a unit of cooperative execution.
type Fiber struct {
	name  string
	stack *Stack
	ctx   switcher

	state State
	// wake is polled by the scheduler while the fiber is Blocked.
	wake  func() bool
	sleep timer.Timeout

	switches  uint64
	stackUsed int
	err       error
}

// New prepares a stackful fiber. The first resume starts body on stack.
// A nil stack gets DefaultStackWords words.
func New(name string, stack *Stack, body func()) (*Fiber, error) {
	if body == nil {
		return nil, ErrNilBody
	}
	if stack == nil {
		stack = MakeStack(DefaultStackWords)
	}
	stack.owner = name
	return &Fiber{
		name:  name,
		stack: stack,
		ctx:   newGoroutineContext(body),
	}, nil
}

// NewRunner prepares a stackless fiber around a protothread runner. The fiber
// is done once Run returns false.
func NewRunner(name string, r protothread.Runner) (*Fiber, error) {
	if r == nil {
		return nil, ErrNilBody
	}
	return &Fiber{
		name: name,
		ctx:  &runnerContext{r: r},
	}, nil
}

// Name returns the fiber name.
func (f *Fiber) Name() string { return f.name }

// Stack returns the fiber stack, or nil for a stackless fiber.
func (f *Fiber) Stack() *Stack { return f.stack }

// Stackless reports whether the fiber runs a protothread.
func (f *Fiber) Stackless() bool { return f.stack == nil }

// Err returns the error that ended the fiber, if any.
func (f *Fiber) Err() error { return f.err }
