package fiber

import (
	"runtime"
	"runtime/debug"

	"github.com/NavarchProject/tickfiber/pkg/protothread"
)

// switcher is the context-switch primitive the scheduler drives. resume
// transfers control into the fiber and returns when it yields, blocks or
// finishes. Exactly one of the scheduler and the fiber executes at a time.
type switcher interface {
	resume()
	// suspend hands control back to the scheduler from inside the fiber.
	suspend()
	finished() bool
	// recovered returns the panic raised by the fiber body, if any.
	recovered() (any, []byte)
	// abort unwinds a fiber that has not finished.
	abort()
}

// goroutineContext runs a fiber body on its own goroutine. Control is passed
// with unbuffered channel handoffs, so the goroutine only runs between a
// resume and the matching suspend.
type goroutineContext struct {
	body func()
	in   chan struct{}
	out  chan struct{}

	started bool
	done    bool
	aborted bool
	panicV  any
	trace   []byte
}

func newGoroutineContext(body func()) *goroutineContext {
	return &goroutineContext{
		body: body,
		in:   make(chan struct{}),
		out:  make(chan struct{}),
	}
}

func (c *goroutineContext) resume() {
	if c.done {
		return
	}
	if !c.started {
		c.started = true
		go c.run()
	} else {
		c.in <- struct{}{}
	}
	<-c.out
}

func (c *goroutineContext) run() {
	defer func() {
		if r := recover(); r != nil {
			c.panicV = r
			c.trace = debug.Stack()
		}
		c.done = true
		c.out <- struct{}{}
	}()
	c.body()
}

func (c *goroutineContext) suspend() {
	c.out <- struct{}{}
	<-c.in
	if c.aborted {
		runtime.Goexit()
	}
}

func (c *goroutineContext) finished() bool { return c.done }

func (c *goroutineContext) recovered() (any, []byte) { return c.panicV, c.trace }

func (c *goroutineContext) abort() {
	if c.done {
		return
	}
	if !c.started {
		c.done = true
		return
	}
	c.aborted = true
	c.in <- struct{}{}
	<-c.out
}

// runnerContext drives a stackless protothread. Each resume is one call to
// Run; the runner keeps its own resume point.
type runnerContext struct {
	r      protothread.Runner
	done   bool
	panicV any
	trace  []byte
}

func (c *runnerContext) resume() {
	if c.done {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.panicV = r
			c.trace = debug.Stack()
			c.done = true
		}
	}()
	if !c.r.Run() {
		c.done = true
	}
}

func (c *runnerContext) suspend() {
	panic(ErrNotInFiber)
}

func (c *runnerContext) finished() bool { return c.done }

func (c *runnerContext) recovered() (any, []byte) { return c.panicV, c.trace }

func (c *runnerContext) abort() { c.done = true }

// waitingOn returns the condition a parked protothread.Waiter waits for, or
// nil when the runner should simply be resumed again.
func (c *runnerContext) waitingOn() func() bool {
	if w, ok := c.r.(protothread.Waiter); ok && !c.done {
		return w.WaitingOn()
	}
	return nil
}
