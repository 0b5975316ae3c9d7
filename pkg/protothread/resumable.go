package protothread

import (
	"runtime"
	"sync"
)

// ResumeState is the outcome of resuming a resumable function.
type ResumeState uint8

const (
	// Stop means the function completed and Value holds its result.
	Stop ResumeState = iota
	// Running means the function is suspended and must be resumed again.
	Running
	// WrongState means the function could not be started because another
	// member of its Group is running.
	WrongState
)

func (s ResumeState) String() string {
	switch s {
	case Stop:
		return "stop"
	case Running:
		return "running"
	case WrongState:
		return "wrong-state"
	default:
		return "unknown"
	}
}

// Result is returned by Resume.
type Result[T any] struct {
	State ResumeState
	Value T
}

// Body is the code of a resumable function. It branches on pt.Point to
// continue where it left off, and returns done = true with its value when it
// has finished.
type Body[T any] func(pt *Thread) (value T, done bool)

// Resumable is a function that can suspend itself and be continued by calling
// Resume again. It is idle until the first Resume and restarts at Begin after
// completing.
type Resumable[T any] struct {
	Thread
	body Body[T]
}

// NewResumable returns an idle resumable function.
func NewResumable[T any](body Body[T]) *Resumable[T] {
	r := &Resumable[T]{body: body}
	r.Stop()
	return r
}

// Resume continues the function, starting it at Begin if it is idle.
func (r *Resumable[T]) Resume() Result[T] {
	if !r.IsRunning() {
		r.Restart()
	}
	v, done := r.body(&r.Thread)
	if done || !r.IsRunning() {
		r.Stop()
		return Result[T]{State: Stop, Value: v}
	}
	return Result[T]{State: Running}
}

// Run implements Runner. The function is resumed once.
func (r *Resumable[T]) Run() bool {
	return r.Resume().State == Running
}

// RunBlocking resumes the function until it completes, calling yield between
// resumes. A nil yield gives up the processor with runtime.Gosched.
func (r *Resumable[T]) RunBlocking(yield func()) T {
	if yield == nil {
		yield = runtime.Gosched
	}
	for {
		res := r.Resume()
		if res.State != Running {
			return res.Value
		}
		yield()
	}
}

// Group tracks which of a fixed set of resumable functions are running. In
// an exclusive group only one member may run at a time.
type Group struct {
	mu        sync.Mutex
	running   []bool
	exclusive bool
}

// NewGroup returns a group of n members. Member ids are 0..n-1.
func NewGroup(n int, exclusive bool) *Group {
	return &Group{running: make([]bool, n), exclusive: exclusive}
}

// Start marks id as running. It returns WrongState if id is out of range or
// the group is exclusive and another member is running.
func (g *Group) Start(id int) ResumeState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id < 0 || id >= len(g.running) {
		return WrongState
	}
	if g.exclusive {
		for other, on := range g.running {
			if on && other != id {
				return WrongState
			}
		}
	}
	g.running[id] = true
	return Running
}

// Stop marks id as no longer running.
func (g *Group) Stop(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id >= 0 && id < len(g.running) {
		g.running[id] = false
	}
}

// StopAll marks every member as stopped.
func (g *Group) StopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.running)
}

// IsRunning reports whether id is running.
func (g *Group) IsRunning(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return id >= 0 && id < len(g.running) && g.running[id]
}

// AnyRunning reports whether any of ids is running. With no ids it checks the
// whole group.
func (g *Group) AnyRunning(ids ...int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(ids) == 0 {
		for _, on := range g.running {
			if on {
				return true
			}
		}
		return false
	}
	for _, id := range ids {
		if id >= 0 && id < len(g.running) && g.running[id] {
			return true
		}
	}
	return false
}

// AllRunning reports whether every one of ids is running.
func (g *Group) AllRunning(ids ...int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if id < 0 || id >= len(g.running) || !g.running[id] {
			return false
		}
	}
	return len(ids) > 0
}

// Join reports whether none of ids is running, so a thread can wait on it
// with WaitUntil.
func (g *Group) Join(ids ...int) bool {
	return !g.AnyRunning(ids...)
}

// Call resumes member id of g. The first call claims id in the group and the
// member is released when r completes. Calling while another member of an
// exclusive group runs returns WrongState without resuming r.
func Call[T any](g *Group, id int, r *Resumable[T]) Result[T] {
	if !g.IsRunning(id) {
		if st := g.Start(id); st != Running {
			return Result[T]{State: st}
		}
	}
	res := r.Resume()
	if res.State != Running {
		g.Stop(id)
	}
	return res
}
