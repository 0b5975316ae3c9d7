package protothread

type actionKind uint8

const (
	actNext actionKind = iota
	actYield
	actWait
	actGoto
	actExit
	actWaitUntil
)

// Action tells a Program what to do after a stage ran.
type Action struct {
	kind   actionKind
	target Point
	cond   func() bool
}

var (
	// Next continues with the following stage in the same Run.
	Next = Action{kind: actNext}

	// Yield moves to the following stage and returns from Run.
	Yield = Action{kind: actYield}

	// Wait returns from Run and runs the same stage again next time.
	Wait = Action{kind: actWait}

	// Exit stops the program.
	Exit = Action{kind: actExit}
)

// Goto continues at stage p in the same Run.
func Goto(p Point) Action {
	return Action{kind: actGoto, target: p}
}

// WaitUntil returns from Run until cond holds, then continues with the
// following stage. cond is evaluated once per Run, or by a scheduler through
// WaitingOn, and must not block.
func WaitUntil(cond func() bool) Action {
	return Action{kind: actWaitUntil, cond: cond}
}

// Await resumes r once per Run until it completes, storing its value in out
// when out is non-nil, then continues with the following stage.
func Await[T any](r *Resumable[T], out *T) Action {
	return WaitUntil(func() bool {
		res := r.Resume()
		if res.State == Running {
			return false
		}
		if out != nil {
			*out = res.Value
		}
		return true
	})
}

// Stage is one step of a Program.
type Stage func() Action

// Program is a protothread written as an ordered list of stages. The stage
// index is the resume point. Running past the last stage stops the program.
type Program struct {
	Thread
	stages []Stage

	waiting   func() bool // condition of the WaitUntil the program is parked on
	satisfied bool
}

// Waiter is a Runner that can report what it is waiting for, so a scheduler
// can park it instead of resuming it to re-check.
type Waiter interface {
	Runner
	// WaitingOn returns the condition the runner is parked on, or nil when
	// the next Run should happen unconditionally.
	WaitingOn() func() bool
}

// NewProgram returns a program that starts at its first stage.
func NewProgram(stages ...Stage) *Program {
	return &Program{stages: stages}
}

// Len returns the number of stages.
func (p *Program) Len() int {
	return len(p.stages)
}

// Run executes stages from the current point until one waits, yields or
// exits. It reports whether the program is still running. A program that
// loops with Goto must wait somewhere on every iteration.
func (p *Program) Run() bool {
	held := p.satisfied
	p.clearWait()
	for p.IsRunning() {
		idx := int(p.point)
		if idx >= len(p.stages) {
			p.Stop()
			break
		}
		a := p.stages[idx]()
		resumed := held
		held = false
		switch a.kind {
		case actNext:
			p.point++
		case actYield:
			p.point++
			return p.point < Point(len(p.stages)) || p.finish()
		case actWait:
			return true
		case actGoto:
			p.point = a.target
		case actExit:
			p.Stop()
		case actWaitUntil:
			if !resumed && !a.cond() {
				p.waiting = a.cond
				return true
			}
			p.point++
		}
	}
	return false
}

// WaitingOn returns the condition of the WaitUntil the program stopped at, or
// nil. The returned func remembers a true result, so the next Run continues
// without evaluating the condition again; conditions such as Await advance
// state when they are checked.
func (p *Program) WaitingOn() func() bool {
	cond := p.waiting
	if cond == nil {
		return nil
	}
	return func() bool {
		if !cond() {
			return false
		}
		p.satisfied = true
		return true
	}
}

// Goto sets the stage the next Run resumes at and drops any pending wait.
func (p *Program) Goto(pt Point) {
	p.Thread.Goto(pt)
	p.clearWait()
}

// Restart puts the program back at its first stage.
func (p *Program) Restart() {
	p.Thread.Restart()
	p.clearWait()
}

// Stop ends the program.
func (p *Program) Stop() {
	p.Thread.Stop()
	p.clearWait()
}

func (p *Program) clearWait() {
	p.waiting, p.satisfied = nil, false
}

func (p *Program) finish() bool {
	p.Stop()
	return false
}
