// Package protothread provides stackless cooperative threads.
//
// A protothread keeps its position in an explicit resume Point instead of a
// stack. Each call to Run continues from the stored point and returns as soon
// as the thread has to wait. Because nothing survives between calls except
// the fields of the thread value, local state belongs in the struct that
// embeds the Thread.
package protothread

// Point is a resume point. Points are plain values; Begin is the entry.
type Point uint16

const (
	// Begin is the entry point of every thread.
	Begin Point = 0

	stopped Point = ^Point(0)
)

// Runner is something a scheduler can resume. Run continues the thread and
// reports whether it is still running.
type Runner interface {
	Run() bool
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func() bool

// Run calls f.
func (f RunnerFunc) Run() bool { return f() }

// Thread is the resume-point bookkeeping of a protothread. The zero value is
// running at Begin.
type Thread struct {
	point Point
}

// Point returns the point the next Run resumes at.
func (t *Thread) Point() Point {
	return t.point
}

// Goto sets the point the next Run resumes at.
func (t *Thread) Goto(p Point) {
	t.point = p
}

// Restart puts the thread back at Begin.
func (t *Thread) Restart() {
	t.point = Begin
}

// Stop ends the thread. Run is a no-op until Restart.
func (t *Thread) Stop() {
	t.point = stopped
}

// IsRunning reports whether the thread has not been stopped.
func (t *Thread) IsRunning() bool {
	return t.point != stopped
}
