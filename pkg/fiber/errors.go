package fiber

import (
	"errors"
	"fmt"
)

var (
	// ErrStarted is returned when fibers are added after scheduling began.
	ErrStarted = errors.New("scheduler already started")

	// ErrDuplicateName is returned when two fibers share a name.
	ErrDuplicateName = errors.New("duplicate fiber name")

	// ErrNilBody is returned for a fiber without a body or runner.
	ErrNilBody = errors.New("fiber body is nil")

	// ErrStackTooSmall is returned for stacks shorter than MinStackWords.
	ErrStackTooSmall = errors.New("stack too small")

	// ErrNotInFiber is the panic value of a fiber-side call made outside a
	// running stackful fiber.
	ErrNotInFiber = errors.New("not called from a running fiber")

	// ErrAllDone is returned by RunTurns when every fiber has completed and no
	// further turn can be taken.
	ErrAllDone = errors.New("all fibers done")

	// ErrClosed is returned by a scheduler after Close.
	ErrClosed = errors.New("scheduler closed")
)

// StackOverflowError reports a fiber that ran past the end of its stack.
type StackOverflowError struct {
	Fiber  string
	Size   int // words, including the guard
	Used   int // high watermark in words
	Reason string
}

func (e *StackOverflowError) Error() string {
	return fmt.Sprintf("fiber %q: stack overflow (%s): used %d of %d words", e.Fiber, e.Reason, e.Used, e.Size)
}

// PanicError wraps a panic raised by a fiber body.
type PanicError struct {
	Fiber string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fiber %q panicked: %v", e.Fiber, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
