package fiber

import "fmt"

const (
	// GuardWords is the number of canary words at the low end of every stack.
	GuardWords = 4

	// MinStackWords is the smallest stack a fiber accepts.
	MinStackWords = 32

	// DefaultStackWords is used when a fiber is spawned without a stack.
	DefaultStackWords = 512

	guardCanary = 0xDEADBEEF
	paintWord   = 0xAAAAAAAA
)

// Stack is the fixed word region a fiber frames its local state in. The
// memory is supplied by the caller and is never grown.
//
// Frames are carved from the high end downwards by Reserve. The lowest
// GuardWords words hold a canary; the rest is painted on creation so the
// high watermark can be measured afterwards.
type Stack struct {
	words    []uint32
	sp       int
	overflow bool
	owner    string
}

// NewStack prepares words as a fiber stack. The contents of words are
// overwritten.
func NewStack(words []uint32) (*Stack, error) {
	if len(words) < MinStackWords {
		return nil, fmt.Errorf("%w: %d words, need at least %d", ErrStackTooSmall, len(words), MinStackWords)
	}
	s := &Stack{words: words, sp: len(words)}
	for i := range words {
		if i < GuardWords {
			words[i] = guardCanary
		} else {
			words[i] = paintWord
		}
	}
	return s, nil
}

// MakeStack allocates a stack of n words, raised to MinStackWords.
func MakeStack(n int) *Stack {
	if n < MinStackWords {
		n = MinStackWords
	}
	s, _ := NewStack(make([]uint32, n))
	return s
}

// Size returns the stack size in words, guard included.
func (s *Stack) Size() int {
	return len(s.words)
}

// Free returns the number of words that can still be reserved.
func (s *Stack) Free() int {
	if s.sp < GuardWords {
		return 0
	}
	return s.sp - GuardWords
}

// Reserve carves an n-word zeroed frame off the stack. Running into the guard
// marks the stack as overflowed; the scheduler aborts at the next switch.
func (s *Stack) Reserve(n int) ([]uint32, error) {
	if n < 0 {
		return nil, fmt.Errorf("reserve %d words: negative size", n)
	}
	if s.sp-n < GuardWords {
		s.overflow = true
		return nil, s.overflowError("reserve past guard")
	}
	s.sp -= n
	frame := s.words[s.sp : s.sp+n : s.sp+n]
	clear(frame)
	return frame, nil
}

// Release returns the n most recently reserved words.
func (s *Stack) Release(n int) {
	s.sp += n
	if s.sp > len(s.words) {
		s.sp = len(s.words)
	}
}

// Usage returns the high watermark: the largest number of words ever in use,
// measured from the paint left untouched.
func (s *Stack) Usage() int {
	for i := GuardWords; i < len(s.words); i++ {
		if s.words[i] != paintWord {
			return len(s.words) - i
		}
	}
	return 0
}

// Check verifies the guard canary.
func (s *Stack) Check() error {
	if s.overflow {
		return s.overflowError("reserve past guard")
	}
	for i := 0; i < GuardWords; i++ {
		if s.words[i] != guardCanary {
			return s.overflowError("guard overwritten")
		}
	}
	return nil
}

func (s *Stack) overflowError(reason string) *StackOverflowError {
	used := s.Usage()
	if s.overflow {
		used = len(s.words)
	}
	return &StackOverflowError{
		Fiber:  s.owner,
		Size:   len(s.words),
		Used:   used,
		Reason: reason,
	}
}
