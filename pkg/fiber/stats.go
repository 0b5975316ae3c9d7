package fiber

// Stats is a point-in-time snapshot of a scheduler.
type Stats struct {
	Turns       uint64
	Idles       uint64
	Completions uint64
	Ready       int
	Blocked     int
	Done        int
	Fibers      []FiberStats
}

// FiberStats describes one fiber in a Stats snapshot.
type FiberStats struct {
	Name      string
	State     State
	Switches  uint64
	Stackless bool
	StackSize int // words
	StackUsed int // high watermark in words, as of the last switch
	Err       error
}

// Stats returns a snapshot of the scheduler counters. It is safe to call from
// any goroutine, including while Run is active.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Turns:       s.turns,
		Idles:       s.idles,
		Completions: s.completions,
		Fibers:      make([]FiberStats, 0, len(s.fibers)),
	}
	for _, f := range s.fibers {
		switch f.state {
		case Ready, Running:
			st.Ready++
		case Blocked:
			st.Blocked++
		case Done:
			st.Done++
		}
		fs := FiberStats{
			Name:      f.name,
			State:     f.state,
			Switches:  f.switches,
			Stackless: f.Stackless(),
			StackUsed: f.stackUsed,
			Err:       f.err,
		}
		if f.stack != nil {
			fs.StackSize = f.stack.Size()
		}
		st.Fibers = append(st.Fibers, fs)
	}
	return st
}
