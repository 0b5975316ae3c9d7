package timer

import (
	"testing"
	"time"

	"github.com/NavarchProject/tickfiber/pkg/clock"
)

type periodic interface {
	Restart(time.Duration)
	Stop()
	State() State
	IsStopped() bool
	Execute() bool
	Poll() uint32
	Remaining() time.Duration
}

func eachPeriodic(t *testing.T, d time.Duration, fn func(t *testing.T, f *clock.Fake, p periodic)) {
	t.Helper()
	t.Run("32bit", func(t *testing.T) {
		f := clock.NewFake()
		fn(t, f, NewPeriodicTimer(f, d))
	})
	t.Run("16bit", func(t *testing.T) {
		f := clock.NewFake()
		fn(t, f, NewShortPeriodicTimer(f, d))
	})
}

func TestPeriodicTimer_Constructor(t *testing.T) {
	eachPeriodic(t, 10*time.Millisecond, func(t *testing.T, _ *clock.Fake, p periodic) {
		if got := p.Remaining(); got != 10*time.Millisecond {
			t.Errorf("Remaining() = %v, want 10ms", got)
		}
		if p.IsStopped() {
			t.Error("IsStopped() = true, want false")
		}
		if got := p.State(); got != Armed {
			t.Errorf("State() = %v, want %v", got, Armed)
		}
		if p.Execute() {
			t.Error("Execute() = true, want false")
		}

		p.Restart(0)
		if got := p.Poll(); got != 1 {
			t.Errorf("Poll() after Restart(0) = %d, want 1", got)
		}
	})
}

func TestPeriodicTimer_CatchUp(t *testing.T) {
	eachPeriodic(t, 10*time.Millisecond, func(t *testing.T, f *clock.Fake, p periodic) {
		for i := int64(0); i < 9; i++ {
			f.SetMillis(i)
			if got := p.Poll(); got != 0 {
				t.Fatalf("t=%d: Poll() = %d, want 0", i, got)
			}
			if got, want := p.Remaining(), time.Duration(10-i)*time.Millisecond; got != want {
				t.Fatalf("t=%d: Remaining() = %v, want %v", i, got, want)
			}
		}

		steps := []struct {
			ms        int64
			state     State
			remaining time.Duration // before polling
			polls     uint32
			after     time.Duration // after polling
		}{
			{10, Expired, 0, 1, 10 * time.Millisecond},
			{20, Expired, 0, 1, 10 * time.Millisecond},
			// 30 through 90 were missed; one firing reports all seven.
			{100, Expired, -70 * time.Millisecond, 7, 10 * time.Millisecond},
			{150, Expired, -40 * time.Millisecond, 5, 10 * time.Millisecond},
		}
		for _, s := range steps {
			f.SetMillis(s.ms)
			if got := p.State(); got != s.state {
				t.Errorf("t=%d: State() = %v, want %v", s.ms, got, s.state)
			}
			if got := p.Remaining(); got != s.remaining {
				t.Errorf("t=%d: Remaining() = %v, want %v", s.ms, got, s.remaining)
			}
			if got := p.Poll(); got != s.polls {
				t.Errorf("t=%d: Poll() = %d, want %d", s.ms, got, s.polls)
			}
			if got := p.Poll(); got != 0 {
				t.Errorf("t=%d: second Poll() = %d, want 0", s.ms, got)
			}
			if got := p.Remaining(); got != s.after {
				t.Errorf("t=%d: Remaining() after Poll() = %v, want %v", s.ms, got, s.after)
			}
		}
	})
}

func TestPeriodicTimer_LatePollKeepsAlignment(t *testing.T) {
	eachPeriodic(t, 10*time.Millisecond, func(t *testing.T, f *clock.Fake, p periodic) {
		f.SetMillis(150)
		if got := p.Poll(); got != 14 {
			t.Fatalf("Poll() = %d, want 14", got)
		}

		// Polled 5ms late: next deadline is 160, not 165.
		f.SetMillis(155)
		if got := p.Remaining(); got != 5*time.Millisecond {
			t.Fatalf("Remaining() = %v, want 5ms", got)
		}
		f.SetMillis(165)
		if got := p.Poll(); got != 1 {
			t.Fatalf("Poll() = %d, want 1", got)
		}

		f.SetMillis(159 + 10)
		if got := p.State(); got != Armed {
			t.Errorf("t=169: State() = %v, want %v", got, Armed)
		}
		if got := p.Remaining(); got != time.Millisecond {
			t.Errorf("t=169: Remaining() = %v, want 1ms", got)
		}
		f.SetMillis(170)
		if !p.Execute() {
			t.Error("t=170: Execute() = false, want true")
		}
		f.SetMillis(175)
		if p.Execute() {
			t.Error("t=175: Execute() = true, want false")
		}
		if got := p.Remaining(); got != 5*time.Millisecond {
			t.Errorf("t=175: Remaining() = %v, want 5ms", got)
		}
	})
}

func TestPeriodicTimer_FiresAtEveryBoundary(t *testing.T) {
	f := clock.NewFake()
	t0 := clock.Timestamp(^uint32(0) - 250)
	f.Set(t0)
	p := NewPeriodicTimer(f, 100*time.Millisecond)

	var fired []uint32
	for i := uint32(1); i <= 1000; i++ {
		f.Set(t0 + clock.Timestamp(i))
		if p.Execute() {
			fired = append(fired, i)
		}
	}

	if len(fired) != 10 {
		t.Fatalf("fired %d times, want 10", len(fired))
	}
	for k, at := range fired {
		if want := uint32(k+1) * 100; at != want {
			t.Errorf("firing %d at T0+%d, want T0+%d", k, at, want)
		}
	}
}

func TestPeriodicTimer_ZeroPeriodFiresEveryPoll(t *testing.T) {
	eachPeriodic(t, 0, func(t *testing.T, f *clock.Fake, p periodic) {
		for i := 0; i < 3; i++ {
			if !p.Execute() {
				t.Errorf("poll %d: Execute() = false, want true", i)
			}
		}
		f.SetMillis(1000)
		if got := p.Poll(); got != 1 {
			t.Errorf("Poll() = %d, want 1", got)
		}
		if got := p.Remaining(); got != 0 {
			t.Errorf("Remaining() = %v, want 0", got)
		}
	})
}

func TestPeriodicTimer_LongPeriodIsClamped(t *testing.T) {
	f := clock.NewFakeWithResolution(time.Microsecond)
	p := NewPeriodicTimer(f, 2*time.Hour)

	f.AdvanceDuration(49 * time.Minute)
	if got := p.Poll(); got != 0 {
		t.Errorf("Poll() after 49m = %d, want 0", got)
	}
	f.Advance(uint32(1<<32-1) - uint32(clock.Ticks(f, 49*time.Minute)))
	if got := p.Poll(); got != 1 {
		t.Errorf("Poll() at the clamped period = %d, want 1", got)
	}
}

func TestPeriodicTimer_StopAndRestart(t *testing.T) {
	eachPeriodic(t, 10*time.Millisecond, func(t *testing.T, f *clock.Fake, p periodic) {
		p.Stop()
		if !p.IsStopped() {
			t.Error("IsStopped() = false, want true")
		}
		if got := p.State(); got != Stopped {
			t.Errorf("State() = %v, want %v", got, Stopped)
		}
		f.SetMillis(100)
		if got := p.Poll(); got != 0 {
			t.Errorf("Poll() on stopped timer = %d, want 0", got)
		}
		if got := p.Remaining(); got != 0 {
			t.Errorf("Remaining() on stopped timer = %v, want 0", got)
		}

		p.Restart(5 * time.Millisecond)
		if p.IsStopped() {
			t.Error("IsStopped() = true after Restart(), want false")
		}
		if got := p.State(); got != Armed {
			t.Errorf("State() = %v, want %v", got, Armed)
		}
		if p.Execute() {
			t.Error("Execute() = true, want false")
		}
		f.SetMillis(105)
		if !p.Execute() {
			t.Error("Execute() = false, want true")
		}
		if p.Execute() {
			t.Error("second Execute() = true, want false")
		}

		p.Restart(-time.Millisecond)
		if !p.IsStopped() {
			t.Error("IsStopped() after negative Restart() = false, want true")
		}
	})
}
