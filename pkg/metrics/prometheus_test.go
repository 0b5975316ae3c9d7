package metrics

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NavarchProject/tickfiber/pkg/clock"
	"github.com/NavarchProject/tickfiber/pkg/fiber"
	"github.com/NavarchProject/tickfiber/pkg/protothread"
)

type staticStats fiber.Stats

func (s staticStats) Stats() fiber.Stats { return fiber.Stats(s) }

type staticUptime uint64

func (u staticUptime) Uptime() uint64 { return uint64(u) }

func TestPrometheusMetrics_SchedulerCounters(t *testing.T) {
	pm := NewPrometheusMetrics(staticStats{Turns: 12, Idles: 3, Completions: 1}, staticUptime(1<<32+5))

	expected := `
# HELP tickfiber_scheduler_turns_total Total number of scheduling turns taken
# TYPE tickfiber_scheduler_turns_total counter
tickfiber_scheduler_turns_total 12
# HELP tickfiber_scheduler_idle_total Total number of steps that found no ready fiber
# TYPE tickfiber_scheduler_idle_total counter
tickfiber_scheduler_idle_total 3
# HELP tickfiber_clock_uptime_ticks Ticks since the clock was created, including counter wraps
# TYPE tickfiber_clock_uptime_ticks counter
tickfiber_clock_uptime_ticks 4.294967301e+09
`
	if err := testutil.CollectAndCompare(pm, strings.NewReader(expected),
		"tickfiber_scheduler_turns_total",
		"tickfiber_scheduler_idle_total",
		"tickfiber_clock_uptime_ticks",
	); err != nil {
		t.Error(err)
	}
}

func TestPrometheusMetrics_FiberGauges(t *testing.T) {
	pm := NewPrometheusMetrics(staticStats{
		Ready:   1,
		Blocked: 1,
		Fibers: []fiber.FiberStats{
			{Name: "blink", State: fiber.Blocked, Switches: 4, StackSize: 64, StackUsed: 12},
			{Name: "pt", State: fiber.Ready, Switches: 2, Stackless: true},
		},
	}, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(pm)

	count, err := testutil.GatherAndCount(registry, "tickfiber_fiber_state")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 2 {
		t.Errorf("tickfiber_fiber_state series = %d, want 2", count)
	}

	count, err = testutil.GatherAndCount(registry, "tickfiber_fiber_stack_used_words")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("stack series = %d, want 1 (stackless fibers have none)", count)
	}

	if got := testutil.ToFloat64(pm.stackUsed.WithLabelValues("blink")); got != 12 {
		t.Errorf("stack used = %v, want 12", got)
	}
	if got := testutil.ToFloat64(pm.fibersTotal.WithLabelValues("blocked")); got != 1 {
		t.Errorf("blocked fibers = %v, want 1", got)
	}

	count, err = testutil.GatherAndCount(registry, "tickfiber_clock_uptime_ticks")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 0 {
		t.Errorf("uptime series = %d without an uptime source, want 0", count)
	}
}

func TestPrometheusMetrics_RecordTimerFiring(t *testing.T) {
	pm := NewPrometheusMetrics(staticStats{}, nil)

	pm.RecordTimerFiring("blink", 1)
	pm.RecordTimerFiring("blink", 7)

	if got := testutil.ToFloat64(pm.timerFirings.WithLabelValues("blink")); got != 2 {
		t.Errorf("firings = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.missedPeriods.WithLabelValues("blink")); got != 6 {
		t.Errorf("missed periods = %v, want 6", got)
	}
}

func TestPrometheusMetrics_LiveScheduler(t *testing.T) {
	c := clock.NewFake()
	s := fiber.NewScheduler(c, fiber.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer s.Close()

	if _, err := s.Spawn("loop", nil, func() {
		for {
			s.Yield()
		}
	}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if _, err := s.SpawnRunner("once", protothread.RunnerFunc(func() bool { return false })); err != nil {
		t.Fatalf("SpawnRunner() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	pm := NewPrometheusMetrics(s, c)
	registry := prometheus.NewRegistry()
	registry.MustRegister(pm)

	expected := `
# HELP tickfiber_fiber_switches_total Total number of times each fiber was resumed
# TYPE tickfiber_fiber_switches_total counter
tickfiber_fiber_switches_total{fiber="loop"} 4
tickfiber_fiber_switches_total{fiber="once"} 1
# HELP tickfiber_scheduler_completions_total Total number of fibers that finished
# TYPE tickfiber_scheduler_completions_total counter
tickfiber_scheduler_completions_total 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"tickfiber_fiber_switches_total",
		"tickfiber_scheduler_completions_total",
	); err != nil {
		t.Error(err)
	}
}
