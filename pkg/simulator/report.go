package simulator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Result is the outcome of one simulation run.
type Result struct {
	RunID         string            `json:"run_id"`
	Scenario      string            `json:"scenario"`
	Seed          int64             `json:"seed"`
	StartedAt     time.Time         `json:"started_at"`
	WallTime      time.Duration     `json:"wall_time"`
	SimulatedTime time.Duration     `json:"simulated_time"`
	Ticks         uint64            `json:"ticks"`
	Turns         uint64            `json:"turns"`
	Idles         uint64            `json:"idles"`
	Completions   uint64            `json:"completions"`
	Error         string            `json:"error,omitempty"`
	Fibers        []FiberResult     `json:"fibers"`
	Assertions    []AssertionResult `json:"assertions,omitempty"`
	Passed        bool              `json:"passed"`
}

// FiberResult describes one fiber at the end of a run.
type FiberResult struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	State      string         `json:"state"`
	Switches   uint64         `json:"switches"`
	Stackless  bool           `json:"stackless"`
	StackSize  int            `json:"stack_size,omitempty"`
	StackUsed  int            `json:"stack_used,omitempty"`
	Iterations int            `json:"iterations"`
	Missed     uint64         `json:"missed,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	TimedOut   int            `json:"timed_out,omitempty"`
	Error      string         `json:"error,omitempty"`
	Intervals  *IntervalStats `json:"intervals,omitempty"`
}

// IntervalStats summarizes the time between successive firings of a fiber,
// in milliseconds.
type IntervalStats struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean_ms"`
	StdDev  float64 `json:"stddev_ms"`
	Min     float64 `json:"min_ms"`
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	Max     float64 `json:"max_ms"`
}

// Failed returns the assertions that did not pass.
func (r *Result) Failed() []AssertionResult {
	var failed []AssertionResult
	for _, a := range r.Assertions {
		if !a.Passed {
			failed = append(failed, a)
		}
	}
	return failed
}

// Fiber returns the result for the named fiber.
func (r *Result) Fiber(name string) (FiberResult, bool) {
	for _, f := range r.Fibers {
		if f.Name == name {
			return f, true
		}
	}
	return FiberResult{}, false
}

// Vars returns the variables assertions are evaluated against.
//
// run has keys scenario, seed, ticks, simulated_ms, turns, idles,
// completions and error. Each fibers entry has keys name, kind, state,
// switches, stackless, stack_size, stack_used, iterations, missed,
// attempts, timed_out, error, and, once the fiber fired twice,
// interval_mean_ms, interval_stddev_ms, interval_min_ms and interval_max_ms.
func (r *Result) Vars() map[string]any {
	run := map[string]any{
		"scenario":     r.Scenario,
		"seed":         r.Seed,
		"ticks":        int64(r.Ticks),
		"simulated_ms": float64(r.SimulatedTime) / float64(time.Millisecond),
		"turns":        int64(r.Turns),
		"idles":        int64(r.Idles),
		"completions":  int64(r.Completions),
		"error":        r.Error,
	}

	fibers := make(map[string]any, len(r.Fibers))
	for _, f := range r.Fibers {
		m := map[string]any{
			"name":       f.Name,
			"kind":       f.Kind,
			"state":      f.State,
			"switches":   int64(f.Switches),
			"stackless":  f.Stackless,
			"stack_size": int64(f.StackSize),
			"stack_used": int64(f.StackUsed),
			"iterations": int64(f.Iterations),
			"missed":     int64(f.Missed),
			"attempts":   int64(f.Attempts),
			"timed_out":  int64(f.TimedOut),
			"error":      f.Error,
		}
		if f.Intervals != nil {
			m["interval_mean_ms"] = f.Intervals.Mean
			m["interval_stddev_ms"] = f.Intervals.StdDev
			m["interval_min_ms"] = f.Intervals.Min
			m["interval_max_ms"] = f.Intervals.Max
		}
		fibers[f.Name] = m
	}

	return map[string]any{
		"run":    run,
		"fibers": fibers,
	}
}

// intervalStats computes firing interval statistics. It returns nil for
// fewer than two firings.
func intervalStats(firings []uint64, resolution time.Duration) *IntervalStats {
	if len(firings) < 2 {
		return nil
	}
	tickMs := float64(resolution) / float64(time.Millisecond)
	x := make([]float64, 0, len(firings)-1)
	for i := 1; i < len(firings); i++ {
		x = append(x, float64(firings[i]-firings[i-1])*tickMs)
	}
	sort.Float64s(x)

	s := &IntervalStats{
		Samples: len(x),
		Mean:    stat.Mean(x, nil),
		Min:     floats.Min(x),
		P50:     stat.Quantile(0.5, stat.Empirical, x, nil),
		P95:     stat.Quantile(0.95, stat.Empirical, x, nil),
		Max:     floats.Max(x),
	}
	if len(x) > 1 {
		s.StdDev = stat.StdDev(x, nil)
	}
	return s
}

// WriteJSON writes the result as indented JSON.
func WriteJSON(result *Result, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadJSON reads a result written by WriteJSON.
func ReadJSON(filename string) (*Result, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &result, nil
}

// WriteTable renders the per-fiber results as a plain text table.
func WriteTable(w io.Writer, result *Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Fiber", "Kind", "State", "Switches", "Iterations", "Missed", "Stack", "Interval (ms)", "Error")

	for _, f := range result.Fibers {
		stack := "-"
		if !f.Stackless {
			stack = fmt.Sprintf("%d/%d", f.StackUsed, f.StackSize)
		}
		interval := "-"
		if f.Intervals != nil {
			interval = fmt.Sprintf("%.2f ± %.2f", f.Intervals.Mean, f.Intervals.StdDev)
		}
		table.Append([]string{
			f.Name,
			f.Kind,
			f.State,
			strconv.FormatUint(f.Switches, 10),
			strconv.Itoa(f.Iterations),
			strconv.FormatUint(f.Missed, 10),
			stack,
			interval,
			f.Error,
		})
	}

	return table.Render()
}
