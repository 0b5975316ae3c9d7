package simulator

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIntervalStats(t *testing.T) {
	if got := intervalStats(nil, time.Millisecond); got != nil {
		t.Errorf("intervalStats(nil) = %+v, want nil", got)
	}
	if got := intervalStats([]uint64{5}, time.Millisecond); got != nil {
		t.Errorf("intervalStats(one firing) = %+v, want nil", got)
	}

	one := intervalStats([]uint64{0, 10}, time.Millisecond)
	if one == nil || one.Samples != 1 || one.Mean != 10 || one.StdDev != 0 {
		t.Errorf("intervalStats(two firings) = %+v, want one 10ms sample", one)
	}

	// Intervals 10, 10, 10, 30 ticks of 500µs.
	s := intervalStats([]uint64{0, 10, 20, 30, 60}, 500*time.Microsecond)
	if s == nil {
		t.Fatal("intervalStats() = nil")
	}
	if s.Samples != 4 {
		t.Errorf("Samples = %d, want 4", s.Samples)
	}
	if s.Mean != 7.5 {
		t.Errorf("Mean = %v, want 7.5", s.Mean)
	}
	if s.Min != 5 || s.Max != 15 {
		t.Errorf("Min, Max = %v, %v, want 5, 15", s.Min, s.Max)
	}
	if s.P50 != 5 || s.P95 != 15 {
		t.Errorf("P50, P95 = %v, %v, want 5, 15", s.P50, s.P95)
	}
	if want := 5.0; math.Abs(s.StdDev-want) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", s.StdDev, want)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, testResult()); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"led", "blink", "16/512", "100.00", "pt", "program"} {
		if !strings.Contains(out, want) {
			t.Errorf("table does not contain %q:\n%s", want, out)
		}
	}
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	res := testResult()
	res.Assertions = []AssertionResult{{Name: "a", Expr: "true", Passed: true}}

	if err := WriteJSON(res, path); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	back, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if back.Ticks != res.Ticks || len(back.Fibers) != 2 || back.Fibers[0].Intervals == nil {
		t.Errorf("ReadJSON() = %+v", back)
	}
	if len(back.Assertions) != 1 || !back.Assertions[0].Passed {
		t.Errorf("Assertions = %+v", back.Assertions)
	}
}

func TestResult_Failed(t *testing.T) {
	res := &Result{Assertions: []AssertionResult{
		{Name: "a", Passed: true},
		{Name: "b"},
		{Name: "c", Error: "boom"},
	}}
	failed := res.Failed()
	if len(failed) != 2 || failed[0].Name != "b" || failed[1].Name != "c" {
		t.Errorf("Failed() = %+v", failed)
	}
}
