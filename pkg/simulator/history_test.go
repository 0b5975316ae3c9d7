package simulator

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestHistory_RecordListGet(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer h.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := testResult()
	older.RunID = "run-old"
	older.StartedAt = base
	older.SimulatedTime = time.Second
	older.Passed = true

	newer := testResult()
	newer.RunID = "run-new"
	newer.StartedAt = base.Add(time.Minute)
	newer.Error = `fiber "deep": stack overflow`

	for _, res := range []*Result{older, newer} {
		if err := h.Record(ctx, res); err != nil {
			t.Fatalf("Record(%s) error = %v", res.RunID, err)
		}
	}

	entries, err := h.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	if entries[0].RunID != "run-new" || entries[1].RunID != "run-old" {
		t.Errorf("List() order = %s, %s, want newest first", entries[0].RunID, entries[1].RunID)
	}
	if entries[0].Passed || entries[0].Error == "" {
		t.Errorf("entries[0] = %+v, want a failed run with its error", entries[0])
	}
	if !entries[1].Passed || entries[1].SimulatedTime != time.Second || entries[1].Turns != 42 {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if !entries[1].StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", entries[1].StartedAt, base)
	}

	limited, err := h.List(ctx, 1)
	if err != nil {
		t.Fatalf("List(1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-new" {
		t.Errorf("List(1) = %+v", limited)
	}

	got, err := h.Get(ctx, "run-old")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Fibers) != 2 || got.Fibers[0].Name != "led" {
		t.Errorf("Get() fibers = %+v", got.Fibers)
	}

	if _, err := h.Get(ctx, "missing"); err == nil {
		t.Error("Get(missing) = nil error")
	}
}

func TestHistory_DuplicateRunID(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer h.Close()

	res := testResult()
	res.RunID = "dup"
	if err := h.Record(ctx, res); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := h.Record(ctx, res); err == nil {
		t.Error("second Record() with the same run ID succeeded")
	}
}
