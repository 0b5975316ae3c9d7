package simulator

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestRunDir_Create(t *testing.T) {
	tmpDir := t.TempDir()
	rd, err := NewRunDir(tmpDir, nil)
	if err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}
	defer rd.Close()

	if rd.Dir() == "" {
		t.Error("expected non-empty dir")
	}

	if _, err := os.Stat(rd.Dir()); os.IsNotExist(err) {
		t.Error("run directory should exist")
	}
	if _, err := os.Stat(rd.ScenarioPath()); !os.IsNotExist(err) {
		t.Error("scenario copy should not exist without a scenario")
	}
}

func TestRunDir_Logger(t *testing.T) {
	tmpDir := t.TempDir()
	rd, err := NewRunDir(tmpDir, nil)
	if err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}
	defer rd.Close()

	logger, err := rd.CreateLogger()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Debug("test message")
	if err := rd.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(rd.LogPath())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "test message") {
		t.Errorf("log file should contain 'test message', got: %s", string(content))
	}
}

func TestRunDir_Paths(t *testing.T) {
	tmpDir := t.TempDir()
	rd, err := NewRunDir(tmpDir, nil)
	if err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}
	defer rd.Close()

	if !strings.HasPrefix(rd.Dir(), tmpDir) {
		t.Errorf("expected dir to start with %s, got %s", tmpDir, rd.Dir())
	}

	if !strings.HasSuffix(rd.ReportPath(), "report.json") {
		t.Errorf("expected report path to end with report.json, got %s", rd.ReportPath())
	}

	if !strings.HasSuffix(rd.TablePath(), "report.txt") {
		t.Errorf("expected table path to end with report.txt, got %s", rd.TablePath())
	}

	if !strings.HasSuffix(rd.ScenarioPath(), "scenario.yaml") {
		t.Errorf("expected scenario path to end with scenario.yaml, got %s", rd.ScenarioPath())
	}
}

func TestRunDir_SavesScenario(t *testing.T) {
	tmpDir := t.TempDir()
	scenario := &Scenario{
		Name:     "test-scenario",
		Duration: Duration(time.Second),
		Fibers: []FiberSpec{
			{Name: "led", Kind: KindBlink, Period: Duration(100 * time.Millisecond)},
		},
		Assertions: []Assertion{{Expr: "fibers.led.iterations == 10"}},
	}

	rd, err := NewRunDir(tmpDir, scenario)
	if err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}
	defer rd.Close()

	saved, err := LoadScenario(rd.ScenarioPath())
	if err != nil {
		t.Fatalf("saved scenario does not load: %v", err)
	}
	if saved.Name != "test-scenario" {
		t.Errorf("Name = %q, want test-scenario", saved.Name)
	}
	if saved.Duration.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", saved.Duration.Duration())
	}
	if len(saved.Fibers) != 1 || saved.Fibers[0].Period.Duration() != 100*time.Millisecond {
		t.Errorf("Fibers = %+v", saved.Fibers)
	}
}

func TestRunDir_WriteReports(t *testing.T) {
	tmpDir := t.TempDir()
	rd, err := NewRunDir(tmpDir, nil)
	if err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}
	defer rd.Close()

	res := &Result{
		RunID:    "run-1",
		Scenario: "report",
		Fibers: []FiberResult{
			{Name: "led", Kind: KindBlink, State: "blocked", Switches: 10, Iterations: 10, StackSize: 512, StackUsed: 16},
			{Name: "pt", Kind: KindProgram, State: "done", Stackless: true, Iterations: 3},
		},
		Passed: true,
	}

	files, err := rd.WriteReports(res)
	if err != nil {
		t.Fatalf("WriteReports() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("WriteReports() returned %d files, want 2", len(files))
	}

	back, err := ReadJSON(rd.ReportPath())
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if back.RunID != "run-1" || len(back.Fibers) != 2 || !back.Passed {
		t.Errorf("ReadJSON() = %+v", back)
	}

	table, err := os.ReadFile(rd.TablePath())
	if err != nil {
		t.Fatalf("failed to read table: %v", err)
	}
	for _, want := range []string{"led", "16/512", "pt"} {
		if !strings.Contains(string(table), want) {
			t.Errorf("table does not contain %q:\n%s", want, table)
		}
	}
}
