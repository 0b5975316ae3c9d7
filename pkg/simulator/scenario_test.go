package simulator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const blinkScenario = `
name: blink
description: Two LEDs at different rates
duration: 1s
resolution: 1ms
seed: 42
fibers:
  - name: fast
    kind: blink
    period: 100ms
  - name: slow
    kind: blink
    period: 250ms
    stack_words: 128
events:
  - at: 500ms
    action: log
    message: halfway
assertions:
  - name: fast blinks
    expr: fibers.fast.iterations == 10
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(blinkScenario))
	if err != nil {
		t.Fatalf("ParseScenario() error = %v", err)
	}

	if s.Name != "blink" {
		t.Errorf("Name = %q, want blink", s.Name)
	}
	if s.Duration.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", s.Duration.Duration())
	}
	if s.Seed != 42 {
		t.Errorf("Seed = %d, want 42", s.Seed)
	}
	if len(s.Fibers) != 2 {
		t.Fatalf("Fibers = %d, want 2", len(s.Fibers))
	}
	if got := s.Fibers[1]; got.Kind != KindBlink || got.Period.Duration() != 250*time.Millisecond || got.StackWords != 128 {
		t.Errorf("Fibers[1] = %+v", got)
	}
	if len(s.Events) != 1 || s.Events[0].At.Duration() != 500*time.Millisecond {
		t.Errorf("Events = %+v", s.Events)
	}
	if len(s.Assertions) != 1 || s.Assertions[0].Name != "fast blinks" {
		t.Errorf("Assertions = %+v", s.Assertions)
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blink.yaml")
	if err := os.WriteFile(path, []byte(blinkScenario), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error = %v", err)
	}
	if s.Name != "blink" {
		t.Errorf("Name = %q, want blink", s.Name)
	}

	if _, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestScenario_ResolutionOrDefault(t *testing.T) {
	s := &Scenario{}
	if got := s.ResolutionOrDefault(); got != time.Millisecond {
		t.Errorf("ResolutionOrDefault() = %v, want 1ms", got)
	}
	s.Resolution = Duration(100 * time.Microsecond)
	if got := s.ResolutionOrDefault(); got != 100*time.Microsecond {
		t.Errorf("ResolutionOrDefault() = %v, want 100µs", got)
	}
}

func TestScenario_Validate(t *testing.T) {
	valid := func() *Scenario {
		return &Scenario{
			Name:     "valid",
			Duration: Duration(time.Second),
			Fibers: []FiberSpec{
				{Name: "a", Kind: KindCounter},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantErr string
	}{
		{"valid", func(s *Scenario) {}, ""},
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"zero duration", func(s *Scenario) { s.Duration = 0 }, "duration must be positive"},
		{"tiny resolution", func(s *Scenario) { s.Resolution = Duration(time.Nanosecond) }, "resolution"},
		{"no fibers", func(s *Scenario) { s.Fibers = nil }, "at least one fiber"},
		{"unnamed fiber", func(s *Scenario) { s.Fibers[0].Name = "" }, "name is required"},
		{"duplicate fiber", func(s *Scenario) {
			s.Fibers = append(s.Fibers, FiberSpec{Name: "a", Kind: KindCounter})
		}, "duplicate fiber name"},
		{"unknown kind", func(s *Scenario) { s.Fibers[0].Kind = "spin" }, "unknown kind"},
		{"blink without period", func(s *Scenario) { s.Fibers[0].Kind = KindBlink }, "positive period"},
		{"program without period", func(s *Scenario) { s.Fibers[0].Kind = KindProgram }, "positive period"},
		{"timeout without timeout", func(s *Scenario) { s.Fibers[0].Kind = KindTimeout }, "positive timeout"},
		{"waiter without signal", func(s *Scenario) { s.Fibers[0].Kind = KindWaiter }, "requires a signal"},
		{"negative count", func(s *Scenario) { s.Fibers[0].Count = -1 }, "count"},
		{"permanent retry", func(s *Scenario) {
			s.Fibers[0].Kind = KindRetry
			s.Fibers[0].Failures = PermanentFailure
		}, ""},
		{"retry failures below -1", func(s *Scenario) {
			s.Fibers[0].Kind = KindRetry
			s.Fibers[0].Failures = -2
		}, "failures must be >= -1"},
		{"unknown action", func(s *Scenario) {
			s.Events = []Event{{Action: "explode"}}
		}, "unknown action"},
		{"stall without duration", func(s *Scenario) {
			s.Events = []Event{{Action: ActionStall}}
		}, "positive duration"},
		{"signal without target", func(s *Scenario) {
			s.Events = []Event{{Action: ActionSignal}}
		}, "target signal"},
		{"empty assertion", func(s *Scenario) {
			s.Assertions = []Assertion{{Name: "empty"}}
		}, "expr is required"},
		{"bad assertion", func(s *Scenario) {
			s.Assertions = []Assertion{{Expr: "fibers.a.iterations =="}}
		}, "compile assertion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{`duration: 5ms`, 5 * time.Millisecond, false},
		{`duration: 250us`, 250 * time.Microsecond, false},
		{`duration: 1m30s`, 90 * time.Second, false},
		{`duration: soon`, 0, true},
	}

	for _, tt := range tests {
		var obj struct {
			Duration Duration `yaml:"duration"`
		}
		err := yaml.Unmarshal([]byte(tt.input), &obj)
		if tt.wantErr {
			if err == nil {
				t.Errorf("input %q: expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("failed to parse %q: %v", tt.input, err)
			continue
		}
		if obj.Duration.Duration() != tt.expected {
			t.Errorf("input %q: expected %v, got %v", tt.input, tt.expected, obj.Duration.Duration())
		}
	}
}

func TestExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "scenarios", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Skip("no example scenarios found")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			if _, err := LoadScenario(path); err != nil {
				t.Errorf("LoadScenario(%s) error = %v", path, err)
			}
		})
	}
}
