package simulator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Workload kinds understood by the runner.
const (
	KindBlink    = "blink"    // toggles every period using Sleep
	KindPeriodic = "periodic" // waits on a PeriodicTimer, optionally busy after each firing
	KindCounter  = "counter"  // increments and yields
	KindTimeout  = "timeout"  // re-arms a Timeout and waits for it
	KindWaiter   = "waiter"   // waits for a signal, with an optional timeout
	KindRetry    = "retry"    // retries a failing operation with cooperative backoff
	KindProgram  = "program"  // stackless protothread driven by a Timeout
	KindStack    = "stack"    // reserves a frame per level until count or overflow
)

// PermanentFailure as a retry fiber's failures makes every attempt fail
// with an error that is not worth retrying.
const PermanentFailure = -1

// Event actions.
const (
	ActionStall  = "stall"  // advance the clock without running fibers
	ActionSignal = "signal" // raise a named signal
	ActionClear  = "clear"  // drop a named signal
	ActionLog    = "log"
)

var validKinds = map[string]bool{
	KindBlink:    true,
	KindPeriodic: true,
	KindCounter:  true,
	KindTimeout:  true,
	KindWaiter:   true,
	KindRetry:    true,
	KindProgram:  true,
	KindStack:    true,
}

var validActions = map[string]bool{
	ActionStall:  true,
	ActionSignal: true,
	ActionClear:  true,
	ActionLog:    true,
}

// Scenario describes a set of fiber workloads run on a simulated clock.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Seed drives backoff jitter. 0 picks a random seed.
	Seed int64 `yaml:"seed,omitempty"`

	// Duration is the amount of simulated time to run for.
	Duration Duration `yaml:"duration"`

	// Resolution is the tick period of the simulated clock. Default: 1ms.
	Resolution Duration `yaml:"resolution,omitempty"`

	// StartTicks places the clock counter before the run, e.g. just below
	// the 32-bit wrap.
	StartTicks uint32 `yaml:"start_ticks,omitempty"`

	// TurnsPerTick is how many scheduling turns fit in one tick. Default: 8.
	TurnsPerTick int `yaml:"turns_per_tick,omitempty"`

	// StackWords is the stack size for fibers that do not set one.
	StackWords int `yaml:"stack_words,omitempty"`

	// ExpectError makes a fatal fiber error part of a passing run when the
	// error text contains it.
	ExpectError string `yaml:"expect_error,omitempty"`

	Fibers     []FiberSpec `yaml:"fibers"`
	Events     []Event     `yaml:"events,omitempty"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// FiberSpec defines one simulated fiber.
type FiberSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Period  Duration `yaml:"period,omitempty"`  // blink, periodic, program; initial backoff for retry
	Timeout Duration `yaml:"timeout,omitempty"` // timeout, waiter
	Work    Duration `yaml:"work,omitempty"`    // simulated busy time per firing

	// Count bounds the iterations. 0 runs until the scenario ends.
	Count int `yaml:"count,omitempty"`

	Short      bool   `yaml:"short,omitempty"`    // use 16-bit timers
	Signal     string `yaml:"signal,omitempty"`   // waiter
	Failures   int    `yaml:"failures,omitempty"` // retry: attempts that fail before success, or PermanentFailure
	Attempts   int    `yaml:"attempts,omitempty"` // retry: maximum attempts, default 4
	Frame      int    `yaml:"frame,omitempty"`    // words reserved per level, default 16
	StackWords int    `yaml:"stack_words,omitempty"`
}

// Event is something that happens at a point in simulated time.
type Event struct {
	At       Duration `yaml:"at"`
	Action   string   `yaml:"action"`
	Target   string   `yaml:"target,omitempty"`
	Duration Duration `yaml:"duration,omitempty"`
	Message  string   `yaml:"message,omitempty"`
}

// Assertion is a CEL expression checked against the run result.
type Assertion struct {
	Name string `yaml:"name,omitempty"`
	Expr string `yaml:"expr"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Validate checks that the scenario is well-formed, including that every
// assertion compiles.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if s.Resolution < 0 || (s.Resolution > 0 && s.Resolution.Duration() < time.Microsecond) {
		return fmt.Errorf("resolution must be at least 1µs")
	}
	if s.TurnsPerTick < 0 {
		return fmt.Errorf("turns_per_tick must be >= 0")
	}
	if s.StackWords < 0 {
		return fmt.Errorf("stack_words must be >= 0")
	}
	if len(s.Fibers) == 0 {
		return fmt.Errorf("at least one fiber is required")
	}

	names := make(map[string]bool)
	for i, f := range s.Fibers {
		if f.Name == "" {
			return fmt.Errorf("fiber %d: name is required", i)
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate fiber name: %s", f.Name)
		}
		names[f.Name] = true
		if err := f.Validate(); err != nil {
			return fmt.Errorf("fiber %s: %w", f.Name, err)
		}
	}

	for i, event := range s.Events {
		if !validActions[event.Action] {
			return fmt.Errorf("event %d: unknown action %q", i, event.Action)
		}
		if event.At < 0 {
			return fmt.Errorf("event %d: at must be >= 0", i)
		}
		switch event.Action {
		case ActionStall:
			if event.Duration <= 0 {
				return fmt.Errorf("event %d: stall requires a positive duration", i)
			}
		case ActionSignal, ActionClear:
			if event.Target == "" {
				return fmt.Errorf("event %d: %s requires a target signal", i, event.Action)
			}
		}
	}

	if _, err := NewEvaluator(s.Assertions); err != nil {
		return err
	}
	return nil
}

// Validate checks the kind-specific fields of a fiber.
func (f *FiberSpec) Validate() error {
	if !validKinds[f.Kind] {
		return fmt.Errorf("unknown kind %q", f.Kind)
	}
	if f.Count < 0 {
		return fmt.Errorf("count must be >= 0")
	}
	if f.Period < 0 || f.Timeout < 0 || f.Work < 0 {
		return fmt.Errorf("durations must be >= 0")
	}
	if f.StackWords < 0 || f.Frame < 0 {
		return fmt.Errorf("stack sizes must be >= 0")
	}

	switch f.Kind {
	case KindBlink, KindProgram:
		if f.Period <= 0 {
			return fmt.Errorf("%s requires a positive period", f.Kind)
		}
	case KindTimeout:
		if f.Timeout <= 0 {
			return fmt.Errorf("timeout requires a positive timeout")
		}
	case KindWaiter:
		if f.Signal == "" {
			return fmt.Errorf("waiter requires a signal")
		}
	case KindRetry:
		if f.Failures < PermanentFailure || f.Attempts < 0 {
			return fmt.Errorf("failures must be >= -1 and attempts >= 0")
		}
	}
	return nil
}

// ResolutionOrDefault returns the clock resolution of the scenario.
func (s *Scenario) ResolutionOrDefault() time.Duration {
	if s.Resolution == 0 {
		return time.Millisecond
	}
	return s.Resolution.Duration()
}
