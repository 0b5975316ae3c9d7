package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NavarchProject/tickfiber/pkg/clock"
	"github.com/NavarchProject/tickfiber/pkg/fiber"
	"github.com/NavarchProject/tickfiber/pkg/metrics"
)

const defaultTurnsPerTick = 8

// errHorizon stops the scheduler once the simulated duration is used up.
var errHorizon = errors.New("simulation horizon reached")

// Runner executes a scenario on a fake clock.
//
// Time only moves when the runner says so: after every TurnsPerTick turns,
// whenever no fiber is ready, during stall events and while a fiber is busy.
// A run with the same scenario and seed is therefore reproducible.
type Runner struct {
	scenario   *Scenario
	logger     *slog.Logger
	seed       int64
	registerer prometheus.Registerer
	stackWords int

	ctx     context.Context
	clock   *clock.Fake
	sched   *fiber.Scheduler
	metrics *metrics.PrometheusMetrics
	rng     *rand.Rand

	workloads []*workload
	events    []Event
	nextEvent int
	signals   map[string]bool
	elapsed   uint64 // ticks since the run started
	horizon   uint64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithSeed overrides the scenario seed.
func WithSeed(seed int64) RunnerOption {
	return func(r *Runner) {
		r.seed = seed
	}
}

// WithRegisterer registers the run's scheduler metrics with reg.
func WithRegisterer(reg prometheus.Registerer) RunnerOption {
	return func(r *Runner) {
		r.registerer = reg
	}
}

// WithStackWords sets the stack size for fibers that set none in the
// scenario.
func WithStackWords(words int) RunnerOption {
	return func(r *Runner) {
		r.stackWords = words
	}
}

// NewRunner creates a new scenario runner.
func NewRunner(scenario *Scenario, opts ...RunnerOption) *Runner {
	r := &Runner{
		scenario: scenario,
		logger:   slog.Default(),
		seed:     scenario.Seed,
	}
	for _, opt := range opts {
		opt(r)
	}
	if scenario.StackWords > 0 {
		r.stackWords = scenario.StackWords
	}
	if r.stackWords == 0 {
		r.stackWords = fiber.DefaultStackWords
	}
	if r.seed == 0 {
		r.seed = rand.Int63()
	}
	r.logger = r.logger.With(slog.String("component", "simulator"))
	return r
}

// Run executes the scenario and returns its result. A fiber that overflows
// its stack or panics ends the simulation early; that is reported in the
// result, not as an error. Run returns an error only when the scenario
// cannot be set up or ctx is done.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	sc := r.scenario
	res := &Result{
		RunID:     uuid.New().String(),
		Scenario:  sc.Name,
		Seed:      r.seed,
		StartedAt: time.Now(),
	}

	if err := r.setup(ctx); err != nil {
		return nil, err
	}
	defer r.sched.Close()

	r.logger.Info("starting scenario",
		slog.String("name", sc.Name),
		slog.String("run_id", res.RunID),
		slog.Int("fibers", len(sc.Fibers)),
		slog.Int("event_count", len(sc.Events)),
		slog.Int64("seed", r.seed),
	)

	if err := r.simulate(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		res.Error = err.Error()
		r.logger.Warn("simulation stopped by fiber failure", slog.String("error", res.Error))
	}

	res.WallTime = time.Since(res.StartedAt)
	res.Ticks = r.elapsed
	res.SimulatedTime = time.Duration(r.elapsed) * r.clock.Resolution()
	r.collect(res)

	evaluator, err := NewEvaluator(sc.Assertions)
	if err != nil {
		return nil, err
	}
	res.Assertions = evaluator.Evaluate(res.Vars())

	res.Passed = len(res.Failed()) == 0
	switch {
	case sc.ExpectError != "":
		res.Passed = res.Passed && strings.Contains(res.Error, sc.ExpectError)
	case res.Error != "":
		res.Passed = false
	}

	r.logger.Info("scenario completed",
		slog.String("name", sc.Name),
		slog.Bool("passed", res.Passed),
		slog.Uint64("ticks", res.Ticks),
		slog.Uint64("turns", res.Turns),
	)
	return res, nil
}

func (r *Runner) setup(ctx context.Context) error {
	sc := r.scenario
	r.ctx = ctx
	r.rng = rand.New(rand.NewSource(r.seed))
	r.signals = make(map[string]bool)
	r.elapsed = 0
	r.nextEvent = 0

	r.clock = clock.NewFakeWithResolution(sc.ResolutionOrDefault())
	r.clock.Set(clock.Timestamp(sc.StartTicks))
	r.horizon = uint64(clock.Ticks(r.clock, sc.Duration.Duration()))

	r.sched = fiber.NewScheduler(r.clock,
		fiber.WithLogger(r.logger),
		fiber.WithIdler(fiber.IdlerFunc(r.idle)),
	)
	r.metrics = metrics.NewPrometheusMetrics(r.sched, r.clock)
	if r.registerer != nil {
		if err := r.registerer.Register(r.metrics); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	r.events = make([]Event, len(sc.Events))
	copy(r.events, sc.Events)
	sort.SliceStable(r.events, func(i, j int) bool {
		return r.events[i].At < r.events[j].At
	})

	r.workloads = r.workloads[:0]
	for _, spec := range sc.Fibers {
		w, err := r.spawn(spec)
		if err != nil {
			return fmt.Errorf("failed to set up fiber: %w", err)
		}
		r.workloads = append(r.workloads, w)
	}
	return nil
}

// simulate runs the scheduler until the horizon, until every fiber is done
// or until a fiber fails.
func (r *Runner) simulate(ctx context.Context) error {
	turns := r.scenario.TurnsPerTick
	if turns == 0 {
		turns = defaultTurnsPerTick
	}

	r.fireEvents()
	for r.elapsed < r.horizon {
		// A busy fiber or a stall can move time mid-tick, so the horizon is
		// checked before every turn.
		for i := 0; i < turns && r.elapsed < r.horizon; i++ {
			err := r.sched.RunTurns(ctx, 1)
			switch {
			case errors.Is(err, errHorizon), errors.Is(err, fiber.ErrAllDone):
				return nil
			case err != nil:
				return err
			}
		}
		if r.elapsed < r.horizon {
			r.advance(1)
		}
	}
	return nil
}

// idle is the scheduler's idler: with nothing ready, time moves on by one
// tick.
func (r *Runner) idle(ctx context.Context, _ clock.Timestamp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.elapsed < r.horizon {
		r.advance(1)
	}
	if r.elapsed >= r.horizon {
		return errHorizon
	}
	return nil
}

// busy advances the clock by d on behalf of the running fiber, as if it had
// spent d computing.
func (r *Runner) busy(d time.Duration) {
	if n := clock.Ticks(r.clock, d); n > 0 {
		r.advance(uint64(n))
	}
}

// advance moves time forward by n ticks, never past the horizon.
func (r *Runner) advance(n uint64) {
	if left := r.horizon - r.elapsed; n > left {
		n = left
	}
	if n == 0 {
		return
	}
	r.clock.Advance(uint32(n))
	r.elapsed += n
	r.fireEvents()
}

func (r *Runner) fireEvents() {
	for r.nextEvent < len(r.events) {
		ev := r.events[r.nextEvent]
		if uint64(clock.Ticks(r.clock, ev.At.Duration())) > r.elapsed {
			return
		}
		r.nextEvent++
		r.execute(ev)
	}
}

func (r *Runner) execute(ev Event) {
	r.logger.Debug("executing event",
		slog.String("action", ev.Action),
		slog.String("target", ev.Target),
		slog.Duration("at", ev.At.Duration()),
	)
	switch ev.Action {
	case ActionStall:
		r.advance(uint64(clock.Ticks(r.clock, ev.Duration.Duration())))
	case ActionSignal:
		r.signals[ev.Target] = true
	case ActionClear:
		r.signals[ev.Target] = false
	case ActionLog:
		r.logger.Info(ev.Message, slog.Duration("at", ev.At.Duration()))
	}
}

func (r *Runner) collect(res *Result) {
	st := r.sched.Stats()
	res.Turns = st.Turns
	res.Idles = st.Idles
	res.Completions = st.Completions

	for i, w := range r.workloads {
		fs := st.Fibers[i]
		fr := FiberResult{
			Name:       w.spec.Name,
			Kind:       w.spec.Kind,
			State:      fs.State.String(),
			Switches:   fs.Switches,
			Stackless:  fs.Stackless,
			StackSize:  fs.StackSize,
			StackUsed:  fs.StackUsed,
			Iterations: w.iterations,
			Missed:     w.missed,
			Attempts:   w.attempts,
			TimedOut:   w.timedOut,
			Intervals:  intervalStats(w.firings, r.clock.Resolution()),
		}
		switch {
		case fs.Err != nil:
			fr.Error = fs.Err.Error()
		case w.err != nil:
			fr.Error = w.err.Error()
		}
		res.Fibers = append(res.Fibers, fr)
	}
}
