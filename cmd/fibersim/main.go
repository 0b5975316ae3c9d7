package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NavarchProject/tickfiber/pkg/config"
	"github.com/NavarchProject/tickfiber/pkg/simulator"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	verbose    bool
	debug      bool
	configPath string

	seed        int64
	outDir      string
	historyPath string
	noHistory   bool
)

var rootCmd = &cobra.Command{
	Use:   "fibersim",
	Short: "Cooperative fiber scheduler simulator",
	Long: `fibersim runs fiber workloads on a simulated tick clock.

Scenarios describe fibers (blinking LEDs, periodic timers, timeouts, retries,
protothreads, deep stacks), events that happen at points in simulated time
and CEL assertions checked against the outcome. Time only moves when the
simulator moves it, so a scenario run with the same seed always produces the
same result.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a simulation scenario",
	Long: `Run a simulation scenario from a YAML file.

Reports and a debug log are written to a timestamped directory under --out
and the result is recorded in the run history.

Examples:
  # Run a scenario
  fibersim run scenarios/blink.yaml

  # Run with a fixed seed and verbose output
  fibersim run scenarios/signals.yaml --seed 12345 -v`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>",
	Short: "Validate a scenario file without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validateScenario,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for reproducible runs (0 = scenario seed or random)")
	runCmd.Flags().StringVar(&outDir, "out", "./sim-runs", "Directory for run artifacts")
	runCmd.Flags().StringVar(&historyPath, "history", "", "Run history database (default from config)")
	runCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in the history")

	historyCmd.Flags().StringVar(&historyPath, "history", "", "Run history database (default from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// consoleLevel picks the console log level. Flags win over the config file;
// without either only warnings are shown.
func consoleLevel(cfg *config.Config) slog.Level {
	switch {
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	case configPath != "":
		return cfg.SlogLevel()
	default:
		return slog.LevelWarn
	}
}

func consoleHandler(cfg *config.Config) slog.Handler {
	level := consoleLevel(cfg)
	if cfg.Log.Format == "json" {
		return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return NewConsoleHandler(os.Stdout, level)
}

func setupLogger(cfg *config.Config) *slog.Logger {
	return slog.New(consoleHandler(cfg))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received interrupt, shutting down...", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scenario, err := simulator.LoadScenario(args[0])
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}

	effectiveSeed := seed
	if effectiveSeed == 0 {
		effectiveSeed = scenario.Seed
	}
	if effectiveSeed == 0 {
		effectiveSeed = rand.Int63()
	}

	runDir, err := simulator.NewRunDir(outDir, scenario)
	if err != nil {
		return err
	}
	defer runDir.Close()

	fileLogger, err := runDir.CreateLogger()
	if err != nil {
		return err
	}
	logger := slog.New(newTeeHandler(consoleHandler(cfg), fileLogger.Handler()))

	console := simulator.NewConsole()
	console.PrintHeader(scenario, effectiveSeed)

	ctx, cancel := signalContext(logger)
	defer cancel()

	runner := simulator.NewRunner(scenario,
		simulator.WithLogger(logger),
		simulator.WithSeed(effectiveSeed),
		simulator.WithStackWords(cfg.Scheduler.StackWords),
	)
	res, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("scenario failed: %w", err)
	}

	console.PrintResults(res)

	files, err := runDir.WriteReports(res)
	if err != nil {
		console.PrintError(fmt.Sprintf("failed to write reports: %v", err))
	}
	console.PrintReports(append(files, runDir.LogPath()))

	if !noHistory && !cfg.History.Disabled {
		if err := recordHistory(ctx, cfg, res); err != nil {
			logger.Warn("failed to record run history", slog.String("error", err.Error()))
		}
	}

	if !res.Passed {
		console.PrintError(fmt.Sprintf("scenario %s failed", scenario.Name))
		return fmt.Errorf("scenario %s failed: %d assertion(s) failed", scenario.Name, len(res.Failed()))
	}
	console.PrintSuccess(fmt.Sprintf("scenario %s passed", scenario.Name))
	return nil
}

func historyFile(cfg *config.Config) string {
	if historyPath != "" {
		return historyPath
	}
	return cfg.History.Path
}

func recordHistory(ctx context.Context, cfg *config.Config, res *simulator.Result) error {
	h, err := simulator.OpenHistory(historyFile(cfg))
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Record(ctx, res)
}

func validateScenario(cmd *cobra.Command, args []string) error {
	scenario, err := simulator.LoadScenario(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Scenario: %s\n", scenario.Name)
	if scenario.Description != "" {
		fmt.Printf("Description: %s\n", scenario.Description)
	}
	fmt.Printf("Duration: %s at %s resolution\n", scenario.Duration.Duration(), scenario.ResolutionOrDefault())
	if scenario.StartTicks != 0 {
		fmt.Printf("Start ticks: %d\n", scenario.StartTicks)
	}
	if scenario.ExpectError != "" {
		fmt.Printf("Expected error: %s\n", scenario.ExpectError)
	}
	fmt.Println()

	fmt.Printf("Fibers: %d\n", len(scenario.Fibers))
	for _, f := range scenario.Fibers {
		fmt.Printf("  - %s (%s", f.Name, f.Kind)
		if f.Period > 0 {
			fmt.Printf(", period %s", f.Period.Duration())
		}
		if f.Timeout > 0 {
			fmt.Printf(", timeout %s", f.Timeout.Duration())
		}
		if f.Count > 0 {
			fmt.Printf(", count %d", f.Count)
		}
		fmt.Println(")")
	}
	fmt.Println()

	fmt.Printf("Events: %d\n", len(scenario.Events))
	for _, event := range scenario.Events {
		fmt.Printf("  - %s: %s", event.At.Duration(), event.Action)
		if event.Target != "" {
			fmt.Printf(" -> %s", event.Target)
		}
		if event.Duration > 0 {
			fmt.Printf(" for %s", event.Duration.Duration())
		}
		fmt.Println()
	}
	fmt.Println()

	if len(scenario.Assertions) > 0 {
		fmt.Printf("Assertions: %d\n", len(scenario.Assertions))
		for _, a := range scenario.Assertions {
			if a.Name != "" && a.Name != a.Expr {
				fmt.Printf("  - %s: %s\n", a.Name, a.Expr)
			} else {
				fmt.Printf("  - %s\n", a.Expr)
			}
		}
		fmt.Println()
	}

	fmt.Println("Scenario is valid.")
	return nil
}
