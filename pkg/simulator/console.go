package simulator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
)

// Console provides styled console output for simulation runs.
type Console struct{}

// NewConsole creates a new console output handler.
func NewConsole() *Console {
	return &Console{}
}

// PrintHeader prints the scenario header.
func (c *Console) PrintHeader(s *Scenario, seed int64) {
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)).
		Println("SCENARIO: " + s.Name)

	fmt.Println()

	configPanel := pterm.DefaultBox.WithTitle("Configuration").WithTitleTopCenter()
	configContent := fmt.Sprintf(
		"Duration: %s\nResolution: %s\nFibers: %d\nEvents: %d\nSeed: %d",
		s.Duration.Duration(), s.ResolutionOrDefault(), len(s.Fibers), len(s.Events), seed,
	)
	if s.StartTicks != 0 {
		configContent += fmt.Sprintf("\nStart Ticks: %d", s.StartTicks)
	}
	if s.Description != "" {
		configContent += "\n\n" + s.Description
	}
	configPanel.Println(configContent)
	fmt.Println()
}

// PrintResults prints the run summary, the per-fiber table and the
// assertion outcomes.
func (c *Console) PrintResults(res *Result) {
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightGreen, pterm.Bold)).
		Println("RESULTS")

	fmt.Println()

	pterm.Info.Printfln("Run %s: %s simulated in %s", res.RunID, res.SimulatedTime, res.WallTime.Round(time.Millisecond))
	fmt.Println()

	summary := pterm.TableData{
		{"Metric", "Value"},
		{"Ticks", strconv.FormatUint(res.Ticks, 10)},
		{"Turns", strconv.FormatUint(res.Turns, 10)},
		{"Idle Steps", strconv.FormatUint(res.Idles, 10)},
		{"Completed Fibers", strconv.FormatUint(res.Completions, 10)},
	}
	pterm.DefaultSection.Println("Scheduler")
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(summary).Render()
	fmt.Println()

	fiberData := pterm.TableData{{"Fiber", "Kind", "State", "Switches", "Iterations", "Missed", "Stack", "Interval (ms)"}}
	for _, f := range res.Fibers {
		state := f.State
		if f.Error != "" {
			state = pterm.Red(state)
		}
		stack := "-"
		if !f.Stackless {
			stack = fmt.Sprintf("%d/%d", f.StackUsed, f.StackSize)
		}
		interval := "-"
		if f.Intervals != nil {
			interval = fmt.Sprintf("%.2f ± %.2f (max %.2f)", f.Intervals.Mean, f.Intervals.StdDev, f.Intervals.Max)
		}
		fiberData = append(fiberData, []string{
			f.Name,
			f.Kind,
			state,
			strconv.FormatUint(f.Switches, 10),
			strconv.Itoa(f.Iterations),
			strconv.FormatUint(f.Missed, 10),
			stack,
			interval,
		})
	}
	pterm.DefaultSection.Println("Fibers")
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(fiberData).Render()
	fmt.Println()

	if res.Error != "" {
		pterm.Warning.Println(res.Error)
		fmt.Println()
	}

	if len(res.Assertions) > 0 {
		assertData := pterm.TableData{{"Assertion", "Result"}}
		for _, a := range res.Assertions {
			outcome := pterm.Green("PASS")
			if !a.Passed {
				outcome = pterm.Red("FAIL")
				if a.Error != "" {
					outcome += " " + a.Error
				}
			}
			assertData = append(assertData, []string{a.Name, outcome})
		}
		pterm.DefaultSection.Println("Assertions")
		pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(assertData).Render()
		fmt.Println()
	}
}

// PrintReports prints the generated report file paths.
func (c *Console) PrintReports(files []string) {
	if len(files) == 0 {
		return
	}

	pterm.DefaultSection.Println("Reports Generated")
	for _, f := range files {
		pterm.Success.Println(f)
	}
}

// PrintSuccess prints a success message.
func (c *Console) PrintSuccess(msg string) {
	fmt.Println()
	pterm.Success.Println(msg)
}

// PrintError prints an error message.
func (c *Console) PrintError(msg string) {
	pterm.Error.Println(msg)
}
