package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/tickfiber/pkg/simulator"
)

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded simulation runs",
	Long: `List recorded simulation runs, newest first.

With --run, print the per-fiber table of one run.`,
	Args: cobra.NoArgs,
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to list (0 = all)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show the results of one run")
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	h, err := simulator.OpenHistory(historyFile(cfg))
	if err != nil {
		return err
	}
	defer h.Close()

	if historyRun != "" {
		res, err := h.Get(cmd.Context(), historyRun)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s: %s (seed %d), %s simulated\n\n", res.RunID, res.Scenario, res.Seed, res.SimulatedTime)
		return simulator.WriteTable(os.Stdout, res)
	}

	entries, err := h.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	return writeHistoryTable(os.Stdout, entries)
}

func writeHistoryTable(w io.Writer, entries []simulator.HistoryEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run ID", "Scenario", "Started", "Seed", "Simulated", "Turns", "Result")
	for _, e := range entries {
		result := "PASS"
		if !e.Passed {
			result = "FAIL"
			if e.Error != "" {
				result += ": " + e.Error
			}
		}
		if err := table.Append([]string{
			e.RunID,
			e.Scenario,
			e.StartedAt.Local().Format(time.DateTime),
			strconv.FormatInt(e.Seed, 10),
			e.SimulatedTime.String(),
			strconv.FormatUint(e.Turns, 10),
			result,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
