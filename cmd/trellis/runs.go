package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/ui"
)

var runsCmd = &cobra.Command{
	Use:   "runs <plan-id>",
	Short: "Show run history for a plan",
	Args:  exactArgs(1, "a plan id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		runs, err := store.ListRuns(rootCtx, tenantName(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(runs)
			return nil
		}
		t := ui.NewTable("RUN", "MODEL", "STATUS", "STARTED", "COST", "ERROR")
		for _, run := range runs {
			started := ""
			if !run.StartedAt.IsZero() {
				started = run.StartedAt.Format(time.RFC3339)
			}
			t.Row(shortHash(run.RunID), run.ModelName, ui.RenderStatus(string(run.Status)),
				started, fmt.Sprintf("$%.2f", run.CostUSD), run.ErrorMessage)
		}
		fmt.Println(t.Render())
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-model runtime and cost averages",
	Args:  exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		stats, err := store.ListRunStats(rootCtx, tenantName())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(stats)
			return nil
		}
		if len(stats) == 0 {
			fmt.Println("No telemetry recorded yet.")
			return nil
		}
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)
		t := ui.NewTable("MODEL", "AVG RUNTIME", "AVG COST", "SAMPLES")
		for _, name := range names {
			s := stats[name]
			t.Row(s.ModelName, fmt.Sprintf("%.1fs", s.AvgRuntimeSeconds),
				fmt.Sprintf("$%.2f", s.AvgCostUSD), fmt.Sprintf("%d", s.SampleCount))
		}
		fmt.Println(t.Render())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statsCmd)
}
