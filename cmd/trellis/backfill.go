package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/backfill"
	"github.com/fathomdata/trellis/internal/locks"
	"github.com/fathomdata/trellis/internal/types"
	"github.com/fathomdata/trellis/internal/ui"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <model>",
	Short: "Recompute a model over a historical date range",
	Long: `Run a model over an explicit inclusive date range. With --chunk-days
the range is split into day-aligned chunks behind a persistent
checkpoint, so a failed backfill resumes where it stopped instead of
starting over. Dates accept YYYY-MM-DD or natural language.`,
	Args: exactArgs(1, "a model name"),
	RunE: func(cmd *cobra.Command, args []string) error {
		startRaw, _ := cmd.Flags().GetString("start")
		endRaw, _ := cmd.Flags().GetString("end")
		chunkDays, _ := cmd.Flags().GetInt("chunk-days")

		if startRaw == "" || endRaw == "" {
			return usagef("--start and --end are required")
		}
		start, err := parseDate(startRaw)
		if err != nil {
			return err
		}
		end, err := parseDate(endRaw)
		if err != nil {
			return err
		}

		runner, closeAll, err := buildBackfillRunner()
		if err != nil {
			return err
		}
		defer closeAll()

		if chunkDays <= 0 {
			run, err := runner.Run(rootCtx, args[0], start, end, actorName())
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(run)
				return nil
			}
			fmt.Printf("Backfill run %s: %s\n", shortHash(run.RunID), ui.RenderStatus(string(run.Status)))
			if run.Status != types.RunSuccess {
				return fmt.Errorf("backfill run finished %s: %s", run.Status, run.ErrorMessage)
			}
			return nil
		}

		cp, err := runner.RunChunked(rootCtx, args[0], start, end, chunkDays, actorName())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(cp)
		} else {
			printCheckpoint(cp)
		}
		if cp.Status == types.BackfillFailed {
			return fmt.Errorf("backfill %s failed: %s (resume with 'trellis backfill resume %s')",
				shortHash(cp.BackfillID), cp.ErrorMessage, cp.BackfillID)
		}
		return nil
	},
}

var backfillResumeCmd = &cobra.Command{
	Use:   "resume <backfill-id>",
	Short: "Resume a failed chunked backfill from its checkpoint",
	Args:  exactArgs(1, "a backfill id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, closeAll, err := buildBackfillRunner()
		if err != nil {
			return err
		}
		defer closeAll()

		cp, err := runner.Resume(rootCtx, args[0], actorName())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(cp)
		} else {
			printCheckpoint(cp)
		}
		if cp.Status == types.BackfillFailed {
			return fmt.Errorf("backfill still failing: %s", cp.ErrorMessage)
		}
		return nil
	},
}

var backfillStatusCmd = &cobra.Command{
	Use:   "status <backfill-id>",
	Short: "Show a backfill checkpoint and its chunk history",
	Args:  exactArgs(1, "a backfill id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		cp, err := store.GetCheckpoint(rootCtx, tenantName(), args[0])
		if err != nil {
			return err
		}
		history, err := store.ListBackfillAudit(rootCtx, tenantName(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]any{"checkpoint": cp, "history": history})
			return nil
		}
		printCheckpoint(cp)
		if len(history) > 0 {
			t := ui.NewTable("CHUNK", "STATUS", "RUN", "DURATION", "ERROR")
			for _, h := range history {
				t.Row(fmt.Sprintf("%s..%s", h.ChunkStart.Format(types.DateFormat), h.ChunkEnd.Format(types.DateFormat)),
					ui.RenderStatus(string(h.Status)), shortHash(h.RunID),
					fmt.Sprintf("%.1fs", h.DurationSeconds), h.ErrorMessage)
			}
			fmt.Println(t.Render())
		}
		return nil
	},
}

func printCheckpoint(cp *types.BackfillCheckpoint) {
	fmt.Printf("Backfill %s on %s: %s\n", ui.RenderAccent(shortHash(cp.BackfillID)),
		cp.ModelName, ui.RenderStatus(string(cp.Status)))
	fmt.Printf("  range:    %s..%s (%d-day chunks)\n",
		cp.OverallStart.Format(types.DateFormat), cp.OverallEnd.Format(types.DateFormat), cp.ChunkSizeDays)
	fmt.Printf("  progress: %d/%d chunks", cp.CompletedChunks, cp.TotalChunks)
	if !cp.CompletedThrough.IsZero() {
		fmt.Printf(", complete through %s", cp.CompletedThrough.Format(types.DateFormat))
	}
	fmt.Println()
	if cp.ErrorMessage != "" {
		fmt.Printf("  error:    %s\n", ui.RenderFail(cp.ErrorMessage))
	}
}

func buildBackfillRunner() (*backfill.Runner, func(), error) {
	store, err := openStore(rootCtx)
	if err != nil {
		return nil, nil, err
	}
	exec, _, closeExec, err := buildExecutor()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	audit := auditlog.New(store)
	runner := backfill.NewRunner(store, exec, locks.NewManager(store, audit), audit, tenantName())
	closeAll := func() {
		_ = closeExec()
		_ = store.Close()
	}
	return runner, closeAll, nil
}

func init() {
	backfillCmd.Flags().String("start", "", "Range start (inclusive)")
	backfillCmd.Flags().String("end", "", "Range end (inclusive)")
	backfillCmd.Flags().Int("chunk-days", 0, "Split the range into chunks of this many days")
	backfillCmd.AddCommand(backfillResumeCmd)
	backfillCmd.AddCommand(backfillStatusCmd)
	rootCmd.AddCommand(backfillCmd)
}
