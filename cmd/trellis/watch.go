package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/ui"
	"github.com/fathomdata/trellis/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the model directory and re-plan on change",
	Long: `Watch the project's model directory and regenerate the plan whenever
a .sql file changes. Runs until interrupted.`,
	Args: exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")

		m, err := requireProject()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		replan := func() {
			if err := runPlan(cmd, nil); err != nil {
				fmt.Printf("%s %v\n", ui.RenderFail("plan failed:"), err)
			}
		}

		w, err := watch.New(m.ModelsPath(), debounce, replan, log.Printf)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		w.Start(ctx)

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", m.ModelsPath())
		replan()
		<-ctx.Done()
		fmt.Println("\nStopped.")
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", 500*time.Millisecond, "Settle window before re-planning")
	rootCmd.AddCommand(watchCmd)
}
