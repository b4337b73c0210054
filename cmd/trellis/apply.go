package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/advisor"
	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/config"
	"github.com/fathomdata/trellis/internal/locks"
	"github.com/fathomdata/trellis/internal/orchestrator"
	"github.com/fathomdata/trellis/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:   "apply <plan-id>",
	Short: "Execute a plan against the compute backend",
	Long: `Run every step of a stored plan in order: skip steps that already
succeeded, lock incremental partitions, and record runs, telemetry,
and audit entries. A failed step does not stop the plan; later steps
still run and record their own outcomes. Applying outside the dev
environment needs a recorded approval or --auto-approve (admin only).`,
	Args: exactArgs(1, "a plan id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		autoApprove, _ := cmd.Flags().GetBool("auto-approve")
		cluster, _ := cmd.Flags().GetString("cluster")

		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		exec, _, closeExec, err := buildExecutor()
		if err != nil {
			return err
		}
		defer func() { _ = closeExec() }()

		audit := auditlog.New(store)
		orch := orchestrator.New(store, exec, locks.NewManager(store, audit), audit,
			planAdvisor(), orchestrator.Config{
				Tenant:         tenantName(),
				Environment:    environment(),
				DefaultCluster: defaultCluster(),
				ClusterRates:   clusterRates(),
				LockTTLSeconds: int(config.GetDuration("lock-ttl").Seconds()),
			})

		result, err := orch.ApplyPlan(rootCtx, orchestrator.ApplyRequest{
			PlanID:          args[0],
			Actor:           actorName(),
			CallerRole:      config.GetString("role"),
			AutoApprove:     autoApprove,
			ClusterOverride: cluster,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			printApplyResult(result)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d step(s) failed", result.Failed)
		}
		return nil
	},
}

func printApplyResult(result *orchestrator.ApplyResult) {
	if result.AdvisorNote != "" {
		fmt.Printf("%s %s\n\n", ui.RenderAccent("advisor:"), result.AdvisorNote)
	}
	t := ui.NewTable("MODEL", "STATUS", "RANGE", "COST", "ERROR")
	for _, run := range result.Runs {
		rng := ""
		if run.InputRange != nil {
			rng = run.InputRange.String()
		}
		t.Row(run.ModelName, ui.RenderStatus(string(run.Status)), rng,
			fmt.Sprintf("$%.2f", run.CostUSD), run.ErrorMessage)
	}
	fmt.Println(t.Render())
	fmt.Printf("%d succeeded, %d skipped, %d failed, %d cancelled\n",
		result.Succeeded, len(result.Skipped), result.Failed, result.Cancelled)
}

// planAdvisor returns the AI advisor when enabled and configured, else
// nil so apply proceeds without a note.
func planAdvisor() orchestrator.Advisor {
	if !config.GetBool("advisor.enabled") {
		return nil
	}
	client, err := advisor.NewClient(config.GetString("advisor.api-key"), config.GetString("advisor.model"))
	if err != nil {
		if !errors.Is(err, advisor.ErrAPIKeyRequired) {
			fmt.Printf("%s advisor disabled: %v\n", ui.RenderWarn("warning:"), err)
		}
		return nil
	}
	return client
}

func init() {
	applyCmd.Flags().Bool("auto-approve", false, "Apply without a recorded approval (admin role only)")
	applyCmd.Flags().String("cluster", "", "Override the cluster size for cost accounting")
	rootCmd.AddCommand(applyCmd)
}
