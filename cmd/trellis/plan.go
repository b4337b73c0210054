package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/config"
	"github.com/fathomdata/trellis/internal/contracts"
	"github.com/fathomdata/trellis/internal/dag"
	"github.com/fathomdata/trellis/internal/differ"
	"github.com/fathomdata/trellis/internal/loader"
	"github.com/fathomdata/trellis/internal/planfile"
	"github.com/fathomdata/trellis/internal/planner"
	"github.com/fathomdata/trellis/internal/sqlkit"
	"github.com/fathomdata/trellis/internal/types"
	"github.com/fathomdata/trellis/internal/ui"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate a deterministic plan from the current model tree",
	Long: `Load the model directory, snapshot it, diff against the base
snapshot, and generate the ordered steps needed to move the target
environment to the new state. The plan is persisted and can be applied
later by id.`,
	Args: exactArgs(0, "no arguments"),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	baseID, _ := cmd.Flags().GetString("base")
	asOfRaw, _ := cmd.Flags().GetString("as-of")
	outPath, _ := cmd.Flags().GetString("out")

	m, err := requireProject()
	if err != nil {
		return err
	}
	kit, err := toolkit()
	if err != nil {
		return err
	}
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	tenant := tenantName()

	var asOf time.Time
	if asOfRaw != "" {
		if asOf, err = parseDate(asOfRaw); err != nil {
			return err
		}
	}

	models, warnings, err := loader.New(kit, dialect()).LoadDir(m.ModelsPath())
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("warning:"), w)
	}
	if err := store.SaveModels(rootCtx, tenant, models); err != nil {
		return err
	}

	modelMap := make(map[string]*types.ModelDefinition, len(models))
	current := make(map[string]string, len(models))
	for _, def := range models {
		modelMap[def.Name] = def
		current[def.Name] = def.ContentHash
	}

	// Resolve the base before saving the target snapshot, so "latest"
	// does not see the snapshot this plan is moving to.
	base := "empty"
	baseModels := map[string]string{}
	if baseID != "" {
		snap, err := store.GetSnapshot(rootCtx, tenant, baseID)
		if err != nil {
			return err
		}
		base, baseModels = snap.ID, snap.Models
	} else {
		snap, err := store.LatestSnapshot(rootCtx, tenant, environment())
		var notFound *types.NotFoundError
		if err != nil && !errors.As(err, &notFound) {
			return err
		}
		if err == nil {
			base, baseModels = snap.ID, snap.Models
		}
	}

	target := &types.Snapshot{
		ID:          types.ComputeSnapshotID(tenant, environment(), current),
		Name:        "plan-target",
		Environment: environment(),
		Models:      current,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.SaveSnapshot(rootCtx, tenant, target); err != nil {
		return err
	}

	graph, err := dag.Build(modelMap)
	if err != nil {
		return err
	}
	watermarks, err := store.ListWatermarks(rootCtx, tenant)
	if err != nil {
		return err
	}
	stats, err := store.ListRunStats(rootCtx, tenant)
	if err != nil {
		return err
	}

	if err := checkSafety(kit, models); err != nil {
		return err
	}
	contractResults := contracts.Check(kit, dialect(), modelMap)
	if err := contracts.Enforce(modelMap, contractResults); err != nil {
		return err
	}

	plan, err := planner.GeneratePlan(planner.Inputs{
		Models:     modelMap,
		Diff:       differ.Diff(baseModels, current),
		Graph:      graph,
		Watermarks: watermarks,
		RunStats:   stats,
		Contracts:  contractResults,
		Base:       base,
		Target:     target.ID,
		AsOf:       asOf,
		Config:     planner.Config{DefaultLookbackDays: lookbackDays()},
	})
	if err != nil {
		return err
	}
	if err := store.SavePlan(rootCtx, tenant, plan); err != nil {
		return err
	}
	_ = auditlog.New(store).Append(rootCtx, tenant, actorName(), "plan_created", "plan", plan.PlanID, map[string]any{
		"base":   plan.Base,
		"target": plan.Target,
		"steps":  plan.Summary.TotalSteps,
	})

	if outPath != "" {
		data, err := planfile.Encode(plan)
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
	}

	if jsonOutput {
		outputJSON(plan)
		return nil
	}
	printPlan(plan)
	return nil
}

func printPlan(plan *types.Plan) {
	fmt.Printf("Plan %s (%s -> %s)\n", ui.RenderAccent(shortHash(plan.PlanID)),
		shortHash(plan.Base), shortHash(plan.Target))
	if plan.Summary.TotalSteps == 0 {
		fmt.Println("No steps: environment is up to date.")
		return
	}
	t := ui.NewTable("GROUP", "MODEL", "RUN", "RANGE", "EST COST", "REASON")
	for i := range plan.Steps {
		step := &plan.Steps[i]
		rng := ""
		if step.InputRange != nil {
			rng = step.InputRange.String()
		}
		t.Row(fmt.Sprintf("%d", step.ParallelGroup), step.Model, string(step.RunType),
			rng, fmt.Sprintf("$%.2f", step.EstimatedCostUSD), step.Reason)
	}
	fmt.Println(t.Render())
	fmt.Printf("%d step(s), estimated $%.2f", plan.Summary.TotalSteps, plan.Summary.EstimatedCostUSD)
	if plan.Summary.ContractViolationsCount > 0 {
		fmt.Printf(", %s", ui.RenderWarn(fmt.Sprintf("%d contract violation(s), %d breaking",
			plan.Summary.ContractViolationsCount, plan.Summary.BreakingContractViolations)))
	}
	fmt.Printf("\nfull id: %s\n", plan.PlanID)
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a stored plan and its approvals",
	Args:  exactArgs(1, "a plan id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		plan, err := store.GetPlan(rootCtx, tenantName(), args[0])
		if err != nil {
			return err
		}
		approvals, err := store.GetApprovals(rootCtx, tenantName(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]any{"plan": plan, "approvals": approvals})
			return nil
		}
		printPlan(plan)
		if len(approvals) > 0 {
			fmt.Println("\nApprovals:")
			for _, a := range approvals {
				fmt.Printf("  %s at %s\n", a.ApprovedBy, a.ApprovedAt.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Record an approval for a plan",
	Args:  exactArgs(1, "a plan id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		tenant := tenantName()

		approval := types.PlanApproval{ApprovedBy: actorName(), ApprovedAt: time.Now().UTC()}
		if err := store.ApprovePlan(rootCtx, tenant, args[0], approval); err != nil {
			return err
		}
		_ = auditlog.New(store).Append(rootCtx, tenant, approval.ApprovedBy, "plan_approved", "plan", args[0], nil)

		if jsonOutput {
			outputJSON(approval)
			return nil
		}
		fmt.Printf("%s Plan %s approved by %s\n", ui.RenderPass("✓"), shortHash(args[0]), approval.ApprovedBy)
		return nil
	},
}

// checkSafety refuses to plan models containing destructive SQL.
// Warnings print; error-severity violations abort.
func checkSafety(kit sqlkit.Toolkit, models []*types.ModelDefinition) error {
	var reasons []string
	for _, def := range models {
		violations, err := kit.CheckSafety(def.CleanSQL, dialect(), sqlkit.SafetyOptions{AllowInsert: true})
		if err != nil {
			return err
		}
		for _, v := range violations {
			if v.Severity == sqlkit.SafetyError {
				reasons = append(reasons, fmt.Sprintf("%s: %s", def.Name, v.Message))
			} else {
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", ui.RenderWarn("warning:"), def.Name, v.Message)
			}
		}
	}
	if len(reasons) > 0 {
		return &types.IntegrityError{
			Reason: fmt.Sprintf("destructive SQL detected: %s", strings.Join(reasons, "; ")),
		}
	}
	return nil
}

func lookbackDays() int {
	if n := config.GetInt("lookback-days"); n > 0 {
		return n
	}
	return planner.DefaultLookbackDays
}

func init() {
	planCmd.Flags().String("base", "", "Base snapshot id (default: latest for the environment)")
	planCmd.Flags().String("as-of", "", "Upper bound for incremental ranges (date or natural language)")
	planCmd.Flags().String("out", "", "Also write the canonical plan JSON to this file")
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planApproveCmd)
	rootCmd.AddCommand(planCmd)
}
