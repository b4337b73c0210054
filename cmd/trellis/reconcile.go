package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/reconcile"
	"github.com/fathomdata/trellis/internal/types"
	"github.com/fathomdata/trellis/internal/ui"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare recorded runs against warehouse truth",
	Long: `Query the warehouse for the actual status of recorded runs and open
a discrepancy check for every mismatch or missing run. Requires a
configured warehouse; the local sandbox has no external run registry.`,
	Args: exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		planID, _ := cmd.Flags().GetString("plan")
		runID, _ := cmd.Flags().GetString("run")
		if (planID == "") == (runID == "") {
			return usagef("exactly one of --plan or --run is required")
		}

		r, closeAll, err := buildReconciler()
		if err != nil {
			return err
		}
		defer closeAll()

		if runID != "" {
			check, err := r.CheckRun(rootCtx, runID)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(check)
				return nil
			}
			if check.Resolved {
				fmt.Printf("%s run %s agrees with the warehouse\n", ui.RenderPass("✓"), shortHash(runID))
				return nil
			}
			fmt.Printf("%s run %s: %s (expected %s, warehouse %q)\n", ui.RenderFail("✗"),
				shortHash(runID), check.DiscrepancyType, check.ExpectedStatus, check.WarehouseStatus)
			return nil
		}

		open, err := r.CheckPlan(rootCtx, planID)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(open)
			return nil
		}
		if len(open) == 0 {
			fmt.Printf("%s plan %s agrees with the warehouse\n", ui.RenderPass("✓"), shortHash(planID))
			return nil
		}
		printChecks(open)
		return nil
	},
}

var reconcileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved discrepancies",
	Args:  exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		open, err := store.ListUnresolvedChecks(rootCtx, tenantName())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(open)
			return nil
		}
		if len(open) == 0 {
			fmt.Println("No unresolved discrepancies.")
			return nil
		}
		printChecks(open)
		return nil
	},
}

var reconcileResolveCmd = &cobra.Command{
	Use:   "resolve <check-id>",
	Short: "Close a discrepancy with an operator note",
	Args:  exactArgs(1, "a check id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")
		checkID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return usagef("check id must be an integer, got %q", args[0])
		}

		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		r := reconcile.New(store, nil, auditlog.New(store), tenantName())
		if err := r.Resolve(rootCtx, checkID, actorName(), note); err != nil {
			return err
		}
		fmt.Printf("%s check %d resolved\n", ui.RenderPass("✓"), checkID)
		return nil
	},
}

func printChecks(checks []*types.ReconciliationCheck) {
	t := ui.NewTable("CHECK", "RUN", "EXPECTED", "WAREHOUSE", "TYPE", "CHECKED")
	for _, c := range checks {
		t.Row(fmt.Sprintf("%d", c.CheckID), shortHash(c.RunID), string(c.ExpectedStatus),
			c.WarehouseStatus, string(c.DiscrepancyType), c.CheckedAt.Format(time.RFC3339))
	}
	fmt.Println(t.Render())
}

func buildReconciler() (*reconcile.Reconciler, func(), error) {
	store, err := openStore(rootCtx)
	if err != nil {
		return nil, nil, err
	}
	_, checker, closeExec, err := buildExecutor()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if checker == nil {
		_ = closeExec()
		_ = store.Close()
		return nil, nil, usagef("reconcile needs a configured warehouse (warehouse.url)")
	}
	r := reconcile.New(store, checker, auditlog.New(store), tenantName())
	closeAll := func() {
		_ = closeExec()
		_ = store.Close()
	}
	return r, closeAll, nil
}

func init() {
	reconcileCmd.Flags().String("plan", "", "Reconcile every terminal run of this plan")
	reconcileCmd.Flags().String("run", "", "Reconcile one run")
	reconcileResolveCmd.Flags().String("note", "", "Resolution note")
	reconcileCmd.AddCommand(reconcileListCmd)
	reconcileCmd.AddCommand(reconcileResolveCmd)
	rootCmd.AddCommand(reconcileCmd)
}
