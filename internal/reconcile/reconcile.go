// Package reconcile compares the control plane's run records against
// what the warehouse reports, records discrepancies, and tracks their
// resolution.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
)

// Reconciler checks runs for one tenant.
type Reconciler struct {
	store   state.Store
	checker executor.StatusChecker
	audit   *auditlog.Log
	tenant  string
}

// New wires a Reconciler.
func New(store state.Store, checker executor.StatusChecker, audit *auditlog.Log, tenant string) *Reconciler {
	return &Reconciler{store: store, checker: checker, audit: audit, tenant: tenant}
}

// CheckRun compares one run's recorded status against warehouse truth
// and records the comparison. Agreement produces a resolved check;
// disagreement an open one.
func (r *Reconciler) CheckRun(ctx context.Context, runID string) (*types.ReconciliationCheck, error) {
	run, err := r.store.GetRun(ctx, r.tenant, runID)
	if err != nil {
		return nil, err
	}
	if run.ExternalRunID == "" {
		return nil, &types.ValidationError{Field: "run", Reason: fmt.Sprintf(
			"run %s has no external run id to reconcile against", runID)}
	}

	check := &types.ReconciliationCheck{
		RunID:          runID,
		ExpectedStatus: run.Status,
	}

	warehouseStatus, err := r.checker.CheckRunStatus(ctx, run.ExternalRunID)
	var notFound *types.NotFoundError
	switch {
	case errors.As(err, &notFound):
		check.DiscrepancyType = types.DiscrepancyMissingRun
	case err != nil:
		return nil, fmt.Errorf("failed to query warehouse for run %s: %w", runID, err)
	default:
		check.WarehouseStatus = warehouseStatus
		if warehouseStatus == string(run.Status) {
			check.Resolved = true
		} else {
			check.DiscrepancyType = types.DiscrepancyStatusMismatch
		}
	}

	if err := r.store.SaveReconciliationCheck(ctx, r.tenant, check); err != nil {
		return nil, err
	}
	if !check.Resolved {
		_ = r.audit.Append(ctx, r.tenant, "reconciler", "discrepancy_found", "run", runID, map[string]any{
			"expected":  string(check.ExpectedStatus),
			"warehouse": check.WarehouseStatus,
			"type":      string(check.DiscrepancyType),
		})
	}
	return check, nil
}

// CheckPlan reconciles every terminal run of a plan that carries an
// external run id, returning the open discrepancies found.
func (r *Reconciler) CheckPlan(ctx context.Context, planID string) ([]*types.ReconciliationCheck, error) {
	runs, err := r.store.ListRuns(ctx, r.tenant, planID)
	if err != nil {
		return nil, err
	}
	var open []*types.ReconciliationCheck
	for _, run := range runs {
		if !run.Status.Terminal() || run.ExternalRunID == "" {
			continue
		}
		check, err := r.CheckRun(ctx, run.RunID)
		if err != nil {
			return open, err
		}
		if !check.Resolved {
			open = append(open, check)
		}
	}
	return open, nil
}

// Resolve closes a discrepancy with an operator note.
func (r *Reconciler) Resolve(ctx context.Context, checkID int64, resolvedBy, note string) error {
	if err := r.store.ResolveReconciliationCheck(ctx, r.tenant, checkID, resolvedBy, note); err != nil {
		return err
	}
	_ = r.audit.Append(ctx, r.tenant, resolvedBy, "discrepancy_resolved", "reconciliation_check",
		fmt.Sprintf("%d", checkID), map[string]any{"note": note})
	return nil
}

// Unresolved lists open discrepancies oldest first.
func (r *Reconciler) Unresolved(ctx context.Context) ([]*types.ReconciliationCheck, error) {
	return r.store.ListUnresolvedChecks(ctx, r.tenant)
}

// Schedule upserts a named cron schedule for an external trigger loop.
func (r *Reconciler) Schedule(ctx context.Context, sched *types.ReconciliationSchedule) error {
	return r.store.SaveReconciliationSchedule(ctx, r.tenant, sched)
}

// Schedules lists the tenant's schedules.
func (r *Reconciler) Schedules(ctx context.Context) ([]*types.ReconciliationSchedule, error) {
	return r.store.ListReconciliationSchedules(ctx, r.tenant)
}
