// Package orchestrator applies plans: it walks the ordered steps,
// enforces approvals and locks, skips already-succeeded work, and
// records every outcome. A failing step never aborts the plan; later
// steps still run and record their own outcomes.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/locks"
	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
)

// Advisor produces an optional human-readable note about a plan before
// it runs. Failures are ignored; advice never blocks an apply.
type Advisor interface {
	PlanNote(ctx context.Context, plan *types.Plan) (string, error)
}

// Config tunes plan application.
type Config struct {
	Tenant string

	// Environment is the target environment; applies outside "dev"
	// require an approved plan or auto-approve.
	Environment string

	// DefaultCluster names the compute cluster used when a request has
	// no override; ClusterRates maps cluster name to USD per compute
	// second for cost accounting.
	DefaultCluster string
	ClusterRates   map[string]float64

	LockTTLSeconds int
}

// Orchestrator applies plans against one executor backend.
type Orchestrator struct {
	store state.Store
	exec  executor.Executor
	locks *locks.Manager
	audit *auditlog.Log
	adv   Advisor
	cfg   Config
}

// New wires an Orchestrator. advisor may be nil.
func New(store state.Store, exec executor.Executor, lockMgr *locks.Manager, audit *auditlog.Log, advisor Advisor, cfg Config) *Orchestrator {
	return &Orchestrator{store: store, exec: exec, locks: lockMgr, audit: audit, adv: advisor, cfg: cfg}
}

// ApplyRequest describes one apply invocation.
type ApplyRequest struct {
	PlanID string

	// Actor is the identity applying; CallerRole gates auto-approve.
	Actor      string
	CallerRole string

	// AutoApprove skips the approval check; admin only.
	AutoApprove bool

	ClusterOverride string
}

// ApplyResult summarises one apply.
type ApplyResult struct {
	PlanID      string
	Runs        []*types.RunRecord
	Skipped     []string
	Succeeded   int
	Failed      int
	Cancelled   int
	AdvisorNote string
}

// ApplyPlan executes a stored plan step by step in plan order.
func (o *Orchestrator) ApplyPlan(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	plan, err := o.store.GetPlan(ctx, o.cfg.Tenant, req.PlanID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, req); err != nil {
		return nil, err
	}

	result := &ApplyResult{PlanID: plan.PlanID}
	if o.adv != nil {
		if note, aerr := o.adv.PlanNote(ctx, plan); aerr == nil {
			result.AdvisorNote = note
		}
	}

	o.auditBestEffort(ctx, req.Actor, "plan_apply_started", "plan", plan.PlanID, map[string]any{
		"steps": len(plan.Steps),
	})

	// Best-effort continue: a failed step never short-circuits the
	// plan, and its downstream steps still run and record their own
	// outcomes.
	for i := range plan.Steps {
		step := &plan.Steps[i]

		if prior, perr := o.store.GetSuccessfulRun(ctx, o.cfg.Tenant, step.StepID); perr == nil {
			result.Skipped = append(result.Skipped, step.StepID)
			o.auditBestEffort(ctx, req.Actor, "step_skipped", "step", step.StepID, map[string]any{
				"prior_run": prior.RunID,
			})
			continue
		}

		run := o.executeStep(ctx, plan, step, req)
		o.recordRun(ctx, result, run)
		switch run.Status {
		case types.RunSuccess:
			result.Succeeded++
			o.afterSuccess(ctx, step, run, req)
		case types.RunCancelled:
			result.Cancelled++
		default:
			result.Failed++
		}
	}

	o.auditBestEffort(ctx, req.Actor, "plan_applied", "plan", plan.PlanID, map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"cancelled": result.Cancelled,
		"skipped":   len(result.Skipped),
	})
	return result, nil
}

// authorize enforces the approval rules: auto-approve is admin only,
// and any apply outside the dev environment needs a recorded approval.
func (o *Orchestrator) authorize(ctx context.Context, req ApplyRequest) error {
	if req.AutoApprove {
		if req.CallerRole != "admin" {
			return &types.PermissionError{Reason: "auto-approve requires the admin role"}
		}
		return nil
	}
	if o.cfg.Environment == "dev" {
		return nil
	}
	approvals, err := o.store.GetApprovals(ctx, o.cfg.Tenant, req.PlanID)
	if err != nil {
		return err
	}
	if len(approvals) == 0 {
		return &types.PermissionError{Reason: fmt.Sprintf(
			"plan %s has no approvals and environment %s is not dev", req.PlanID, o.cfg.Environment)}
	}
	return nil
}

// executeStep runs one step, bracketing incremental work with the
// partition lock. Lock contention cancels the step instead of failing
// the plan.
func (o *Orchestrator) executeStep(ctx context.Context, plan *types.Plan, step *types.PlanStep, req ApplyRequest) *types.RunRecord {
	run := &types.RunRecord{
		RunID:      uuid.NewString(),
		PlanID:     plan.PlanID,
		StepID:     step.StepID,
		ModelName:  step.Model,
		Status:     types.RunRunning,
		StartedAt:  time.Now(),
		InputRange: step.InputRange,
	}

	def, err := o.store.GetModel(ctx, o.cfg.Tenant, step.Model)
	if err != nil {
		run.Status = types.RunFailed
		run.FinishedAt = time.Now()
		run.ErrorMessage = err.Error()
		return run
	}

	owner := "apply:" + run.RunID
	if step.RunType == types.RunIncremental && step.InputRange != nil {
		acquired, lerr := o.locks.Acquire(ctx, o.cfg.Tenant, step.Model,
			step.InputRange.Start, step.InputRange.End, owner, o.cfg.LockTTLSeconds)
		if lerr != nil || !acquired {
			run.Status = types.RunCancelled
			run.FinishedAt = time.Now()
			run.ErrorMessage = "Lock acquisition failed"
			return run
		}
		defer func() {
			_, _ = o.locks.Release(ctx, o.cfg.Tenant, step.Model,
				step.InputRange.Start, step.InputRange.End, owner)
		}()
	}

	result, err := o.exec.ExecuteStep(ctx, step, def.CleanSQL)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = types.RunFailed
		run.ErrorMessage = err.Error()
		return run
	}

	run.Status = result.Status
	run.ErrorMessage = result.ErrorMessage
	run.ExternalRunID = result.ExternalRunID
	if !result.FinishedAt.IsZero() {
		run.FinishedAt = result.FinishedAt
	}
	if result.Telemetry != nil {
		run.CostUSD = o.stepCost(result.Telemetry.RuntimeSeconds, req.ClusterOverride)
	}
	if run.Status == types.RunSuccess && result.Telemetry != nil {
		result.Telemetry.RunID = run.RunID
		if terr := o.store.RecordTelemetry(ctx, o.cfg.Tenant, result.Telemetry); terr != nil {
			o.auditBestEffort(ctx, req.Actor, "telemetry_dropped", "run", run.RunID, map[string]any{
				"error": terr.Error(),
			})
		}
	}
	return run
}

// afterSuccess advances the watermark for incremental steps. Watermark
// failures are audited, not fatal: the run already succeeded.
func (o *Orchestrator) afterSuccess(ctx context.Context, step *types.PlanStep, run *types.RunRecord, req ApplyRequest) {
	if step.RunType != types.RunIncremental || step.InputRange == nil {
		return
	}
	err := o.store.UpdateWatermark(ctx, o.cfg.Tenant, &types.Watermark{
		ModelName:      step.Model,
		PartitionStart: step.InputRange.Start,
		PartitionEnd:   step.InputRange.End,
	})
	if err != nil {
		o.auditBestEffort(ctx, req.Actor, "watermark_update_failed", "model", step.Model, map[string]any{
			"run_id": run.RunID,
			"error":  err.Error(),
		})
	}
}

func (o *Orchestrator) stepCost(runtimeSeconds float64, clusterOverride string) float64 {
	cluster := clusterOverride
	if cluster == "" {
		cluster = o.cfg.DefaultCluster
	}
	return runtimeSeconds * o.cfg.ClusterRates[cluster]
}

func (o *Orchestrator) recordRun(ctx context.Context, result *ApplyResult, run *types.RunRecord) {
	if err := o.store.RecordRun(ctx, o.cfg.Tenant, run); err != nil {
		// A run we cannot persist still counts toward the result; the
		// audit trail carries the persistence failure.
		o.auditBestEffort(ctx, "orchestrator", "run_record_failed", "run", run.RunID, map[string]any{
			"error": err.Error(),
		})
	}
	result.Runs = append(result.Runs, run)
}

func (o *Orchestrator) auditBestEffort(ctx context.Context, actor, action, entityType, entityID string, metadata map[string]any) {
	if actor == "" {
		actor = "orchestrator"
	}
	_ = o.audit.Append(ctx, o.cfg.Tenant, actor, action, entityType, entityID, metadata)
}
