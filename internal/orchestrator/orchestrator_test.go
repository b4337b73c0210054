package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/locks"
	"github.com/fathomdata/trellis/internal/state/sqlite"
	"github.com/fathomdata/trellis/internal/types"
)

// fakeExecutor succeeds unless the model is listed in failures.
type fakeExecutor struct {
	failures map[string]bool
	executed []string
}

func (f *fakeExecutor) ExecuteStep(ctx context.Context, step *types.PlanStep, sqlText string) (*executor.RunResult, error) {
	f.executed = append(f.executed, step.Model)
	now := time.Now()
	if f.failures[step.Model] {
		return &executor.RunResult{
			Status:       types.RunFailed,
			StartedAt:    now,
			FinishedAt:   now,
			ErrorMessage: "boom",
		}, nil
	}
	return &executor.RunResult{
		Status:     types.RunSuccess,
		StartedAt:  now,
		FinishedAt: now,
		Telemetry:  &types.Telemetry{ModelName: step.Model, RuntimeSeconds: 10},
	}, nil
}

type testRig struct {
	store *sqlite.Store
	exec  *fakeExecutor
	orch  *Orchestrator
	locks *locks.Manager
	audit *auditlog.Log
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store, err := sqlite.New(context.Background(), t.TempDir()+"/state.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	audit := auditlog.New(store)
	lockMgr := locks.NewManager(store, audit)
	exec := &fakeExecutor{failures: map[string]bool{}}
	orch := New(store, exec, lockMgr, audit, nil, Config{
		Tenant:         "acme",
		Environment:    "dev",
		DefaultCluster: "standard",
		ClusterRates:   map[string]float64{"standard": 0.1, "large": 0.5},
	})
	return &testRig{store: store, exec: exec, orch: orch, locks: lockMgr, audit: audit}
}

// prodOrch builds a second orchestrator over the same rig targeting a
// non-dev environment.
func (r *testRig) prodOrch() *Orchestrator {
	return New(r.store, r.exec, r.locks, r.audit, nil, Config{
		Tenant:         "acme",
		Environment:    "prod",
		DefaultCluster: "standard",
		ClusterRates:   map[string]float64{"standard": 0.1},
	})
}

func date(s string) time.Time {
	t, err := types.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// seedPlan stores models and a two-step plan: staging.events_clean
// (full refresh) feeding analytics.orders_daily (incremental).
func (r *testRig) seedPlan(t *testing.T) *types.Plan {
	t.Helper()
	ctx := context.Background()

	models := []*types.ModelDefinition{
		{Name: "staging.events_clean", Kind: types.KindFullRefresh,
			RawSQL: "SELECT 1", CleanSQL: "SELECT 1", ContentHash: "h1"},
		{Name: "analytics.orders_daily", Kind: types.KindIncrementalByTime, TimeColumn: "day",
			RawSQL: "SELECT 2", CleanSQL: "SELECT 2", ContentHash: "h2"},
	}
	if err := r.store.SaveModels(ctx, "acme", models); err != nil {
		t.Fatalf("SaveModels failed: %v", err)
	}

	plan := &types.Plan{
		PlanID:    "plan-1",
		Base:      "s1",
		Target:    "s2",
		CreatedAt: time.Now(),
		Steps: []types.PlanStep{
			{
				StepID: "step-a", Model: "staging.events_clean",
				RunType: types.RunFullRefresh, DependsOn: []string{}, ParallelGroup: 1,
				Reason: "model SQL changed",
			},
			{
				StepID: "step-b", Model: "analytics.orders_daily",
				RunType:    types.RunIncremental,
				InputRange: &types.DateRange{Start: date("2025-06-01"), End: date("2025-06-15")},
				DependsOn:  []string{"step-a"}, ParallelGroup: 2,
				Reason: "upstream changed",
			},
		},
	}
	plan.Summary = types.PlanSummary{TotalSteps: 2, ModelsChanged: []string{"staging.events_clean"}}
	if err := r.store.SavePlan(ctx, "acme", plan); err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	return plan
}

func TestApplyPlanHappyPath(t *testing.T) {
	rig := newTestRig(t)
	plan := rig.seedPlan(t)
	ctx := context.Background()

	result, err := rig.orch.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev"})
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}

	// Incremental success advances the watermark.
	wm, err := rig.store.GetWatermark(ctx, "acme", "analytics.orders_daily")
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if !wm.PartitionEnd.Equal(date("2025-06-15")) {
		t.Errorf("watermark end = %s", wm.PartitionEnd.Format(types.DateFormat))
	}

	// Cost accounting: 10s runtime at the standard rate.
	runs, err := rig.store.ListRuns(ctx, "acme", plan.PlanID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	for _, run := range runs {
		if run.CostUSD != 1.0 {
			t.Errorf("run %s cost = %v, want 1.0", run.ModelName, run.CostUSD)
		}
	}

	// The lock taken for the incremental step was released.
	lock, err := rig.locks.Check(ctx, "acme", "analytics.orders_daily", date("2025-06-01"), date("2025-06-15"))
	if err != nil || lock != nil {
		t.Errorf("lock after apply = %+v, %v", lock, err)
	}
}

func TestApplyPlanIdempotentSkip(t *testing.T) {
	rig := newTestRig(t)
	plan := rig.seedPlan(t)
	ctx := context.Background()

	if _, err := rig.orch.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev"}); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	rig.exec.executed = nil
	result, err := rig.orch.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev"})
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if len(result.Skipped) != 2 || result.Succeeded != 0 {
		t.Errorf("result = %+v, want both steps skipped", result)
	}
	if len(rig.exec.executed) != 0 {
		t.Errorf("executor ran %v on a re-apply", rig.exec.executed)
	}
}

func TestApplyPlanContinuesPastFailure(t *testing.T) {
	rig := newTestRig(t)
	plan := rig.seedPlan(t)
	ctx := context.Background()

	// The upstream step fails; the downstream step must still execute
	// and record its own outcome.
	rig.exec.failures["staging.events_clean"] = true
	result, err := rig.orch.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev"})
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if result.Failed != 1 || result.Succeeded != 1 || result.Cancelled != 0 {
		t.Fatalf("result = %+v", result)
	}

	executed := map[string]bool{}
	for _, model := range rig.exec.executed {
		executed[model] = true
	}
	if !executed["analytics.orders_daily"] {
		t.Fatalf("downstream step was never executed after upstream failure; executed=%v", rig.exec.executed)
	}

	runs, err := rig.store.ListRuns(ctx, "acme", plan.PlanID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	byModel := map[string]*types.RunRecord{}
	for _, run := range runs {
		byModel[run.ModelName] = run
	}
	if byModel["staging.events_clean"].Status != types.RunFailed {
		t.Errorf("upstream status = %s", byModel["staging.events_clean"].Status)
	}
	if byModel["analytics.orders_daily"].Status != types.RunSuccess {
		t.Errorf("downstream status = %s", byModel["analytics.orders_daily"].Status)
	}
}

func TestApplyPlanLockContention(t *testing.T) {
	rig := newTestRig(t)
	plan := rig.seedPlan(t)
	ctx := context.Background()

	// Another worker holds the partition lock for the incremental step.
	ok, err := rig.locks.Acquire(ctx, "acme", "analytics.orders_daily",
		date("2025-06-01"), date("2025-06-15"), "other-worker", 3600)
	if err != nil || !ok {
		t.Fatalf("seed lock = %v, %v", ok, err)
	}

	result, err := rig.orch.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev"})
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if result.Succeeded != 1 || result.Cancelled != 1 {
		t.Fatalf("result = %+v", result)
	}

	runs, err := rig.store.ListRuns(ctx, "acme", plan.PlanID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	for _, run := range runs {
		if run.ModelName != "analytics.orders_daily" {
			continue
		}
		if run.Status != types.RunCancelled || run.ErrorMessage != "Lock acquisition failed" {
			t.Errorf("contended run = %+v", run)
		}
	}

	// The other worker's lock survived.
	lock, err := rig.locks.Check(ctx, "acme", "analytics.orders_daily", date("2025-06-01"), date("2025-06-15"))
	if err != nil || lock == nil || lock.Owner != "other-worker" {
		t.Errorf("lock = %+v, %v", lock, err)
	}
}

func TestApplyPlanApprovalRules(t *testing.T) {
	rig := newTestRig(t)
	plan := rig.seedPlan(t)
	ctx := context.Background()
	prod := rig.prodOrch()

	// Non-dev environment without approval is rejected, whatever the
	// caller's role.
	var perm *types.PermissionError
	for _, role := range []string{"dev", "operator"} {
		_, err := prod.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "ops-1", CallerRole: role})
		if !errors.As(err, &perm) {
			t.Errorf("unapproved prod apply as %s = %v, want PermissionError", role, err)
		}
	}

	// Auto-approve needs admin.
	_, err := prod.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "ops-1", CallerRole: "operator", AutoApprove: true})
	if !errors.As(err, &perm) {
		t.Errorf("non-admin auto-approve = %v, want PermissionError", err)
	}

	// The dev environment needs no approval.
	if _, err := rig.orch.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev"}); err != nil {
		t.Fatalf("dev apply failed: %v", err)
	}

	// An approval unlocks the non-dev environment.
	if err := rig.store.ApprovePlan(ctx, "acme", plan.PlanID, types.PlanApproval{ApprovedBy: "lead"}); err != nil {
		t.Fatalf("ApprovePlan failed: %v", err)
	}
	result, err := prod.ApplyPlan(ctx, ApplyRequest{PlanID: plan.PlanID, Actor: "ops-1", CallerRole: "operator"})
	if err != nil {
		t.Fatalf("approved apply failed: %v", err)
	}
	if len(result.Skipped) != 2 {
		t.Errorf("result = %+v, want both steps skipped after the dev apply", result)
	}
}

func TestApplyUnknownPlan(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.orch.ApplyPlan(context.Background(), ApplyRequest{PlanID: "ghost", Actor: "dev-1", CallerRole: "dev"})
	var notFound *types.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("got %v, want NotFoundError", err)
	}
}

func TestApplyClusterOverrideCost(t *testing.T) {
	rig := newTestRig(t)
	plan := rig.seedPlan(t)
	ctx := context.Background()

	result, err := rig.orch.ApplyPlan(ctx, ApplyRequest{
		PlanID: plan.PlanID, Actor: "dev-1", CallerRole: "dev", ClusterOverride: "large",
	})
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	for _, run := range result.Runs {
		if run.CostUSD != 5.0 {
			t.Errorf("run %s cost = %v, want 5.0 at the large rate", run.ModelName, run.CostUSD)
		}
	}
}
