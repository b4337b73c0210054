package sqlite

import (
	"context"
	"testing"

	"github.com/fathomdata/trellis/internal/types"
)

func TestCheckpointLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp := &types.BackfillCheckpoint{
		BackfillID:    "bf-1",
		ModelName:     "analytics.orders_daily",
		OverallStart:  mustDate(t, "2025-01-01"),
		OverallEnd:    mustDate(t, "2025-01-30"),
		ChunkSizeDays: 10,
		Status:        types.BackfillRunning,
		TotalChunks:   3,
	}
	if err := store.SaveCheckpoint(ctx, testTenant, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	cp.CompletedThrough = mustDate(t, "2025-01-10")
	cp.CompletedChunks = 1
	if err := store.SaveCheckpoint(ctx, testTenant, cp); err != nil {
		t.Fatalf("checkpoint update failed: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, testTenant, "bf-1")
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if got.CompletedChunks != 1 || !got.CompletedThrough.Equal(mustDate(t, "2025-01-10")) {
		t.Errorf("checkpoint = %+v", got)
	}
	if got.TotalChunks != 3 || got.ChunkSizeDays != 10 {
		t.Errorf("immutable fields changed: %+v", got)
	}

	list, err := store.ListCheckpoints(ctx, testTenant, "analytics.orders_daily")
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("checkpoints = %d, want 1", len(list))
	}
}

func TestBackfillAuditOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []struct {
		start, end string
		status     types.RunStatus
	}{
		{"2025-01-01", "2025-01-10", types.RunSuccess},
		{"2025-01-11", "2025-01-20", types.RunFailed},
	}
	for _, c := range chunks {
		err := store.AppendBackfillAudit(ctx, testTenant, &types.BackfillAudit{
			BackfillID: "bf-1",
			ChunkStart: mustDate(t, c.start),
			ChunkEnd:   mustDate(t, c.end),
			Status:     c.status,
			RunID:      "run-" + c.start,
		})
		if err != nil {
			t.Fatalf("AppendBackfillAudit failed: %v", err)
		}
	}

	audit, err := store.ListBackfillAudit(ctx, testTenant, "bf-1")
	if err != nil {
		t.Fatalf("ListBackfillAudit failed: %v", err)
	}
	if len(audit) != 2 {
		t.Fatalf("rows = %d, want 2", len(audit))
	}
	if audit[0].Status != types.RunSuccess || audit[1].Status != types.RunFailed {
		t.Errorf("statuses = %s, %s", audit[0].Status, audit[1].Status)
	}
	if !audit[1].ChunkStart.Equal(mustDate(t, "2025-01-11")) {
		t.Errorf("chunk order wrong: %+v", audit)
	}
}

func TestReconciliationChecks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	check := &types.ReconciliationCheck{
		RunID:           "run-1",
		ExpectedStatus:  types.RunSuccess,
		WarehouseStatus: "FAILED",
		DiscrepancyType: types.DiscrepancyStatusMismatch,
	}
	if err := store.SaveReconciliationCheck(ctx, testTenant, check); err != nil {
		t.Fatalf("SaveReconciliationCheck failed: %v", err)
	}
	if check.CheckID == 0 {
		t.Fatal("check id not filled")
	}

	open, err := store.ListUnresolvedChecks(ctx, testTenant)
	if err != nil {
		t.Fatalf("ListUnresolvedChecks failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("unresolved = %d, want 1", len(open))
	}

	if err := store.ResolveReconciliationCheck(ctx, testTenant, check.CheckID, "ops", "warehouse retried"); err != nil {
		t.Fatalf("ResolveReconciliationCheck failed: %v", err)
	}
	open, err = store.ListUnresolvedChecks(ctx, testTenant)
	if err != nil {
		t.Fatalf("ListUnresolvedChecks failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("unresolved after resolve = %d", len(open))
	}

	// Resolving twice is an error.
	if err := store.ResolveReconciliationCheck(ctx, testTenant, check.CheckID, "ops", "again"); err == nil {
		t.Error("double resolve succeeded")
	}
}

func TestReconciliationSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sched := &types.ReconciliationSchedule{Name: "nightly", CronExpr: "0 3 * * *", Enabled: true}
	if err := store.SaveReconciliationSchedule(ctx, testTenant, sched); err != nil {
		t.Fatalf("SaveReconciliationSchedule failed: %v", err)
	}
	sched.CronExpr = "0 4 * * *"
	if err := store.SaveReconciliationSchedule(ctx, testTenant, sched); err != nil {
		t.Fatalf("schedule update failed: %v", err)
	}

	all, err := store.ListReconciliationSchedules(ctx, testTenant)
	if err != nil {
		t.Fatalf("ListReconciliationSchedules failed: %v", err)
	}
	if len(all) != 1 || all[0].CronExpr != "0 4 * * *" {
		t.Errorf("schedules = %+v", all)
	}
}
