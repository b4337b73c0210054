// Package state defines the persistence interface for the control
// plane. Every method is tenant-scoped; implementations must keep
// tenants fully isolated.
package state

import (
	"context"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// Store is the persistent backend for catalogue, plans, runs, locks,
// and audit state.
//
// Write methods that touch more than one row (plan save, audit append,
// lock acquire) must be atomic: concurrent callers observe either the
// whole write or none of it.
type Store interface {
	// Model catalogue
	SaveModels(ctx context.Context, tenant string, models []*types.ModelDefinition) error
	GetModel(ctx context.Context, tenant, name string) (*types.ModelDefinition, error)
	ListModels(ctx context.Context, tenant string) ([]*types.ModelDefinition, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, tenant string, snap *types.Snapshot) error
	GetSnapshot(ctx context.Context, tenant, id string) (*types.Snapshot, error)
	LatestSnapshot(ctx context.Context, tenant, environment string) (*types.Snapshot, error)
	ListSnapshots(ctx context.Context, tenant, environment string) ([]*types.Snapshot, error)

	// Plans and approvals
	SavePlan(ctx context.Context, tenant string, plan *types.Plan) error
	GetPlan(ctx context.Context, tenant, planID string) (*types.Plan, error)
	ApprovePlan(ctx context.Context, tenant, planID string, approval types.PlanApproval) error
	GetApprovals(ctx context.Context, tenant, planID string) ([]types.PlanApproval, error)

	// Runs
	RecordRun(ctx context.Context, tenant string, run *types.RunRecord) error
	GetRun(ctx context.Context, tenant, runID string) (*types.RunRecord, error)
	ListRuns(ctx context.Context, tenant, planID string) ([]*types.RunRecord, error)

	// GetSuccessfulRun returns the most recent SUCCESS run for a step
	// id, or a NotFoundError. Idempotent apply is built on this.
	GetSuccessfulRun(ctx context.Context, tenant, stepID string) (*types.RunRecord, error)

	// Watermarks
	UpdateWatermark(ctx context.Context, tenant string, wm *types.Watermark) error
	GetWatermark(ctx context.Context, tenant, model string) (*types.Watermark, error)
	ListWatermarks(ctx context.Context, tenant string) (map[string]*types.Watermark, error)

	// Advisory locks. AcquireLock reports false when a live lock on the
	// same (model, range) is held by another owner.
	AcquireLock(ctx context.Context, tenant string, lock *types.Lock) (bool, error)
	ReleaseLock(ctx context.Context, tenant, model string, start, end time.Time, owner string) (bool, error)
	GetLock(ctx context.Context, tenant, model string, start, end time.Time) (*types.Lock, error)
	ListLocks(ctx context.Context, tenant string) ([]*types.Lock, error)
	DeleteExpiredLocks(ctx context.Context, tenant string, now time.Time) (int, error)

	// Telemetry and planner estimates
	RecordTelemetry(ctx context.Context, tenant string, tel *types.Telemetry) error
	GetRunStats(ctx context.Context, tenant, model string) (*types.RunStats, error)
	ListRunStats(ctx context.Context, tenant string) (map[string]*types.RunStats, error)

	// Hash-chained audit log. AppendAudit fills ID, PreviousHash,
	// EntryHash, and CreatedAt on the entry.
	AppendAudit(ctx context.Context, tenant string, entry *types.AuditEntry) error
	ListAudit(ctx context.Context, tenant string, limit int) ([]*types.AuditEntry, error)

	// Backfill checkpoints and per-chunk audit
	SaveCheckpoint(ctx context.Context, tenant string, cp *types.BackfillCheckpoint) error
	GetCheckpoint(ctx context.Context, tenant, backfillID string) (*types.BackfillCheckpoint, error)
	ListCheckpoints(ctx context.Context, tenant, model string) ([]*types.BackfillCheckpoint, error)
	AppendBackfillAudit(ctx context.Context, tenant string, audit *types.BackfillAudit) error
	ListBackfillAudit(ctx context.Context, tenant, backfillID string) ([]*types.BackfillAudit, error)

	// Reconciliation
	SaveReconciliationCheck(ctx context.Context, tenant string, check *types.ReconciliationCheck) error
	ResolveReconciliationCheck(ctx context.Context, tenant string, checkID int64, resolvedBy, note string) error
	ListUnresolvedChecks(ctx context.Context, tenant string) ([]*types.ReconciliationCheck, error)
	SaveReconciliationSchedule(ctx context.Context, tenant string, sched *types.ReconciliationSchedule) error
	ListReconciliationSchedules(ctx context.Context, tenant string) ([]*types.ReconciliationSchedule, error)

	Close() error
}
