// Package backfill reprocesses historical partitions for incremental
// models, either as one range or as day-aligned chunks with a
// persistent checkpoint so an interrupted backfill resumes where it
// stopped instead of starting over.
package backfill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/locks"
	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
)

// Runner executes backfills for one tenant.
type Runner struct {
	store  state.Store
	exec   executor.Executor
	locks  *locks.Manager
	audit  *auditlog.Log
	tenant string

	// LockTTLSeconds bounds each chunk's partition lock; <= 0 uses the
	// lock manager default.
	LockTTLSeconds int
}

// NewRunner wires a Runner.
func NewRunner(store state.Store, exec executor.Executor, lockMgr *locks.Manager, audit *auditlog.Log, tenant string) *Runner {
	return &Runner{store: store, exec: exec, locks: lockMgr, audit: audit, tenant: tenant}
}

// ComputeBackfillID derives the deterministic backfill identifier, so
// retrying the same request resumes the same backfill instead of
// forking a second one.
func ComputeBackfillID(model string, start, end time.Time, chunkDays int) string {
	payload := fmt.Sprintf("chunked_backfill|%s|%s|%s|%d",
		model, start.Format(types.DateFormat), end.Format(types.DateFormat), chunkDays)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Run reprocesses one range as a single locked execution.
func (r *Runner) Run(ctx context.Context, model string, start, end time.Time, actor string) (*types.RunRecord, error) {
	def, err := r.validate(ctx, model, start, end)
	if err != nil {
		return nil, err
	}

	step := backfillStep(model, start, end)
	run := &types.RunRecord{
		RunID:      uuid.NewString(),
		StepID:     step.StepID,
		ModelName:  model,
		Status:     types.RunRunning,
		StartedAt:  time.Now(),
		InputRange: step.InputRange,
	}

	owner := "backfill:" + run.RunID
	acquired, err := r.locks.Acquire(ctx, r.tenant, model, start, end, owner, r.LockTTLSeconds)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, &types.ConflictError{Reason: fmt.Sprintf("partition %s..%s of %s is locked",
			start.Format(types.DateFormat), end.Format(types.DateFormat), model)}
	}
	defer func() { _, _ = r.locks.Release(ctx, r.tenant, model, start, end, owner) }()

	result, err := r.exec.ExecuteStep(ctx, step, def.CleanSQL)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = types.RunFailed
		run.ErrorMessage = err.Error()
	} else {
		run.Status = result.Status
		run.ErrorMessage = result.ErrorMessage
		run.ExternalRunID = result.ExternalRunID
	}
	if err := r.store.RecordRun(ctx, r.tenant, run); err != nil {
		return run, err
	}
	if run.Status == types.RunSuccess {
		_ = r.store.UpdateWatermark(ctx, r.tenant, &types.Watermark{
			ModelName: model, PartitionStart: start, PartitionEnd: end,
		})
	}
	_ = r.audit.Append(ctx, r.tenant, actor, "backfill_run", "model", model, map[string]any{
		"run_id": run.RunID,
		"range":  step.InputRange.String(),
		"status": string(run.Status),
	})
	return run, nil
}

// RunChunked starts a checkpointed backfill split into day-aligned
// chunks. A backfill with the same (model, range, chunk size) that
// already exists must be resumed, not restarted.
func (r *Runner) RunChunked(ctx context.Context, model string, start, end time.Time, chunkDays int, actor string) (*types.BackfillCheckpoint, error) {
	if chunkDays <= 0 {
		return nil, &types.ValidationError{Field: "chunk_size_days", Reason: "chunk size must be positive"}
	}
	if _, err := r.validate(ctx, model, start, end); err != nil {
		return nil, err
	}

	backfillID := ComputeBackfillID(model, start, end, chunkDays)
	if existing, err := r.store.GetCheckpoint(ctx, r.tenant, backfillID); err == nil {
		return existing, &types.ConflictError{Reason: fmt.Sprintf(
			"backfill %s already exists with status %s; resume it instead", backfillID, existing.Status)}
	} else {
		var notFound *types.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	totalDays := types.DateRange{Start: start, End: end}.Days()
	cp := &types.BackfillCheckpoint{
		BackfillID:    backfillID,
		ModelName:     model,
		OverallStart:  start,
		OverallEnd:    end,
		ChunkSizeDays: chunkDays,
		Status:        types.BackfillRunning,
		TotalChunks:   (totalDays + chunkDays - 1) / chunkDays,
	}
	if err := r.store.SaveCheckpoint(ctx, r.tenant, cp); err != nil {
		return nil, err
	}
	_ = r.audit.Append(ctx, r.tenant, actor, "backfill_started", "backfill", backfillID, map[string]any{
		"model":        model,
		"range":        types.DateRange{Start: start, End: end}.String(),
		"chunk_days":   chunkDays,
		"total_chunks": cp.TotalChunks,
	})

	return r.runChunks(ctx, cp, start, actor)
}

// Resume continues a chunked backfill from the day after its
// checkpoint. Resuming a completed backfill returns it unchanged.
func (r *Runner) Resume(ctx context.Context, backfillID, actor string) (*types.BackfillCheckpoint, error) {
	cp, err := r.store.GetCheckpoint(ctx, r.tenant, backfillID)
	if err != nil {
		return nil, err
	}
	if cp.Status == types.BackfillCompleted {
		return cp, nil
	}

	resumeFrom := cp.OverallStart
	if !cp.CompletedThrough.IsZero() {
		if err := r.checkChunkAccounting(cp); err != nil {
			return nil, err
		}
		resumeFrom = cp.CompletedThrough.AddDate(0, 0, 1)
	}

	cp.Status = types.BackfillRunning
	cp.ErrorMessage = ""
	if err := r.store.SaveCheckpoint(ctx, r.tenant, cp); err != nil {
		return nil, err
	}
	_ = r.audit.Append(ctx, r.tenant, actor, "backfill_resumed", "backfill", backfillID, map[string]any{
		"resume_from": resumeFrom.Format(types.DateFormat),
	})
	return r.runChunks(ctx, cp, resumeFrom, actor)
}

// checkChunkAccounting cross-checks completed_chunks against
// completed_through. A mismatch means the checkpoint was corrupted and
// resuming would silently skip or repeat partitions.
func (r *Runner) checkChunkAccounting(cp *types.BackfillCheckpoint) error {
	doneDays := types.DateRange{Start: cp.OverallStart, End: cp.CompletedThrough}.Days()
	wantChunks := (doneDays + cp.ChunkSizeDays - 1) / cp.ChunkSizeDays
	if doneDays%cp.ChunkSizeDays != 0 && !cp.CompletedThrough.Equal(cp.OverallEnd) {
		return &types.IntegrityError{Reason: fmt.Sprintf(
			"backfill %s checkpoint is not chunk-aligned: completed through %s with %d-day chunks",
			cp.BackfillID, cp.CompletedThrough.Format(types.DateFormat), cp.ChunkSizeDays)}
	}
	if cp.CompletedChunks != wantChunks {
		return &types.IntegrityError{Reason: fmt.Sprintf(
			"backfill %s chunk accounting mismatch: %d chunks recorded, %d implied by checkpoint date",
			cp.BackfillID, cp.CompletedChunks, wantChunks)}
	}
	return nil
}

// runChunks executes chunks from first through the overall end. The
// first failure stops the loop and marks the backfill FAILED; the
// checkpoint keeps everything completed so far.
func (r *Runner) runChunks(ctx context.Context, cp *types.BackfillCheckpoint, first time.Time, actor string) (*types.BackfillCheckpoint, error) {
	def, err := r.store.GetModel(ctx, r.tenant, cp.ModelName)
	if err != nil {
		return nil, err
	}

	for chunkStart := first; !chunkStart.After(cp.OverallEnd); {
		chunkEnd := chunkStart.AddDate(0, 0, cp.ChunkSizeDays-1)
		if chunkEnd.After(cp.OverallEnd) {
			chunkEnd = cp.OverallEnd
		}

		run, err := r.runChunk(ctx, cp, def, chunkStart, chunkEnd)
		if err != nil {
			return cp, err
		}
		if run.Status != types.RunSuccess {
			cp.Status = types.BackfillFailed
			cp.ErrorMessage = run.ErrorMessage
			if err := r.store.SaveCheckpoint(ctx, r.tenant, cp); err != nil {
				return cp, err
			}
			_ = r.audit.Append(ctx, r.tenant, actor, "backfill_failed", "backfill", cp.BackfillID, map[string]any{
				"chunk": types.DateRange{Start: chunkStart, End: chunkEnd}.String(),
				"error": run.ErrorMessage,
			})
			return cp, nil
		}

		cp.CompletedThrough = chunkEnd
		cp.CompletedChunks++
		if err := r.store.SaveCheckpoint(ctx, r.tenant, cp); err != nil {
			return cp, err
		}
		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}

	cp.Status = types.BackfillCompleted
	if err := r.store.SaveCheckpoint(ctx, r.tenant, cp); err != nil {
		return cp, err
	}
	_ = r.audit.Append(ctx, r.tenant, actor, "backfill_completed", "backfill", cp.BackfillID, map[string]any{
		"chunks": cp.CompletedChunks,
	})
	return cp, nil
}

// runChunk locks, executes, and records one chunk.
func (r *Runner) runChunk(ctx context.Context, cp *types.BackfillCheckpoint, def *types.ModelDefinition, start, end time.Time) (*types.RunRecord, error) {
	step := backfillStep(cp.ModelName, start, end)
	run := &types.RunRecord{
		RunID:      uuid.NewString(),
		StepID:     step.StepID,
		ModelName:  cp.ModelName,
		Status:     types.RunRunning,
		StartedAt:  time.Now(),
		InputRange: step.InputRange,
	}

	owner := "backfill:" + cp.BackfillID
	acquired, err := r.locks.Acquire(ctx, r.tenant, cp.ModelName, start, end, owner, r.LockTTLSeconds)
	if err != nil {
		return nil, err
	}
	if !acquired {
		run.Status = types.RunCancelled
		run.FinishedAt = time.Now()
		run.ErrorMessage = "Lock acquisition failed"
	} else {
		defer func() { _, _ = r.locks.Release(ctx, r.tenant, cp.ModelName, start, end, owner) }()

		result, xerr := r.exec.ExecuteStep(ctx, step, def.CleanSQL)
		run.FinishedAt = time.Now()
		if xerr != nil {
			run.Status = types.RunFailed
			run.ErrorMessage = xerr.Error()
		} else {
			run.Status = result.Status
			run.ErrorMessage = result.ErrorMessage
			run.ExternalRunID = result.ExternalRunID
		}
	}

	if err := r.store.RecordRun(ctx, r.tenant, run); err != nil {
		return nil, err
	}
	// A chunk that never got its lock counts as FAILED in the backfill
	// history even though the run itself records CANCELLED.
	auditStatus := run.Status
	if !acquired {
		auditStatus = types.RunFailed
	}
	if aerr := r.store.AppendBackfillAudit(ctx, r.tenant, &types.BackfillAudit{
		BackfillID:      cp.BackfillID,
		ChunkStart:      start,
		ChunkEnd:        end,
		Status:          auditStatus,
		RunID:           run.RunID,
		ErrorMessage:    run.ErrorMessage,
		DurationSeconds: run.FinishedAt.Sub(run.StartedAt).Seconds(),
	}); aerr != nil {
		return nil, aerr
	}
	if run.Status == types.RunSuccess {
		_ = r.store.UpdateWatermark(ctx, r.tenant, &types.Watermark{
			ModelName: cp.ModelName, PartitionStart: start, PartitionEnd: end,
		})
	}
	return run, nil
}

// Status returns a backfill's checkpoint.
func (r *Runner) Status(ctx context.Context, backfillID string) (*types.BackfillCheckpoint, error) {
	return r.store.GetCheckpoint(ctx, r.tenant, backfillID)
}

// History returns the per-chunk audit trail in execution order.
func (r *Runner) History(ctx context.Context, backfillID string) ([]*types.BackfillAudit, error) {
	return r.store.ListBackfillAudit(ctx, r.tenant, backfillID)
}

func (r *Runner) validate(ctx context.Context, model string, start, end time.Time) (*types.ModelDefinition, error) {
	if start.After(end) {
		return nil, &types.ValidationError{Field: "range", Reason: fmt.Sprintf(
			"start %s is after end %s", start.Format(types.DateFormat), end.Format(types.DateFormat))}
	}
	def, err := r.store.GetModel(ctx, r.tenant, model)
	if err != nil {
		return nil, err
	}
	if def.Kind != types.KindIncrementalByTime {
		return nil, &types.ValidationError{Field: "model", Reason: fmt.Sprintf(
			"model %s is %s; only INCREMENTAL_BY_TIME_RANGE models can be backfilled", model, def.Kind)}
	}
	return def, nil
}

func backfillStep(model string, start, end time.Time) *types.PlanStep {
	rng := &types.DateRange{Start: start, End: end}
	payload := fmt.Sprintf("backfill|%s|%s", model, rng)
	sum := sha256.Sum256([]byte(payload))
	return &types.PlanStep{
		StepID:     hex.EncodeToString(sum[:]),
		Model:      model,
		RunType:    types.RunIncremental,
		InputRange: rng,
	}
}
