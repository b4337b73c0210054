package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// RecordRun inserts or updates a run record. Terminal runs are
// immutable: updating a run that already reached a terminal status is
// rejected.
func (s *Store) RecordRun(ctx context.Context, tenant string, run *types.RunRecord) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if run.RunID == "" {
		return &types.ValidationError{Field: "run_id", Reason: "run id is required"}
	}

	var rangeStart, rangeEnd string
	if run.InputRange != nil {
		rangeStart = fmtDate(run.InputRange.Start)
		rangeEnd = fmtDate(run.InputRange.End)
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var status string
		err := conn.QueryRowContext(ctx,
			`SELECT status FROM runs WHERE tenant_id = ? AND run_id = ?`,
			tenant, run.RunID).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to check run: %w", err)
		case types.RunStatus(status).Terminal():
			return &types.ConflictError{Reason: fmt.Sprintf("run %s is terminal (%s) and cannot change", run.RunID, status)}
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO runs (
				tenant_id, run_id, plan_id, step_id, model_name, status,
				started_at, finished_at, range_start, range_end,
				error_message, cost_usd, retry_count, external_run_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, run_id) DO UPDATE SET
				status = excluded.status,
				finished_at = excluded.finished_at,
				error_message = excluded.error_message,
				cost_usd = excluded.cost_usd,
				retry_count = excluded.retry_count,
				external_run_id = excluded.external_run_id
		`,
			tenant, run.RunID, run.PlanID, run.StepID, run.ModelName, string(run.Status),
			fmtTime(run.StartedAt), fmtTime(run.FinishedAt), rangeStart, rangeEnd,
			run.ErrorMessage, run.CostUSD, run.RetryCount, run.ExternalRunID,
			fmtTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		return nil
	})
}

const runColumns = `run_id, plan_id, step_id, model_name, status, started_at,
	finished_at, range_start, range_end, error_message, cost_usd, retry_count,
	external_run_id`

// GetRun returns one run or a NotFoundError.
func (s *Store) GetRun(ctx context.Context, tenant, runID string) (*types.RunRecord, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE tenant_id = ? AND run_id = ?`,
		tenant, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "run", ID: runID}
	}
	return run, err
}

// ListRuns returns every run for a plan in start order.
func (s *Store) ListRuns(ctx context.Context, tenant, planID string) ([]*types.RunRecord, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE tenant_id = ? AND plan_id = ? ORDER BY started_at, run_id`,
		tenant, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetSuccessfulRun returns the most recent SUCCESS run for a step id.
func (s *Store) GetSuccessfulRun(ctx context.Context, tenant, stepID string) (*types.RunRecord, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE tenant_id = ? AND step_id = ? AND status = ?
		ORDER BY finished_at DESC, run_id DESC LIMIT 1
	`, tenant, stepID, string(types.RunSuccess))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "successful run for step", ID: stepID}
	}
	return run, err
}

func scanRun(row rowScanner) (*types.RunRecord, error) {
	var run types.RunRecord
	var status, started, finished, rs, re string
	err := row.Scan(&run.RunID, &run.PlanID, &run.StepID, &run.ModelName, &status,
		&started, &finished, &rs, &re, &run.ErrorMessage, &run.CostUSD,
		&run.RetryCount, &run.ExternalRunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = types.RunStatus(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	if rs != "" && re != "" {
		start, err := parseStoredDate(rs)
		if err != nil {
			return nil, err
		}
		end, err := parseStoredDate(re)
		if err != nil {
			return nil, err
		}
		run.InputRange = &types.DateRange{Start: start, End: end}
	}
	return &run, nil
}

// UpdateWatermark upserts the watermark for a model. The stored range
// only ever widens: a new end behind the current one is ignored.
func (s *Store) UpdateWatermark(ctx context.Context, tenant string, wm *types.Watermark) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if wm.ModelName == "" {
		return &types.ValidationError{Field: "model_name", Reason: "model name is required"}
	}
	updatedAt := wm.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO watermarks (tenant_id, model_name, partition_start, partition_end, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, model_name) DO UPDATE SET
				partition_start = MIN(partition_start, excluded.partition_start),
				partition_end = MAX(partition_end, excluded.partition_end),
				updated_at = excluded.updated_at
		`, tenant, wm.ModelName, fmtDate(wm.PartitionStart), fmtDate(wm.PartitionEnd), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("failed to update watermark: %w", err)
		}
		return nil
	})
}

// GetWatermark returns the watermark for a model, or a NotFoundError.
func (s *Store) GetWatermark(ctx context.Context, tenant, model string) (*types.Watermark, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	wm := &types.Watermark{ModelName: model}
	var start, end, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT partition_start, partition_end, updated_at FROM watermarks
		WHERE tenant_id = ? AND model_name = ?
	`, tenant, model).Scan(&start, &end, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "watermark", ID: model}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}
	if wm.PartitionStart, err = parseStoredDate(start); err != nil {
		return nil, err
	}
	if wm.PartitionEnd, err = parseStoredDate(end); err != nil {
		return nil, err
	}
	if wm.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return wm, nil
}

// ListWatermarks returns all watermarks keyed by model name.
func (s *Store) ListWatermarks(ctx context.Context, tenant string) (map[string]*types.Watermark, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, partition_start, partition_end, updated_at
		FROM watermarks WHERE tenant_id = ?
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]*types.Watermark{}
	for rows.Next() {
		wm := &types.Watermark{}
		var start, end, updated string
		if err := rows.Scan(&wm.ModelName, &start, &end, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		if wm.PartitionStart, err = parseStoredDate(start); err != nil {
			return nil, err
		}
		if wm.PartitionEnd, err = parseStoredDate(end); err != nil {
			return nil, err
		}
		if wm.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out[wm.ModelName] = wm
	}
	return out, rows.Err()
}

// RecordTelemetry appends one telemetry row for a run.
func (s *Store) RecordTelemetry(ctx context.Context, tenant string, tel *types.Telemetry) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	recordedAt := tel.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_telemetry (
			tenant_id, run_id, model_name, runtime_seconds, shuffle_bytes,
			input_rows, output_rows, partition_count, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tenant, tel.RunID, tel.ModelName, tel.RuntimeSeconds, tel.ShuffleBytes,
		tel.InputRows, tel.OutputRows, tel.PartitionCount, fmtTime(recordedAt))
	if err != nil {
		return fmt.Errorf("failed to record telemetry: %w", err)
	}
	return nil
}

// GetRunStats aggregates telemetry and run costs for one model.
func (s *Store) GetRunStats(ctx context.Context, tenant, model string) (*types.RunStats, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	stats := &types.RunStats{ModelName: model}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(runtime_seconds), 0)
		FROM run_telemetry WHERE tenant_id = ? AND model_name = ?
	`, tenant, model).Scan(&stats.SampleCount, &stats.AvgRuntimeSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate telemetry: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(cost_usd), 0) FROM runs
		WHERE tenant_id = ? AND model_name = ? AND status = ?
	`, tenant, model, string(types.RunSuccess)).Scan(&stats.AvgCostUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate run costs: %w", err)
	}
	if stats.SampleCount == 0 {
		return nil, &types.NotFoundError{Entity: "run stats", ID: model}
	}
	return stats, nil
}

// ListRunStats aggregates telemetry for every model with samples.
func (s *Store) ListRunStats(ctx context.Context, tenant string) (map[string]*types.RunStats, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.model_name, COUNT(*), COALESCE(AVG(t.runtime_seconds), 0),
			COALESCE((SELECT AVG(r.cost_usd) FROM runs r
				WHERE r.tenant_id = t.tenant_id AND r.model_name = t.model_name AND r.status = ?), 0)
		FROM run_telemetry t
		WHERE t.tenant_id = ?
		GROUP BY t.model_name
	`, string(types.RunSuccess), tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate telemetry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]*types.RunStats{}
	for rows.Next() {
		stats := &types.RunStats{}
		if err := rows.Scan(&stats.ModelName, &stats.SampleCount, &stats.AvgRuntimeSeconds, &stats.AvgCostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan run stats: %w", err)
		}
		out[stats.ModelName] = stats
	}
	return out, rows.Err()
}
