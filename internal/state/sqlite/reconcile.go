package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// SaveReconciliationCheck inserts one check row and fills its id.
func (s *Store) SaveReconciliationCheck(ctx context.Context, tenant string, check *types.ReconciliationCheck) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	checkedAt := check.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}
	resolved := 0
	if check.Resolved {
		resolved = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_checks (tenant_id, run_id, expected_status,
			warehouse_status, discrepancy_type, resolved, resolved_by,
			resolution_note, checked_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tenant, check.RunID, string(check.ExpectedStatus), check.WarehouseStatus,
		string(check.DiscrepancyType), resolved, check.ResolvedBy,
		check.ResolutionNote, fmtTime(checkedAt), fmtTime(check.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to save reconciliation check: %w", err)
	}
	check.CheckID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read check id: %w", err)
	}
	check.CheckedAt = checkedAt
	return nil
}

// ResolveReconciliationCheck marks a check resolved with a note.
func (s *Store) ResolveReconciliationCheck(ctx context.Context, tenant string, checkID int64, resolvedBy, note string) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_checks
		SET resolved = 1, resolved_by = ?, resolution_note = ?, resolved_at = ?
		WHERE tenant_id = ? AND check_id = ? AND resolved = 0
	`, resolvedBy, note, fmtTime(time.Now()), tenant, checkID)
	if err != nil {
		return fmt.Errorf("failed to resolve check: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolution: %w", err)
	}
	if n == 0 {
		return &types.NotFoundError{Entity: "unresolved reconciliation check", ID: fmt.Sprintf("%d", checkID)}
	}
	return nil
}

// ListUnresolvedChecks returns open discrepancies oldest first.
func (s *Store) ListUnresolvedChecks(ctx context.Context, tenant string) ([]*types.ReconciliationCheck, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT check_id, run_id, expected_status, warehouse_status,
			discrepancy_type, resolved, resolved_by, resolution_note,
			checked_at, resolved_at
		FROM reconciliation_checks
		WHERE tenant_id = ? AND resolved = 0 ORDER BY check_id
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ReconciliationCheck
	for rows.Next() {
		check := &types.ReconciliationCheck{}
		var expected, discrepancy, checked, resolvedAt string
		var resolved int
		err := rows.Scan(&check.CheckID, &check.RunID, &expected, &check.WarehouseStatus,
			&discrepancy, &resolved, &check.ResolvedBy, &check.ResolutionNote,
			&checked, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		check.ExpectedStatus = types.RunStatus(expected)
		check.DiscrepancyType = types.DiscrepancyType(discrepancy)
		check.Resolved = resolved != 0
		if check.CheckedAt, err = parseTime(checked); err != nil {
			return nil, err
		}
		if check.ResolvedAt, err = parseTime(resolvedAt); err != nil {
			return nil, err
		}
		out = append(out, check)
	}
	return out, rows.Err()
}

// SaveReconciliationSchedule upserts a named schedule.
func (s *Store) SaveReconciliationSchedule(ctx context.Context, tenant string, sched *types.ReconciliationSchedule) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if sched.Name == "" || sched.CronExpr == "" {
		return &types.ValidationError{Field: "schedule", Reason: "name and cron expression are required"}
	}
	enabled := 0
	if sched.Enabled {
		enabled = 1
	}
	createdAt := sched.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_schedules (tenant_id, name, cron_expr, enabled, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			cron_expr = excluded.cron_expr,
			enabled = excluded.enabled,
			next_run_at = excluded.next_run_at
	`, tenant, sched.Name, sched.CronExpr, enabled, fmtTime(sched.NextRunAt), fmtTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && sched.ScheduleID == 0 {
		sched.ScheduleID = id
	}
	return nil
}

// ListReconciliationSchedules returns every schedule sorted by name.
func (s *Store) ListReconciliationSchedules(ctx context.Context, tenant string) ([]*types.ReconciliationSchedule, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, name, cron_expr, enabled, next_run_at, created_at
		FROM reconciliation_schedules WHERE tenant_id = ? ORDER BY name
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ReconciliationSchedule
	for rows.Next() {
		sched := &types.ReconciliationSchedule{}
		var enabled int
		var next, created string
		err := rows.Scan(&sched.ScheduleID, &sched.Name, &sched.CronExpr, &enabled, &next, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		sched.Enabled = enabled != 0
		if sched.NextRunAt, err = parseTime(next); err != nil {
			return nil, err
		}
		if sched.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}
