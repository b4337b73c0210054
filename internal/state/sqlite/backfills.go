package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// SaveCheckpoint inserts or updates a backfill checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, tenant string, cp *types.BackfillCheckpoint) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if cp.BackfillID == "" {
		return &types.ValidationError{Field: "backfill_id", Reason: "backfill id is required"}
	}
	now := time.Now()
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO backfill_checkpoints (
				tenant_id, backfill_id, model_name, overall_start, overall_end,
				chunk_size_days, status, completed_through, total_chunks,
				completed_chunks, error_message, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, backfill_id) DO UPDATE SET
				status = excluded.status,
				completed_through = excluded.completed_through,
				completed_chunks = excluded.completed_chunks,
				error_message = excluded.error_message,
				updated_at = excluded.updated_at
		`, tenant, cp.BackfillID, cp.ModelName, fmtDate(cp.OverallStart), fmtDate(cp.OverallEnd),
			cp.ChunkSizeDays, string(cp.Status), fmtDate(cp.CompletedThrough), cp.TotalChunks,
			cp.CompletedChunks, cp.ErrorMessage, fmtTime(createdAt), fmtTime(now))
		if err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

const checkpointColumns = `backfill_id, model_name, overall_start, overall_end,
	chunk_size_days, status, completed_through, total_chunks, completed_chunks,
	error_message, created_at, updated_at`

// GetCheckpoint returns one checkpoint or a NotFoundError.
func (s *Store) GetCheckpoint(ctx context.Context, tenant, backfillID string) (*types.BackfillCheckpoint, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM backfill_checkpoints WHERE tenant_id = ? AND backfill_id = ?`,
		tenant, backfillID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "backfill", ID: backfillID}
	}
	return cp, err
}

// ListCheckpoints returns checkpoints newest first. Pass an empty model
// to list across models.
func (s *Store) ListCheckpoints(ctx context.Context, tenant, model string) ([]*types.BackfillCheckpoint, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	query := `SELECT ` + checkpointColumns + ` FROM backfill_checkpoints WHERE tenant_id = ?`
	args := []any{tenant}
	if model != "" {
		query += ` AND model_name = ?`
		args = append(args, model)
	}
	query += ` ORDER BY created_at DESC, backfill_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.BackfillCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (*types.BackfillCheckpoint, error) {
	var cp types.BackfillCheckpoint
	var status, start, end, through, created, updated string
	err := row.Scan(&cp.BackfillID, &cp.ModelName, &start, &end, &cp.ChunkSizeDays,
		&status, &through, &cp.TotalChunks, &cp.CompletedChunks, &cp.ErrorMessage,
		&created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	cp.Status = types.BackfillStatus(status)
	if cp.OverallStart, err = parseStoredDate(start); err != nil {
		return nil, err
	}
	if cp.OverallEnd, err = parseStoredDate(end); err != nil {
		return nil, err
	}
	if cp.CompletedThrough, err = parseStoredDate(through); err != nil {
		return nil, err
	}
	if cp.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if cp.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &cp, nil
}

// AppendBackfillAudit appends one per-chunk audit row.
func (s *Store) AppendBackfillAudit(ctx context.Context, tenant string, audit *types.BackfillAudit) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	createdAt := audit.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backfill_audit (tenant_id, backfill_id, chunk_start, chunk_end,
			status, run_id, error_message, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tenant, audit.BackfillID, fmtDate(audit.ChunkStart), fmtDate(audit.ChunkEnd),
		string(audit.Status), audit.RunID, audit.ErrorMessage, audit.DurationSeconds,
		fmtTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to append backfill audit: %w", err)
	}
	return nil
}

// ListBackfillAudit returns the per-chunk history for one backfill in
// execution order.
func (s *Store) ListBackfillAudit(ctx context.Context, tenant, backfillID string) ([]*types.BackfillAudit, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT backfill_id, chunk_start, chunk_end, status, run_id,
			error_message, duration_seconds, created_at
		FROM backfill_audit WHERE tenant_id = ? AND backfill_id = ? ORDER BY id
	`, tenant, backfillID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backfill audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.BackfillAudit
	for rows.Next() {
		audit := &types.BackfillAudit{}
		var status, start, end, created string
		err := rows.Scan(&audit.BackfillID, &start, &end, &status, &audit.RunID,
			&audit.ErrorMessage, &audit.DurationSeconds, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backfill audit: %w", err)
		}
		audit.Status = types.RunStatus(status)
		if audit.ChunkStart, err = parseStoredDate(start); err != nil {
			return nil, err
		}
		if audit.ChunkEnd, err = parseStoredDate(end); err != nil {
			return nil, err
		}
		if audit.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, audit)
	}
	return out, rows.Err()
}
