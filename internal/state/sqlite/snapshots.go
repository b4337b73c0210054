package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// SaveSnapshot stores a snapshot and its model set atomically.
// Snapshots are immutable: re-saving an existing id is a no-op when the
// content matches and a ConflictError when it does not.
func (s *Store) SaveSnapshot(ctx context.Context, tenant string, snap *types.Snapshot) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if snap.ID == "" {
		return &types.ValidationError{Field: "snapshot_id", Reason: "snapshot id is required"}
	}

	existing, err := s.GetSnapshot(ctx, tenant, snap.ID)
	if err == nil {
		if sameModels(existing.Models, snap.Models) {
			return nil
		}
		return &types.ConflictError{Reason: fmt.Sprintf("snapshot %s already exists with different content", snap.ID)}
	}
	var notFound *types.NotFoundError
	if !errors.As(err, &notFound) {
		return err
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO snapshots (tenant_id, id, name, environment, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, tenant, snap.ID, snap.Name, snap.Environment, fmtTime(createdAt))
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		for name, version := range snap.Models {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO snapshot_models (tenant_id, snapshot_id, model_name, version_id)
				VALUES (?, ?, ?, ?)
			`, tenant, snap.ID, name, version)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot model %s: %w", name, err)
			}
		}
		return nil
	})
}

func sameModels(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// GetSnapshot loads a snapshot and its model map.
func (s *Store) GetSnapshot(ctx context.Context, tenant, id string) (*types.Snapshot, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	snap := &types.Snapshot{ID: id, Models: map[string]string{}}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, environment, created_at FROM snapshots WHERE tenant_id = ? AND id = ?`,
		tenant, id).Scan(&snap.Name, &snap.Environment, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "snapshot", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model_name, version_id FROM snapshot_models WHERE tenant_id = ? AND snapshot_id = ?`,
		tenant, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot models: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot model: %w", err)
		}
		snap.Models[name] = version
	}
	return snap, rows.Err()
}

// LatestSnapshot returns the most recently created snapshot for an
// environment.
func (s *Store) LatestSnapshot(ctx context.Context, tenant, environment string) (*types.Snapshot, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM snapshots
		WHERE tenant_id = ? AND environment = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, tenant, environment).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "snapshot", ID: "latest:" + environment}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	return s.GetSnapshot(ctx, tenant, id)
}

// ListSnapshots returns snapshot headers (no model maps) newest first.
// Pass an empty environment to list across environments.
func (s *Store) ListSnapshots(ctx context.Context, tenant, environment string) ([]*types.Snapshot, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	query := `SELECT id, name, environment, created_at FROM snapshots WHERE tenant_id = ?`
	args := []any{tenant}
	if environment != "" {
		query += ` AND environment = ?`
		args = append(args, environment)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Snapshot
	for rows.Next() {
		snap := &types.Snapshot{}
		var created string
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.Environment, &created); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
