package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// AppendAudit writes one audit entry, chaining its hash to the current
// tenant chain head. Reading the head and inserting happen in one
// immediate transaction, so concurrent appends serialize and the chain
// never forks.
func (s *Store) AppendAudit(ctx context.Context, tenant string, entry *types.AuditEntry) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if entry.Actor == "" || entry.Action == "" {
		return &types.ValidationError{Field: "audit", Reason: "actor and action are required"}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var previous string
		err := conn.QueryRowContext(ctx, `
			SELECT entry_hash FROM audit_log
			WHERE tenant_id = ? ORDER BY id DESC LIMIT 1
		`, tenant).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read chain head: %w", err)
		}

		entry.PreviousHash = previous
		entry.EntryHash = types.ComputeAuditHash(tenant, entry.Actor, entry.Action,
			entry.EntityType, entry.EntityID, types.SerializeMetadata(entry.Metadata),
			previous, entry.CreatedAt)

		res, err := conn.ExecContext(ctx, `
			INSERT INTO audit_log (tenant_id, actor, action, entity_type, entity_id,
				metadata, previous_hash, entry_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tenant, entry.Actor, entry.Action, entry.EntityType, entry.EntityID,
			string(metadata), entry.PreviousHash, entry.EntryHash, fmtTime(entry.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		entry.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read audit entry id: %w", err)
		}
		return nil
	})
}

// ListAudit returns audit entries in chain order (oldest first). A
// limit <= 0 returns the whole chain.
func (s *Store) ListAudit(ctx context.Context, tenant string, limit int) ([]*types.AuditEntry, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	query := `SELECT id, actor, action, entity_type, entity_id, metadata,
		previous_hash, entry_hash, created_at
		FROM audit_log WHERE tenant_id = ? ORDER BY id`
	args := []any{tenant}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.AuditEntry
	for rows.Next() {
		entry := &types.AuditEntry{}
		var metadata, created string
		err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.EntityType,
			&entry.EntityID, &metadata, &entry.PreviousHash, &entry.EntryHash, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				return nil, &types.IntegrityError{Reason: fmt.Sprintf("malformed audit metadata on entry %d", entry.ID)}
			}
		}
		if entry.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
