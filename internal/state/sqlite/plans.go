package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/planfile"
	"github.com/fathomdata/trellis/internal/types"
)

// SavePlan stores a plan with its body in canonical plan JSON. Saving
// the same plan id twice is a no-op; plans are immutable once written.
func (s *Store) SavePlan(ctx context.Context, tenant string, plan *types.Plan) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if plan == nil || plan.PlanID == "" {
		return &types.ValidationError{Field: "plan_id", Reason: "plan id is required"}
	}
	payload, err := planfile.Encode(plan)
	if err != nil {
		return err
	}
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO plans (tenant_id, plan_id, base, target, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tenant, plan.PlanID, plan.Base, plan.Target, string(payload), fmtTime(plan.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to save plan: %w", err)
		}
		return nil
	})
}

// GetPlan loads and decodes a stored plan.
func (s *Store) GetPlan(ctx context.Context, tenant, planID string) (*types.Plan, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM plans WHERE tenant_id = ? AND plan_id = ?`,
		tenant, planID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "plan", ID: planID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return planfile.Decode([]byte(payload))
}

// ApprovePlan appends an approval record. The plan must exist; a second
// approval by the same user is rejected.
func (s *Store) ApprovePlan(ctx context.Context, tenant, planID string, approval types.PlanApproval) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if approval.ApprovedBy == "" {
		return &types.ValidationError{Field: "approved_by", Reason: "approver is required"}
	}
	approvedAt := approval.ApprovedAt
	if approvedAt.IsZero() {
		approvedAt = time.Now()
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var exists int
		err := conn.QueryRowContext(ctx,
			`SELECT 1 FROM plans WHERE tenant_id = ? AND plan_id = ?`,
			tenant, planID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return &types.NotFoundError{Entity: "plan", ID: planID}
		}
		if err != nil {
			return fmt.Errorf("failed to check plan: %w", err)
		}

		var already int
		err = conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM plan_approvals
			WHERE tenant_id = ? AND plan_id = ? AND approved_by = ?
		`, tenant, planID, approval.ApprovedBy).Scan(&already)
		if err != nil {
			return fmt.Errorf("failed to check approvals: %w", err)
		}
		if already > 0 {
			return &types.ConflictError{Reason: fmt.Sprintf("plan %s is already approved by %s", planID, approval.ApprovedBy)}
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO plan_approvals (tenant_id, plan_id, approved_by, approved_at)
			VALUES (?, ?, ?, ?)
		`, tenant, planID, approval.ApprovedBy, fmtTime(approvedAt))
		if err != nil {
			return fmt.Errorf("failed to record approval: %w", err)
		}
		return nil
	})
}

// GetApprovals lists a plan's approvals in approval order.
func (s *Store) GetApprovals(ctx context.Context, tenant, planID string) ([]types.PlanApproval, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT approved_by, approved_at FROM plan_approvals
		WHERE tenant_id = ? AND plan_id = ? ORDER BY id
	`, tenant, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.PlanApproval
	for rows.Next() {
		var a types.PlanApproval
		var at string
		if err := rows.Scan(&a.ApprovedBy, &at); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		if a.ApprovedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
