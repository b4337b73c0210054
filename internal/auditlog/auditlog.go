// Package auditlog wraps the store's hash-chained audit log with
// append helpers and chain verification.
package auditlog

import (
	"context"
	"fmt"

	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
)

// Log is the tenant-scoped audit writer.
type Log struct {
	store state.Store
}

// New returns a Log backed by store.
func New(store state.Store) *Log {
	return &Log{store: store}
}

// Append records one action in the tenant's chain.
func (l *Log) Append(ctx context.Context, tenant, actor, action, entityType, entityID string, metadata map[string]any) error {
	return l.store.AppendAudit(ctx, tenant, &types.AuditEntry{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
	})
}

// Entries returns the oldest-first chain, up to limit entries (<= 0 for
// all).
func (l *Log) Entries(ctx context.Context, tenant string, limit int) ([]*types.AuditEntry, error) {
	return l.store.ListAudit(ctx, tenant, limit)
}

// VerifyChain walks the chain oldest-first, recomputing every hash and
// checking each link. It returns whether the chain is intact and how
// many entries verified; for a broken chain the count stops at the
// last intact entry.
func (l *Log) VerifyChain(ctx context.Context, tenant string, limit int) (bool, int64, error) {
	entries, err := l.store.ListAudit(ctx, tenant, limit)
	if err != nil {
		return false, 0, err
	}
	previous := ""
	checked := int64(0)
	for _, e := range entries {
		if e.PreviousHash != previous {
			return false, checked, nil
		}
		want := types.ComputeAuditHash(tenant, e.Actor, e.Action, e.EntityType,
			e.EntityID, types.SerializeMetadata(e.Metadata), e.PreviousHash, e.CreatedAt)
		if e.EntryHash != want {
			return false, checked, nil
		}
		previous = e.EntryHash
		checked++
	}
	return true, checked, nil
}

// MustVerify is VerifyChain hardened into an error: a broken chain
// comes back as an IntegrityError naming how far verification got.
func (l *Log) MustVerify(ctx context.Context, tenant string) error {
	ok, checked, err := l.VerifyChain(ctx, tenant, 0)
	if err != nil {
		return err
	}
	if !ok {
		return &types.IntegrityError{Reason: fmt.Sprintf("audit chain broken after %d intact entries", checked)}
	}
	return nil
}
