// Package locks manages TTL-bounded advisory locks on (model,
// partition range) pairs. Locks are cooperative: executors check them,
// the warehouse does not enforce them.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
)

// DefaultTTLSeconds is the lock lifetime when the caller does not
// choose one.
const DefaultTTLSeconds = 3600

// Manager coordinates lock acquisition, release, and the forced-release
// escape hatch.
type Manager struct {
	store state.Store
	audit *auditlog.Log
}

// NewManager returns a Manager over store, auditing through log.
func NewManager(store state.Store, log *auditlog.Log) *Manager {
	return &Manager{store: store, audit: log}
}

// Acquire takes the lock for owner, reporting false when a live lock is
// held by someone else. ttlSeconds <= 0 uses the default.
func (m *Manager) Acquire(ctx context.Context, tenant, model string, start, end time.Time, owner string, ttlSeconds int) (bool, error) {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}
	return m.store.AcquireLock(ctx, tenant, &types.Lock{
		ModelName:  model,
		RangeStart: start,
		RangeEnd:   end,
		Owner:      owner,
		TTLSeconds: ttlSeconds,
	})
}

// Release drops the caller's lock. Releasing a lock you do not hold
// reports false without error.
func (m *Manager) Release(ctx context.Context, tenant, model string, start, end time.Time, owner string) (bool, error) {
	return m.store.ReleaseLock(ctx, tenant, model, start, end, owner)
}

// Check returns the current holder of (model, range), expired locks
// included, or nil when no lock row exists.
func (m *Manager) Check(ctx context.Context, tenant, model string, start, end time.Time) (*types.Lock, error) {
	lock, err := m.store.GetLock(ctx, tenant, model, start, end)
	var notFound *types.NotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	return lock, err
}

// List returns every lock row for the tenant.
func (m *Manager) List(ctx context.Context, tenant string) ([]*types.Lock, error) {
	return m.store.ListLocks(ctx, tenant)
}

// ForceRelease removes a lock regardless of owner. The original owner
// is written to the audit log before the lock is dropped, so a stuck
// worker's identity survives the override.
func (m *Manager) ForceRelease(ctx context.Context, tenant, model string, start, end time.Time, actor string) error {
	lock, err := m.Check(ctx, tenant, model, start, end)
	if err != nil {
		return err
	}
	if lock == nil {
		return &types.NotFoundError{Entity: "lock", ID: fmt.Sprintf("%s %s..%s",
			model, start.Format(types.DateFormat), end.Format(types.DateFormat))}
	}

	err = m.audit.Append(ctx, tenant, actor, "lock_force_released", "lock", model, map[string]any{
		"original_owner": lock.Owner,
		"range_start":    lock.RangeStart.Format(types.DateFormat),
		"range_end":      lock.RangeEnd.Format(types.DateFormat),
		"locked_at":      lock.LockedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to audit force release: %w", err)
	}

	released, err := m.store.ReleaseLock(ctx, tenant, model, start, end, lock.Owner)
	if err != nil {
		return err
	}
	if !released {
		return &types.ConflictError{Reason: fmt.Sprintf("lock on %s changed hands during force release", model)}
	}
	return nil
}

// ExpireStale sweeps lapsed locks for a tenant and reports the count.
func (m *Manager) ExpireStale(ctx context.Context, tenant string) (int, error) {
	return m.store.DeleteExpiredLocks(ctx, tenant, time.Now())
}
