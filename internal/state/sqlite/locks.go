package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// AcquireLock takes the advisory lock on (model, range) for the lock's
// owner. The expired-lock sweep and the insert happen in one immediate
// transaction, so exactly one of two racing owners wins.
//
// Re-acquiring a lock the same owner already holds refreshes it.
func (s *Store) AcquireLock(ctx context.Context, tenant string, lock *types.Lock) (bool, error) {
	if err := requireTenant(tenant); err != nil {
		return false, err
	}
	if lock.ModelName == "" || lock.Owner == "" {
		return false, &types.ValidationError{Field: "lock", Reason: "model name and owner are required"}
	}
	if lock.TTLSeconds <= 0 {
		return false, &types.ValidationError{Field: "ttl_seconds", Reason: "ttl must be positive"}
	}
	lockedAt := lock.LockedAt
	if lockedAt.IsZero() {
		lockedAt = time.Now()
	}

	acquired := false
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		start, end := fmtDate(lock.RangeStart), fmtDate(lock.RangeEnd)

		var owner, heldAt string
		var ttl int
		err := conn.QueryRowContext(ctx, `
			SELECT owner, locked_at, ttl_seconds FROM partition_locks
			WHERE tenant_id = ? AND model_name = ? AND range_start = ? AND range_end = ?
		`, tenant, lock.ModelName, start, end).Scan(&owner, &heldAt, &ttl)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to check lock: %w", err)
		default:
			held, perr := parseTime(heldAt)
			if perr != nil {
				return perr
			}
			holder := &types.Lock{Owner: owner, LockedAt: held, TTLSeconds: ttl}
			if owner != lock.Owner && !holder.Expired(lockedAt) {
				return nil
			}
			_, err = conn.ExecContext(ctx, `
				DELETE FROM partition_locks
				WHERE tenant_id = ? AND model_name = ? AND range_start = ? AND range_end = ?
			`, tenant, lock.ModelName, start, end)
			if err != nil {
				return fmt.Errorf("failed to clear stale lock: %w", err)
			}
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO partition_locks (tenant_id, model_name, range_start, range_end, owner, locked_at, ttl_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, tenant, lock.ModelName, start, end, lock.Owner, fmtTime(lockedAt), lock.TTLSeconds)
		if err != nil {
			return fmt.Errorf("failed to insert lock: %w", err)
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseLock drops the lock if the caller owns it. Releasing a lock
// held by someone else, or no lock at all, reports false.
func (s *Store) ReleaseLock(ctx context.Context, tenant, model string, start, end time.Time, owner string) (bool, error) {
	if err := requireTenant(tenant); err != nil {
		return false, err
	}
	released := false
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			DELETE FROM partition_locks
			WHERE tenant_id = ? AND model_name = ? AND range_start = ? AND range_end = ? AND owner = ?
		`, tenant, model, fmtDate(start), fmtDate(end), owner)
		if err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check release: %w", err)
		}
		released = n > 0
		return nil
	})
	return released, err
}

// GetLock returns the lock row for (model, range), expired or not.
func (s *Store) GetLock(ctx context.Context, tenant, model string, start, end time.Time) (*types.Lock, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT model_name, range_start, range_end, owner, locked_at, ttl_seconds
		FROM partition_locks
		WHERE tenant_id = ? AND model_name = ? AND range_start = ? AND range_end = ?
	`, tenant, model, fmtDate(start), fmtDate(end))
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "lock", ID: fmt.Sprintf("%s %s..%s", model, fmtDate(start), fmtDate(end))}
	}
	return lock, err
}

// ListLocks returns every lock row for a tenant.
func (s *Store) ListLocks(ctx context.Context, tenant string) ([]*types.Lock, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, range_start, range_end, owner, locked_at, ttl_seconds
		FROM partition_locks WHERE tenant_id = ?
		ORDER BY model_name, range_start
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}

// DeleteExpiredLocks sweeps lapsed locks and reports how many were
// removed.
func (s *Store) DeleteExpiredLocks(ctx context.Context, tenant string, now time.Time) (int, error) {
	if err := requireTenant(tenant); err != nil {
		return 0, err
	}
	locks, err := s.ListLocks(ctx, tenant)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, lock := range locks {
		if !lock.Expired(now) {
			continue
		}
		ok, err := s.ReleaseLock(ctx, tenant, lock.ModelName, lock.RangeStart, lock.RangeEnd, lock.Owner)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func scanLock(row rowScanner) (*types.Lock, error) {
	var lock types.Lock
	var start, end, lockedAt string
	err := row.Scan(&lock.ModelName, &start, &end, &lock.Owner, &lockedAt, &lock.TTLSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan lock: %w", err)
	}
	if lock.RangeStart, err = parseStoredDate(start); err != nil {
		return nil, err
	}
	if lock.RangeEnd, err = parseStoredDate(end); err != nil {
		return nil, err
	}
	if lock.LockedAt, err = parseTime(lockedAt); err != nil {
		return nil, err
	}
	return &lock, nil
}
