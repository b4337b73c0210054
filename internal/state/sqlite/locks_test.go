package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

func testLock(owner string, ttl int) *types.Lock {
	return &types.Lock{
		ModelName:  "analytics.orders_daily",
		RangeStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Owner:      owner,
		TTLSeconds: ttl,
	}
}

func TestAcquireLockContention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, testTenant, testLock("worker-1", 3600))
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}

	ok, err = store.AcquireLock(ctx, testTenant, testLock("worker-2", 3600))
	if err != nil {
		t.Fatalf("second acquire errored: %v", err)
	}
	if ok {
		t.Error("second owner acquired a held lock")
	}

	// Same owner refreshes.
	ok, err = store.AcquireLock(ctx, testTenant, testLock("worker-1", 3600))
	if err != nil || !ok {
		t.Errorf("re-acquire by holder = %v, %v", ok, err)
	}
}

func TestAcquireExpiredLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := testLock("worker-1", 60)
	stale.LockedAt = time.Now().Add(-2 * time.Minute)
	if ok, err := store.AcquireLock(ctx, testTenant, stale); err != nil || !ok {
		t.Fatalf("seed acquire = %v, %v", ok, err)
	}

	ok, err := store.AcquireLock(ctx, testTenant, testLock("worker-2", 3600))
	if err != nil {
		t.Fatalf("acquire over expired lock errored: %v", err)
	}
	if !ok {
		t.Error("expired lock blocked a new owner")
	}

	got, err := store.GetLock(ctx, testTenant, "analytics.orders_daily",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if got.Owner != "worker-2" {
		t.Errorf("owner = %s, want worker-2", got.Owner)
	}
}

func TestReleaseLockOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	if ok, err := store.AcquireLock(ctx, testTenant, testLock("worker-1", 3600)); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}

	ok, err := store.ReleaseLock(ctx, testTenant, "analytics.orders_daily", start, end, "worker-2")
	if err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if ok {
		t.Error("non-owner released the lock")
	}

	ok, err = store.ReleaseLock(ctx, testTenant, "analytics.orders_daily", start, end, "worker-1")
	if err != nil || !ok {
		t.Errorf("owner release = %v, %v", ok, err)
	}

	// Released means gone.
	ok, err = store.AcquireLock(ctx, testTenant, testLock("worker-2", 3600))
	if err != nil || !ok {
		t.Errorf("acquire after release = %v, %v", ok, err)
	}
}

func TestDeleteExpiredLocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := testLock("worker-1", 60)
	stale.LockedAt = time.Now().Add(-time.Hour)
	if ok, err := store.AcquireLock(ctx, testTenant, stale); err != nil || !ok {
		t.Fatalf("seed acquire = %v, %v", ok, err)
	}
	live := testLock("worker-2", 3600)
	live.ModelName = "raw.events"
	if ok, err := store.AcquireLock(ctx, testTenant, live); err != nil || !ok {
		t.Fatalf("live acquire = %v, %v", ok, err)
	}

	removed, err := store.DeleteExpiredLocks(ctx, testTenant, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredLocks failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	locks, err := store.ListLocks(ctx, testTenant)
	if err != nil {
		t.Fatalf("ListLocks failed: %v", err)
	}
	if len(locks) != 1 || locks[0].ModelName != "raw.events" {
		t.Errorf("remaining locks = %+v", locks)
	}
}
