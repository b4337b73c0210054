package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

const testTenant = "acme"

// newTestStore opens a store on a temp file. File-backed databases are
// more reliable than in-memory for connection pool scenarios.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), t.TempDir()+"/state.db")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close test database: %v", cerr)
		}
	})
	return store
}

func testModel(name string, kind types.ModelKind) *types.ModelDefinition {
	def := &types.ModelDefinition{
		Name:        name,
		Kind:        kind,
		RawSQL:      "SELECT 1",
		CleanSQL:    "SELECT 1",
		ContentHash: "hash-" + name,
		LoadedAt:    time.Now(),
	}
	if kind == types.KindIncrementalByTime {
		def.TimeColumn = "day"
	}
	return def
}

func testRun(runID, stepID string, status types.RunStatus) *types.RunRecord {
	return &types.RunRecord{
		RunID:     runID,
		PlanID:    "plan-1",
		StepID:    stepID,
		ModelName: "analytics.orders_daily",
		Status:    status,
		StartedAt: time.Now().Add(-time.Minute),
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := types.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}
