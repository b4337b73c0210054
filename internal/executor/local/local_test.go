package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fathomdata/trellis/internal/sqlkit/tidbkit"
	"github.com/fathomdata/trellis/internal/types"
)

func TestMain(m *testing.M) {
	tidbkit.RegisterDefault()
	os.Exit(m.Run())
}

func newSandbox(t *testing.T, level Level) *Executor {
	t.Helper()
	e, err := New(filepath.Join(t.TempDir(), "sandbox.db"), level, "mysql")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func step(model string) *types.PlanStep {
	return &types.PlanStep{StepID: "s1", Model: model, RunType: types.RunFullRefresh}
}

func TestExecuteStepSucceedsAtExecuteLevel(t *testing.T) {
	e := newSandbox(t, LevelExecute)

	result, err := e.ExecuteStep(context.Background(), step("m"), "SELECT 1")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.Status != types.RunSuccess {
		t.Fatalf("status = %s: %s", result.Status, result.ErrorMessage)
	}
	if result.ExternalRunID != "sandbox:execute" {
		t.Errorf("external run id = %q, want sandbox:execute", result.ExternalRunID)
	}
	if result.Telemetry == nil {
		t.Error("telemetry missing on success")
	}
}

func TestExecuteStepFallsBackToExplain(t *testing.T) {
	e := newSandbox(t, LevelExecute)
	ctx := context.Background()

	// A duplicate key fails at runtime but still plans cleanly, so the
	// ladder lands on the explain level.
	if _, err := e.db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := e.db.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	result, err := e.ExecuteStep(ctx, step("m"), "INSERT INTO t VALUES (1)")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.Status != types.RunSuccess {
		t.Fatalf("status = %s: %s", result.Status, result.ErrorMessage)
	}
	if result.ExternalRunID != "sandbox:explain" {
		t.Errorf("external run id = %q, want sandbox:explain", result.ExternalRunID)
	}
}

func TestExecuteStepFallsBackToParse(t *testing.T) {
	e := newSandbox(t, LevelExecute)

	// The table does not exist in the sandbox, so execute and explain
	// both fail; the statement still parses under the dialect.
	result, err := e.ExecuteStep(context.Background(), step("m"),
		"SELECT DATE_FORMAT(order_ts, '%Y-%m-%d') FROM orders")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.Status != types.RunSuccess {
		t.Fatalf("status = %s: %s", result.Status, result.ErrorMessage)
	}
	if result.ExternalRunID != "sandbox:parse" {
		t.Errorf("external run id = %q, want sandbox:parse", result.ExternalRunID)
	}
}

func TestExecuteStepFailsWhenEveryLevelFails(t *testing.T) {
	e := newSandbox(t, LevelExecute)

	result, err := e.ExecuteStep(context.Background(), step("m"), "definitely not sql")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.Status != types.RunFailed || result.ErrorMessage == "" {
		t.Errorf("result = %+v, want FAILED with an error message", result)
	}
}

func TestExplainLevelDoesNotExecute(t *testing.T) {
	e := newSandbox(t, LevelExplain)
	ctx := context.Background()

	if _, err := e.db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	result, err := e.ExecuteStep(ctx, step("m"), "INSERT INTO t VALUES (1)")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.ExternalRunID != "sandbox:explain" {
		t.Errorf("external run id = %q, want sandbox:explain", result.ExternalRunID)
	}

	var n int
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("explain level inserted %d rows", n)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(":memory:", Level("dry-run"), "mysql")
	var validation *types.ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("New with bad level = %v, want ValidationError", err)
	}
}
