// Package executor defines the compute-backend boundary. The
// orchestrator hands a step and its SQL to an Executor and records
// whatever comes back; retries, credentials, and transport belong to
// the implementations.
package executor

import (
	"context"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// RunResult is the backend's account of one step execution.
type RunResult struct {
	Status       types.RunStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	ErrorMessage string

	// ExternalRunID is the backend's own identifier for the run, used
	// later by reconciliation. Empty when the backend has none.
	ExternalRunID string

	// Telemetry is resource accounting for successful runs, when the
	// backend reports it.
	Telemetry *types.Telemetry
}

// Executor runs one plan step's SQL against a compute backend.
type Executor interface {
	ExecuteStep(ctx context.Context, step *types.PlanStep, sqlText string) (*RunResult, error)
}

// StatusChecker answers what the backend currently believes about a
// run. Reconciliation compares this against the control plane's record.
type StatusChecker interface {
	CheckRunStatus(ctx context.Context, externalRunID string) (string, error)
}
