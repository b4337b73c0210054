package types

import "time"

// RunStatus is the lifecycle state of a single step execution.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSuccess   RunStatus = "SUCCESS"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal runs are
// immutable.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunRecord is the outcome of executing a single plan step.
type RunRecord struct {
	RunID        string
	PlanID       string
	StepID       string
	ModelName    string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	InputRange   *DateRange
	ErrorMessage string
	CostUSD      float64
	RetryCount   int

	// ExternalRunID is the compute backend's identifier for the run,
	// when the backend supplies one.
	ExternalRunID string
}

// Telemetry is the per-run resource accounting emitted after success.
type Telemetry struct {
	RunID          string
	ModelName      string
	RuntimeSeconds float64
	ShuffleBytes   int64
	InputRows      int64
	OutputRows     int64
	PartitionCount int
	RecordedAt     time.Time
}

// RunStats is the per-model aggregate the planner uses for estimates.
type RunStats struct {
	ModelName         string
	AvgRuntimeSeconds float64
	AvgCostUSD        float64
	SampleCount       int
}

// Watermark is the highest contiguous partition range successfully
// materialised for a model. Updated only after a successful
// incremental run.
type Watermark struct {
	ModelName      string
	PartitionStart time.Time
	PartitionEnd   time.Time
	UpdatedAt      time.Time
}
