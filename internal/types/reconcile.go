package types

import "time"

// DiscrepancyType classifies a disagreement between the control plane
// and the warehouse about a run's outcome.
type DiscrepancyType string

const (
	DiscrepancyStatusMismatch DiscrepancyType = "STATUS_MISMATCH"
	DiscrepancyMissingRun     DiscrepancyType = "MISSING_IN_WAREHOUSE"
)

// ReconciliationCheck records one comparison of a run's recorded status
// against warehouse truth. Resolved is set immediately when the two
// agree; otherwise an operator resolves it with a note.
type ReconciliationCheck struct {
	CheckID         int64
	RunID           string
	ExpectedStatus  RunStatus
	WarehouseStatus string
	DiscrepancyType DiscrepancyType
	Resolved        bool
	ResolvedBy      string
	ResolutionNote  string
	CheckedAt       time.Time
	ResolvedAt      time.Time
}

// ReconciliationSchedule carries a cron expression for an external
// trigger loop; the loop itself lives outside the control plane.
type ReconciliationSchedule struct {
	ScheduleID int64
	Name       string
	CronExpr   string
	Enabled    bool
	NextRunAt  time.Time
	CreatedAt  time.Time
}
