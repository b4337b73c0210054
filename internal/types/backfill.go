package types

import "time"

// BackfillStatus is the lifecycle state of a chunked backfill.
type BackfillStatus string

const (
	BackfillRunning   BackfillStatus = "RUNNING"
	BackfillCompleted BackfillStatus = "COMPLETED"
	BackfillFailed    BackfillStatus = "FAILED"
)

// BackfillCheckpoint is the persistent progress record for a chunked
// backfill. CompletedThrough is the inclusive last date fully
// materialised; resume starts the day after it.
type BackfillCheckpoint struct {
	BackfillID       string
	ModelName        string
	OverallStart     time.Time
	OverallEnd       time.Time
	ChunkSizeDays    int
	Status           BackfillStatus
	CompletedThrough time.Time
	TotalChunks      int
	CompletedChunks  int
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BackfillAudit is one row per executed chunk.
type BackfillAudit struct {
	BackfillID      string
	ChunkStart      time.Time
	ChunkEnd        time.Time
	Status          RunStatus
	RunID           string
	ErrorMessage    string
	DurationSeconds float64
	CreatedAt       time.Time
}
