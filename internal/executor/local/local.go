// Package local runs plan steps against an embedded SQLite sandbox.
// It exists for dry runs and tests: same orchestration path, no
// warehouse.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/sqlkit"
	"github.com/fathomdata/trellis/internal/types"
)

// Level is the most ambitious validation the sandbox attempts; lower
// levels serve as fallbacks.
type Level string

const (
	// LevelExecute runs the SQL against the sandbox database.
	LevelExecute Level = "execute"
	// LevelExplain plans the SQL without running it.
	LevelExplain Level = "explain"
	// LevelParse only parses the SQL with the toolkit.
	LevelParse Level = "parse"
)

// Executor is the sandbox backend.
type Executor struct {
	db      *sql.DB
	level   Level
	dialect string
}

var _ executor.Executor = (*Executor)(nil)

// New opens a sandbox database at dbPath (":memory:" works) at the
// given level. dialect is used for parse-level checks.
func New(dbPath string, level Level, dialect string) (*Executor, error) {
	switch level {
	case LevelExecute, LevelExplain, LevelParse:
	default:
		return nil, &types.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown sandbox level %q", level)}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox database: %w", err)
	}
	return &Executor{db: db, level: level, dialect: dialect}, nil
}

// Close closes the sandbox database.
func (e *Executor) Close() error {
	return e.db.Close()
}

// ExecuteStep validates one step's SQL, starting at the configured
// level and falling back down the ladder (execute, explain, parse).
// Success at any level is success; ExternalRunID records the level
// that actually passed. A FAILED result means every level failed: an
// error return means the sandbox itself broke.
func (e *Executor) ExecuteStep(ctx context.Context, step *types.PlanStep, sqlText string) (*executor.RunResult, error) {
	started := time.Now()
	result := &executor.RunResult{StartedAt: started}

	var firstErr error
	for _, level := range ladder(e.level) {
		var err error
		switch level {
		case LevelExecute:
			_, err = e.db.ExecContext(ctx, sqlText)
		case LevelExplain:
			_, err = e.db.ExecContext(ctx, "EXPLAIN QUERY PLAN "+sqlText)
		case LevelParse:
			err = e.parseOnly(sqlText)
		}
		if err == nil {
			result.Status = types.RunSuccess
			result.ExternalRunID = "sandbox:" + string(level)
			result.FinishedAt = time.Now()
			result.Telemetry = &types.Telemetry{
				ModelName:      step.Model,
				RuntimeSeconds: result.FinishedAt.Sub(started).Seconds(),
			}
			return result, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	result.Status = types.RunFailed
	result.FinishedAt = time.Now()
	result.ErrorMessage = firstErr.Error()
	return result, nil
}

// ladder lists the levels to attempt, most ambitious first.
func ladder(top Level) []Level {
	switch top {
	case LevelExecute:
		return []Level{LevelExecute, LevelExplain, LevelParse}
	case LevelExplain:
		return []Level{LevelExplain, LevelParse}
	default:
		return []Level{LevelParse}
	}
}

func (e *Executor) parseOnly(sqlText string) error {
	kit, err := sqlkit.Get()
	if err != nil {
		return err
	}
	_, err = kit.ParseOne(sqlText, e.dialect)
	return err
}
