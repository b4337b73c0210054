// Package sqlite implements state.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
)

// Store is the SQLite-backed state store.
type Store struct {
	db   *sql.DB
	path string
}

var _ state.Store = (*Store)(nil)

// New opens (creating if needed) the state database at dbPath and
// applies the schema. Schema application is bracketed by a file lock so
// concurrent first-open from multiple processes cannot interleave DDL.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := applySchema(ctx, db, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: dbPath}, nil
}

func applySchema(ctx context.Context, db *sql.DB, dbPath string) error {
	lock := flock.New(lockPath(dbPath))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire schema lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("schema lock at %s is held by another process", lockPath(dbPath))
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func lockPath(dbPath string) string {
	dir := filepath.Dir(dbPath)
	return filepath.Join(dir, "."+filepath.Base(dbPath)+".lock")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UnderlyingDB exposes the raw handle for maintenance tooling and
// tests. Production code goes through the Store methods.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// withImmediateTx runs fn inside a BEGIN IMMEDIATE transaction,
// retrying the begin on SQLITE_BUSY with exponential backoff. The write
// lock is taken up front so two writers never deadlock mid-transaction.
func (s *Store) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	committed = true
	return nil
}

func beginImmediate(ctx context.Context, conn *sql.Conn, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Timestamps are stored as RFC3339Nano TEXT so the audit hash, which
// covers the nanosecond timestamp, survives a round trip exactly. Zero
// times are stored as the empty string.

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &types.IntegrityError{Reason: fmt.Sprintf("malformed stored timestamp %q", s)}
	}
	return t, nil
}

// Partition boundaries are stored as YYYY-MM-DD.

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(types.DateFormat)
}

func parseStoredDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(types.DateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, &types.IntegrityError{Reason: fmt.Sprintf("malformed stored date %q", s)}
	}
	return t, nil
}

func requireTenant(tenant string) error {
	if tenant == "" {
		return &types.ValidationError{Field: "tenant", Reason: "tenant id is required"}
	}
	return nil
}
