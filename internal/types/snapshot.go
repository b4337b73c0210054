package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is an immutable point-in-time capture of
// {model name -> model version id} for one environment.
type Snapshot struct {
	ID          string
	Name        string
	Environment string
	Models      map[string]string
	CreatedAt   time.Time
}

// ComputeSnapshotID derives the deterministic snapshot identifier from
// tenant, environment, and the sorted (name, version) pairs.
func ComputeSnapshotID(tenant, environment string, models map[string]string) string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(tenant)
	sb.WriteByte('|')
	sb.WriteString(environment)
	for _, name := range names {
		fmt.Fprintf(&sb, "|%s=%s", name, models[name])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// DiffResult is the structural difference between two snapshots, as
// sorted model-name sets.
type DiffResult struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the diff contains no changes.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Changed returns the sorted union of added and modified models.
func (d *DiffResult) Changed() []string {
	out := make([]string, 0, len(d.Added)+len(d.Modified))
	out = append(out, d.Added...)
	out = append(out, d.Modified...)
	sort.Strings(out)
	return out
}
