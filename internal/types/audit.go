package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// AuditEntry is one record in a tenant's append-only, hash-chained
// audit log. EntryHash covers every content field plus the previous
// entry's hash, so mutating any stored entry breaks the chain from
// that point onward.
type AuditEntry struct {
	ID           int64
	Actor        string
	Action       string
	EntityType   string
	EntityID     string
	Metadata     map[string]any
	PreviousHash string
	EntryHash    string
	CreatedAt    time.Time
}

// SerializeMetadata renders metadata as deterministic key=value pairs
// sorted by key, so the entry hash is stable across encoders.
func SerializeMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := json.Marshal(metadata[k])
		parts = append(parts, k+"="+string(v))
	}
	return strings.Join(parts, ",")
}

// ComputeAuditHash derives the entry hash for a tenant's chain.
func ComputeAuditHash(tenant, actor, action, entityType, entityID, serializedMetadata, previousHash string, createdAt time.Time) string {
	payload := strings.Join([]string{
		tenant,
		actor,
		action,
		entityType,
		entityID,
		serializedMetadata,
		previousHash,
		createdAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
