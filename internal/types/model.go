// Package types defines the core domain types shared across the control plane.
package types

import (
	"fmt"
	"sort"
	"time"
)

// ModelKind describes how a model is recomputed.
type ModelKind string

const (
	KindFullRefresh       ModelKind = "FULL_REFRESH"
	KindIncrementalByTime ModelKind = "INCREMENTAL_BY_TIME_RANGE"
	KindMergeByKey        ModelKind = "MERGE_BY_KEY"
	KindView              ModelKind = "VIEW"
)

// Valid reports whether k is a known model kind.
func (k ModelKind) Valid() bool {
	switch k {
	case KindFullRefresh, KindIncrementalByTime, KindMergeByKey, KindView:
		return true
	}
	return false
}

// Materialization describes how a model's output lands in the warehouse.
type Materialization string

const (
	MaterializeTable           Materialization = "TABLE"
	MaterializeView            Materialization = "VIEW"
	MaterializeInsertOverwrite Materialization = "INSERT_OVERWRITE"
	MaterializeMerge           Materialization = "MERGE"
)

// Valid reports whether m is a known materialization.
func (m Materialization) Valid() bool {
	switch m {
	case MaterializeTable, MaterializeView, MaterializeInsertOverwrite, MaterializeMerge:
		return true
	}
	return false
}

// ContractMode controls how schema contract violations are treated.
type ContractMode string

const (
	ContractDisabled ContractMode = "DISABLED"
	ContractWarn     ContractMode = "WARN"
	ContractStrict   ContractMode = "STRICT"
)

// ContractColumn is one declared output column of a model contract.
type ContractColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// ModelDefinition is the canonical in-memory form of one SQL model file.
type ModelDefinition struct {
	Name                string
	Kind                ModelKind
	Materialization     Materialization
	TimeColumn          string
	UniqueKey           string
	PartitionBy         string
	IncrementalStrategy string
	Owner               string
	Tags                []string

	RawSQL   string
	CleanSQL string

	// ContentHash is SHA-256 of the canonical normalized CleanSQL.
	ContentHash string

	// Dependencies is the sorted union of header-declared deps and deps
	// discovered by scope-aware parsing of CleanSQL.
	Dependencies []string

	ContractMode    ContractMode
	ContractColumns []ContractColumn

	LoadedAt time.Time
}

// Validate checks kind-specific required fields.
func (m *ModelDefinition) Validate() error {
	if m.Name == "" {
		return &ValidationError{Field: "name", Reason: "model name is required"}
	}
	if !m.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown model kind %q for %s", m.Kind, m.Name)}
	}
	if m.Materialization != "" && !m.Materialization.Valid() {
		return &ValidationError{Field: "materialization", Reason: fmt.Sprintf("unknown materialization %q for %s", m.Materialization, m.Name)}
	}
	if m.Kind == KindIncrementalByTime && m.TimeColumn == "" {
		return &ValidationError{Field: "time_column", Reason: fmt.Sprintf("model %s is INCREMENTAL_BY_TIME_RANGE and must declare time_column", m.Name)}
	}
	if m.Kind == KindMergeByKey && m.UniqueKey == "" {
		return &ValidationError{Field: "unique_key", Reason: fmt.Sprintf("model %s is MERGE_BY_KEY and must declare unique_key", m.Name)}
	}
	return nil
}

// SortedTags returns a sorted copy of the model's tags.
func (m *ModelDefinition) SortedTags() []string {
	out := append([]string(nil), m.Tags...)
	sort.Strings(out)
	return out
}
