// Package sqlkit defines the dialect-agnostic SQL capability surface
// used by the loader, planner, and orchestrator. Implementations back
// onto a third-party parser; no consumer imports that parser directly.
package sqlkit

import "fmt"

// CanonicalVersion tags the normalization rules used for content
// hashing. Any change to the rules must change the tag.
const CanonicalVersion = "v1"

// Statement is an opaque handle to one parsed statement.
type Statement interface {
	// Text returns the original SQL for the statement.
	Text() string
	// Dialect returns the dialect the statement was parsed under.
	Dialect() string
	// IsFallback reports whether the backend could not build a real
	// AST and wrapped the raw text instead.
	IsFallback() bool
}

// ParseError is returned for SQL the backend cannot parse in strict
// mode.
type ParseError struct {
	Dialect string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %s", e.Dialect, e.Detail)
}

// TableSet is the scope-aware table extraction result. Tables holds
// referenced external tables only; CTE names and subquery-local scopes
// are excluded from it and reported separately.
type TableSet struct {
	Tables []string
	CTEs   []string
}

// ColumnInfo summarises the column surface of a statement.
type ColumnInfo struct {
	OutputColumns     []string
	ReferencedColumns []string
	HasStar           bool
	HasAggregation    bool
	HasWindow         bool
}

// TranspileResult carries converted SQL. When conversion fails the
// original SQL is returned with FallbackUsed set; callers needing
// strict guarantees must check the flag.
type TranspileResult struct {
	SQL          string
	FallbackUsed bool
}

// SafetySeverity ranks a safety violation.
type SafetySeverity string

const (
	SafetyError   SafetySeverity = "error"
	SafetyWarning SafetySeverity = "warning"
)

// SafetyKind identifies the destructive operation detected.
type SafetyKind string

const (
	SafetyDropTable        SafetyKind = "DROP_TABLE"
	SafetyDropView         SafetyKind = "DROP_VIEW"
	SafetyDropSchema       SafetyKind = "DROP_SCHEMA"
	SafetyTruncate         SafetyKind = "TRUNCATE"
	SafetyDeleteNoWhere    SafetyKind = "DELETE_WITHOUT_WHERE"
	SafetyDropColumn       SafetyKind = "ALTER_DROP_COLUMN"
	SafetyGrantRevoke      SafetyKind = "GRANT_REVOKE"
	SafetyExec             SafetyKind = "EXEC"
	SafetyCreateUser       SafetyKind = "CREATE_USER"
	SafetyInsertOverwrite  SafetyKind = "INSERT_OVERWRITE_NO_PARTITION"
	SafetyInsertNotAllowed SafetyKind = "INSERT_NOT_ALLOWED"
)

// SafetyViolation is one detected destructive operation.
type SafetyViolation struct {
	Kind     SafetyKind
	Severity SafetySeverity
	Message  string
	// Statement is the offending statement's SQL.
	Statement string
}

// SafetyOptions tunes the safety guard.
type SafetyOptions struct {
	AllowInsert bool
}

// EditKind classifies one AST diff edit. Keep edits are never emitted.
type EditKind string

const (
	EditInsert EditKind = "INSERT"
	EditRemove EditKind = "REMOVE"
	EditUpdate EditKind = "UPDATE"
	EditMove   EditKind = "MOVE"
)

// DiffEdit is one structural change between two statements. Path names
// the clause or fragment the edit applies to.
type DiffEdit struct {
	Kind   EditKind
	Path   string
	Before string
	After  string
}

// EditScript is the two-phase diff result. CosmeticOnly is set when
// the normalized forms compare equal, in which case Edits is empty.
type EditScript struct {
	CosmeticOnly bool
	Edits        []DiffEdit
}

// RewriteRule replaces catalog/schema qualifiers on matching table
// references. Empty match fields are wildcards except that a rule with
// neither MatchSchema nor MatchCatalog matches only unqualified
// tables. Rules are applied in order of specificity: fully-qualified,
// schema-qualified, catalog-qualified, unqualified.
type RewriteRule struct {
	MatchCatalog string
	MatchSchema  string
	MatchTable   string

	SetCatalog string
	SetSchema  string
	SetTable   string
}

// TransformKind classifies one lineage hop.
type TransformKind string

const (
	TransformDirect      TransformKind = "direct"
	TransformExpression  TransformKind = "expression"
	TransformAggregation TransformKind = "aggregation"
	TransformWindow      TransformKind = "window"
	TransformCase        TransformKind = "case"
	TransformLiteral     TransformKind = "literal"
)

// ColumnRef names a source column.
type ColumnRef struct {
	Table  string
	Column string
}

// ColumnLineage traces one output column to its ultimate sources.
type ColumnLineage struct {
	Column    string
	Transform TransformKind
	Sources   []ColumnRef
}

// LineageResult is the column-level lineage of a statement. Unresolved
// lists outputs (such as a bare SELECT *) that could not be traced
// without schema information; they are reported, never fabricated.
type LineageResult struct {
	Columns    []ColumnLineage
	Unresolved []string
}

// Toolkit is the full capability set. Implementations must be safe for
// concurrent use.
type Toolkit interface {
	// ParseOne parses a single statement, failing with *ParseError on
	// invalid SQL.
	ParseOne(sql, dialect string) (Statement, error)
	// ParseMulti parses a script. In strict mode invalid statements
	// fail with *ParseError; otherwise they are wrapped as fallback
	// statements and reported as warnings.
	ParseMulti(sql, dialect string, strict bool) ([]Statement, []string, error)
	// Render converts a parsed statement back to SQL for the target
	// dialect.
	Render(stmt Statement, dialect string, pretty bool) (string, error)

	ExtractTables(sql, dialect string) (*TableSet, error)
	ExtractColumns(sql, dialect string) (*ColumnInfo, error)

	// Transpile converts SQL between dialects, falling back to the
	// original text on failure.
	Transpile(sql, from, to string) *TranspileResult

	// Normalize returns the canonical form used for content hashing.
	Normalize(sql, dialect string) (string, error)

	// Diff compares two statements, short-circuiting to CosmeticOnly
	// when their normalized forms are equal.
	Diff(before, after, dialect string) (*EditScript, error)

	CheckSafety(sql, dialect string, opts SafetyOptions) ([]SafetyViolation, error)

	// Rewrite applies qualifier rules via AST mutation.
	Rewrite(sql, dialect string, rules []RewriteRule) (string, error)

	// Lineage traces output columns to source columns. When schema maps
	// table name to its columns, SELECT * is expanded; without it, star
	// outputs are recorded as unresolved.
	Lineage(sql, dialect string, schema map[string][]string) (*LineageResult, error)
}
