package tidbkit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

// CheckSafety detects destructive operations. Parsed statements are
// inspected on the AST; statements the parser rejects are treated as
// fallback commands and scanned for the same keywords, mirroring how
// parser escape hatches are handled upstream.
func (k *Kit) CheckSafety(sql, dialect string, opts sqlkit.SafetyOptions) ([]sqlkit.SafetyViolation, error) {
	stmts, _, err := k.ParseMulti(sql, dialect, false)
	if err != nil {
		return nil, err
	}
	var out []sqlkit.SafetyViolation
	for _, stmt := range stmts {
		s := stmt.(*statement)
		if s.fallback {
			out = append(out, scanFallback(s.raw, opts)...)
			continue
		}
		out = append(out, inspectNode(s.node, s.raw, opts)...)
	}
	return out, nil
}

func violation(kind sqlkit.SafetyKind, sev sqlkit.SafetySeverity, msg, stmt string) sqlkit.SafetyViolation {
	return sqlkit.SafetyViolation{Kind: kind, Severity: sev, Message: msg, Statement: stmt}
}

func inspectNode(node ast.StmtNode, raw string, opts sqlkit.SafetyOptions) []sqlkit.SafetyViolation {
	var out []sqlkit.SafetyViolation
	switch v := node.(type) {
	case *ast.DropTableStmt:
		kind, noun := sqlkit.SafetyDropTable, "table"
		if v.IsView {
			kind, noun = sqlkit.SafetyDropView, "view"
		}
		for _, t := range v.Tables {
			out = append(out, violation(kind, sqlkit.SafetyError,
				fmt.Sprintf("DROP %s %s", strings.ToUpper(noun), qualifiedName(t)), raw))
		}
	case *ast.DropDatabaseStmt:
		out = append(out, violation(sqlkit.SafetyDropSchema, sqlkit.SafetyError,
			fmt.Sprintf("DROP SCHEMA %s", v.Name.L), raw))
	case *ast.TruncateTableStmt:
		out = append(out, violation(sqlkit.SafetyTruncate, sqlkit.SafetyError,
			fmt.Sprintf("TRUNCATE %s", qualifiedName(v.Table)), raw))
	case *ast.DeleteStmt:
		if v.Where == nil {
			out = append(out, violation(sqlkit.SafetyDeleteNoWhere, sqlkit.SafetyError,
				"DELETE without WHERE clause", raw))
		}
	case *ast.AlterTableStmt:
		for _, spec := range v.Specs {
			if spec.Tp == ast.AlterTableDropColumn {
				out = append(out, violation(sqlkit.SafetyDropColumn, sqlkit.SafetyError,
					fmt.Sprintf("ALTER TABLE %s DROP COLUMN", qualifiedName(v.Table)), raw))
			}
		}
	case *ast.GrantStmt:
		out = append(out, violation(sqlkit.SafetyGrantRevoke, sqlkit.SafetyError, "GRANT statement", raw))
	case *ast.RevokeStmt:
		out = append(out, violation(sqlkit.SafetyGrantRevoke, sqlkit.SafetyError, "REVOKE statement", raw))
	case *ast.ExecuteStmt:
		out = append(out, violation(sqlkit.SafetyExec, sqlkit.SafetyError, "raw EXECUTE statement", raw))
	case *ast.CreateUserStmt:
		out = append(out, violation(sqlkit.SafetyCreateUser, sqlkit.SafetyError, "CREATE USER statement", raw))
	case *ast.InsertStmt:
		if !opts.AllowInsert {
			out = append(out, violation(sqlkit.SafetyInsertNotAllowed, sqlkit.SafetyWarning,
				"INSERT statement while inserts are not allowed", raw))
		}
	}
	return out
}

var (
	reDropTable  = regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`)
	reDropView   = regexp.MustCompile(`(?i)\bDROP\s+VIEW\b`)
	reDropSchema = regexp.MustCompile(`(?i)\bDROP\s+(SCHEMA|DATABASE)\b`)
	reTruncate   = regexp.MustCompile(`(?i)\bTRUNCATE\b`)
	reDelete     = regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`)
	reWhere      = regexp.MustCompile(`(?i)\bWHERE\b`)
	reDropColumn = regexp.MustCompile(`(?i)\bALTER\b[\s\S]*\bDROP\s+COLUMN\b`)
	reGrant      = regexp.MustCompile(`(?i)^\s*(GRANT|REVOKE)\b`)
	reExec       = regexp.MustCompile(`(?i)^\s*(EXEC|EXECUTE)\b`)
	reCreateUser = regexp.MustCompile(`(?i)\bCREATE\s+USER\b`)
	reInsertOver = regexp.MustCompile(`(?i)\bINSERT\s+OVERWRITE\b`)
	rePartition  = regexp.MustCompile(`(?i)\bPARTITION\b`)
	reBareInsert = regexp.MustCompile(`(?i)^\s*INSERT\b`)
)

// scanFallback applies the same checks to a statement the parser could
// not turn into an AST. Keyword scanning here is the fallback-node
// contract, not a substitute for AST inspection of parsed SQL.
func scanFallback(raw string, opts sqlkit.SafetyOptions) []sqlkit.SafetyViolation {
	clean := stripComments(raw)
	var out []sqlkit.SafetyViolation
	switch {
	case reDropTable.MatchString(clean):
		out = append(out, violation(sqlkit.SafetyDropTable, sqlkit.SafetyError, "DROP TABLE", raw))
	case reDropView.MatchString(clean):
		out = append(out, violation(sqlkit.SafetyDropView, sqlkit.SafetyError, "DROP VIEW", raw))
	case reDropSchema.MatchString(clean):
		out = append(out, violation(sqlkit.SafetyDropSchema, sqlkit.SafetyError, "DROP SCHEMA", raw))
	}
	if reTruncate.MatchString(clean) {
		out = append(out, violation(sqlkit.SafetyTruncate, sqlkit.SafetyError, "TRUNCATE", raw))
	}
	if reDelete.MatchString(clean) && !reWhere.MatchString(clean) {
		out = append(out, violation(sqlkit.SafetyDeleteNoWhere, sqlkit.SafetyError, "DELETE without WHERE clause", raw))
	}
	if reDropColumn.MatchString(clean) {
		out = append(out, violation(sqlkit.SafetyDropColumn, sqlkit.SafetyError, "ALTER ... DROP COLUMN", raw))
	}
	if reGrant.MatchString(clean) {
		out = append(out, violation(sqlkit.SafetyGrantRevoke, sqlkit.SafetyError, "GRANT/REVOKE statement", raw))
	}
	if reExec.MatchString(clean) {
		out = append(out, violation(sqlkit.SafetyExec, sqlkit.SafetyError, "raw EXEC/EXECUTE statement", raw))
	}
	if reCreateUser.MatchString(clean) {
		out = append(out, violation(sqlkit.SafetyCreateUser, sqlkit.SafetyError, "CREATE USER statement", raw))
	}
	if reInsertOver.MatchString(clean) {
		if !rePartition.MatchString(clean) {
			out = append(out, violation(sqlkit.SafetyInsertOverwrite, sqlkit.SafetyWarning,
				"INSERT OVERWRITE without PARTITION", raw))
		}
	} else if reBareInsert.MatchString(clean) && !opts.AllowInsert {
		out = append(out, violation(sqlkit.SafetyInsertNotAllowed, sqlkit.SafetyWarning,
			"INSERT statement while inserts are not allowed", raw))
	}
	return out
}
