package tidbkit

import (
	"sort"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
)

// Normalize returns the canonical form of sql used for content
// hashing (canonicalization v1): comments stripped, keywords
// normalized by parse-and-regenerate, and CTE definitions reordered
// alphabetically when that is provably safe. SQL the parser rejects
// falls back to comment-stripped, whitespace-collapsed text so hashing
// stays deterministic.
func (k *Kit) Normalize(sql, dialect string) (string, error) {
	pieces := splitStatements(sql)
	normalized := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		node, err := k.parseOneNode(piece)
		if err != nil {
			normalized = append(normalized, collapseWhitespace(stripComments(piece)))
			continue
		}
		reorderCTEs(node)
		text, err := restore(node)
		if err != nil {
			normalized = append(normalized, collapseWhitespace(stripComments(piece)))
			continue
		}
		normalized = append(normalized, text)
	}
	return strings.Join(normalized, ";\n"), nil
}

// reorderCTEs sorts WITH definitions alphabetically when no CTE body
// references another CTE by name. The check is deliberately
// conservative: any inter-CTE reference, forward or backward, keeps
// source order, since reordering a reference chain changes
// definition-before-use validity.
func reorderCTEs(node ast.Node) {
	with := withClause(node)
	if with == nil || len(with.CTEs) < 2 || with.IsRecursive {
		return
	}
	names := make(map[string]struct{}, len(with.CTEs))
	for _, cte := range with.CTEs {
		names[cte.Name.L] = struct{}{}
	}
	for _, cte := range with.CTEs {
		if cte.Query == nil {
			return
		}
		for _, ref := range referencedTables(cte.Query, nil) {
			if _, ok := names[ref]; ok {
				return
			}
		}
	}
	sort.SliceStable(with.CTEs, func(i, j int) bool {
		return with.CTEs[i].Name.L < with.CTEs[j].Name.L
	})
}

func withClause(node ast.Node) *ast.WithClause {
	switch v := node.(type) {
	case *ast.SelectStmt:
		return v.With
	case *ast.SetOprStmt:
		return v.With
	}
	return nil
}

// stripComments removes -- line comments and /* */ block comments
// outside quoted regions.
func stripComments(sql string) string {
	var (
		sb      strings.Builder
		inLine  bool
		inBlock bool
		quote   byte
	)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				sb.WriteByte(c)
			}
		case inBlock:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				inBlock = false
				i++
			}
		case quote != 0:
			sb.WriteByte(c)
			if c == '\\' && quote != '`' {
				if i+1 < len(sql) {
					i++
					sb.WriteByte(sql[i])
				}
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
			sb.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inLine = true
			i++
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			inBlock = true
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func collapseWhitespace(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
