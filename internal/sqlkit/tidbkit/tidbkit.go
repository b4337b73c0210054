// Package tidbkit implements sqlkit.Toolkit on top of the TiDB SQL
// parser. It is the only package in the module that imports the parser;
// everything else goes through the sqlkit interface.
package tidbkit

import (
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

// Kit implements sqlkit.Toolkit. The underlying parser is not safe for
// concurrent use, so parsers are pooled.
type Kit struct {
	pool sync.Pool
}

// New constructs a Kit.
func New() *Kit {
	return &Kit{
		pool: sync.Pool{
			New: func() any { return parser.New() },
		},
	}
}

// RegisterDefault installs this backend as the process-wide toolkit.
func RegisterDefault() {
	sqlkit.Register(func() (sqlkit.Toolkit, error) {
		return New(), nil
	})
}

// statement wraps one parsed (or fallback) statement.
type statement struct {
	node     ast.StmtNode
	raw      string
	dialect  string
	fallback bool
}

func (s *statement) Text() string     { return s.raw }
func (s *statement) Dialect() string  { return s.dialect }
func (s *statement) IsFallback() bool { return s.fallback }

func (k *Kit) parseOneNode(sql string) (ast.StmtNode, error) {
	p := k.pool.Get().(*parser.Parser)
	defer k.pool.Put(p)
	return p.ParseOneStmt(sql, "", "")
}

func (k *Kit) parseScript(sql string) ([]ast.StmtNode, error) {
	p := k.pool.Get().(*parser.Parser)
	defer k.pool.Put(p)
	nodes, _, err := p.Parse(sql, "", "")
	return nodes, err
}

// ParseOne parses a single statement.
func (k *Kit) ParseOne(sql, dialect string) (sqlkit.Statement, error) {
	node, err := k.parseOneNode(sql)
	if err != nil {
		return nil, &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}
	return &statement{node: node, raw: sql, dialect: dialect}, nil
}

// ParseMulti parses a script. In permissive mode, statements the
// parser rejects are wrapped as fallback statements and surfaced as
// warnings rather than errors.
func (k *Kit) ParseMulti(sql, dialect string, strict bool) ([]sqlkit.Statement, []string, error) {
	nodes, err := k.parseScript(sql)
	if err == nil {
		out := make([]sqlkit.Statement, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, &statement{node: n, raw: n.Text(), dialect: dialect})
		}
		return out, nil, nil
	}
	if strict {
		return nil, nil, &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}

	var (
		stmts    []sqlkit.Statement
		warnings []string
	)
	for _, piece := range splitStatements(sql) {
		node, perr := k.parseOneNode(piece)
		if perr != nil {
			warnings = append(warnings, perr.Error())
			stmts = append(stmts, &statement{raw: piece, dialect: dialect, fallback: true})
			continue
		}
		stmts = append(stmts, &statement{node: node, raw: piece, dialect: dialect})
	}
	return stmts, warnings, nil
}

// Render converts a statement back to SQL text.
func (k *Kit) Render(stmt sqlkit.Statement, dialect string, pretty bool) (string, error) {
	s, ok := stmt.(*statement)
	if !ok || s.fallback {
		return stmt.Text(), nil
	}
	text, err := restore(s.node)
	if err != nil {
		return "", &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}
	if pretty {
		text = prettify(text)
	}
	return text, nil
}

// Transpile converts SQL between dialects. The backend only guarantees
// keyword/identifier re-rendering; anything it cannot parse comes back
// unchanged with FallbackUsed set.
func (k *Kit) Transpile(sql, from, to string) *sqlkit.TranspileResult {
	node, err := k.parseOneNode(sql)
	if err != nil {
		return &sqlkit.TranspileResult{SQL: sql, FallbackUsed: true}
	}
	text, err := restore(node)
	if err != nil {
		return &sqlkit.TranspileResult{SQL: sql, FallbackUsed: true}
	}
	return &sqlkit.TranspileResult{SQL: text}
}

func restore(node ast.Node) (string, error) {
	var sb strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)
	if err := node.Restore(ctx); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// prettify puts major clauses on their own lines. The restored text
// uses uppercase keywords and backquoted identifiers, so a keyword
// match outside quotes is unambiguous.
func prettify(sql string) string {
	for _, kw := range []string{" FROM ", " WHERE ", " GROUP BY ", " HAVING ", " ORDER BY ", " LIMIT ", " UNION ", " JOIN ", " LEFT JOIN ", " RIGHT JOIN "} {
		sql = strings.ReplaceAll(sql, kw, "\n"+strings.TrimLeft(kw, " "))
	}
	return sql
}

// splitStatements splits a script on top-level semicolons, honouring
// single/double quotes, backquotes, and both comment styles.
func splitStatements(sql string) []string {
	var (
		out     []string
		start   int
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
			}
		case inBlock:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				inBlock = false
				i++
			}
		case quote != 0:
			if c == '\\' && quote != '`' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inLine = true
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			inBlock = true
			i++
		case c == ';':
			if piece := strings.TrimSpace(sql[start:i]); piece != "" {
				out = append(out, piece)
			}
			start = i + 1
		}
	}
	if piece := strings.TrimSpace(sql[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}
