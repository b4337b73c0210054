package tidbkit

import (
	"sort"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

// Lineage traces each output column of a statement to its ultimate
// source columns across CTEs, joins, and subqueries. When schema maps
// table names to their columns, SELECT * is expanded through it;
// without a schema a star output is recorded as unresolved rather than
// fabricated.
func (k *Kit) Lineage(sql, dialect string, schema map[string][]string) (*sqlkit.LineageResult, error) {
	node, err := k.parseOneNode(sql)
	if err != nil {
		return nil, &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}
	sel := outermostSelect(node)
	if sel == nil {
		return &sqlkit.LineageResult{}, nil
	}

	tracer := &lineageTracer{schema: schema, ctes: map[string][]sqlkit.ColumnLineage{}}
	if with := withClause(node); with != nil {
		for _, cte := range with.CTEs {
			if cte.Query == nil {
				continue
			}
			if inner := outermostSelect(cte.Query.Query); inner != nil {
				cols, _ := tracer.trace(inner)
				tracer.ctes[cte.Name.L] = cols
			}
		}
	}

	columns, unresolved := tracer.trace(sel)
	return &sqlkit.LineageResult{Columns: columns, Unresolved: unresolved}, nil
}

// lineageTracer resolves column lineage for one statement. ctes holds
// the already-traced lineage of each CTE so references map through to
// ultimate sources.
type lineageTracer struct {
	schema map[string][]string
	ctes   map[string][]sqlkit.ColumnLineage
}

// source is one FROM-clause relation visible to a SELECT.
type source struct {
	alias string
	// table is the real table name when the relation is a base table.
	table string
	// columns is the traced output lineage when the relation is a CTE
	// or derived table.
	columns []sqlkit.ColumnLineage
}

func (t *lineageTracer) trace(sel *ast.SelectStmt) ([]sqlkit.ColumnLineage, []string) {
	sources := t.collectSources(sel)

	var (
		out        []sqlkit.ColumnLineage
		unresolved []string
	)
	if sel.Fields == nil {
		return out, unresolved
	}
	for _, field := range sel.Fields.Fields {
		if field.WildCard != nil {
			cols, unres := t.expandStar(field.WildCard, sources)
			out = append(out, cols...)
			unresolved = append(unresolved, unres...)
			continue
		}
		out = append(out, sqlkit.ColumnLineage{
			Column:    outputName(field),
			Transform: classify(field.Expr),
			Sources:   t.resolveExprSources(field.Expr, sources),
		})
	}
	return out, unresolved
}

// collectSources flattens the FROM clause into visible relations.
func (t *lineageTracer) collectSources(sel *ast.SelectStmt) []source {
	var out []source
	if sel.From == nil || sel.From.TableRefs == nil {
		return out
	}
	var walk func(n ast.ResultSetNode)
	walk = func(n ast.ResultSetNode) {
		switch v := n.(type) {
		case *ast.Join:
			if v.Left != nil {
				walk(v.Left)
			}
			if v.Right != nil {
				walk(v.Right)
			}
		case *ast.TableSource:
			src := source{alias: v.AsName.L}
			switch rel := v.Source.(type) {
			case *ast.TableName:
				name := qualifiedName(rel)
				if src.alias == "" {
					src.alias = rel.Name.L
				}
				if cols, isCTE := t.ctes[rel.Name.L]; isCTE && rel.Schema.L == "" {
					src.columns = cols
				} else {
					src.table = name
				}
			case *ast.SelectStmt:
				cols, _ := t.trace(rel)
				src.columns = cols
			case *ast.SetOprStmt:
				if inner := outermostSelect(rel); inner != nil {
					cols, _ := t.trace(inner)
					src.columns = cols
				}
			}
			out = append(out, src)
		}
	}
	walk(sel.From.TableRefs)
	return out
}

// expandStar resolves SELECT * (or t.*) against the visible sources.
func (t *lineageTracer) expandStar(wc *ast.WildCardField, sources []source) ([]sqlkit.ColumnLineage, []string) {
	var (
		out        []sqlkit.ColumnLineage
		unresolved []string
	)
	want := wc.Table.L
	for _, src := range sources {
		if want != "" && src.alias != want {
			continue
		}
		switch {
		case src.columns != nil:
			out = append(out, src.columns...)
		case src.table != "":
			cols, known := t.schema[src.table]
			if !known {
				unresolved = append(unresolved, starPath(want))
				continue
			}
			names := append([]string(nil), cols...)
			sort.Strings(names)
			for _, col := range names {
				out = append(out, sqlkit.ColumnLineage{
					Column:    col,
					Transform: sqlkit.TransformDirect,
					Sources:   []sqlkit.ColumnRef{{Table: src.table, Column: col}},
				})
			}
		default:
			unresolved = append(unresolved, starPath(want))
		}
	}
	if len(sources) == 0 {
		unresolved = append(unresolved, starPath(want))
	}
	return out, unresolved
}

func starPath(table string) string {
	if table == "" {
		return "*"
	}
	return table + ".*"
}

// classify picks the transformation kind of one output expression.
func classify(expr ast.ExprNode) sqlkit.TransformKind {
	switch expr.(type) {
	case *ast.ColumnNameExpr:
		return sqlkit.TransformDirect
	case *ast.AggregateFuncExpr:
		return sqlkit.TransformAggregation
	case *ast.WindowFuncExpr:
		return sqlkit.TransformWindow
	case *ast.CaseExpr:
		return sqlkit.TransformCase
	case ast.ValueExpr:
		return sqlkit.TransformLiteral
	}

	// Mixed expressions: the strongest nested construct wins.
	cc := &columnCollector{referenced: map[string]struct{}{}}
	expr.Accept(cc)
	switch {
	case cc.aggregation:
		return sqlkit.TransformAggregation
	case cc.window:
		return sqlkit.TransformWindow
	case len(cc.referenced) == 0:
		return sqlkit.TransformLiteral
	}
	return sqlkit.TransformExpression
}

// resolveExprSources maps every column referenced by expr to its
// ultimate source columns.
func (t *lineageTracer) resolveExprSources(expr ast.ExprNode, sources []source) []sqlkit.ColumnRef {
	refs := collectColumnRefs(expr)
	seen := map[sqlkit.ColumnRef]struct{}{}
	var out []sqlkit.ColumnRef
	add := func(ref sqlkit.ColumnRef) {
		if _, dup := seen[ref]; dup {
			return
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	for _, ref := range refs {
		for _, resolved := range t.resolveRef(ref, sources) {
			add(resolved)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// resolveRef maps one (qualifier, column) reference through the
// visible sources. Ambiguous or unknown references keep an empty table
// rather than guessing.
func (t *lineageTracer) resolveRef(ref columnRef, sources []source) []sqlkit.ColumnRef {
	candidates := sources
	if ref.table != "" {
		candidates = nil
		for _, src := range sources {
			if src.alias == ref.table {
				candidates = []source{src}
				break
			}
		}
	}
	for _, src := range candidates {
		if src.columns != nil {
			for _, col := range src.columns {
				if col.Column == ref.column {
					if len(col.Sources) > 0 {
						return col.Sources
					}
					return nil
				}
			}
			continue
		}
		if src.table == "" {
			continue
		}
		if cols, known := t.schema[src.table]; known {
			if !contains(cols, ref.column) {
				continue
			}
			return []sqlkit.ColumnRef{{Table: src.table, Column: ref.column}}
		}
		if ref.table != "" || len(sources) == 1 {
			return []sqlkit.ColumnRef{{Table: src.table, Column: ref.column}}
		}
	}
	return []sqlkit.ColumnRef{{Column: ref.column}}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

type columnRef struct {
	table  string
	column string
}

func collectColumnRefs(expr ast.ExprNode) []columnRef {
	var out []columnRef
	v := &columnRefVisitor{refs: &out}
	expr.Accept(v)
	return out
}

type columnRefVisitor struct {
	refs *[]columnRef
}

func (v *columnRefVisitor) Enter(n ast.Node) (ast.Node, bool) {
	if col, ok := n.(*ast.ColumnNameExpr); ok {
		*v.refs = append(*v.refs, columnRef{table: col.Name.Table.L, column: col.Name.Name.L})
	}
	return n, false
}

func (v *columnRefVisitor) Leave(n ast.Node) (ast.Node, bool) { return n, true }
