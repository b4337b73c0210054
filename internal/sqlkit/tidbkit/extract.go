package tidbkit

import (
	"sort"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

// tableCollector gathers referenced table names and CTE names across a
// statement. CTE names are collected first so references to them can
// be excluded from the external table set.
type tableCollector struct {
	tables map[string]struct{}
	ctes   map[string]struct{}
}

func (c *tableCollector) Enter(n ast.Node) (ast.Node, bool) {
	switch v := n.(type) {
	case *ast.WithClause:
		for _, cte := range v.CTEs {
			c.ctes[cte.Name.L] = struct{}{}
		}
	case *ast.TableName:
		c.tables[qualifiedName(v)] = struct{}{}
	}
	return n, false
}

func (c *tableCollector) Leave(n ast.Node) (ast.Node, bool) { return n, true }

func qualifiedName(tn *ast.TableName) string {
	if tn.Schema.L != "" {
		return tn.Schema.L + "." + tn.Name.L
	}
	return tn.Name.L
}

// cteNames returns every CTE name declared anywhere in the node.
func cteNames(node ast.Node) map[string]struct{} {
	c := &tableCollector{tables: map[string]struct{}{}, ctes: map[string]struct{}{}}
	node.Accept(c)
	return c.ctes
}

// referencedTables returns the external tables a node references,
// excluding the given CTE names.
func referencedTables(node ast.Node, exclude map[string]struct{}) []string {
	c := &tableCollector{tables: map[string]struct{}{}, ctes: map[string]struct{}{}}
	node.Accept(c)
	var out []string
	for name := range c.tables {
		if _, isCTE := exclude[name]; isCTE {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExtractTables returns the external tables and CTE names a statement
// references. CTE names never appear in the table set.
func (k *Kit) ExtractTables(sql, dialect string) (*sqlkit.TableSet, error) {
	node, err := k.parseOneNode(sql)
	if err != nil {
		return nil, &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}
	ctes := cteNames(node)
	set := &sqlkit.TableSet{Tables: referencedTables(node, ctes)}
	for name := range ctes {
		set.CTEs = append(set.CTEs, name)
	}
	sort.Strings(set.CTEs)
	return set, nil
}

// columnCollector gathers column surface facts across a statement.
type columnCollector struct {
	referenced  map[string]struct{}
	aggregation bool
	window      bool
}

func (c *columnCollector) Enter(n ast.Node) (ast.Node, bool) {
	switch v := n.(type) {
	case *ast.ColumnNameExpr:
		c.referenced[v.Name.Name.L] = struct{}{}
	case *ast.AggregateFuncExpr:
		c.aggregation = true
	case *ast.WindowFuncExpr:
		c.window = true
	}
	return n, false
}

func (c *columnCollector) Leave(n ast.Node) (ast.Node, bool) { return n, true }

// ExtractColumns summarises the column surface of a statement: output
// column names, referenced column names, and star/aggregation/window
// flags.
func (k *Kit) ExtractColumns(sql, dialect string) (*sqlkit.ColumnInfo, error) {
	node, err := k.parseOneNode(sql)
	if err != nil {
		return nil, &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}

	info := &sqlkit.ColumnInfo{}
	cc := &columnCollector{referenced: map[string]struct{}{}}
	node.Accept(cc)
	info.HasAggregation = cc.aggregation
	info.HasWindow = cc.window
	for col := range cc.referenced {
		info.ReferencedColumns = append(info.ReferencedColumns, col)
	}
	sort.Strings(info.ReferencedColumns)

	if sel := outermostSelect(node); sel != nil && sel.Fields != nil {
		for _, field := range sel.Fields.Fields {
			if field.WildCard != nil {
				info.HasStar = true
				continue
			}
			info.OutputColumns = append(info.OutputColumns, outputName(field))
		}
	}
	return info, nil
}

// outermostSelect unwraps the top-level SELECT of a statement, if any.
// For set operations the first branch names the output columns.
func outermostSelect(node ast.Node) *ast.SelectStmt {
	switch v := node.(type) {
	case *ast.SelectStmt:
		return v
	case *ast.SetOprStmt:
		if v.SelectList != nil && len(v.SelectList.Selects) > 0 {
			if sel, ok := v.SelectList.Selects[0].(*ast.SelectStmt); ok {
				return sel
			}
		}
	}
	return nil
}

// outputName picks the visible name of one select field.
func outputName(field *ast.SelectField) string {
	if field.AsName.L != "" {
		return field.AsName.L
	}
	if col, ok := field.Expr.(*ast.ColumnNameExpr); ok {
		return col.Name.Name.L
	}
	if text, err := restore(field.Expr); err == nil {
		return text
	}
	return field.Text()
}
