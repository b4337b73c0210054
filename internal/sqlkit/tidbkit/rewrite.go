package tidbkit

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/model"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

// Rewrite replaces catalog/schema qualifiers on matching table
// references by AST mutation. The engine's two-part names carry
// three-part catalog.schema qualifiers joined with a dot in the schema
// position, so rules match against that joined form. Rule specificity:
// fully-qualified, schema-qualified, catalog-qualified, unqualified.
func (k *Kit) Rewrite(sql, dialect string, rules []sqlkit.RewriteRule) (string, error) {
	node, err := k.parseOneNode(sql)
	if err != nil {
		return "", &sqlkit.ParseError{Dialect: dialect, Detail: err.Error()}
	}
	exclude := cteNames(node)
	r := &rewriter{rules: orderBySpecificity(rules), ctes: exclude}
	node.Accept(r)
	return restore(node)
}

func orderBySpecificity(rules []sqlkit.RewriteRule) []sqlkit.RewriteRule {
	ordered := make([]sqlkit.RewriteRule, 0, len(rules))
	for _, class := range []func(sqlkit.RewriteRule) bool{
		func(r sqlkit.RewriteRule) bool { return r.MatchSchema != "" && r.MatchTable != "" },
		func(r sqlkit.RewriteRule) bool { return r.MatchSchema != "" && r.MatchTable == "" },
		func(r sqlkit.RewriteRule) bool { return r.MatchCatalog != "" && r.MatchSchema == "" },
		func(r sqlkit.RewriteRule) bool {
			return r.MatchCatalog == "" && r.MatchSchema == ""
		},
	} {
		for _, r := range rules {
			if class(r) {
				ordered = append(ordered, r)
			}
		}
	}
	return ordered
}

type rewriter struct {
	rules []sqlkit.RewriteRule
	ctes  map[string]struct{}
}

func (r *rewriter) Enter(n ast.Node) (ast.Node, bool) {
	tn, ok := n.(*ast.TableName)
	if !ok {
		return n, false
	}
	if _, isCTE := r.ctes[tn.Name.L]; isCTE && tn.Schema.L == "" {
		return n, false
	}
	for _, rule := range r.rules {
		if applyRule(tn, rule) {
			break
		}
	}
	return n, false
}

func (r *rewriter) Leave(n ast.Node) (ast.Node, bool) { return n, true }

// applyRule mutates tn in place when the rule matches. Returns true on
// a match so less specific rules do not double-apply.
func applyRule(tn *ast.TableName, rule sqlkit.RewriteRule) bool {
	qualifier := tn.Schema.L
	catalog, schema := splitQualifier(qualifier)

	if rule.MatchTable != "" && rule.MatchTable != tn.Name.L {
		return false
	}
	if rule.MatchSchema != "" && rule.MatchSchema != schema {
		return false
	}
	if rule.MatchCatalog != "" && rule.MatchCatalog != catalog {
		return false
	}
	if rule.MatchCatalog == "" && rule.MatchSchema == "" && qualifier != "" {
		// Unqualified rules only touch unqualified tables.
		return false
	}

	newCatalog, newSchema := catalog, schema
	if rule.SetCatalog != "" {
		newCatalog = rule.SetCatalog
	}
	if rule.SetSchema != "" {
		newSchema = rule.SetSchema
	}
	if rule.SetTable != "" {
		tn.Name = model.NewCIStr(rule.SetTable)
	}
	tn.Schema = model.NewCIStr(joinQualifier(newCatalog, newSchema))
	return true
}

func splitQualifier(q string) (catalog, schema string) {
	if i := strings.IndexByte(q, '.'); i >= 0 {
		return q[:i], q[i+1:]
	}
	return "", q
}

func joinQualifier(catalog, schema string) string {
	if catalog == "" {
		return schema
	}
	if schema == "" {
		return catalog
	}
	return catalog + "." + schema
}
