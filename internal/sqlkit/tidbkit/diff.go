package tidbkit

import (
	"fmt"
	"sort"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

// Diff compares two statements. Phase one normalizes both sides; equal
// canonical forms short-circuit to a cosmetic-only result with zero
// edits. Phase two decomposes each side into addressable fragments and
// emits a deterministic Insert/Remove/Update/Move edit list.
func (k *Kit) Diff(before, after, dialect string) (*sqlkit.EditScript, error) {
	nb, err := k.Normalize(before, dialect)
	if err != nil {
		return nil, err
	}
	na, err := k.Normalize(after, dialect)
	if err != nil {
		return nil, err
	}
	if nb == na {
		return &sqlkit.EditScript{CosmeticOnly: true}, nil
	}

	beforeFrags := k.fragments(before)
	afterFrags := k.fragments(after)

	var edits []sqlkit.DiffEdit
	for path, bf := range beforeFrags {
		af, ok := afterFrags[path]
		switch {
		case !ok:
			edits = append(edits, sqlkit.DiffEdit{Kind: sqlkit.EditRemove, Path: path, Before: bf.text})
		case bf.text != af.text:
			edits = append(edits, sqlkit.DiffEdit{Kind: sqlkit.EditUpdate, Path: path, Before: bf.text, After: af.text})
		case bf.position != af.position:
			edits = append(edits, sqlkit.DiffEdit{Kind: sqlkit.EditMove, Path: path, Before: bf.text, After: af.text})
		}
	}
	for path, af := range afterFrags {
		if _, ok := beforeFrags[path]; !ok {
			edits = append(edits, sqlkit.DiffEdit{Kind: sqlkit.EditInsert, Path: path, After: af.text})
		}
	}

	sort.Slice(edits, func(i, j int) bool {
		if edits[i].Kind != edits[j].Kind {
			return edits[i].Kind < edits[j].Kind
		}
		return edits[i].Path < edits[j].Path
	})
	return &sqlkit.EditScript{Edits: edits}, nil
}

type fragment struct {
	text     string
	position int
}

// fragments decomposes a statement into addressable clause fragments.
// Unparseable SQL degrades to a single "statement" fragment so the
// diff still reports an update rather than fabricating structure.
func (k *Kit) fragments(sql string) map[string]fragment {
	out := map[string]fragment{}
	node, err := k.parseOneNode(sql)
	if err != nil {
		out["statement"] = fragment{text: collapseWhitespace(stripComments(sql))}
		return out
	}

	sel := outermostSelect(node)
	if sel == nil {
		text, rerr := restore(node)
		if rerr != nil {
			text = collapseWhitespace(stripComments(sql))
		}
		out["statement"] = fragment{text: text}
		return out
	}

	if with := withClause(node); with != nil {
		for i, cte := range with.CTEs {
			text := ""
			if cte.Query != nil {
				if t, rerr := restore(cte.Query); rerr == nil {
					text = t
				}
			}
			out["cte:"+cte.Name.L] = fragment{text: text, position: i}
		}
	}
	if sel.Fields != nil {
		for i, field := range sel.Fields.Fields {
			name := "*"
			if field.WildCard == nil {
				name = outputName(field)
			}
			text, rerr := restore(field)
			if rerr != nil {
				text = field.Text()
			}
			out[fmt.Sprintf("field:%s", name)] = fragment{text: text, position: i}
		}
	}
	addClause := func(path string, n ast.Node) {
		if n == nil {
			return
		}
		if text, rerr := restore(n); rerr == nil {
			out[path] = fragment{text: text}
		}
	}
	if sel.From != nil {
		addClause("from", sel.From.TableRefs)
	}
	if sel.Where != nil {
		addClause("where", sel.Where)
	}
	if sel.GroupBy != nil {
		addClause("group_by", sel.GroupBy)
	}
	if sel.Having != nil {
		addClause("having", sel.Having.Expr)
	}
	if sel.OrderBy != nil {
		addClause("order_by", sel.OrderBy)
	}
	if sel.Limit != nil {
		addClause("limit", sel.Limit)
	}
	return out
}
