// Package controller implements the migration planner (C7): parsing and
// normalizing recipes, building a mid-level intermediate representation
// (MIR), searching for reuse candidates, lowering to dataflow nodes, and
// committing the diff to the running domains (§4.7).
package controller

import (
	"fmt"

	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/query"
)

// MIRKind tags the logical operator a MIRNode represents (§4.7 step 2: "a
// DAG of logical nodes (filter/project/join/group-by/top-k/reader) with
// column provenance").
type MIRKind int

const (
	MIRBase MIRKind = iota
	MIRFilter
	MIRProject
	MIRJoin
	MIRGroupBy
	MIRTopK
	MIRUnion
	MIRDistinct
	MIRReader
)

// MIRColumn names one output column of a MIRNode and, where known, the
// single-ancestor provenance backing it.
type MIRColumn struct {
	Name           string
	ProvenanceNode int // index into MIR.Nodes, or -1
	ProvenanceCol  int
}

// MIRNode is one logical node of the mid-level IR. Fields not relevant to
// Kind are left zero; this mirrors kernel.Kind's closed-variant-plus-fields
// shape rather than per-kind subtypes, keeping MIR construction a single
// flat pass over the AST.
type MIRNode struct {
	Kind    MIRKind
	Name    string // base/table name, or the query name for a Reader
	Columns []MIRColumn

	// Parents indexes into the same MIR.Nodes slice.
	Parents []int

	// Filter
	Predicate query.Expr

	// RangeColumn is the output column position a range comparison (<, <=,
	// >, >=) or LIKE conjunct of Predicate constrains, or -1. Set on a
	// MIRFilter node by addFilter and threaded forward through projection
	// to the eventual MIRReader, so defaultIndices can materialize that
	// reader with a btree index instead of only the default hash (§4.5,
	// §8 scenario 3).
	RangeColumn int

	// Project
	ProjectExprs []query.SelectColumn

	// Join
	JoinKind           kernel.JoinKind
	LeftKey, RightKey  []int

	// GroupBy / Distinct
	GroupBy []int
	AggFunc kernel.AggFunc
	AggCol  int

	// TopK
	Order []kernel.OrderColumn
	Limit int
	Offset int

	// Union
	UnionSemantics kernel.UnionSemantics

	// Fingerprint is a canonical string identifying this node's semantics
	// for reuse search (§4.7 step 3); built by Fingerprint once the node's
	// fields are fully populated.
	Fingerprint string

	// Reused and ReuseOf record that Splice found this node's semantics
	// identical to an already-installed node at that index (into a separate
	// MIR's Nodes); Lower skips materializing a new graph node for it and
	// instead wires descendants directly onto the existing live node.
	Reused  bool
	ReuseOf int
}

// MIR is the DAG produced by Build: a flat node list plus the set of nodes
// designated as query outputs (Reader nodes).
type MIR struct {
	Nodes   []*MIRNode
	Readers map[string]int // query name -> node index
	Tables  map[string]int // table name -> node index
}

// Builder accumulates MIR nodes while lowering a recipe's statements.
type Builder struct {
	mir    *MIR
	schema map[string][]string // table -> column names, for star expansion
}

// NewBuilder constructs an empty Builder seeded with already-known table
// schemas (e.g. from a prior recipe still installed).
func NewBuilder(schema map[string][]string) *Builder {
	if schema == nil {
		schema = map[string][]string{}
	}
	return &Builder{
		mir:    &MIR{Readers: map[string]int{}, Tables: map[string]int{}},
		schema: schema,
	}
}

// AddTable registers a CreateTable as a MIRBase node.
func (b *Builder) AddTable(ct *query.CreateTable) error {
	if _, exists := b.mir.Tables[ct.Name]; exists {
		return fmt.Errorf("controller: table %q already declared", ct.Name)
	}
	var cols []MIRColumn
	var names []string
	for _, c := range ct.Columns {
		cols = append(cols, MIRColumn{Name: c.Name, ProvenanceNode: -1})
		names = append(names, c.Name)
	}
	node := &MIRNode{Kind: MIRBase, Name: ct.Name, Columns: cols, RangeColumn: -1}
	idx := b.addNode(node)
	b.mir.Tables[ct.Name] = idx
	b.schema[ct.Name] = names
	return nil
}

func (b *Builder) addNode(n *MIRNode) int {
	idx := len(b.mir.Nodes)
	b.mir.Nodes = append(b.mir.Nodes, n)
	return idx
}

// AddQuery lowers a rewritten NamedQuery's SelectStmt into MIR nodes ending
// in a MIRReader, returning the DAG so far.
func (b *Builder) AddQuery(nq *query.NamedQuery) error {
	sel := query.Rewrite(nq.Select, b.schema)
	outIdx, outCols, rangeCol, err := b.lowerSelect(sel)
	if err != nil {
		return err
	}
	reader := &MIRNode{Kind: MIRReader, Name: nq.Name, Columns: outCols, Parents: []int{outIdx}, RangeColumn: rangeCol}
	idx := b.addNode(reader)
	b.mir.Readers[nq.Name] = idx
	return nil
}

// Build finalizes and returns the accumulated MIR.
func (b *Builder) Build() *MIR { return b.mir }

func (b *Builder) lowerSelect(sel *query.SelectStmt) (int, []MIRColumn, int, error) {
	if sel.UnionWith != nil {
		leftIdx, leftCols, _, err := b.lowerSelectNoUnion(sel)
		if err != nil {
			return 0, nil, -1, err
		}
		rightIdx, _, _, err := b.lowerSelect(sel.UnionWith)
		if err != nil {
			return 0, nil, -1, err
		}
		sem := kernel.UnionAll
		if !sel.UnionAll {
			sem = kernel.UnionDistinct
		}
		union := &MIRNode{Kind: MIRUnion, Columns: leftCols, Parents: []int{leftIdx, rightIdx}, UnionSemantics: sem, RangeColumn: -1}
		idx := b.addNode(union)
		if sem == kernel.UnionDistinct {
			distinct := &MIRNode{Kind: MIRDistinct, Columns: leftCols, Parents: []int{idx}, RangeColumn: -1}
			idx = b.addNode(distinct)
		}
		// A union's two sides may disagree on which column (if either) is
		// range-queryable; that ambiguity is left unresolved (no btree
		// index) rather than guessed at.
		return idx, leftCols, -1, nil
	}
	return b.lowerSelectNoUnion(sel)
}

func (b *Builder) lowerSelectNoUnion(sel *query.SelectStmt) (int, []MIRColumn, int, error) {
	baseIdx, ok := b.mir.Tables[sel.From.Name]
	if !ok {
		return 0, nil, -1, fmt.Errorf("controller: unknown table %q", sel.From.Name)
	}
	curIdx := baseIdx
	curCols := b.mir.Nodes[baseIdx].Columns

	if len(sel.From.Pushdown) > 0 {
		curIdx, curCols = b.addFilter(curIdx, curCols, rebuildWhere(sel.From.Pushdown))
	}

	for _, j := range sel.Joins {
		rightIdx, ok := b.mir.Tables[j.Table.Name]
		if !ok {
			return 0, nil, -1, fmt.Errorf("controller: unknown table %q", j.Table.Name)
		}
		rightCols := b.mir.Nodes[rightIdx].Columns
		if len(j.Table.Pushdown) > 0 {
			rightIdx, rightCols = b.addFilter(rightIdx, rightCols, rebuildWhere(j.Table.Pushdown))
		}
		if j.On == nil {
			return 0, nil, -1, fmt.Errorf("controller: join without ON/USING condition")
		}
		leftCol := findColumn(curCols, j.On.Left.(*query.ColumnRef).Column)
		rightCol := findColumn(rightCols, j.On.Right.(*query.ColumnRef).Column)
		if leftCol < 0 || rightCol < 0 {
			return 0, nil, -1, fmt.Errorf("controller: join key not found in input columns")
		}
		kind := kernel.JoinInner
		if j.Kind == query.JoinLeft {
			kind = kernel.JoinLeft
		}
		joined := make([]MIRColumn, 0, len(curCols)+len(rightCols))
		joined = append(joined, curCols...)
		joined = append(joined, rightCols...)
		node := &MIRNode{
			Kind: MIRJoin, Columns: joined, Parents: []int{curIdx, rightIdx},
			JoinKind: kind, LeftKey: []int{leftCol}, RightKey: []int{rightCol}, RangeColumn: -1,
		}
		curIdx = b.addNode(node)
		curCols = joined
	}

	rangeCol := -1
	if sel.Where != nil {
		filterIdx := 0
		filterIdx, curCols = b.addFilter(curIdx, curCols, sel.Where)
		curIdx = filterIdx
		rangeCol = b.mir.Nodes[filterIdx].RangeColumn
	}

	// A plain (non-aggregating) select narrows to exactly the requested
	// output columns before the reader; an aggregating select's shape is
	// already fixed by the GroupBy stage below. rangeCol is threaded
	// through by column name since addProject may reorder or alias columns.
	if len(sel.GroupBy) == 0 && !hasAggregate(sel.Columns) {
		rangeName := ""
		if rangeCol >= 0 && rangeCol < len(curCols) {
			rangeName = curCols[rangeCol].Name
		}
		curIdx, curCols = b.addProject(curIdx, curCols, sel.Columns)
		rangeCol = -1
		if rangeName != "" {
			for i, w := range sel.Columns {
				if w.Column == rangeName {
					rangeCol = i
					break
				}
			}
		}
	}

	if len(sel.GroupBy) > 0 {
		rangeCol = -1
		groupIdx := make([]int, 0, len(sel.GroupBy))
		for _, g := range sel.GroupBy {
			c := findColumn(curCols, g)
			if c < 0 {
				return 0, nil, -1, fmt.Errorf("controller: group-by column %q not found", g)
			}
			groupIdx = append(groupIdx, c)
		}
		var aggFn kernel.AggFunc
		var aggCol int
		for _, sc := range sel.Columns {
			if sc.Agg != nil {
				aggFn = aggFuncOf(sc.Agg.Func)
				if !sc.Agg.Star {
					aggCol = findColumn(curCols, sc.Agg.Column)
				}
			}
		}
		var outCols []MIRColumn
		for _, g := range groupIdx {
			outCols = append(outCols, curCols[g])
		}
		outCols = append(outCols, MIRColumn{Name: "agg", ProvenanceNode: -1})
		node := &MIRNode{Kind: MIRGroupBy, Columns: outCols, Parents: []int{curIdx}, GroupBy: groupIdx, AggFunc: aggFn, AggCol: aggCol, RangeColumn: -1}
		curIdx = b.addNode(node)
		curCols = outCols
	}

	if sel.IsTopK {
		var order []kernel.OrderColumn
		for _, o := range sel.OrderBy {
			order = append(order, kernel.OrderColumn{Column: findColumn(curCols, o.Column), Desc: o.Desc})
		}
		node := &MIRNode{Kind: MIRTopK, Columns: curCols, Parents: []int{curIdx}, Order: order, Limit: sel.Limit, Offset: sel.Offset, RangeColumn: rangeCol}
		curIdx = b.addNode(node)
	}

	return curIdx, curCols, rangeCol, nil
}

func (b *Builder) addFilter(parent int, cols []MIRColumn, pred query.Expr) (int, []MIRColumn) {
	node := &MIRNode{Kind: MIRFilter, Columns: cols, Parents: []int{parent}, Predicate: pred, RangeColumn: rangeColumnOf(pred, cols)}
	return b.addNode(node), cols
}

// rangeColumnOf reports the output column position that a range comparison
// (<, <=, >, >=) or LIKE conjunct of pred constrains, or -1 if pred has no
// such conjunct (an equality-only filter needs nothing beyond the default
// hash index). Only the first matching conjunct is used: a predicate with
// more than one range-queryable column still only gets one btree slot.
func rangeColumnOf(pred query.Expr, cols []MIRColumn) int {
	for _, c := range flattenAndConjuncts(pred) {
		switch n := c.(type) {
		case *query.LikeExpr:
			if col := findColumn(cols, n.Column); col >= 0 {
				return col
			}
		case *query.BinaryExpr:
			switch n.Op {
			case "<", "<=", ">", ">=":
				if ref, ok := n.Left.(*query.ColumnRef); ok {
					if col := findColumn(cols, ref.Column); col >= 0 {
						return col
					}
				}
			}
		}
	}
	return -1
}

func flattenAndConjuncts(e query.Expr) []query.Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*query.BinaryExpr); ok && b.Op == "AND" {
		return append(flattenAndConjuncts(b.Left), flattenAndConjuncts(b.Right)...)
	}
	return []query.Expr{e}
}

func hasAggregate(cols []query.SelectColumn) bool {
	for _, c := range cols {
		if c.Agg != nil {
			return true
		}
	}
	return false
}

// addProject narrows parent's columns down to exactly the requested select
// list, a no-op (skipped) when the select list is already a `SELECT *`
// covering every parent column in order.
func (b *Builder) addProject(parent int, cols []MIRColumn, want []query.SelectColumn) (int, []MIRColumn) {
	if len(want) == len(cols) {
		identity := true
		for i, w := range want {
			if w.Column != cols[i].Name {
				identity = false
				break
			}
		}
		if identity {
			return parent, cols
		}
	}
	var outCols []MIRColumn
	var exprs []query.SelectColumn
	for _, w := range want {
		outCols = append(outCols, MIRColumn{Name: colAlias(w), ProvenanceNode: parent, ProvenanceCol: findColumn(cols, w.Column)})
		exprs = append(exprs, w)
	}
	node := &MIRNode{Kind: MIRProject, Columns: outCols, Parents: []int{parent}, ProjectExprs: exprs, RangeColumn: -1}
	return b.addNode(node), outCols
}

func colAlias(c query.SelectColumn) string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Column
}

func rebuildWhere(exprs []query.Expr) query.Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &query.BinaryExpr{Op: "AND", Left: out, Right: e}
	}
	return out
}

func findColumn(cols []MIRColumn, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func aggFuncOf(name string) kernel.AggFunc {
	switch name {
	case "SUM":
		return kernel.AggSum
	case "COUNT":
		return kernel.AggCount
	case "AVG":
		return kernel.AggAvg
	case "MIN":
		return kernel.AggMin
	case "MAX":
		return kernel.AggMax
	default:
		return kernel.AggCount
	}
}
