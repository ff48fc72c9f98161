package controller

import (
	"fmt"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/query"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Plan is the output of lowering a MIR: the graph nodes to add (in
// topological order, so ancestors always precede descendants) plus the
// indices each node's state should carry, ready to hand to a domain via
// AddNode packets (§4.7 step 4 "domain/shard lowering", step 5
// "scheduling").
type Plan struct {
	Nodes   []*graph.Node
	Kernels []kernel.Kernel

	// MIRToNode maps a MIR node index to the Node's eventual graph.NodeIndex,
	// filled in once the nodes are actually inserted into the live arena
	// (see Controller.commit).
	MIRToNode []graph.NodeIndex
}

// Lower turns a MIR into a Plan: one graph.Node and one kernel.Kernel per
// non-base, non-reused MIR node. Base tables already exist as graph.Base
// nodes and are looked up via existingBase; nodes Splice marked Reused are
// looked up via installedToNode (the live graph.NodeIndex of the
// already-installed node they matched) instead of being lowered again.
func Lower(mir *MIR, existingBase map[string]graph.NodeIndex, installedToNode []graph.NodeIndex) (*Plan, error) {
	plan := &Plan{MIRToNode: make([]graph.NodeIndex, len(mir.Nodes))}
	for i := range plan.MIRToNode {
		plan.MIRToNode[i] = graph.NoNode
	}

	for i, n := range mir.Nodes {
		if n.Kind == MIRBase {
			if idx, ok := existingBase[n.Name]; ok {
				plan.MIRToNode[i] = idx
			}
			continue
		}
		if n.Reused && installedToNode != nil && n.ReuseOf < len(installedToNode) {
			plan.MIRToNode[i] = installedToNode[n.ReuseOf]
			continue
		}
		node, kern, err := lowerNode(n, mir, plan.MIRToNode)
		if err != nil {
			return nil, fmt.Errorf("controller: lowering node %d (%v): %w", i, n.Kind, err)
		}
		plan.Nodes = append(plan.Nodes, node)
		plan.Kernels = append(plan.Kernels, kern)
		plan.MIRToNode[i] = graph.NodeIndex(len(plan.Nodes) - 1) // placeholder; rewritten on commit
	}
	return plan, nil
}

func columnNames(cols []MIRColumn) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func lowerNode(n *MIRNode, mir *MIR, mirToNode []graph.NodeIndex) (*graph.Node, kernel.Kernel, error) {
	kind := graph.KindInternal
	var cols []graph.Column
	for _, c := range n.Columns {
		cols = append(cols, graph.Column{Name: c.Name})
	}
	node := &graph.Node{Kind: kind, Columns: cols}

	switch n.Kind {
	case MIRFilter:
		pred, err := compilePredicate(n.Predicate, columnNames(parentCols(n, mir)))
		if err != nil {
			return nil, nil, err
		}
		return node, kernel.Filter{Pred: pred}, nil

	case MIRProject:
		var pc []kernel.ProjectColumn
		for _, c := range n.ProjectExprs {
			pc = append(pc, kernel.ProjectColumn{SourceCol: findColumn(parentColsMIR(n, mir), c.Column)})
		}
		return node, kernel.Project{Columns: pc}, nil

	case MIRJoin:
		return node, kernel.NewJoin(n.JoinKind, n.LeftKey, n.RightKey, len(mir.Nodes[n.Parents[1]].Columns)), nil

	case MIRGroupBy:
		return node, kernel.NewAggregation(n.GroupBy, n.AggCol, n.AggFunc), nil

	case MIRDistinct:
		all := make([]int, len(n.Columns))
		for i := range all {
			all[i] = i
		}
		return node, kernel.NewDistinct(all), nil

	case MIRTopK:
		if n.Offset > 0 {
			return node, kernel.NewPaginate(nil, n.Order, n.Offset, n.Limit), nil
		}
		return node, kernel.NewTopK(nil, n.Order, n.Limit), nil

	case MIRUnion:
		return node, kernel.Union{Semantics: n.UnionSemantics, NumInputs: len(n.Parents)}, nil

	case MIRReader:
		node.Kind = graph.KindReader
		return node, kernel.Reader{RangeColumn: n.RangeColumn}, nil

	default:
		return node, kernel.Identity{}, nil
	}
}

func parentCols(n *MIRNode, mir *MIR) []MIRColumn {
	if len(n.Parents) == 0 {
		return nil
	}
	return mir.Nodes[n.Parents[0]].Columns
}

func parentColsMIR(n *MIRNode, mir *MIR) []MIRColumn { return parentCols(n, mir) }

// compilePredicate translates a query.Expr WHERE clause (already alias- and
// between-normalized by query.Rewrite) into a kernel.Predicate closed over
// the input column layout, grounded in the teacher's
// internal/query/evaluator.go tree-walking evaluation style.
func compilePredicate(e query.Expr, cols []string) (kernel.Predicate, error) {
	switch n := e.(type) {
	case nil:
		return func([]value.Value) bool { return true }, nil
	case *query.BinaryExpr:
		switch n.Op {
		case "AND":
			l, err := compilePredicate(n.Left, cols)
			if err != nil {
				return nil, err
			}
			r, err := compilePredicate(n.Right, cols)
			if err != nil {
				return nil, err
			}
			return func(c []value.Value) bool { return l(c) && r(c) }, nil
		case "OR":
			l, err := compilePredicate(n.Left, cols)
			if err != nil {
				return nil, err
			}
			r, err := compilePredicate(n.Right, cols)
			if err != nil {
				return nil, err
			}
			return func(c []value.Value) bool { return l(c) || r(c) }, nil
		default:
			return compileComparison(n, cols)
		}
	case *query.NotExpr:
		inner, err := compilePredicate(n.Operand, cols)
		if err != nil {
			return nil, err
		}
		return func(c []value.Value) bool { return !inner(c) }, nil
	case *query.LikeExpr:
		idx := indexOf(cols, n.Column)
		if idx < 0 {
			return nil, fmt.Errorf("controller: unknown column %q in LIKE", n.Column)
		}
		match := query.ILIKEToPredicate(n.Pattern, n.CaseInsensitive)
		return func(c []value.Value) bool {
			v := c[idx]
			return v.Kind == value.KindText && match(v.S)
		}, nil
	default:
		return nil, fmt.Errorf("controller: unsupported predicate expression %T", e)
	}
}

func compileComparison(n *query.BinaryExpr, cols []string) (kernel.Predicate, error) {
	lcol, lok := n.Left.(*query.ColumnRef)
	rlit, rok := n.Right.(*query.Literal)
	if lok && rok {
		idx := indexOf(cols, lcol.Column)
		if idx < 0 {
			return nil, fmt.Errorf("controller: unknown column %q", lcol.Column)
		}
		lit := literalValue(rlit)
		op := n.Op
		return func(c []value.Value) bool { return compareOp(c[idx], lit, op) }, nil
	}
	// column-to-column comparison (e.g. an already-pushed-down join leftover)
	rcol, rcolOk := n.Right.(*query.ColumnRef)
	if lok && rcolOk {
		li, ri := indexOf(cols, lcol.Column), indexOf(cols, rcol.Column)
		if li < 0 || ri < 0 {
			return nil, fmt.Errorf("controller: unknown column in comparison")
		}
		op := n.Op
		return func(c []value.Value) bool { return compareOp(c[li], c[ri], op) }, nil
	}
	return nil, fmt.Errorf("controller: unsupported comparison shape")
}

func compareOp(a, b value.Value, op string) bool {
	cmp := value.Compare(a, b)
	switch op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	default:
		return false
	}
}

func literalValue(l *query.Literal) value.Value {
	switch {
	case l.IsNull:
		return value.Null
	case l.IsNum:
		if l.Num == float64(int64(l.Num)) {
			return value.Int(int64(l.Num))
		}
		return value.Float(l.Num)
	default:
		return value.Text(l.Str)
	}
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
