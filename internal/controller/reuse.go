package controller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxcache/fluxcache/internal/query"
)

// Fingerprint computes a canonical string for mir.Nodes[idx]'s semantics,
// rooted at its already-fingerprinted parents, so two MIR nodes with
// identical shape (independent of column naming) hash identically. This
// implements the exact-match half of reuse search (§4.7 step 3); the
// finer-grained "reuse a prefix of an existing query's plan" search
// (Finkelstein-style partial reuse) is the documented gap noted in
// SPEC_FULL.md's supplemented-features list.
func Fingerprint(mir *MIR, idx int) string {
	n := mir.Nodes[idx]
	if n.Fingerprint != "" {
		return n.Fingerprint
	}
	var parents []string
	for _, p := range n.Parents {
		parents = append(parents, Fingerprint(mir, p))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d(", n.Kind)
	switch n.Kind {
	case MIRBase:
		b.WriteString(n.Name)
	case MIRFilter:
		b.WriteString(exprString(n.Predicate))
	case MIRProject:
		for _, e := range n.ProjectExprs {
			fmt.Fprintf(&b, "%s.%s,", e.Table, e.Column)
		}
	case MIRJoin:
		fmt.Fprintf(&b, "%d:%v=%v", n.JoinKind, n.LeftKey, n.RightKey)
	case MIRGroupBy:
		fmt.Fprintf(&b, "%v:%d:%d", n.GroupBy, n.AggFunc, n.AggCol)
	case MIRTopK:
		fmt.Fprintf(&b, "%v:%d:%d", n.Order, n.Limit, n.Offset)
	case MIRUnion:
		fmt.Fprintf(&b, "%d", n.UnionSemantics)
	}
	b.WriteString("|")
	b.WriteString(strings.Join(parents, ","))
	b.WriteString(")")
	n.Fingerprint = b.String()
	return n.Fingerprint
}

func exprString(e query.Expr) string {
	switch n := e.(type) {
	case nil:
		return ""
	case *query.BinaryExpr:
		return "(" + exprString(n.Left) + n.Op + exprString(n.Right) + ")"
	case *query.NotExpr:
		return "!" + exprString(n.Operand)
	case *query.ColumnRef:
		return n.Table + "." + n.Column
	case *query.Literal:
		if n.IsNull {
			return "NULL"
		}
		if n.IsNum {
			return fmt.Sprintf("%v", n.Num)
		}
		return "'" + n.Str + "'"
	case *query.LikeExpr:
		return n.Column + " LIKE " + n.Pattern
	default:
		return "?"
	}
}

// ReuseIndex maps a node's Fingerprint to the already-installed MIRNode (and
// its live graph.NodeIndex) it is semantically identical to, allowing a
// newly planned query to splice onto existing dataflow instead of building
// fresh nodes (§4.7 step 3, ReuseFull strategy).
type ReuseIndex struct {
	byFingerprint map[string]int // fingerprint -> index into installed MIR.Nodes
	installed     *MIR
}

// NewReuseIndex builds a lookup over every node of an already-installed MIR.
func NewReuseIndex(installed *MIR) *ReuseIndex {
	r := &ReuseIndex{byFingerprint: map[string]int{}, installed: installed}
	for i := range installed.Nodes {
		r.byFingerprint[Fingerprint(installed, i)] = i
	}
	return r
}

// Find returns the installed node index matching the fingerprint of
// candidate.Nodes[idx], if any.
func (r *ReuseIndex) Find(candidate *MIR, idx int) (int, bool) {
	if r == nil {
		return 0, false
	}
	i, ok := r.byFingerprint[Fingerprint(candidate, idx)]
	return i, ok
}

// Splice rewrites candidate so that every node whose fingerprint matches an
// already-installed node is replaced by a reference to that installed node;
// only genuinely new nodes remain for Lower to turn into a Plan. Returns the
// set of candidate indices that were reused, sorted for deterministic
// logging.
func Splice(candidate *MIR, r *ReuseIndex) []int {
	if r == nil {
		return nil
	}
	var reused []int
	for i, n := range candidate.Nodes {
		if n.Kind == MIRBase {
			continue
		}
		if installedIdx, ok := r.Find(candidate, i); ok {
			n.Reused = true
			n.ReuseOf = installedIdx
			reused = append(reused, i)
		}
	}
	sort.Ints(reused)
	return reused
}
