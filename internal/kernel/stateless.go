package kernel

import (
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Identity passes every record through unchanged.
type Identity struct{}

func (Identity) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	return update, nil
}
func (Identity) OnCommit() error                     { return nil }
func (Identity) SuggestIndices() []graph.Index       { return nil }
func (Identity) ColumnSource(col int) Provenance     { return Provenance{Column: col} }

// Reader is the passthrough kernel installed at a query's output node. It
// behaves exactly like Identity except it carries the one extra fact the
// controller's planner needs at AddNode time: which output column (if any)
// the query's WHERE clause constrained with a range comparison or LIKE
// pattern, so that column can be materialized with a btree index alongside
// the usual hash index on column 0 (§4.5, §8 scenario 3).
type Reader struct {
	RangeColumn int // -1 if the query has no range-queryable column
}

func (Reader) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	return update, nil
}
func (Reader) OnCommit() error { return nil }
func (r Reader) SuggestIndices() []graph.Index {
	if r.RangeColumn < 0 {
		return nil
	}
	return []graph.Index{{Columns: []int{r.RangeColumn}, Kind: graph.IndexBTree}}
}
func (Reader) ColumnSource(col int) Provenance { return Provenance{Column: col} }

// ScalarFn computes a deterministic output column from a record's input
// columns, used by Project.
type ScalarFn func(cols []value.Value) value.Value

// ProjectColumn is either a pass-through of an input column (SourceCol >= 0)
// or a computed scalar expression (Fn != nil).
type ProjectColumn struct {
	SourceCol int // -1 if computed
	Fn        ScalarFn
}

// Project emits a subset/transform of input columns, preserving polarity.
type Project struct {
	Columns []ProjectColumn
}

func (p Project) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	out := make(value.Batch, len(update))
	for i, r := range update {
		cols := make([]value.Value, len(p.Columns))
		for j, pc := range p.Columns {
			if pc.SourceCol >= 0 {
				cols[j] = r.Cols[pc.SourceCol]
			} else {
				cols[j] = pc.Fn(r.Cols)
			}
		}
		out[i] = value.Record{Cols: cols, Polarity: r.Polarity}
	}
	return out, nil
}
func (Project) OnCommit() error               { return nil }
func (Project) SuggestIndices() []graph.Index { return nil }
func (p Project) ColumnSource(col int) Provenance {
	if col < 0 || col >= len(p.Columns) || p.Columns[col].SourceCol < 0 {
		return NoProvenance
	}
	return Provenance{Column: p.Columns[col].SourceCol}
}

// Predicate evaluates a row for Filter.
type Predicate func(cols []value.Value) bool

// Filter drops records whose predicate evaluates false, regardless of
// polarity (a retraction for a row that wouldn't have passed the filter is
// itself dropped, keeping the delta algebra consistent).
type Filter struct {
	Pred Predicate
}

func (f Filter) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	out := make(value.Batch, 0, len(update))
	for _, r := range update {
		if f.Pred(r.Cols) {
			out = append(out, r)
		}
	}
	return out, nil
}
func (Filter) OnCommit() error               { return nil }
func (Filter) SuggestIndices() []graph.Index { return nil }
func (Filter) ColumnSource(col int) Provenance {
	return Provenance{Column: col}
}
