package kernel

import (
	"sort"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// AggFunc selects the accumulator function.
type AggFunc uint8

const (
	AggSum AggFunc = iota
	AggCount
	AggAvg
	AggMin
	AggMax
)

// groupAccumulator is the per-group-key state backing an Aggregation. Min/Max
// keep a sorted multiset of the aggregated column's values so that removing
// the current extremum can fall back to the next one without an upquery.
type groupAccumulator struct {
	count  int64
	sum    float64
	sorted []value.Value // maintained sorted ascending for Min/Max funcs
}

func (g *groupAccumulator) insert(v value.Value) {
	g.count++
	if f, ok := numericOf(v); ok {
		g.sum += f
	}
	i := sort.Search(len(g.sorted), func(i int) bool { return value.Compare(g.sorted[i], v) >= 0 })
	g.sorted = append(g.sorted, value.Null)
	copy(g.sorted[i+1:], g.sorted[i:])
	g.sorted[i] = v
}

func (g *groupAccumulator) remove(v value.Value) {
	g.count--
	if f, ok := numericOf(v); ok {
		g.sum -= f
	}
	i := sort.Search(len(g.sorted), func(i int) bool { return value.Compare(g.sorted[i], v) >= 0 })
	if i < len(g.sorted) && value.Equal(g.sorted[i], v) {
		g.sorted = append(g.sorted[:i], g.sorted[i+1:]...)
	}
}

func numericOf(v value.Value) (float64, bool) {
	switch v.Kind {
	case value.KindInt:
		return float64(v.I), true
	case value.KindUint:
		return float64(v.U), true
	case value.KindFloat:
		return v.F, true
	}
	return 0, false
}

func (g *groupAccumulator) value(fn AggFunc) value.Value {
	switch fn {
	case AggSum:
		return value.Float(g.sum)
	case AggCount:
		return value.Int(g.count)
	case AggAvg:
		if g.count == 0 {
			return value.Null
		}
		return value.Float(g.sum / float64(g.count))
	case AggMin:
		if len(g.sorted) == 0 {
			return value.Null
		}
		return g.sorted[0]
	case AggMax:
		if len(g.sorted) == 0 {
			return value.Null
		}
		return g.sorted[len(g.sorted)-1]
	default:
		return value.Null
	}
}

// Aggregation computes sum/count/avg/min/max grouped by GroupBy column
// positions, emitting a negative-old/positive-new pair on every change
// except the very first insertion into a group (which emits only a
// positive), and deleting the group's final positive when the last member
// of the group is removed.
type Aggregation struct {
	GroupBy []int
	AggCol  int // ignored when Func == AggCount
	Func    AggFunc

	groups map[string]*groupAccumulator
}

func NewAggregation(groupBy []int, aggCol int, fn AggFunc) *Aggregation {
	return &Aggregation{GroupBy: groupBy, AggCol: aggCol, Func: fn, groups: make(map[string]*groupAccumulator)}
}

func (a *Aggregation) groupKey(cols []value.Value) string {
	s := make([]byte, 0, 8*len(a.GroupBy))
	for _, c := range a.GroupBy {
		s = append(s, cols[c].String()...)
		s = append(s, 0)
	}
	return string(s)
}

func (a *Aggregation) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	var out value.Batch
	for _, r := range update {
		key := a.groupKey(r.Cols)
		acc, existed := a.groups[key]
		if !existed {
			acc = &groupAccumulator{}
			a.groups[key] = acc
		}
		wasEmpty := acc.count == 0

		var aggVal value.Value
		if a.Func != AggCount {
			aggVal = r.Cols[a.AggCol]
		}

		if r.Polarity == value.Positive {
			if !wasEmpty {
				out = append(out, value.Record{Cols: groupOutputCols(r.Cols, a.GroupBy, acc.value(a.Func)), Polarity: value.Negative})
			}
			acc.insert(aggVal)
		} else {
			if acc.count > 0 {
				out = append(out, value.Record{Cols: groupOutputCols(r.Cols, a.GroupBy, acc.value(a.Func)), Polarity: value.Negative})
			}
			acc.remove(aggVal)
		}

		if acc.count == 0 {
			delete(a.groups, key)
			continue // group now empty: no positive to emit
		}
		out = append(out, value.Record{Cols: groupOutputCols(r.Cols, a.GroupBy, acc.value(a.Func)), Polarity: value.Positive})
	}
	return out, nil
}

func groupOutputCols(src []value.Value, groupBy []int, agg value.Value) []value.Value {
	cols := make([]value.Value, 0, len(groupBy)+1)
	for _, c := range groupBy {
		cols = append(cols, src[c])
	}
	cols = append(cols, agg)
	return cols
}

func (a *Aggregation) OnCommit() error { return nil }

func (a *Aggregation) SuggestIndices() []graph.Index {
	return []graph.Index{{Columns: a.GroupBy, Kind: graph.IndexHash}}
}

func (a *Aggregation) ColumnSource(col int) Provenance {
	if col < len(a.GroupBy) {
		return Provenance{Column: a.GroupBy[col]}
	}
	return NoProvenance // the aggregate column has no single-ancestor provenance
}

// Distinct implements §4.2's "Aggregation with count, filtered to count>0":
// it tracks a reference count per distinct row and emits a positive the
// first time a row's count goes 0->1 and a negative when it goes 1->0,
// suppressing everything in between (duplicate inserts/deletes of an
// already-distinct row never reach downstream).
type Distinct struct {
	Columns []int // which columns determine distinctness; typically all of them
	counts  map[string]int64
}

func NewDistinct(columns []int) *Distinct {
	return &Distinct{Columns: columns, counts: make(map[string]int64)}
}

func (d *Distinct) key(cols []value.Value) string {
	s := make([]byte, 0, 8*len(d.Columns))
	for _, c := range d.Columns {
		s = append(s, cols[c].String()...)
		s = append(s, 0)
	}
	return string(s)
}

func (d *Distinct) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	var out value.Batch
	for _, r := range update {
		k := d.key(r.Cols)
		before := d.counts[k]
		if r.Polarity == value.Positive {
			d.counts[k]++
			if before == 0 {
				out = append(out, r)
			}
		} else {
			d.counts[k]--
			if before == 1 {
				out = append(out, r)
			}
			if d.counts[k] <= 0 {
				delete(d.counts, k)
			}
		}
	}
	return out, nil
}

func (d *Distinct) OnCommit() error { return nil }

func (d *Distinct) SuggestIndices() []graph.Index {
	return []graph.Index{{Columns: d.Columns, Kind: graph.IndexHash}}
}

func (d *Distinct) ColumnSource(col int) Provenance { return Provenance{Column: col} }
