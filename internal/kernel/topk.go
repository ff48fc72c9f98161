package kernel

import (
	"sort"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// OrderColumn is one ORDER BY term.
type OrderColumn struct {
	Column int
	Desc   bool
}

func less(order []OrderColumn) func(a, b []value.Value) bool {
	return func(a, b []value.Value) bool {
		for _, o := range order {
			c := value.Compare(a[o.Column], b[o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}
}

// groupTopK holds one group's currently materialized ordered window.
type groupTopK struct {
	rows []value.Record // sorted per Order, length <= Offset+Limit
}

// TopK maintains, per GroupBy key, the top Limit rows ordered by Order. When
// a deletion removes a row that was inside the window, NeedsRefresh records
// that group's key under its groupKey string, and DrainNeedsRefresh hands
// those keys to the domain runtime (which implements kernel.Refresher
// draining against internal/replay) to upquery the ancestor for the
// replacement, since the kernel alone cannot know what the next row beyond
// the window would be.
type TopK struct {
	GroupBy []int
	Order   []OrderColumn
	Limit   int

	groups       map[string]*groupTopK
	NeedsRefresh map[string][]value.Value
}

func NewTopK(groupBy []int, order []OrderColumn, limit int) *TopK {
	return &TopK{GroupBy: groupBy, Order: order, Limit: limit, groups: make(map[string]*groupTopK), NeedsRefresh: make(map[string][]value.Value)}
}

func (t *TopK) groupKey(cols []value.Value) string {
	s := make([]byte, 0, 8*len(t.GroupBy))
	for _, c := range t.GroupBy {
		s = append(s, cols[c].String()...)
		s = append(s, 0)
	}
	return string(s)
}

func (t *TopK) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	less := less(t.Order)
	var out value.Batch
	for _, r := range update {
		key := t.groupKey(r.Cols)
		g, ok := t.groups[key]
		if !ok {
			g = &groupTopK{}
			t.groups[key] = g
		}

		if r.Polarity == value.Positive {
			inWindow := len(g.rows) < t.Limit || less(r.Cols, g.rows[len(g.rows)-1].Cols)
			if !inWindow {
				continue
			}
			i := sort.Search(len(g.rows), func(i int) bool { return less(r.Cols, g.rows[i].Cols) })
			g.rows = append(g.rows, value.Record{})
			copy(g.rows[i+1:], g.rows[i:])
			g.rows[i] = r
			out = append(out, r)
			if len(g.rows) > t.Limit {
				dropped := g.rows[len(g.rows)-1]
				g.rows = g.rows[:t.Limit]
				out = append(out, dropped.Negated())
			}
			continue
		}

		// Negative: only matters if the retracted row is currently in the
		// window; otherwise it is below the cut line and invisible here.
		for i, existing := range g.rows {
			if value.SameRow(existing, r) {
				g.rows = append(g.rows[:i], g.rows[i+1:]...)
				out = append(out, r)
				// Window now short a row; ancestor upquery needed to find the
				// replacement. Record the group's own key columns (not just
				// its string form) so DrainNeedsRefresh can hand back a real
				// lookup key.
				groupKeyCols := make([]value.Value, len(t.GroupBy))
				for gi, c := range t.GroupBy {
					groupKeyCols[gi] = existing.Cols[c]
				}
				t.NeedsRefresh[key] = groupKeyCols
				break
			}
		}
	}
	return out, nil
}

// DrainNeedsRefresh returns the key columns of every group that needs
// backfilling since the last drain, and clears the pending set.
func (t *TopK) DrainNeedsRefresh() [][]value.Value {
	if len(t.NeedsRefresh) == 0 {
		return nil
	}
	out := make([][]value.Value, 0, len(t.NeedsRefresh))
	for _, k := range t.NeedsRefresh {
		out = append(out, k)
	}
	t.NeedsRefresh = make(map[string][]value.Value)
	return out
}

func (t *TopK) OnCommit() error { return nil }

func (t *TopK) SuggestIndices() []graph.Index {
	return []graph.Index{{Columns: t.GroupBy, Kind: graph.IndexHash}}
}

func (t *TopK) ColumnSource(col int) Provenance { return Provenance{Column: col} }

// Paginate is a TopK over Offset+Limit followed by a slice dropping the
// first Offset rows; Offset=0 degenerates to a plain TopK (§4.2).
type Paginate struct {
	*TopK
	Offset int
}

func NewPaginate(groupBy []int, order []OrderColumn, offset, limit int) *Paginate {
	return &Paginate{TopK: NewTopK(groupBy, order, offset+limit), Offset: offset}
}

// Page returns the post-offset slice of a group's current window, for use by
// the reader layer rather than as part of the delta stream (offset/limit
// windowing is a read-time concern once the underlying TopK(offset+limit)
// state is correct).
func (p *Paginate) Page(groupKey string) []value.Record {
	g, ok := p.groups[groupKey]
	if !ok || p.Offset >= len(g.rows) {
		return nil
	}
	return g.rows[p.Offset:]
}
