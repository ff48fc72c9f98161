package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/state"
	"github.com/fluxcache/fluxcache/internal/value"
)

func TestFilterDropsFalsePredicate(t *testing.T) {
	f := Filter{Pred: func(cols []value.Value) bool { return cols[0].I > 1 }}
	out, err := f.OnInput(value.Batch{value.NewPositive(value.Int(1)), value.NewPositive(value.Int(2))}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].Cols[0].I)
}

func TestProjectComputedColumn(t *testing.T) {
	p := Project{Columns: []ProjectColumn{
		{SourceCol: 0},
		{SourceCol: -1, Fn: func(cols []value.Value) value.Value { return value.Int(cols[0].I * 2) }},
	}}
	out, err := p.OnInput(value.Batch{value.NewPositive(value.Int(3))}, nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(6), out[0].Cols[1])
}

func TestAggregationSumFirstInsertOnlyPositive(t *testing.T) {
	agg := NewAggregation([]int{0}, 1, AggSum)
	out, err := agg.OnInput(value.Batch{value.NewPositive(value.Int(1), value.Int(10))}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, value.Positive, out[0].Polarity)
	require.Equal(t, value.Float(10), out[0].Cols[1])
}

func TestAggregationSumRetractThenReassert(t *testing.T) {
	agg := NewAggregation([]int{0}, 1, AggSum)
	_, _ = agg.OnInput(value.Batch{value.NewPositive(value.Int(1), value.Int(10))}, nil)
	out, err := agg.OnInput(value.Batch{value.NewPositive(value.Int(1), value.Int(5))}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, value.Negative, out[0].Polarity)
	require.Equal(t, value.Float(10), out[0].Cols[1])
	require.Equal(t, value.Positive, out[1].Polarity)
	require.Equal(t, value.Float(15), out[1].Cols[1])
}

func TestAggregationGroupEmptiesOnLastRemoval(t *testing.T) {
	agg := NewAggregation([]int{0}, 1, AggCount)
	_, _ = agg.OnInput(value.Batch{value.NewPositive(value.Int(1), value.Int(0))}, nil)
	out, err := agg.OnInput(value.Batch{value.NewNegative(value.Int(1), value.Int(0))}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1) // only the retraction of the prior count, no new positive
	require.Equal(t, value.Negative, out[0].Polarity)
}

func TestAggregationMinMaxFallback(t *testing.T) {
	agg := NewAggregation([]int{0}, 1, AggMax)
	_, _ = agg.OnInput(value.Batch{
		value.NewPositive(value.Int(1), value.Int(5)),
		value.NewPositive(value.Int(1), value.Int(9)),
	}, nil)
	out, err := agg.OnInput(value.Batch{value.NewNegative(value.Int(1), value.Int(9))}, nil)
	require.NoError(t, err)
	require.Equal(t, value.Int(5), out[len(out)-1].Cols[1]) // falls back to remaining max
}

func TestDistinctSuppressesDuplicateInserts(t *testing.T) {
	d := NewDistinct([]int{0})
	out, err := d.OnInput(value.Batch{
		value.NewPositive(value.Int(1)),
		value.NewPositive(value.Int(1)),
	}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestJoinInnerCartesianProduct(t *testing.T) {
	j := NewJoin(JoinInner, []int{0}, []int{0}, 1)
	lookup := func(_ graph.NodeIndex, _ int, key []value.Value) (state.LookupResult, error) {
		return state.LookupResult{Hit: true, Records: []value.Record{value.NewPositive(key[0], value.Text("r"))}}, nil
	}
	out, err := j.OnInputFromSide(SideLeft, value.Batch{value.NewPositive(value.Int(1), value.Text("l"))}, lookup)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, value.Text("l"), out[0].Cols[1])
	require.Equal(t, value.Text("r"), out[0].Cols[3])
}

func TestJoinLeftNullExtendOnNoMatch(t *testing.T) {
	j := NewJoin(JoinLeft, []int{0}, []int{0}, 1)
	lookup := func(_ graph.NodeIndex, _ int, _ []value.Value) (state.LookupResult, error) {
		return state.LookupResult{Hit: true}, nil
	}
	out, err := j.OnInputFromSide(SideLeft, value.Batch{value.NewPositive(value.Int(1), value.Text("l"))}, lookup)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Cols[2].IsNull())
}

func TestTopKDropsOverflow(t *testing.T) {
	tk := NewTopK(nil, []OrderColumn{{Column: 0, Desc: true}}, 2)
	out, err := tk.OnInput(value.Batch{
		value.NewPositive(value.Int(1)),
		value.NewPositive(value.Int(2)),
		value.NewPositive(value.Int(3)),
	}, nil)
	require.NoError(t, err)
	// third insert (3) enters the window and evicts 1, producing a negative
	var negatives int
	for _, r := range out {
		if r.Polarity == value.Negative {
			negatives++
		}
	}
	require.Equal(t, 1, negatives)
}

func TestSharderDeterministic(t *testing.T) {
	s := NewSharder(0, 4)
	r := value.NewPositive(value.Int(42))
	require.Equal(t, s.ShardFor(r), s.ShardFor(r))
}
