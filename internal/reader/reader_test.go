package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/state"
	"github.com/fluxcache/fluxcache/internal/value"
)

func fullNode() *graph.Node {
	return &graph.Node{
		Kind:            graph.KindReader,
		Indices:         []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}},
		Materialization: graph.MaterializeFull,
	}
}

func TestReaderLookupHit(t *testing.T) {
	n := fullNode()
	st := state.New(n)
	st.Insert(value.NewPositive(value.Int(1), value.Text("a")))

	r := New(0, st, nil, time.Second)
	rows, err := r.Lookup(context.Background(), 0, []value.Value{value.Int(1)}, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0].Cols[1].S)
}

type fakeDispatcher struct {
	fill func(st *state.State)
	st   *state.State
}

func (f *fakeDispatcher) RequestMiss(ctx context.Context, node graph.NodeIndex, index int, key []value.Value) error {
	go func() {
		time.Sleep(2 * time.Millisecond)
		f.fill(f.st)
	}()
	return nil
}

func (f *fakeDispatcher) RequestMissRange(ctx context.Context, node graph.NodeIndex, index int, lo, hi value.Value) error {
	return nil
}

func TestReaderBlockingLookupFillsOnMiss(t *testing.T) {
	n := &graph.Node{
		Kind:            graph.KindReader,
		Indices:         []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}},
		Materialization: graph.MaterializePartial,
	}
	st := state.New(n)
	disp := &fakeDispatcher{st: st, fill: func(st *state.State) {
		st.Insert(value.NewPositive(value.Int(7), value.Text("z")))
		st.MarkFilled(0, []value.Value{value.Int(7)})
	}}
	r := New(0, st, disp, 200*time.Millisecond)

	rows, err := r.Lookup(context.Background(), 0, []value.Value{value.Int(7)}, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, r.Len())
}

func TestReaderNonBlockingMissReturnsEmpty(t *testing.T) {
	n := &graph.Node{
		Kind:            graph.KindReader,
		Indices:         []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}},
		Materialization: graph.MaterializePartial,
	}
	st := state.New(n)
	disp := &fakeDispatcher{st: st, fill: func(*state.State) {}}
	r := New(0, st, disp, time.Second)

	rows, err := r.Lookup(context.Background(), 0, []value.Value{value.Int(3)}, false)
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestReaderRawLookupFreshnessMiss(t *testing.T) {
	n := fullNode()
	st := state.New(n)
	r := New(0, st, nil, time.Second)

	_, err := r.RawLookup(context.Background(), Query{Keys: [][]value.Value{{value.Int(1)}}, Freshness: Vector{5: 10}})
	require.Error(t, err)
}

func TestVectorDominatesAndMerge(t *testing.T) {
	v := Vector{1: 5, 2: 3}
	require.True(t, v.Dominates(Vector{1: 4}))
	require.False(t, v.Dominates(Vector{1: 6}))

	merged := v.Merge(Vector{1: 1, 3: 9})
	require.Equal(t, int64(5), merged[1])
	require.Equal(t, int64(9), merged[3])
}
