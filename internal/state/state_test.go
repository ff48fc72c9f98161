package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

func fullNode() *graph.Node {
	return &graph.Node{
		Kind:            graph.KindBase,
		Materialization: graph.MaterializeFull,
		Indices:         []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}},
	}
}

func partialNode() *graph.Node {
	return &graph.Node{
		Kind:            graph.KindInternal,
		Materialization: graph.MaterializePartial,
		Indices:         []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}},
	}
}

func TestInsertLookupFull(t *testing.T) {
	s := New(fullNode())
	s.Insert(value.NewPositive(value.Int(1), value.Text("a")))

	res, err := s.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Len(t, res.Records, 1)
}

func TestPartialMissUntilMarkedFilled(t *testing.T) {
	s := New(partialNode())
	res, err := s.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.False(t, res.Hit)

	s.MarkFilled(0, []value.Value{value.Int(1)})
	res, err = s.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Empty(t, res.Records)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New(fullNode())
	r := value.NewPositive(value.Int(1), value.Text("a"))
	s.Insert(r)
	s.Remove(r)
	s.Remove(r) // second remove of an absent record must not panic/corrupt

	res, err := s.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Empty(t, res.Records)
}

func TestBTreeRangeLookup(t *testing.T) {
	node := &graph.Node{
		Materialization: graph.MaterializeFull,
		Indices:         []graph.Index{{Columns: []int{0}, Kind: graph.IndexBTree}},
	}
	s := New(node)
	for i := 1; i <= 5; i++ {
		s.Insert(value.NewPositive(value.Int(int64(i))))
	}
	res, err := s.LookupRange(0, value.Int(2), value.Int(4))
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Len(t, res.Records, 3)
}

func TestEvictFreesBytesAndMarksHole(t *testing.T) {
	s := New(partialNode())
	s.Insert(value.NewPositive(value.Int(1), value.Text("a")))
	s.MarkFilled(0, []value.Value{value.Int(1)})
	before := s.SizeBytes()
	require.Positive(t, before)

	evicted := s.Evict(before)
	require.Len(t, evicted, 1)
	require.Zero(t, s.SizeBytes())

	res, err := s.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.False(t, res.Hit) // back to being a hole after eviction
}

func TestEvictLRUOrder(t *testing.T) {
	s := New(fullNode())
	s.Insert(value.NewPositive(value.Int(1)))
	s.Insert(value.NewPositive(value.Int(2)))
	// touch key 1 again so key 2 becomes the least-recently-used entry
	_, _ = s.Lookup(0, []value.Value{value.Int(1)})

	evicted := s.Evict(1)
	require.Len(t, evicted, 1)
	require.Equal(t, value.Int(2), evicted[0][0])
}
