package replay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/domain"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/value"
)

func identityTranslator(key []value.Value) [][]value.Value { return [][]value.Value{key} }

// newTestDomain builds a single Domain wired with a fresh Engine as its
// ReplayHooks, the way worker.Builder wires the two in production; the test
// dispatch closure short-circuits routing straight to dom since everything
// here is single-domain.
func newTestDomain() (*domain.Domain, *Engine) {
	var eng *Engine
	var dom *domain.Domain
	eng = New(func(_ domain.Destination, p domain.Packet) error {
		return dom.Dispatch(p)
	})
	dom = domain.New(domain.Config{ID: 0, Replay: eng})
	return dom, eng
}

func addNode(t *testing.T, dom *domain.Domain, n *graph.Node) {
	t.Helper()
	require.NoError(t, dom.Dispatch(domain.Packet{Kind: domain.PacketAddNode, NodeSpec: n, NodeKernel: kernel.Identity{}}))
}

func TestRequestMissFillsDestinationFromSource(t *testing.T) {
	arena := graph.NewArena()
	source := &graph.Node{Kind: graph.KindBase, Materialization: graph.MaterializeFull,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	dest := &graph.Node{Kind: graph.KindInternal, Materialization: graph.MaterializePartial,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	sourceIdx := arena.Add(source)
	destIdx := arena.Add(dest)
	arena.AddEdge(sourceIdx, destIdx)

	dom, eng := newTestDomain()
	addNode(t, dom, source)
	addNode(t, dom, dest)

	srcRT, ok := dom.Node(sourceIdx)
	require.True(t, ok)
	srcRT.State.Insert(value.NewPositive(value.Int(1), value.Text("v")))

	path := Path{Nodes: []graph.NodeIndex{destIdx, sourceIdx}, Translators: []KeyTranslator{identityTranslator}, Index: 0}
	require.NoError(t, eng.RequestMiss(dom, path, []value.Value{value.Int(1)}))

	destRT, ok := dom.Node(destIdx)
	require.True(t, ok)
	res, err := destRT.State.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Len(t, res.Records, 1)
	require.Equal(t, "v", res.Records[0].Cols[1].S)
}

// TestBufferIfReplayingDefersConcurrentWrite exercises §4.4 "Concurrent
// writes during replay": an ordinary write landing on a node between
// OnStartReplay and OnFinishReplay for a tag touching the same key must not
// be applied until the replay finishes, and must then be applied in order.
func TestBufferIfReplayingDefersConcurrentWrite(t *testing.T) {
	node := &graph.Node{Kind: graph.KindInternal, Materialization: graph.MaterializePartial,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	arena := graph.NewArena()
	idx := arena.Add(node)

	dom, eng := newTestDomain()
	addNode(t, dom, node)

	rt, ok := dom.Node(idx)
	require.True(t, ok)
	rt.State.Insert(value.NewPositive(value.Int(1), value.Text("orig")))
	rt.State.MarkFilled(0, []value.Value{value.Int(1)})

	tag := eng.NewTag(Path{Nodes: []graph.NodeIndex{idx}, Index: 0})
	require.NoError(t, eng.OnStartReplay(dom, domain.Packet{Node: idx, Tag: tag, Keys: [][]value.Value{{value.Int(1)}}}))

	require.NoError(t, dom.Dispatch(domain.Packet{
		Kind:  domain.PacketMessage,
		Node:  idx,
		Batch: value.Batch{value.NewPositive(value.Int(1), value.Text("concurrent"))},
	}))

	res, err := rt.State.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Len(t, res.Records, 1, "concurrent write must be buffered, not applied, while the replay is in flight")

	require.NoError(t, eng.OnFinishReplay(dom, domain.Packet{Node: idx, Tag: tag}))

	res, err = rt.State.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Len(t, res.Records, 2, "buffered write must be released once the replay finishes")
}

// TestCascadingReplayResumesOuterAfterInner exercises §4.4 "Cascading
// replays": dest's replay source (mid) is itself partially materialized and
// holds a hole, so OnRequestPartialReplay must suspend the outer request and
// issue an inner upquery against mid's own ancestor (root), then resume the
// outer request once the inner tag finishes.
func TestCascadingReplayResumesOuterAfterInner(t *testing.T) {
	arena := graph.NewArena()
	root := &graph.Node{Kind: graph.KindBase, Materialization: graph.MaterializeFull,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	mid := &graph.Node{Kind: graph.KindInternal, Materialization: graph.MaterializePartial,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	dest := &graph.Node{Kind: graph.KindInternal, Materialization: graph.MaterializePartial,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	rootIdx := arena.Add(root)
	midIdx := arena.Add(mid)
	destIdx := arena.Add(dest)
	arena.AddEdge(rootIdx, midIdx)
	arena.AddEdge(midIdx, destIdx)

	dom, eng := newTestDomain()
	addNode(t, dom, root)
	addNode(t, dom, mid)
	addNode(t, dom, dest)

	rootRT, ok := dom.Node(rootIdx)
	require.True(t, ok)
	rootRT.State.Insert(value.NewPositive(value.Int(1), value.Text("backfilled")))

	// mid is left empty and unfilled: any lookup against it for key 1 misses,
	// forcing the cascading branch.
	outerPath := Path{Nodes: []graph.NodeIndex{destIdx, midIdx}, Translators: []KeyTranslator{identityTranslator}, Index: 0}
	require.NoError(t, eng.RequestMiss(dom, outerPath, []value.Value{value.Int(1)}))

	midRT, ok := dom.Node(midIdx)
	require.True(t, ok)
	midRes, err := midRT.State.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, midRes.Hit, "the inner upquery must have filled mid's own hole")
	require.Len(t, midRes.Records, 1)

	destRT, ok := dom.Node(destIdx)
	require.True(t, ok)
	destRes, err := destRT.State.Lookup(0, []value.Value{value.Int(1)})
	require.NoError(t, err)
	require.True(t, destRes.Hit, "the outer request must resume and fill dest once the inner replay finishes")
	require.Len(t, destRes.Records, 1)
	require.Equal(t, "backfilled", destRes.Records[0].Cols[1].S)
}
