package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/value"
)

func TestDomainMessageFlowsThroughIdentity(t *testing.T) {
	base := &graph.Node{Kind: graph.KindBase, Materialization: graph.MaterializeFull,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}
	reader := &graph.Node{Kind: graph.KindReader, Materialization: graph.MaterializeFull,
		Indices: []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}}

	arena := graph.NewArena()
	baseIdx := arena.Add(base)
	readerIdx := arena.Add(reader)
	arena.AddEdge(baseIdx, readerIdx)

	d := New(Config{ID: 0})
	require.NoError(t, d.dispatch(Packet{Kind: PacketAddNode, NodeSpec: base, NodeKernel: kernel.Identity{}}))
	require.NoError(t, d.dispatch(Packet{Kind: PacketAddNode, NodeSpec: reader, NodeKernel: kernel.Identity{}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.inbox <- Packet{Kind: PacketMessage, Node: baseIdx, Batch: value.Batch{value.NewPositive(value.Int(1), value.Text("x"))}}

	require.Eventually(t, func() bool {
		nr, ok := d.Node(readerIdx)
		if !ok {
			return false
		}
		res, err := nr.State.Lookup(0, []value.Value{value.Int(1)})
		return err == nil && res.Hit && len(res.Records) == 1
	}, time.Second, time.Millisecond)
}
