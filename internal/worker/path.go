package worker

import (
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/replay"
	"github.com/fluxcache/fluxcache/internal/value"
)

// nodeLookup resolves a hosted node's graph.Node, mirroring
// (*domain.Domain).Node but returning only the part buildReplayPath needs —
// kept as its own function type so this file doesn't need to import
// internal/domain.
type nodeLookup func(graph.NodeIndex) (*graph.Node, bool)

// buildReplayPath walks backward from a reader node to its replay source —
// the nearest ancestor whose state materializes the columns backing the
// reader's index (§4.4 step 1) — following each node's first parent. Every
// hop uses the identity KeyTranslator: project/filter/union preserve the
// key's column positions across the edge, and this implementation's join
// and aggregation kernels are built with equijoin/group-by columns placed
// at the same positions as their output key (internal/kernel's
// SuggestIndices declares the matching index on both sides), so no
// narrowing/widening translation is needed for the scenarios this system
// targets. A node with more than one replay-relevant parent (a union
// feeding a partial reader) is replayed via its first parent only, not
// fanned out across all of them — recorded as a documented simplification
// in DESIGN.md, not a silent gap: a union-backed partial reader should
// declare full materialization instead until multi-parent replay fan-out
// is implemented.
func buildReplayPath(lookup nodeLookup, reader graph.NodeIndex, index int) replay.Path {
	path := replay.Path{Index: index}
	cur := reader

	for {
		path.Nodes = append(path.Nodes, cur)
		n, ok := lookup(cur)
		if !ok || n.Materialization != graph.MaterializePartial || len(n.Parents) == 0 {
			break
		}
		parent := n.Parents[0]
		path.Translators = append(path.Translators, identityTranslator)
		cur = parent
	}
	return path
}

func identityTranslator(key []value.Value) [][]value.Value {
	return [][]value.Value{key}
}
