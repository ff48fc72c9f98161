// Package kernel implements the per-node operator kernels (C2): pure update
// functions over the dataflow's signed-delta algebra. Each kernel is a
// closed variant rather than an open interface hierarchy: a small stable
// set of kernel kinds plus shared
// capabilities (OnInput, OnCommit, SuggestIndices, ColumnSource).
package kernel

import (
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/state"
	"github.com/fluxcache/fluxcache/internal/value"
)

// AncestorLookup performs a synchronous point lookup into an ancestor's
// index. It is supplied by the domain runtime (internal/domain), which owns
// every node's State on its thread.
type AncestorLookup func(ancestor graph.NodeIndex, index int, key []value.Value) (state.LookupResult, error)

// Provenance names the ancestor (node, column) an output column derives
// from, used by the replay engine to translate upquery keys backward.
type Provenance struct {
	Node   graph.NodeIndex
	Column int
}

// NoProvenance marks an output column synthesized from more than one input
// column (e.g. an aggregate), which has no single-column provenance.
var NoProvenance = Provenance{Node: graph.NoNode, Column: -1}

// Kernel is the shared capability surface every operator implements.
type Kernel interface {
	// OnInput processes one incoming update batch against the node's own
	// state (already applied by the caller before/through this call — see
	// internal/domain) and returns the update to propagate downstream.
	OnInput(update value.Batch, lookup AncestorLookup) (value.Batch, error)

	// OnCommit is invoked once a batch has been durably applied and
	// forwarded; stateless kernels no-op.
	OnCommit() error

	// SuggestIndices declares the indices this kernel needs on its inputs,
	// so the controller's planner can materialize them (§4.7 step 2).
	SuggestIndices() []graph.Index

	// ColumnSource reports the single-ancestor provenance of an output
	// column, or NoProvenance if the column has none.
	ColumnSource(col int) Provenance
}

// SidedKernel is implemented by kernels whose two parent edges are not
// interchangeable (currently only Join): the domain runtime type-asserts for
// this before falling back to the generic OnInput, and resolves Side from
// which of the node's two Parents produced the packet (see
// internal/domain.handleMessage).
type SidedKernel interface {
	OnInputFromSide(side Side, update value.Batch, lookup AncestorLookup) (value.Batch, error)
}

// Refresher is implemented by kernels whose OnInput can leave part of their
// own state needing a backfill from their ancestor (currently only TopK: a
// deletion that drops a row out of the window leaves a hole the kernel
// cannot fill by itself, since it no longer knows what the next row beyond
// the cut line is). The domain runtime drains this after every OnInput /
// OnInputFromSide call and, if a refresh hook is registered, issues one
// upquery per returned key (see internal/domain.handleMessage).
type Refresher interface {
	DrainNeedsRefresh() [][]value.Value
}

// Kind tags which concrete Kernel a node runs, for serialization in
// migration diffs and graphviz dumps.
type Kind uint8

const (
	KindIdentity Kind = iota
	KindProject
	KindFilter
	KindUnion
	KindAggregation
	KindJoin
	KindTopK
	KindPaginate
	KindDistinct
	KindSharder
	KindShardMerger
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindProject:
		return "project"
	case KindFilter:
		return "filter"
	case KindUnion:
		return "union"
	case KindAggregation:
		return "aggregation"
	case KindJoin:
		return "join"
	case KindTopK:
		return "topk"
	case KindPaginate:
		return "paginate"
	case KindDistinct:
		return "distinct"
	case KindSharder:
		return "sharder"
	case KindShardMerger:
		return "shard_merger"
	default:
		return "unknown"
	}
}
