package kernel

import (
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// UnionSemantics selects whether Union deduplicates.
type UnionSemantics uint8

const (
	UnionAll UnionSemantics = iota
	UnionDistinct
)

// Union is an N-ary concatenation operator. OnInput returns each batch
// unchanged: its output is not tagged with the input it came from, so
// downstream nodes cannot tell which ancestor a record came from. Under
// UnionDistinct semantics the caller is expected to chain a Distinct
// aggregation downstream (§4.2); Union itself only concatenates.
type Union struct {
	Semantics UnionSemantics
	NumInputs int
}

// TaggedBatch carries the index of the ancestor input a batch arrived from,
// since Union.OnInput is invoked once per incoming edge.
type TaggedBatch struct {
	Input int
	Batch value.Batch
}

func (u Union) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	// Plain concatenation: Union trusts the domain runtime to route each
	// ancestor's batch through in turn; polarity is preserved untouched.
	return update, nil
}
func (Union) OnCommit() error { return nil }
func (Union) SuggestIndices() []graph.Index { return nil }
func (Union) ColumnSource(col int) Provenance {
	// A Union's output column provenance is input-dependent; callers that
	// need per-input provenance should consult the owning node's Parents in
	// arrival order rather than this generic accessor.
	return NoProvenance
}
