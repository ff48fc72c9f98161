package wireadapter

import (
	"context"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/reader"
	"github.com/fluxcache/fluxcache/internal/value"
)

// ViewHandle is the query read surface (§6 view(name)).
type ViewHandle struct {
	reader *reader.Reader
	node   *graph.Node
}

// Lookup resolves a point lookup against the view's primary index,
// blocking on a partial miss when block is true (§6 lookup(keys, block)).
func (v *ViewHandle) Lookup(ctx context.Context, keys []value.Value, block bool) ([]value.Record, error) {
	return v.reader.Lookup(ctx, 0, keys, block)
}

// LookupRange resolves a btree range lookup against the view's btree index
// (§6 lookup_range(range, block), §4.5, §8 scenario 3). It locates that
// index by kind rather than assuming position 0, since every materialized
// node also carries a hash index on column 0 at that position (see
// controller.defaultIndices); a view with no btree index returns
// fluxerr.InvalidKeyType via state.LookupRange, same as always.
func (v *ViewHandle) LookupRange(ctx context.Context, lo, hi value.Value, block bool) ([]value.Record, error) {
	return v.reader.LookupRange(ctx, v.btreeIndex(), lo, hi, block)
}

func (v *ViewHandle) btreeIndex() int {
	for i, idx := range v.node.Indices {
		if idx.Kind == graph.IndexBTree {
			return i
		}
	}
	return 0
}

// RawLookup resolves a structured query with post-filter, order-by, limit,
// and an optional required freshness vector (§6 raw_lookup(query)).
func (v *ViewHandle) RawLookup(ctx context.Context, q reader.Query) ([]value.Record, error) {
	return v.reader.RawLookup(ctx, q)
}

// Columns returns the view's output column names (§6 columns()).
func (v *ViewHandle) Columns() []string {
	names := make([]string, len(v.node.Columns))
	for i, c := range v.node.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema returns the view's output columns with their value kind and
// provenance (§6 schema()).
func (v *ViewHandle) Schema() []graph.Column {
	return v.node.Columns
}

// Vector returns the view's last-observed freshness vector (§4.5).
func (v *ViewHandle) Vector() reader.Vector {
	return v.reader.Vector()
}
