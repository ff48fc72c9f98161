// Package reader implements the external-facing lookup endpoint (C5): point
// and range lookups against a materialized node, freshness gating via a
// per-base timestamp vector, and post-filter/order-by/limit evaluation for
// raw_lookup, per §4.5.
package reader

import (
	"context"
	"sort"
	"time"

	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/state"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Vector is a per-base monotonically increasing timestamp vector (§4.5). It
// is compared component-wise; a reader's vector must dominate a requested
// vector for raw_lookup to proceed without a freshness miss.
type Vector map[graph.NodeIndex]int64

// Dominates reports whether v has, for every base present in other, a
// timestamp at least as large (P4's "non-decreasing per component" and the
// dominance check §4.5 describes for raw_lookup).
func (v Vector) Dominates(other Vector) bool {
	for base, ts := range other {
		if v[base] < ts {
			return false
		}
	}
	return true
}

// Merge folds newer component-wise maxima from other into v, returning the
// result; it never decreases a component (P4).
func (v Vector) Merge(other Vector) Vector {
	out := make(Vector, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		if val > out[k] {
			out[k] = val
		}
	}
	return out
}

// MissDispatcher issues a miss upquery for a reader's node, identical to the
// hook internal/domain's kernels use, kept as its own interface so reader
// doesn't import internal/domain (avoiding an import cycle back through
// internal/replay, which already depends on internal/domain).
type MissDispatcher interface {
	RequestMiss(ctx context.Context, node graph.NodeIndex, index int, key []value.Value) error
	RequestMissRange(ctx context.Context, node graph.NodeIndex, index int, lo, hi value.Value) error
}

// PostFilter evaluates a row for inclusion after lookup and before return
// (e.g. a LIKE/ILIKE predicate), §4.5.
type PostFilter func(cols []value.Value) bool

// OrderTerm is one ORDER BY term for raw_lookup.
type OrderTerm struct {
	Column int
	Desc   bool
}

// Query is the structured input to raw_lookup.
type Query struct {
	Range      *Range // nil means a point lookup is not applicable; use Keys instead
	Keys       [][]value.Value
	Index      int
	Filter     PostFilter
	OrderBy    []OrderTerm
	Limit      int // 0 means unlimited
	Freshness  Vector
}

// Range is an inclusive [Lo, Hi] bound, using value.Min/value.Max for
// open-ended sides.
type Range struct {
	Lo, Hi value.Value
}

// Reader is a leaf node exposing lookup semantics externally (§4.5).
type Reader struct {
	Node  graph.NodeIndex
	State *state.State

	Dispatcher MissDispatcher

	PostFilter PostFilter

	// UpqueryTimeout bounds how long a blocking lookup waits for a miss to
	// fill before returning UpqueryTimeout (§7).
	UpqueryTimeout time.Duration

	vector Vector
}

// New constructs a Reader backed by st, wired to dispatcher for miss
// handling.
func New(node graph.NodeIndex, st *state.State, dispatcher MissDispatcher, upqueryTimeout time.Duration) *Reader {
	return &Reader{Node: node, State: st, Dispatcher: dispatcher, UpqueryTimeout: upqueryTimeout, vector: make(Vector)}
}

// Vector returns the reader's last-observed freshness vector (P4: callers
// must never observe this decrease across calls).
func (r *Reader) Vector() Vector { return r.vector }

// AdvanceVector folds an update's base timestamp into the reader's observed
// vector; called by Worker.UpdateTimestamp for the reader it names.
func (r *Reader) AdvanceVector(base graph.NodeIndex, ts int64) {
	if ts > r.vector[base] {
		r.vector[base] = ts
	}
}

// Lookup answers a point lookup, per §4.5. With block=true a miss triggers
// an upquery and waits (subject to UpqueryTimeout) for the fill; with
// block=false a miss still initiates the upquery but returns empty
// immediately so a subsequent read observes the fill.
func (r *Reader) Lookup(ctx context.Context, index int, key []value.Value, block bool) ([]value.Record, error) {
	res, err := r.State.Lookup(index, key)
	if err != nil {
		return nil, err
	}
	if res.Hit {
		return r.applyFilter(res.Records), nil
	}
	if r.Dispatcher == nil {
		return nil, fluxerr.New(fluxerr.UpqueryTimeout, "reader.Lookup")
	}
	if !block {
		go func() {
			_ = r.Dispatcher.RequestMiss(context.Background(), r.Node, index, key)
		}()
		return nil, nil
	}
	if err := r.waitForFill(ctx, func() (state.LookupResult, error) {
		return r.State.Lookup(index, key)
	}, func(ctx context.Context) error {
		return r.Dispatcher.RequestMiss(ctx, r.Node, index, key)
	}); err != nil {
		return nil, err
	}
	res, err = r.State.Lookup(index, key)
	if err != nil {
		return nil, err
	}
	return r.applyFilter(res.Records), nil
}

// LookupRange answers a range lookup against a btree index, identical
// blocking semantics to Lookup.
func (r *Reader) LookupRange(ctx context.Context, index int, lo, hi value.Value, block bool) ([]value.Record, error) {
	res, err := r.State.LookupRange(index, lo, hi)
	if err != nil {
		return nil, err
	}
	if res.Hit {
		return r.applyFilter(res.Records), nil
	}
	if r.Dispatcher == nil {
		return nil, fluxerr.New(fluxerr.UpqueryTimeout, "reader.LookupRange")
	}
	if !block {
		go func() {
			_ = r.Dispatcher.RequestMissRange(context.Background(), r.Node, index, lo, hi)
		}()
		return nil, nil
	}
	if err := r.waitForFill(ctx, func() (state.LookupResult, error) {
		return r.State.LookupRange(index, lo, hi)
	}, func(ctx context.Context) error {
		return r.Dispatcher.RequestMissRange(ctx, r.Node, index, lo, hi)
	}); err != nil {
		return nil, err
	}
	res, err = r.State.LookupRange(index, lo, hi)
	if err != nil {
		return nil, err
	}
	return r.applyFilter(res.Records), nil
}

// waitForFill issues the miss once and polls the state at a short interval
// until the lookup hits, the deadline (min of ctx and UpqueryTimeout)
// passes, or ctx is canceled. Polling rather than a per-key condvar matches
// the domain runtime's no-locks-across-domains discipline (§5): the reader
// never reaches into the owning domain's internals, it only watches its own
// State through the same interface a lookup uses.
func (r *Reader) waitForFill(ctx context.Context, check func() (state.LookupResult, error), dispatch func(context.Context) error) error {
	deadline := time.Now().Add(r.UpqueryTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := dispatch(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		res, err := check()
		if err != nil {
			return err
		}
		if res.Hit {
			return nil
		}
		if time.Now().After(deadline) {
			return fluxerr.New(fluxerr.UpqueryTimeout, "reader.waitForFill")
		}
		select {
		case <-ctx.Done():
			return fluxerr.Wrap(fluxerr.UpqueryTimeout, "reader.waitForFill", ctx.Err())
		case <-ticker.C:
		}
	}
}

// RawLookup accepts a structured Query with post-filter, order-by, limit,
// and a required freshness vector. If the reader's observed vector does not
// dominate q.Freshness, it fails fast with FreshnessMiss rather than
// blocking (§4.5).
func (r *Reader) RawLookup(ctx context.Context, q Query) ([]value.Record, error) {
	if q.Freshness != nil && !r.vector.Dominates(q.Freshness) {
		return nil, fluxerr.New(fluxerr.FreshnessMiss, "reader.RawLookup")
	}

	var rows []value.Record
	if q.Range != nil {
		res, err := r.State.LookupRange(q.Index, q.Range.Lo, q.Range.Hi)
		if err != nil {
			return nil, err
		}
		if !res.Hit {
			return nil, fluxerr.New(fluxerr.UpqueryTimeout, "reader.RawLookup: range not filled")
		}
		rows = res.Records
	} else {
		for _, k := range q.Keys {
			res, err := r.State.Lookup(q.Index, k)
			if err != nil {
				return nil, err
			}
			if !res.Hit {
				return nil, fluxerr.New(fluxerr.UpqueryTimeout, "reader.RawLookup: key not filled")
			}
			rows = append(rows, res.Records...)
		}
	}

	if q.Filter != nil {
		rows = filterRows(rows, q.Filter)
	} else if r.PostFilter != nil {
		rows = filterRows(rows, r.PostFilter)
	}

	if len(q.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := value.Compare(rows[i].Cols[o.Column], rows[j].Cols[o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func (r *Reader) applyFilter(rows []value.Record) []value.Record {
	if r.PostFilter == nil {
		return rows
	}
	return filterRows(rows, r.PostFilter)
}

func filterRows(rows []value.Record, f PostFilter) []value.Record {
	out := rows[:0:0]
	for _, row := range rows {
		if f(row.Cols) {
			out = append(out, row)
		}
	}
	return out
}

// Len reports how many distinct keys this reader's primary index currently
// has filled; used by migration/test scenarios (§8 scenario 4, "reader
// length is now 1").
func (r *Reader) Len() int {
	return r.State.FilledKeyCount(0)
}
