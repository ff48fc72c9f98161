// Package state implements the per-node keyed state store (C1): insert,
// remove, point and range lookup, partial-hole tracking via filled-key sets,
// and LRU-backed eviction.
package state

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// LookupResult is the outcome of a lookup against a possibly-partial index.
type LookupResult struct {
	Hit     bool
	Records []value.Record
}

// key is the canonical string form of an index key, used as a map key. Index
// keys are short tuples of Values so this is cheap and avoids a custom hash.
func keyString(k []value.Value) string {
	s := make([]byte, 0, 16*len(k))
	for _, v := range k {
		s = append(s, byte(v.Kind))
		s = append(s, v.String()...)
		s = append(s, 0)
	}
	return string(s)
}

// indexState holds one Index's records and (for partial nodes) its filled
// set. Hash indices track filled keys in a set; btree indices additionally
// keep a sorted list of filled [lo,hi] ranges.
type indexState struct {
	kind graph.IndexKind

	rows map[string][]*value.Record // keyString -> records under that key

	partial bool
	filled  map[string]struct{} // hash: keys currently filled
	ranges  []btreeRange         // btree: filled ranges, sorted by lo
}

type btreeRange struct {
	lo, hi value.Value
}

// State is the materialized state of one Node: one indexState per declared
// Index, kept cross-index consistent (a Record is present in all indices for
// the node or absent from all of them).
type State struct {
	mu      sync.Mutex
	node    *graph.Node
	indices []*indexState
	evictor *lru.Cache[string, int64] // tracks approximate bytes per primary-index (position 0) key, LRU-ordered
	bytes   int64
}

// New builds a State for a node, one indexState per node.Indices entry.
// partial reports whether this node's materialization is MaterializePartial.
func New(node *graph.Node) *State {
	partial := node.Materialization == graph.MaterializePartial
	st := &State{node: node}
	for _, idx := range node.Indices {
		is := &indexState{
			kind:    idx.Kind,
			rows:    make(map[string][]*value.Record),
			partial: partial,
		}
		if partial && idx.Kind == graph.IndexHash {
			is.filled = make(map[string]struct{})
		}
		st.indices = append(st.indices, is)
	}
	cache, _ := lru.New[string, int64](1 << 20) // capacity bound enforced by size_bytes/evict, not entry count
	st.evictor = cache
	return st
}

// touch records key as most-recently-used on the primary index, the
// recency signal Evict consults to choose what to drop first.
func (s *State) touch(key string, bytes int64) {
	if s.evictor != nil {
		s.evictor.Add(key, bytes)
	}
}

// columnsFor returns the column positions for the i'th declared index.
func (s *State) columnsFor(i int) []int { return s.node.Indices[i].Columns }

// Insert appends r to every index's keyed bucket. Records are shared by
// reference across indices; callers must not mutate r.Cols afterward.
func (s *State) Insert(r value.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := &r
	size := estimateBytes(r)
	for i, is := range s.indices {
		key := keyString(r.Key(s.columnsFor(i)))
		is.rows[key] = append(is.rows[key], rp)
		if i == 0 {
			s.touch(key, size)
		}
	}
	s.bytes += size
}

// Remove deletes one matching copy of r from every index. It is a no-op if
// no matching record is present (idempotent under negate-then-apply, P2).
func (s *State) Remove(r value.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	for i, is := range s.indices {
		key := keyString(r.Key(s.columnsFor(i)))
		bucket := is.rows[key]
		for j, existing := range bucket {
			if value.SameRow(*existing, r) {
				bucket[j] = bucket[len(bucket)-1]
				bucket = bucket[:len(bucket)-1]
				removed = removed || i == 0
				break
			}
		}
		if len(bucket) == 0 {
			delete(is.rows, key)
			if i == 0 {
				s.evictor.Remove(key)
			}
		} else {
			is.rows[key] = bucket
		}
	}
	if !removed {
		return
	}
	s.bytes -= estimateBytes(r)
	if s.bytes < 0 {
		s.bytes = 0
	}
}

// Lookup answers a point lookup against the index at position idx. A miss is
// only possible when the node is partially materialized and the key is not
// in the filled set; full/non-partial indices never miss.
func (s *State) Lookup(idx int, key []value.Value) (LookupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.indices) {
		return LookupResult{}, fluxerr.New(fluxerr.MissingIndex, "state.Lookup")
	}
	is := s.indices[idx]
	ks := keyString(key)
	if is.partial {
		if _, ok := is.filled[ks]; !ok {
			return LookupResult{Hit: false}, nil
		}
	}
	rows := is.rows[ks]
	out := make([]value.Record, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	if idx == 0 {
		if sz, ok := s.evictor.Peek(ks); ok {
			s.evictor.Add(ks, sz) // refresh recency on read
		}
	}
	return LookupResult{Hit: true, Records: out}, nil
}

// LookupRange answers a range lookup against a btree index. lo/hi may be
// value.Min/value.Max for open-ended bounds.
func (s *State) LookupRange(idx int, lo, hi value.Value) (LookupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.indices) {
		return LookupResult{}, fluxerr.New(fluxerr.MissingIndex, "state.LookupRange")
	}
	is := s.indices[idx]
	if is.kind != graph.IndexBTree {
		return LookupResult{}, fluxerr.New(fluxerr.InvalidKeyType, "state.LookupRange")
	}
	if is.partial && !rangeCovered(is.ranges, lo, hi) {
		return LookupResult{Hit: false}, nil
	}
	var out []value.Record
	for _, rows := range is.rows {
		for _, r := range rows {
			k := r.Key(s.columnsFor(idx))
			v := k[0]
			if value.Compare(v, lo) >= 0 && value.Compare(v, hi) <= 0 {
				out = append(out, *r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return value.Compare(out[i].Cols[s.columnsFor(idx)[0]], out[j].Cols[s.columnsFor(idx)[0]]) < 0
	})
	return LookupResult{Hit: true, Records: out}, nil
}

// rangeCovered reports whether [lo,hi] is entirely covered by the sorted,
// non-overlapping filled ranges.
func rangeCovered(ranges []btreeRange, lo, hi value.Value) bool {
	cur := lo
	for _, r := range ranges {
		if value.Compare(r.lo, cur) > 0 {
			return false
		}
		if value.Compare(r.hi, cur) >= 0 {
			if value.Compare(r.hi, hi) >= 0 {
				return true
			}
			cur = r.hi
		}
	}
	return value.Compare(cur, hi) >= 0
}

// MarkFilled records key (hash index) as filled.
func (s *State) MarkFilled(idx int, key []value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.indices[idx]
	if is.filled == nil {
		is.filled = make(map[string]struct{})
	}
	is.filled[keyString(key)] = struct{}{}
}

// MarkFilledRange records [lo,hi] as filled on a btree index, merging with
// any adjacent/overlapping existing ranges.
func (s *State) MarkFilledRange(idx int, lo, hi value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.indices[idx]
	is.ranges = append(is.ranges, btreeRange{lo: lo, hi: hi})
	sort.Slice(is.ranges, func(i, j int) bool { return value.Compare(is.ranges[i].lo, is.ranges[j].lo) < 0 })
	merged := is.ranges[:0]
	for _, r := range is.ranges {
		if len(merged) > 0 && value.Compare(r.lo, merged[len(merged)-1].hi) <= 0 {
			if value.Compare(r.hi, merged[len(merged)-1].hi) > 0 {
				merged[len(merged)-1].hi = r.hi
			}
			continue
		}
		merged = append(merged, r)
	}
	is.ranges = merged
}

// MarkHole converts key from filled back to a hole (used by eviction).
func (s *State) MarkHole(idx int, key []value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.indices[idx]
	delete(is.filled, keyString(key))
}

// Evict removes up to bytesTarget bytes of state, choosing least-recently
// touched keys first (per the Open Question decision in SPEC_FULL.md, the
// owning domain performs the mutation; this method assumes it is called on
// that domain's thread). It returns the evicted keys on the primary index.
func (s *State) Evict(bytesTarget int64) [][]value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.indices) == 0 {
		return nil
	}
	primary := s.indices[0]
	var evicted [][]value.Value
	var freed int64
	for freed < bytesTarget {
		ks, sz, ok := s.evictor.RemoveOldest()
		if !ok {
			break
		}
		rows, present := primary.rows[ks]
		if !present {
			continue // already evicted via Remove; stale cache entry
		}
		freed += sz
		key := rows[0].Key(s.columnsFor(0))
		delete(primary.rows, ks)
		if primary.filled != nil {
			delete(primary.filled, ks)
		}
		evicted = append(evicted, key)
	}
	// Remove the same rows from secondary indices for cross-index consistency.
	for _, key := range evicted {
		for i := 1; i < len(s.indices); i++ {
			is := s.indices[i]
			// Secondary index keys are not necessarily derivable from the
			// primary key alone, so a full scan-and-match is used; this is
			// acceptable because Evict runs off the hot path.
			for ks, rows := range is.rows {
				kept := rows[:0]
				for _, r := range rows {
					if !recordMatchesPrimaryKey(*r, s.columnsFor(0), key) {
						kept = append(kept, r)
					}
				}
				if len(kept) == 0 {
					delete(is.rows, ks)
				} else {
					is.rows[ks] = kept
				}
			}
		}
	}
	s.bytes -= freed
	if s.bytes < 0 {
		s.bytes = 0
	}
	return evicted
}

func recordMatchesPrimaryKey(r value.Record, primaryCols []int, key []value.Value) bool {
	actual := r.Key(primaryCols)
	if len(actual) != len(key) {
		return false
	}
	for i := range actual {
		if !value.Equal(actual[i], key[i]) {
			return false
		}
	}
	return true
}

// SizeBytes returns the approximate in-memory size of this node's state.
func (s *State) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// FilledKeyCount reports how many keys are currently filled on the index at
// idx (hash indices: len of the filled set; btree indices: number of
// distinct filled ranges). For a non-partial index every key with at least
// one row counts as filled.
func (s *State) FilledKeyCount(idx int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.indices) {
		return 0
	}
	is := s.indices[idx]
	if !is.partial {
		return len(is.rows)
	}
	if is.kind == graph.IndexBTree {
		return len(is.ranges)
	}
	return len(is.filled)
}

// All returns every currently-held row across index 0, used by the
// controller to seed a newly added fully-materialized node from an existing
// ancestor's state during migration (§4.7 step 6 "full-replay materialization").
func (s *State) All() []value.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.indices) == 0 {
		return nil
	}
	var out []value.Record
	for _, bucket := range s.indices[0].rows {
		for _, r := range bucket {
			out = append(out, *r)
		}
	}
	return out
}

func estimateBytes(r value.Record) int64 {
	n := int64(16) // polarity + slice header overhead, approximate
	for _, v := range r.Cols {
		switch v.Kind {
		case value.KindText, value.KindBytes, value.KindJSON, value.KindDecimal:
			n += int64(len(v.S))
		default:
			n += 8
		}
	}
	return n
}
