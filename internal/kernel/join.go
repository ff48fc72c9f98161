package kernel

import (
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// JoinKind selects inner vs. left-outer semantics.
type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// Side identifies which input an update batch arrived from.
type Side uint8

const (
	SideLeft Side = iota
	SideRight
)

// Join is a binary equijoin over LeftKey/RightKey column positions,
// grounded in §4.2: "stores lookup indices on both inputs... emits the
// cartesian product with preserved polarity." Left join additionally emits
// a null-extended row for a left insert with no right match, retracting it
// once a matching right row arrives (tracked via matchCounts).
type Join struct {
	Kind JoinKind

	LeftKey, RightKey     []int
	LeftAncestor, RightAncestor graph.NodeIndex
	LeftIndex, RightIndex int // index position on the respective ancestor's State
	RightColumnCount      int // used to build the null-extension for left join

	// matchCounts tracks, per left-row identity, how many right rows
	// currently match it, so a left join knows when to retract a
	// null-extended row.
	matchCounts map[string]int64
}

func NewJoin(kind JoinKind, leftKey, rightKey []int, rightColumnCount int) *Join {
	return &Join{Kind: kind, LeftKey: leftKey, RightKey: rightKey, RightColumnCount: rightColumnCount, matchCounts: make(map[string]int64)}
}

func keyOf(cols []value.Value, idx []int) []value.Value {
	out := make([]value.Value, len(idx))
	for i, c := range idx {
		out[i] = cols[c]
	}
	return out
}

func rowIdentity(cols []value.Value) string {
	s := make([]byte, 0, 8*len(cols))
	for _, v := range cols {
		s = append(s, v.String()...)
		s = append(s, 0)
	}
	return string(s)
}

// OnInputFromSide processes an update arriving from one of the two inputs;
// the domain runtime calls this (rather than the generic OnInput) because a
// binary kernel must know which side produced the batch.
func (j *Join) OnInputFromSide(side Side, update value.Batch, lookup AncestorLookup) (value.Batch, error) {
	var out value.Batch
	for _, r := range update {
		var matches []value.Record
		var err error
		var key []value.Value
		if side == SideLeft {
			key = keyOf(r.Cols, j.LeftKey)
			res, lerr := lookup(j.RightAncestor, j.RightIndex, key)
			err = lerr
			if lerr == nil && res.Hit {
				matches = res.Records
			}
		} else {
			key = keyOf(r.Cols, j.RightKey)
			res, lerr := lookup(j.LeftAncestor, j.LeftIndex, key)
			err = lerr
			if lerr == nil && res.Hit {
				matches = res.Records
			}
		}
		if err != nil {
			return nil, err
		}

		if side == SideLeft {
			id := rowIdentity(r.Cols)
			if r.Polarity == value.Positive {
				n := int64(len(matches))
				j.matchCounts[id] = n
				if n == 0 && j.Kind == JoinLeft {
					out = append(out, value.Record{Cols: nullExtend(r.Cols, j.RightColumnCount), Polarity: value.Positive})
					continue
				}
				for _, m := range matches {
					out = append(out, value.Record{Cols: concatCols(r.Cols, m.Cols), Polarity: value.Positive})
				}
			} else {
				n := j.matchCounts[id]
				delete(j.matchCounts, id)
				if n == 0 && j.Kind == JoinLeft {
					out = append(out, value.Record{Cols: nullExtend(r.Cols, j.RightColumnCount), Polarity: value.Negative})
					continue
				}
				for _, m := range matches {
					out = append(out, value.Record{Cols: concatCols(r.Cols, m.Cols), Polarity: value.Negative})
				}
			}
			continue
		}

		// Right-side update: join against every matching left row, and for
		// left-outer, retract/emit the null-extension as match counts cross
		// 0<->1.
		for _, m := range matches {
			id := rowIdentity(m.Cols)
			if r.Polarity == value.Positive {
				before := j.matchCounts[id]
				j.matchCounts[id] = before + 1
				if before == 0 && j.Kind == JoinLeft {
					out = append(out, value.Record{Cols: nullExtend(m.Cols, j.RightColumnCount), Polarity: value.Negative})
				}
				out = append(out, value.Record{Cols: concatCols(m.Cols, r.Cols), Polarity: value.Positive})
			} else {
				before := j.matchCounts[id]
				j.matchCounts[id] = before - 1
				out = append(out, value.Record{Cols: concatCols(m.Cols, r.Cols), Polarity: value.Negative})
				if before-1 == 0 && j.Kind == JoinLeft {
					out = append(out, value.Record{Cols: nullExtend(m.Cols, j.RightColumnCount), Polarity: value.Positive})
				}
			}
		}
	}
	return out, nil
}

func concatCols(a, b []value.Value) []value.Value {
	out := make([]value.Value, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func nullExtend(left []value.Value, rightCols int) []value.Value {
	out := make([]value.Value, 0, len(left)+rightCols)
	out = append(out, left...)
	for i := 0; i < rightCols; i++ {
		out = append(out, value.Null)
	}
	return out
}

// OnInput satisfies Kernel for a Join whose caller does not distinguish
// sides (e.g. a test harness feeding a pre-tagged batch); production code
// should prefer OnInputFromSide via the domain runtime's edge routing.
func (j *Join) OnInput(update value.Batch, lookup AncestorLookup) (value.Batch, error) {
	return j.OnInputFromSide(SideLeft, update, lookup)
}

func (j *Join) OnCommit() error { return nil }

func (j *Join) SuggestIndices() []graph.Index {
	return []graph.Index{
		{Columns: j.LeftKey, Kind: graph.IndexHash},
		{Columns: j.RightKey, Kind: graph.IndexHash},
	}
}

func (j *Join) ColumnSource(col int) Provenance {
	if col < len(j.LeftKey) {
		return Provenance{Node: j.LeftAncestor, Column: col}
	}
	return Provenance{Node: j.RightAncestor, Column: col - len(j.LeftKey)}
}
