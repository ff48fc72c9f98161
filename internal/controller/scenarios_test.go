package controller_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/reader"
	"github.com/fluxcache/fluxcache/internal/value"
)

// TestUnionAllPointRead covers scenario 1: two base tables fed through a
// union_all, queried by a single key that has a match on each side.
func TestUnionAllPointRead(t *testing.T) {
	h := newHarness(t, `
		CREATE TABLE a (a INT PRIMARY KEY, b INT);
		CREATE TABLE b (a INT PRIMARY KEY, b INT);
		QUERY c: SELECT * FROM a UNION ALL SELECT * FROM b;
	`)

	h.insert("a", value.Int(1), value.Int(2))
	h.insert("b", value.Int(1), value.Int(4))

	rows := h.lookup("c", value.Int(1))
	require.Len(t, rows, 2)

	got := map[int64]bool{}
	for _, r := range rows {
		require.Len(t, r.Cols, 2)
		assert.Equal(t, int64(1), r.Cols[0].I)
		got[r.Cols[1].I] = true
	}
	assert.True(t, got[2])
	assert.True(t, got[4])
}

// TestGroupByCount covers the aggregation half of scenario 2: a vote table
// grouped by the article it's for, counting votes per article. The parser
// accepts a derived-table FROM, but the planner does not lower it, so the
// combined "article LEFT JOIN (SELECT ... GROUP BY ...)" schema from the original
// scenario can't be installed as one statement — it is exercised here as a
// standalone GROUP BY and below, in TestLeftJoinNullExtension, as a
// standalone LEFT JOIN, rather than forced into a single (and subtly wrong,
// since flattening join-then-group would count null-extended rows) query.
func TestGroupByCount(t *testing.T) {
	h := newHarness(t, `
		CREATE TABLE vote (id INT, user INT);
		QUERY votecount: SELECT id, COUNT(user) FROM vote GROUP BY id;
	`)

	h.insert("vote", value.Int(1), value.Int(100))
	h.insert("vote", value.Int(1), value.Int(101))
	h.insert("vote", value.Int(2), value.Int(200))

	rows := h.lookup("votecount", value.Int(1))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Cols[0].I)
	assert.Equal(t, int64(2), rows[0].Cols[1].I)

	rows = h.lookup("votecount", value.Int(2))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Cols[1].I)
}

// TestLeftJoinNullExtension covers the join half of scenario 2: an article
// with no matching votes still produces a row (left-extended), exercising
// the join side-routing fix (a right-side update must not be mistaken for a
// left-side one, and vice versa).
func TestLeftJoinNullExtension(t *testing.T) {
	h := newHarness(t, `
		CREATE TABLE article (id INT PRIMARY KEY, title TEXT);
		CREATE TABLE vote (id INT, user INT);
		QUERY withvotes: SELECT * FROM article LEFT JOIN vote ON article.id = vote.id;
	`)

	h.insert("article", value.Int(1), value.Text("A"))
	h.insert("article", value.Int(2), value.Text("B"))
	h.insert("vote", value.Int(2), value.Int(100))

	rows := h.lookup("withvotes", value.Int(1))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Cols[0].I)
	assert.Equal(t, "A", rows[0].Cols[1].S)

	rows = h.lookup("withvotes", value.Int(2))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Cols[0].I)
	assert.Equal(t, int64(2), rows[0].Cols[2].I)
	assert.Equal(t, int64(100), rows[0].Cols[3].I)
}

// TestPartialMaterializationFillsOnDemand covers scenario 4: a view over an
// initially empty base starts with no materialized rows, and a blocking
// lookup after data arrives returns every row for that key without a
// separate "refresh" step.
func TestPartialMaterializationFillsOnDemand(t *testing.T) {
	h := newHarness(t, `
		CREATE TABLE t (k INT, v INT);
		QUERY byk: SELECT * FROM t;
	`)

	v, err := h.a.View("byk")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())

	h.insert("t", value.Int(1), value.Int(10))
	h.insert("t", value.Int(1), value.Int(20))
	h.insert("t", value.Int(1), value.Int(30))

	rows := h.lookup("byk", value.Int(1))
	require.Len(t, rows, 3)
}

// TestExtendRecipeNoDataLoss covers scenario 7: extending a live recipe with
// a second query over an already-populated base leaves the first query's
// view intact and seeds the new one from the existing rows, without
// re-inserting anything.
func TestExtendRecipeNoDataLoss(t *testing.T) {
	h := newHarness(t, `
		CREATE TABLE t (a INT, b INT);
		QUERY q1: SELECT a FROM t;
	`)

	h.insert("t", value.Int(1), value.Int(2))
	h.insert("t", value.Int(3), value.Int(4))

	rows := h.lookup("q1", value.Int(1))
	require.Len(t, rows, 1)

	_, err := h.w.ExtendRecipe(`QUERY q2: SELECT b FROM t;`)
	require.NoError(t, err)

	rows = h.lookup("q1", value.Int(1))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Cols[0].I)

	rows = h.lookup("q2", value.Int(4))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].Cols[0].I)
}

// TestRangeQueryWithLikePostFilter covers scenario 3: a reader over a query
// with a range predicate gets a btree index on the constrained column end
// to end (mir.rangeColumnOf -> controller.parentRangeColumns ->
// kernel.Reader.SuggestIndices), a cold range lookup fills the reader from
// its upstream filter node via replay.Engine, and an ILIKE post-filter
// supplied at read time through reader.Query.Filter narrows the range
// result the way raw_lookup describes.
func TestRangeQueryWithLikePostFilter(t *testing.T) {
	h := newHarness(t, `
		CREATE TABLE t (s TEXT, n INT);
		QUERY t_reader: SELECT s, n FROM t WHERE n > 1;
	`)

	h.insert("t", value.Text("foo"), value.Int(1)) // excluded: n not > 1
	h.insert("t", value.Text("bar"), value.Int(2))
	h.insert("t", value.Text("baz"), value.Int(3))
	h.insert("t", value.Text("BAZ"), value.Int(4))
	h.insert("t", value.Text("xyz"), value.Int(5))
	h.insert("t", value.Text("qux"), value.Int(0)) // excluded: n not > 1

	v, err := h.a.View("t_reader")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Cold: the reader's own state holds nothing yet, so this range lookup
	// must upquery its way back one hop to the WHERE filter node.
	rows, err := v.LookupRange(ctx, value.Min, value.Max, true)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	got := map[string]int64{}
	for _, r := range rows {
		got[r.Cols[0].S] = r.Cols[1].I
	}
	assert.Equal(t, int64(2), got["bar"])
	assert.Equal(t, int64(3), got["baz"])
	assert.Equal(t, int64(4), got["BAZ"])
	assert.Equal(t, int64(5), got["xyz"])

	// defaultIndices always places the hash index at 0 and appends the
	// reader kernel's single SuggestIndices btree right after it, so the
	// range index for a MIRReader with RangeColumn >= 0 is always at 1.
	filtered, err := v.RawLookup(ctx, reader.Query{
		Range: &reader.Range{Lo: value.Min, Hi: value.Max},
		Index: 1,
		Filter: func(cols []value.Value) bool {
			return strings.Contains(strings.ToLower(cols[0].S), "a")
		},
	})
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	names := map[string]bool{}
	for _, r := range filtered {
		names[r.Cols[0].S] = true
	}
	assert.True(t, names["bar"])
	assert.True(t, names["baz"])
	assert.True(t, names["BAZ"])
	assert.False(t, names["xyz"])
}
