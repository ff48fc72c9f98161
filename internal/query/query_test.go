package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCreateTable(t *testing.T) {
	stmts, err := ParseStatements(`CREATE TABLE article (id int pk, title text);`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	ct := stmts[0].(*CreateTable)
	require.Equal(t, "article", ct.Name)
	require.Len(t, ct.Columns, 2)
	require.True(t, ct.Columns[0].PrimaryKey)
}

func TestParseUnionAllQuery(t *testing.T) {
	stmts, err := ParseStatements(`QUERY c: SELECT * FROM a UNION ALL SELECT * FROM b;`)
	require.NoError(t, err)
	nq := stmts[0].(*NamedQuery)
	require.Equal(t, "c", nq.Name)
	require.NotNil(t, nq.Select.UnionWith)
	require.True(t, nq.Select.UnionAll)
}

func TestParseLeftJoinWithAggregateAndUsing(t *testing.T) {
	src := `QUERY awvc: SELECT article.id, article.title, COUNT(vote.user) AS n
		FROM article LEFT JOIN vote USING (id) GROUP BY article.id;`
	stmts, err := ParseStatements(src)
	require.NoError(t, err)
	nq := stmts[0].(*NamedQuery)
	require.Len(t, nq.Select.Joins, 1)
	require.Equal(t, JoinLeft, nq.Select.Joins[0].Kind)
	require.Equal(t, "COUNT", nq.Select.Columns[2].Agg.Func)
}

func TestParseRangeAndILike(t *testing.T) {
	src := `QUERY t_reader: SELECT s, n FROM t WHERE s ILIKE '%a%' ORDER BY n LIMIT 10;`
	stmts, err := ParseStatements(src)
	require.NoError(t, err)
	nq := stmts[0].(*NamedQuery)
	require.Len(t, nq.Select.OrderBy, 1)
	require.Equal(t, 10, nq.Select.Limit)
}

func TestRewriteNormalizesNegation(t *testing.T) {
	src := `QUERY q: SELECT a FROM t WHERE NOT (a > 1 AND a < 10);`
	stmts, err := ParseStatements(src)
	require.NoError(t, err)
	nq := stmts[0].(*NamedQuery)
	sel := Rewrite(nq.Select, nil)
	or, ok := sel.Where.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "OR", or.Op)
}

func TestRewriteRemovesAliases(t *testing.T) {
	src := `QUERY q: SELECT art.title FROM article art LEFT JOIN vote v ON art.id = v.id;`
	stmts, err := ParseStatements(src)
	require.NoError(t, err)
	nq := stmts[0].(*NamedQuery)
	sel := Rewrite(nq.Select, nil)
	require.Equal(t, "article", sel.Columns[0].Table)
	require.Equal(t, "article", sel.From.Name)
	require.Equal(t, "", sel.From.Alias)
}

func TestILIKEToPredicate(t *testing.T) {
	match := ILIKEToPredicate("%a%", true)
	require.True(t, match("BAZ"))
	require.False(t, match("qux"))

	prefix := ILIKEToPredicate("ba%", false)
	require.True(t, prefix("bar"))
	require.False(t, prefix("foobar"))
}

func TestBetweenExpansion(t *testing.T) {
	src := `QUERY q: SELECT a FROM t WHERE a BETWEEN 1 AND 10;`
	stmts, err := ParseStatements(src)
	require.NoError(t, err)
	nq := stmts[0].(*NamedQuery)
	sel := Rewrite(nq.Select, nil)
	and, ok := sel.Where.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "AND", and.Op)
}
