package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareSentinels(t *testing.T) {
	require.Equal(t, -1, Compare(Min, Int(5)))
	require.Equal(t, 1, Compare(Max, Int(5)))
	require.Equal(t, 0, Compare(Min, Min))
	require.Equal(t, 0, Compare(Max, Max))
}

func TestCompareNumericWidening(t *testing.T) {
	assert.Equal(t, 0, Compare(Int(5), Float(5.0)))
	assert.Equal(t, -1, Compare(Int(4), Uint(5)))
}

func TestCompareText(t *testing.T) {
	assert.Equal(t, -1, Compare(Text("bar"), Text("baz")))
	assert.True(t, Equal(Text("same"), Text("same")))
}

func TestRecordNegatedSharesColumns(t *testing.T) {
	r := NewPositive(Int(1), Text("a"))
	n := r.Negated()
	require.Equal(t, Negative, n.Polarity)
	require.Same(t, &r.Cols[0], &n.Cols[0])
}

func TestRecordKey(t *testing.T) {
	r := NewPositive(Int(1), Text("a"), Float(2.5))
	key := r.Key([]int{2, 0})
	require.Equal(t, []Value{Float(2.5), Int(1)}, key)
}

func TestSameRowIgnoresPolarity(t *testing.T) {
	a := NewPositive(Int(1), Text("x"))
	b := NewNegative(Int(1), Text("x"))
	assert.True(t, SameRow(a, b))
}

func TestDialectTextFold(t *testing.T) {
	assert.Equal(t, 0, CompareWithDialect(DialectMySQL, Text("BAZ"), Text("baz")))
	assert.NotEqual(t, 0, CompareWithDialect(DialectGeneric, Text("BAZ"), Text("baz")))
}
