package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAddGetRemove(t *testing.T) {
	a := NewArena()
	idx := a.Add(&Node{Kind: KindBase, Name: "t"})
	n, ok := a.Get(idx)
	require.True(t, ok)
	require.Equal(t, "t", n.Name)

	a.Remove(idx)
	_, ok = a.Get(idx)
	require.False(t, ok)
}

func TestArenaEdgesSurviveStaleIndex(t *testing.T) {
	a := NewArena()
	p := a.Add(&Node{Kind: KindBase, Name: "p"})
	c := a.Add(&Node{Kind: KindInternal, Name: "c"})
	a.AddEdge(p, c)

	pn, _ := a.Get(p)
	cn, _ := a.Get(c)
	require.Equal(t, []NodeIndex{c}, pn.Children)
	require.Equal(t, []NodeIndex{p}, cn.Parents)

	a.Remove(p)
	// c's Parents slice still holds the stale index; Get on it correctly
	// reports the node gone rather than panicking.
	_, ok := a.Get(cn.Parents[0])
	require.False(t, ok)
}

func TestArenaWalkSkipsRemoved(t *testing.T) {
	a := NewArena()
	a.Add(&Node{Name: "a"})
	b := a.Add(&Node{Name: "b"})
	a.Remove(b)

	var names []string
	a.Walk(func(n *Node) { names = append(names, n.Name) })
	require.Equal(t, []string{"a"}, names)
}
