// Package graph holds the node arena for the dataflow graph: an
// integer-indexed arena of Node records, the index/materialization metadata
// attached to each, and domain/shard descriptors. Per the design notes in
// the original specification, the graph is acyclic in data flow but carries
// back-references for provenance; those references never hold ownership,
// hence the arena-of-indices shape instead of a pointer graph.
package graph

// Kind tags the role a Node plays in the dataflow graph.
type Kind uint8

const (
	KindSource Kind = iota
	KindBase
	KindInternal
	KindIngress
	KindEgress
	KindSharder
	KindShardMerger
	KindReader
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindBase:
		return "base"
	case KindInternal:
		return "internal-operator"
	case KindIngress:
		return "ingress"
	case KindEgress:
		return "egress"
	case KindSharder:
		return "sharder"
	case KindShardMerger:
		return "shard-merger"
	case KindReader:
		return "reader"
	default:
		return "unknown"
	}
}

// IndexKind distinguishes a point (hash) index from an ordered (btree) one.
type IndexKind uint8

const (
	IndexHash IndexKind = iota
	IndexBTree
)

// Index describes one lookup path into a Node's state: the column positions
// it covers and whether it supports point or range lookup.
type Index struct {
	Columns []int
	Kind    IndexKind
}

// Materialization describes how (if at all) a Node's output is retained.
type Materialization uint8

const (
	MaterializeNone Materialization = iota
	MaterializeFull
	MaterializePartial
)

// Column names and declares the type of one output column, with optional
// provenance back to an ancestor's column — used by the replay engine to
// translate keys along upquery paths (§4.4 of the original specification).
type Column struct {
	Name string
	Kind int // value.Kind, kept as int to avoid an import cycle with internal/value at this layer

	// ProvenanceNode/ProvenanceColumn name the ancestor this column is
	// derived from, when it is a pass-through or simple projection of one
	// ancestor column. A column synthesized from multiple ancestors (e.g.
	// an aggregate) leaves these at their zero value (ProvenanceNode 0,
	// not NoNode).
	ProvenanceNode   NodeIndex
	ProvenanceColumn int
}

// NodeIndex is a stable global index into the Arena.
type NodeIndex int

// LocalIndex is a domain-local index, stable only within the owning Domain.
type LocalIndex int

// NoNode is the sentinel "no provenance" / "no node" value.
const NoNode NodeIndex = -1

// Node is one entity in the dataflow graph.
type Node struct {
	Global NodeIndex
	Local  LocalIndex
	Domain DomainID

	Kind    Kind
	Name    string
	Columns []Column
	Indices []Index

	Materialization Materialization

	// Sharding describes how this node's output is partitioned, or
	// ShardingNone if the node is unsharded.
	Sharding Sharding

	Parents  []NodeIndex
	Children []NodeIndex

	state NodeState
}

// NodeState is the lifecycle stage of a Node (§3 "Lifecycle").
type NodeState uint8

const (
	StateInitializing NodeState = iota
	StateReady
	StateRemoved
)

func (n *Node) State() NodeState     { return n.state }
func (n *Node) SetState(s NodeState) { n.state = s }

// Sharding describes the partitioning of a node's output.
type Sharding struct {
	Sharded bool
	Column  int // meaningful only if Sharded
	Shards  int // meaningful only if Sharded
}

// ShardingNone is the unsharded sentinel.
var ShardingNone = Sharding{}

// DomainID identifies a single-threaded scheduling unit (internal/domain.Domain).
type DomainID int

// ShardID identifies one shard of a DomainID's replicated instances.
type ShardID int

// Arena owns every Node, held by pointer and addressed by NodeIndex. Edges are index
// pairs recorded in Node.Parents/Children; cross-references never imply
// ownership, so removing a node from the arena (see Remove) is safe even
// while stale NodeIndex values are held elsewhere — callers must check
// Arena.Get's ok return before dereferencing.
type Arena struct {
	nodes []*Node
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{}
}

// Add appends n to the arena, assigning it the next NodeIndex, and returns
// that index.
func (a *Arena) Add(n *Node) NodeIndex {
	idx := NodeIndex(len(a.nodes))
	n.Global = idx
	a.nodes = append(a.nodes, n)
	return idx
}

// Get returns the Node at idx, or ok=false if idx is out of range or the
// node has been removed.
func (a *Arena) Get(idx NodeIndex) (*Node, bool) {
	if idx < 0 || int(idx) >= len(a.nodes) {
		return nil, false
	}
	n := a.nodes[idx]
	if n == nil || n.state == StateRemoved {
		return nil, false
	}
	return n, true
}

// Remove marks the node at idx as removed without compacting the arena, so
// existing NodeIndex values elsewhere in the graph remain valid integers
// (they simply now miss on Get).
func (a *Arena) Remove(idx NodeIndex) {
	if n, ok := a.Get(idx); ok {
		n.state = StateRemoved
	}
}

// Len returns the number of slots in the arena, including removed ones.
func (a *Arena) Len() int { return len(a.nodes) }

// AddEdge records a parent->child edge between two live nodes.
func (a *Arena) AddEdge(parent, child NodeIndex) {
	p, pok := a.Get(parent)
	c, cok := a.Get(child)
	if !pok || !cok {
		return
	}
	p.Children = append(p.Children, child)
	c.Parents = append(c.Parents, parent)
}

// Walk visits every live node in index order.
func (a *Arena) Walk(fn func(*Node)) {
	for _, n := range a.nodes {
		if n != nil && n.state != StateRemoved {
			fn(n)
		}
	}
}
