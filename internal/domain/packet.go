// Package domain implements the single-threaded domain runtime (C3): the
// scheduler loop that owns a slice of the dataflow graph, dispatches
// packets to operator kernels, and forwards outputs along FIFO-ordered
// outboxes.
package domain

import (
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/value"
)

// PacketKind tags the only message types on the dataflow plane (§4.3).
type PacketKind uint8

const (
	PacketMessage PacketKind = iota
	PacketReplayPiece
	PacketRequestPartialReplay
	PacketStartReplay
	PacketFinishReplay
	PacketEvict
	PacketAddNode
	PacketRemoveNodes
	PacketGetStatistics
	PacketUpdateTimestamp
	PacketAck
)

func (k PacketKind) String() string {
	switch k {
	case PacketMessage:
		return "Message"
	case PacketReplayPiece:
		return "ReplayPiece"
	case PacketRequestPartialReplay:
		return "RequestPartialReplay"
	case PacketStartReplay:
		return "StartReplay"
	case PacketFinishReplay:
		return "FinishReplay"
	case PacketEvict:
		return "Evict"
	case PacketAddNode:
		return "AddNode"
	case PacketRemoveNodes:
		return "RemoveNodes"
	case PacketGetStatistics:
		return "GetStatistics"
	case PacketUpdateTimestamp:
		return "UpdateTimestamp"
	case PacketAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// ReplayTag uniquely identifies a replay path (n <- ... <- source, §4.4).
type ReplayTag uint64

// Destination names a (domain, shard) pair on the dataflow plane, matching
// the router's addressing scheme (C6).
type Destination struct {
	Domain graph.DomainID
	Shard  graph.ShardID
}

// Packet is the single wire type flowing through every inbox/outbox.
// Exactly one of the payload fields is meaningful, selected by Kind — a
// closed tagged union rather than an interface, per the "closed variant
// set" design note.
type Packet struct {
	Kind PacketKind
	From Destination
	To   Destination
	Node graph.NodeIndex

	// FromNode is the node that produced Batch, set by forward (and by the
	// controller's seed/base-write entry points). handleMessage uses it to
	// pick a Side when the destination node's kernel is a SidedKernel; it is
	// meaningless for any other packet kind.
	FromNode graph.NodeIndex

	// PacketMessage / PacketReplayPiece
	Batch value.Batch
	// PacketReplayPiece / PacketRequestPartialReplay
	Tag  ReplayTag
	Keys [][]value.Value
	// Range replay variant of PacketRequestPartialReplay / PacketReplayPiece
	// (§4.4 "Range replays"): IsRange selects whether Keys or RangeLo/RangeHi
	// carries the request.
	IsRange          bool
	RangeLo, RangeHi value.Value
	// PacketEvict
	EvictBytes int64
	// PacketAddNode
	NodeSpec   *graph.Node
	NodeKernel kernel.Kernel
	// PacketRemoveNodes
	RemovedNodes []graph.NodeIndex
	// PacketUpdateTimestamp
	Timestamp int64
	// PacketGetStatistics reply / PacketAck
	Stats map[string]int64

	Seq uint64 // per-edge FIFO sequence, assigned by the sender's outbox
}
