package domain

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/state"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Sender delivers a Packet to a remote (domain, shard); it is backed by
// internal/router's transport in production and by an in-process channel
// map in tests.
type Sender interface {
	Send(dest Destination, p Packet) error
}

// ReplayHooks lets internal/replay own the upquery/replay state machine
// while still running inside this domain's single-threaded loop: Domain
// dispatches replay-kind packets here instead of implementing replay logic
// itself, keeping the scheduler generic and the replay machinery testable
// in isolation.
type ReplayHooks interface {
	OnRequestPartialReplay(d *Domain, p Packet) error
	OnReplayPiece(d *Domain, p Packet) error
	OnStartReplay(d *Domain, p Packet) error
	OnFinishReplay(d *Domain, p Packet) error

	// BufferIfReplaying buffers r instead of letting handleMessage apply it
	// immediately, when node has an in-flight replay touching r's key under
	// any tag (§4.4 "Concurrent writes during replay"). It returns true if
	// the record was buffered.
	BufferIfReplaying(node graph.NodeIndex, keyCols []int, r value.Record) bool
}

// RefreshHook is called by handleMessage when a kernel's Refresher drain
// (currently only kernel.TopK, after a deletion drops a row out of its
// window) returns one or more keys, so the runtime can issue a backfill
// upquery against the node's ancestor. A nil hook makes the drain a no-op.
type RefreshHook func(node graph.NodeIndex, key []value.Value)

// NodeRuntime bundles a node's kernel and its materialized state.
type NodeRuntime struct {
	Node   *graph.Node
	Kernel kernel.Kernel
	State  *state.State
}

// Domain is the single-threaded scheduling unit of §4.3: it owns the state
// of every node it hosts, an inbox of incoming packets, and an outbox keyed
// by destination. Only this domain's own goroutine (Run) ever mutates
// node state, so no locks are needed on it (I1).
type Domain struct {
	ID    graph.DomainID
	Shard graph.ShardID

	nodes       map[graph.NodeIndex]*NodeRuntime
	remote      map[graph.NodeIndex]Destination // children hosted by another domain
	persistence map[graph.NodeIndex]NodePersistence

	inbox   chan Packet
	sender  Sender
	replay  ReplayHooks
	refresh RefreshHook
	control chan Packet // acks/stats back to the controller

	log *log.Logger

	mu       sync.Mutex // guards stats/seq only, never node state
	seq      map[Destination]uint64
	acksSent uint64
}

// Config configures a new Domain.
type Config struct {
	ID          graph.DomainID
	Shard       graph.ShardID
	InboxSize   int
	Sender      Sender
	Replay      ReplayHooks
	ControlChan chan Packet
}

// New constructs an empty Domain ready to receive AddNode packets.
func New(cfg Config) *Domain {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &Domain{
		ID:      cfg.ID,
		Shard:   cfg.Shard,
		nodes:   make(map[graph.NodeIndex]*NodeRuntime),
		remote:  make(map[graph.NodeIndex]Destination),
		inbox:   make(chan Packet, cfg.InboxSize),
		sender:  cfg.Sender,
		replay:  cfg.Replay,
		control: cfg.ControlChan,
		log:     log.New(log.Writer(), fmt.Sprintf("[domain %d] ", cfg.ID), log.LstdFlags),
		seq:     make(map[Destination]uint64),
	}
}

// Inbox exposes the packet channel so a Sender implementation (the router)
// can deliver to this domain.
func (d *Domain) Inbox() chan<- Packet { return d.inbox }

// RegisterRemoteRoute records that child is hosted by another domain,
// reachable at dest (§4.7 step 4). The controller's commit does not call
// it; it places every node in its assigned domain without remote routes.
func (d *Domain) RegisterRemoteRoute(child graph.NodeIndex, dest Destination) {
	d.remote[child] = dest
}

// RegisterRefreshHook wires the callback handleMessage invokes whenever a
// kernel.Refresher drain returns non-empty keys, used by the worker to
// bridge into the replay engine's RequestMiss without internal/domain
// importing internal/replay (the same import-cycle shape RegisterPersistence
// and Sender already avoid).
func (d *Domain) RegisterRefreshHook(hook RefreshHook) {
	d.refresh = hook
}

// Node returns the runtime for a hosted node, or ok=false.
func (d *Domain) Node(idx graph.NodeIndex) (*NodeRuntime, bool) {
	nr, ok := d.nodes[idx]
	return nr, ok
}

// Lookup performs a synchronous lookup into a hosted node's state, used both
// as a kernel.AncestorLookup (when the ancestor is co-located in this
// domain) and by the replay engine to check fill status before answering an
// upquery.
func (d *Domain) Lookup(node graph.NodeIndex, index int, key []value.Value) (state.LookupResult, error) {
	nr, ok := d.nodes[node]
	if !ok {
		return state.LookupResult{}, fluxerr.New(fluxerr.ViewNotFound, "domain.Lookup")
	}
	return nr.State.Lookup(index, key)
}

// Run drains the inbox until ctx is canceled, dispatching each packet in
// turn. It never yields mid-packet (§5 "Suspension points"): one packet is
// fully processed, including flushing whatever it produced into outboxes,
// before the next is dequeued.
func (d *Domain) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-d.inbox:
			if err := d.dispatch(p); err != nil {
				d.log.Printf("dispatch %s on node %d failed: %v", p.Kind, p.Node, err)
			}
		}
	}
}

// Dispatch processes one packet synchronously, bypassing the inbox channel.
// The controller uses this for migration packets (AddNode, RemoveNodes,
// and the full-replay seeding Message packets that follow them), and
// internal/replay's Engine uses it to recurse into this same domain when a
// replay's source or cascading inner upquery happens to be co-located here
// (see replay.Engine.issueRequest's doc comment) — that recursive call
// happens on the same goroutine that is already inside an outer Dispatch,
// so Dispatch deliberately does not take a domain-wide lock here (a
// non-reentrant mutex would deadlock that recursion). Safety instead comes
// from two narrower guarantees: every NodeRuntime.State has its own
// internal mutex (internal/state.State), so concurrent Dispatch calls never
// corrupt one node's materialized state; and d.nodes/d.remote are mutated
// only by AddNode/RemoveNodes during a migration, which callers are
// expected to serialize against live traffic (the same assumption §4.7
// makes when it describes a migration as committing atomically). A
// deployment that needs true concurrent multi-writer safety per domain
// should route all Dispatch callers through the inbox channel instead of
// calling this directly; the replay engine's same-process recursion is the
// one caller that cannot, since §4.4 requires it to finish synchronously
// within the outer replay step.
func (d *Domain) Dispatch(p Packet) error {
	return d.dispatch(p)
}

func (d *Domain) dispatch(p Packet) error {
	switch p.Kind {
	case PacketMessage:
		return d.handleMessage(p)
	case PacketReplayPiece:
		if d.replay != nil {
			return d.replay.OnReplayPiece(d, p)
		}
	case PacketRequestPartialReplay:
		if d.replay != nil {
			return d.replay.OnRequestPartialReplay(d, p)
		}
	case PacketStartReplay:
		if d.replay != nil {
			return d.replay.OnStartReplay(d, p)
		}
	case PacketFinishReplay:
		if d.replay != nil {
			return d.replay.OnFinishReplay(d, p)
		}
	case PacketEvict:
		return d.handleEvict(p)
	case PacketAddNode:
		return d.handleAddNode(p)
	case PacketRemoveNodes:
		return d.handleRemoveNodes(p)
	case PacketGetStatistics:
		return d.handleGetStatistics(p)
	case PacketAck:
		d.mu.Lock()
		d.acksSent++
		d.mu.Unlock()
	}
	return nil
}
