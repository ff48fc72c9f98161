package domain

import (
	"context"
	"strconv"

	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/state"
	"github.com/fluxcache/fluxcache/internal/value"
)

// handleMessage invokes the destination node's kernel and forwards its
// output to every child. A child co-located in this domain is re-enqueued
// on this domain's own inbox (preserving FIFO per edge, since the channel
// is itself FIFO); a child in another domain is handed to Sender, which is
// the router's (C6) job to deliver in order.
func (d *Domain) handleMessage(p Packet) error {
	nr, ok := d.nodes[p.Node]
	if !ok {
		return fluxerr.New(fluxerr.ViewNotFound, "domain.handleMessage")
	}
	if nr.State != nil {
		keyCols := []int{0}
		if len(nr.Node.Indices) > 0 {
			keyCols = nr.Node.Indices[0].Columns
		}
		for _, r := range p.Batch {
			if d.replay != nil && d.replay.BufferIfReplaying(nr.Node.Global, keyCols, r) {
				continue
			}
			if nr.Node.Materialization == graph.MaterializePartial && len(nr.Node.Indices) > 0 {
				if res, _ := nr.State.Lookup(0, r.Key(keyCols)); !res.Hit {
					continue // a hole: the replay that fills this key brings the row
				}
			}
			if r.Polarity == value.Positive {
				nr.State.Insert(r)
			} else {
				nr.State.Remove(r)
			}
		}
	}
	if nr.Node.Kind == graph.KindBase {
		for _, r := range p.Batch {
			if err := d.persistRecord(context.Background(), p.Node, r); err != nil {
				return fluxerr.Wrap(fluxerr.PersistenceError, "domain.handleMessage", err)
			}
		}
	}

	lookup := func(ancestor graph.NodeIndex, index int, key []value.Value) (state.LookupResult, error) {
		return d.Lookup(ancestor, index, key)
	}

	var out value.Batch
	var err error
	if sided, ok := nr.Kernel.(kernel.SidedKernel); ok && len(nr.Node.Parents) >= 2 {
		side := kernel.SideLeft
		if p.FromNode == nr.Node.Parents[1] {
			side = kernel.SideRight
		}
		out, err = sided.OnInputFromSide(side, p.Batch, lookup)
	} else {
		out, err = nr.Kernel.OnInput(p.Batch, lookup)
	}
	if err != nil {
		return err
	}
	if ref, ok := nr.Kernel.(kernel.Refresher); ok && d.refresh != nil {
		for _, key := range ref.DrainNeedsRefresh() {
			d.refresh(nr.Node.Global, key)
		}
	}
	return d.forward(nr.Node, out)
}

func (d *Domain) forward(n *graph.Node, out value.Batch) error {
	if len(out) == 0 {
		return nil
	}
	for _, child := range n.Children {
		if _, ok := d.nodes[child]; ok {
			d.inbox <- Packet{Kind: PacketMessage, Node: child, FromNode: n.Global, Batch: out}
			continue
		}
		dest, ok := d.remote[child]
		if !ok {
			return fluxerr.New(fluxerr.ViewNotFound, "domain.forward")
		}
		d.mu.Lock()
		d.seq[dest]++
		seq := d.seq[dest]
		d.mu.Unlock()
		if d.sender != nil {
			if err := d.sender.Send(dest, Packet{Kind: PacketMessage, Node: child, FromNode: n.Global, Batch: out, Seq: seq}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Domain) handleEvict(p Packet) error {
	nr, ok := d.nodes[p.Node]
	if !ok {
		return fluxerr.New(fluxerr.ViewNotFound, "domain.handleEvict")
	}
	nr.State.Evict(p.EvictBytes)
	return nil
}

func (d *Domain) handleAddNode(p Packet) error {
	if p.NodeSpec == nil {
		return fluxerr.New(fluxerr.Unsupported, "domain.handleAddNode")
	}
	d.nodes[p.NodeSpec.Global] = &NodeRuntime{
		Node:   p.NodeSpec,
		Kernel: p.NodeKernel,
		State:  state.New(p.NodeSpec),
	}
	p.NodeSpec.SetState(graph.StateReady)
	return nil
}

func (d *Domain) handleRemoveNodes(p Packet) error {
	for _, idx := range p.RemovedNodes {
		delete(d.nodes, idx)
	}
	return nil
}

func (d *Domain) handleGetStatistics(p Packet) error {
	stats := make(map[string]int64, len(d.nodes))
	for idx, nr := range d.nodes {
		if nr.State != nil {
			stats["node_bytes_"+strconv.Itoa(int(idx))] = nr.State.SizeBytes()
		}
	}
	if d.control != nil {
		d.control <- Packet{Kind: PacketGetStatistics, From: Destination{Domain: d.ID, Shard: d.Shard}, Stats: stats}
	}
	return nil
}
