package domain

import (
	"context"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// NodePersistence is the write-through hook a base node's domain invokes for
// every insert/remove against it (§4.1 "For base tables, the state store is
// backed by the persistent KV"). Domain stays decoupled from any concrete
// backend — internal/worker wires a real internal/persist.Backend behind
// this interface at startup — matching the Sender seam above for the
// same reason: the runtime loop must not know about transport or storage
// concretely, only the shape it needs.
type NodePersistence interface {
	Put(ctx context.Context, row value.Record) error
	Delete(ctx context.Context, row value.Record) error
}

// RegisterPersistence attaches a write-through backend to a hosted base
// node. Called by the controller/worker at AddNode time for every node
// whose durability is not memory-only.
func (d *Domain) RegisterPersistence(node graph.NodeIndex, p NodePersistence) {
	if d.persistence == nil {
		d.persistence = make(map[graph.NodeIndex]NodePersistence)
	}
	d.persistence[node] = p
}

func (d *Domain) persistRecord(ctx context.Context, node graph.NodeIndex, r value.Record) error {
	p, ok := d.persistence[node]
	if !ok {
		return nil
	}
	if r.Polarity == value.Positive {
		return p.Put(ctx, r)
	}
	return p.Delete(ctx, r)
}
