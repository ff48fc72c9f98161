// Package router implements the channel coordinator (C6): a process-wide
// registry mapping (domain, shard) to a transport endpoint, connection
// pooling, and reconnect-with-backoff, per §4.6.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fluxcache/fluxcache/internal/domain"
	"github.com/fluxcache/fluxcache/internal/fluxerr"
)

// Endpoint is a transport connection to one (domain, shard). Conn is
// intentionally minimal (a Send) so it can be backed by an in-process
// channel in tests or a real network connection in production; the
// network implementation lives outside this package's scope (§1's "out of
// scope: wire framing" applies equally to inter-domain transport framing).
type Endpoint interface {
	Send(p domain.Packet) error
	Close() error
}

// Dialer establishes a new Endpoint for a destination, used to (re)populate
// the connection pool on first use or after a connection loss.
type Dialer func(dest domain.Destination) (Endpoint, error)

// health tracks whether a destination is currently reachable, per §4.6 "on
// connection loss the sender marks the destination unhealthy."
type health struct {
	healthy bool
	lastErr error
}

// Router is the process-wide (per worker) registry of domain/shard
// endpoints. Mutation is protected by a coarse lock, taken on
// registration/removal and when connect or markUnhealthy update a
// destination's endpoint or health (§9's "Global state" design note); Send
// itself does not hold the lock across the network call.
type Router struct {
	mu        sync.RWMutex
	endpoints map[domain.Destination]Endpoint
	status    map[domain.Destination]*health
	dial      Dialer

	// FailureHandler is invoked when a destination transitions to
	// unhealthy, so the controller can be notified (§4.6 "surfaces
	// failure to the controller").
	FailureHandler func(dest domain.Destination, err error)

	backoffFactory func() backoff.BackOff
}

// New constructs a Router that dials new endpoints on demand via dial.
func New(dial Dialer) *Router {
	return &Router{
		endpoints: make(map[domain.Destination]Endpoint),
		status:    make(map[domain.Destination]*health),
		dial:      dial,
		backoffFactory: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 30 * time.Second
			return bo
		},
	}
}

// Register installs an already-established Endpoint for dest and marks it
// healthy, without dialing (used by in-process tests).
func (r *Router) Register(dest domain.Destination, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[dest] = ep
	r.status[dest] = &health{healthy: true}
}

// Unregister removes dest from the pool, closing its endpoint if present.
func (r *Router) Unregister(dest domain.Destination) {
	r.mu.Lock()
	ep := r.endpoints[dest]
	delete(r.endpoints, dest)
	delete(r.status, dest)
	r.mu.Unlock()
	if ep != nil {
		_ = ep.Close()
	}
}

// Send delivers p to dest, obtaining a cached connection or dialing a new
// one with exponential backoff. This implements domain.Sender so a *Router
// can be wired directly as a Domain's Sender.
func (r *Router) Send(dest domain.Destination, p domain.Packet) error {
	ep, err := r.connect(dest)
	if err != nil {
		return err
	}
	if err := ep.Send(p); err != nil {
		r.markUnhealthy(dest, err)
		return fluxerr.Wrap(fluxerr.ConnectionLost, "router.Send", err)
	}
	return nil
}

func (r *Router) connect(dest domain.Destination) (Endpoint, error) {
	r.mu.RLock()
	ep, ok := r.endpoints[dest]
	st := r.status[dest]
	r.mu.RUnlock()
	if ok && st != nil && st.healthy {
		return ep, nil
	}

	var newEp Endpoint
	op := func() error {
		e, err := r.dial(dest)
		if err != nil {
			return err
		}
		newEp = e
		return nil
	}
	if err := backoff.Retry(op, r.backoffFactory()); err != nil {
		return nil, fluxerr.Wrap(fluxerr.ConnectionLost, "router.connect", err)
	}

	r.mu.Lock()
	r.endpoints[dest] = newEp
	r.status[dest] = &health{healthy: true}
	r.mu.Unlock()
	return newEp, nil
}

func (r *Router) markUnhealthy(dest domain.Destination, err error) {
	r.mu.Lock()
	st, ok := r.status[dest]
	if !ok {
		st = &health{}
		r.status[dest] = st
	}
	st.healthy = false
	st.lastErr = err
	r.mu.Unlock()
	if r.FailureHandler != nil {
		r.FailureHandler(dest, err)
	}
}

// Healthy reports whether dest is currently believed reachable.
func (r *Router) Healthy(dest domain.Destination) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.status[dest]
	return ok && st.healthy
}

// InProcessDialer builds a Dialer backed by a lookup of already-running
// in-process domains, used for single-process deployments and tests: Send
// simply pushes onto the target Domain's inbox channel, which already
// guarantees in-order delivery (a Go channel is FIFO), matching §4.6's
// "in-order, reliable delivery per connection" without a real socket.
func InProcessDialer(lookup func(dest domain.Destination) (chan<- domain.Packet, bool)) Dialer {
	return func(dest domain.Destination) (Endpoint, error) {
		inbox, ok := lookup(dest)
		if !ok {
			return nil, fmt.Errorf("router: no in-process domain registered for %+v", dest)
		}
		return &inProcessEndpoint{inbox: inbox}, nil
	}
}

type inProcessEndpoint struct {
	inbox chan<- domain.Packet
}

func (e *inProcessEndpoint) Send(p domain.Packet) error {
	select {
	case e.inbox <- p:
		return nil
	default:
		// Inbox full: block with a short timeout rather than dropping, since
		// dropping would violate per-edge FIFO/delivery guarantees.
		select {
		case e.inbox <- p:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("router: inbox send timed out")
		}
	}
}

func (e *inProcessEndpoint) Close() error { return nil }

// WaitHealthy blocks until dest is healthy or ctx is canceled. The
// controller's commit step does not call it.
func (r *Router) WaitHealthy(ctx context.Context, dest domain.Destination) error {
	if r.Healthy(dest) {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fluxerr.Wrap(fluxerr.WorkerFailed, "router.WaitHealthy", ctx.Err())
		case <-ticker.C:
			if r.Healthy(dest) {
				return nil
			}
		}
	}
}

var _ domain.Sender = (*Router)(nil)
