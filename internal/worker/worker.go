// Package worker assembles a runnable fluxcache process: it wires config,
// persistence, the domain runtime, the router, the replay engine, the
// controller, and the metrics registry together, following the teacher's
// preference for an explicit Builder/New* constructor over a struct literal
// (see internal/eventbus.NewBus, internal/registry.NewSessionRegistry) —
// SPEC_FULL.md's supplemented-features list grounds this shape in the
// original source's readyset-server/builder.rs.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fluxcache/fluxcache/internal/config"
	"github.com/fluxcache/fluxcache/internal/controller"
	"github.com/fluxcache/fluxcache/internal/domain"
	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/metrics"
	"github.com/fluxcache/fluxcache/internal/persist"
	"github.com/fluxcache/fluxcache/internal/reader"
	"github.com/fluxcache/fluxcache/internal/replay"
	"github.com/fluxcache/fluxcache/internal/router"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Worker is a single fluxcache process: one domain runtime (today; a
// multi-domain deployment registers more via Controller.RegisterDomain),
// its replay engine, router, controller, metrics registry, and the live
// set of reader handles views resolve to.
type Worker struct {
	Config     config.Config
	Domain     *domain.Domain
	Router     *router.Router
	Replay     *replay.Engine
	Controller *controller.Controller
	Metrics    *metrics.Registry

	persistBackend string            // "mysql" or "dolt"; empty under durability: memory-only
	persistDSN     string
	backends       map[string]persist.Backend // table name -> opened Backend, one per base table

	mu      sync.Mutex
	readers map[graph.NodeIndex]*reader.Reader
	log     *log.Logger
}

// Builder assembles a Worker's dependencies incrementally, matching
// readyset-server/builder.rs's accumulate-then-Build shape.
type Builder struct {
	cfg            config.Config
	persistBackend string
	persistDSN     string
	metrics        *metrics.Registry
	logger         *log.Logger
}

// NewBuilder starts a Builder from cfg.
func NewBuilder(cfg config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithPersistence selects the base-table durability backend ("mysql" or
// "dolt", per internal/persist's registry) and its DSN; omit for
// durability: memory-only. A Backend is opened per base table lazily, the
// first time that table is created by a migration (see OnBaseNode in
// Build), since each internal/persist.Backend is scoped to one table.
func (b *Builder) WithPersistence(backend, dsn string) *Builder {
	b.persistBackend = backend
	b.persistDSN = dsn
	return b
}

// WithMetrics attaches a metrics registry; a no-registry Builder still
// builds a Worker (metrics are optional observability, never load-bearing).
func (b *Builder) WithMetrics(m *metrics.Registry) *Builder {
	b.metrics = m
	return b
}

// WithLogger overrides the worker's log.Logger; defaults to log.Default().
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// Build constructs the Worker: one Domain, a Router wired as its Sender, a
// replay Engine wired as its ReplayHooks, and a Controller hosting that
// Domain.
func (b *Builder) Build(ctx context.Context) (*Worker, error) {
	if b.logger == nil {
		b.logger = log.New(log.Writer(), "[worker] ", log.LstdFlags)
	}

	w := &Worker{
		Config:         b.cfg,
		Metrics:        b.metrics,
		persistBackend: b.persistBackend,
		persistDSN:     b.persistDSN,
		backends:       make(map[string]persist.Backend),
		readers:        make(map[graph.NodeIndex]*reader.Reader),
		log:            b.logger,
	}

	r := router.New(nil)
	r.FailureHandler = func(dest domain.Destination, err error) {
		w.log.Printf("router: destination %+v unhealthy: %v", dest, err)
	}
	w.Router = r

	eng := replay.New(func(dest domain.Destination, p domain.Packet) error {
		d, ok := w.Controller.DomainByID(dest.Domain)
		if !ok {
			return r.Send(dest, p)
		}
		return d.Dispatch(p)
	})
	w.Replay = eng

	dom := domain.New(domain.Config{
		ID:        0,
		Shard:     0,
		Sender:    r,
		Replay:    eng,
		InboxSize: 4096,
	})
	w.Domain = dom
	dom.RegisterRefreshHook(func(node graph.NodeIndex, key []value.Value) {
		rd := newReplayDispatcher(eng, dom)
		if err := rd.RequestMiss(ctx, node, 0, key); err != nil {
			w.log.Printf("replay: top-k backfill for node %d failed: %v", node, err)
		}
	})
	go dom.Run(ctx)

	w.Controller = controller.New(dom, b.logger)

	if w.persistBackend != "" && w.Config.Durability != config.DurabilityMemoryOnly {
		w.Controller.OnBaseNode = func(name string, node graph.NodeIndex, domID graph.DomainID) {
			d, ok := w.Controller.DomainByID(domID)
			if !ok {
				return
			}
			backend, err := persist.Open(ctx, w.persistBackend, persist.Options{DSN: w.persistDSN, Table: name})
			if err != nil {
				w.log.Printf("persist: open backend for table %s failed: %v", name, err)
				return
			}
			w.mu.Lock()
			w.backends[name] = backend
			w.mu.Unlock()
			d.RegisterPersistence(node, persistAdapter{backend: backend})
			if err := w.recoverBaseTable(ctx, d, node, backend); err != nil {
				w.log.Printf("persist: recovering table %s failed: %v", name, err)
			}
		}
	}

	return w, nil
}

// recoverBaseTable restores a durable base table's rows from backend into
// node's live state on the same path a migration's full-replay seeding uses
// (§4.7 step 6, "for bases, scanning the base state"): one Message packet
// carrying every persisted row as a positive record, dispatched directly
// (not through seed, since node has no committed parent to seed from — it
// *is* the source). This runs once, at the moment OnBaseNode opens the
// table's backend, which on a fresh table is simply a no-op scan over
// nothing, and on a restart with existing durable rows is what makes
// scenario 6 ("stop, restart with the same authority, lookup(i) returns the
// correct row without re-insertion") hold: descendant views are seeded from
// this node's now-populated State exactly as they would be for a migration
// applied against already-live data.
func (w *Worker) recoverBaseTable(ctx context.Context, d *domain.Domain, node graph.NodeIndex, backend persist.Backend) error {
	var batch value.Batch
	err := backend.Scan(ctx, func(_, v []byte) error {
		cols, err := persist.DecodeRecord(v)
		if err != nil {
			return fmt.Errorf("worker: decode recovered row: %w", err)
		}
		batch = append(batch, value.Record{Cols: cols, Polarity: value.Positive})
		return nil
	})
	if err != nil {
		return fmt.Errorf("worker: scan backend: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	return d.Dispatch(domain.Packet{Kind: domain.PacketMessage, Node: node, Batch: batch})
}

// InstallRecipe parses and activates src as the full recipe (§6
// install_recipe), returning the migration id.
func (w *Worker) InstallRecipe(src string) (uuid.UUID, error) {
	return w.Controller.Install(src)
}

// ExtendRecipe adds src onto the currently active recipe (§6 extend_recipe).
func (w *Worker) ExtendRecipe(src string) (uuid.UUID, error) {
	return w.Controller.Extend(src)
}

// Table resolves a base table's live node.
func (w *Worker) Table(name string) (graph.NodeIndex, error) {
	idx, ok := w.Controller.TableNode(name)
	if !ok {
		return graph.NoNode, fluxerr.New(fluxerr.TableNotFound, "worker.Table")
	}
	return idx, nil
}

// View resolves a query's reader node and lazily builds (or returns the
// cached) *reader.Reader for it, wiring the reader's MissDispatcher to this
// worker's replay engine via the bridging adapter in dispatcher.go.
func (w *Worker) View(name string) (*reader.Reader, error) {
	idx, ok := w.Controller.ViewNode(name)
	if !ok {
		return nil, fluxerr.New(fluxerr.ViewNotFound, "worker.View")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if rd, ok := w.readers[idx]; ok {
		return rd, nil
	}

	d, ok := w.Controller.Domain(idx)
	if !ok {
		return nil, fluxerr.New(fluxerr.NotReady, "worker.View")
	}
	nr, ok := d.Node(idx)
	if !ok {
		return nil, fluxerr.New(fluxerr.NotReady, "worker.View")
	}

	dispatcher := newReplayDispatcher(w.Replay, d)
	rd := reader.New(idx, nr.State, dispatcher, w.Config.UpqueryTimeout)
	w.readers[idx] = rd
	return rd, nil
}

// Insert writes row (positive polarity) into a base table and forwards it
// through the dataflow graph (§6 table(name).insert).
func (w *Worker) Insert(ctx context.Context, table string, row []value.Value) error {
	return w.writeBase(ctx, table, value.NewPositive(row...))
}

// Delete retracts the row matching key from a base table.
func (w *Worker) Delete(ctx context.Context, table string, key []value.Value) error {
	idx, err := w.Table(table)
	if err != nil {
		return err
	}
	d, ok := w.Controller.Domain(idx)
	if !ok {
		return fluxerr.New(fluxerr.NotReady, "worker.Delete")
	}
	nr, ok := d.Node(idx)
	if !ok {
		return fluxerr.New(fluxerr.NotReady, "worker.Delete")
	}
	res, err := nr.State.Lookup(0, key)
	if err != nil {
		return err
	}
	if !res.Hit {
		return nil
	}
	for _, rec := range res.Records {
		if err := w.writeBase(ctx, table, rec.Negated()); err != nil {
			return err
		}
	}
	return nil
}

// Update retracts the old row and inserts newRow, matching §6's
// update(key, mods) as a negative/positive pair per §3's Record model.
func (w *Worker) Update(ctx context.Context, table string, key []value.Value, newRow []value.Value) error {
	if err := w.Delete(ctx, table, key); err != nil {
		return err
	}
	return w.Insert(ctx, table, newRow)
}

// InsertOrUpdate inserts row, or — if key already matches an existing row —
// replaces it, matching §6's insert_or_update as an upsert built from the
// same retract/assert pair Update uses.
func (w *Worker) InsertOrUpdate(ctx context.Context, table string, key []value.Value, row []value.Value) error {
	idx, err := w.Table(table)
	if err != nil {
		return err
	}
	d, ok := w.Controller.Domain(idx)
	if !ok {
		return fluxerr.New(fluxerr.NotReady, "worker.InsertOrUpdate")
	}
	nr, ok := d.Node(idx)
	if !ok {
		return fluxerr.New(fluxerr.NotReady, "worker.InsertOrUpdate")
	}
	res, err := nr.State.Lookup(0, key)
	if err != nil {
		return err
	}
	if !res.Hit || len(res.Records) == 0 {
		return w.Insert(ctx, table, row)
	}
	return w.Update(ctx, table, key, row)
}

// InsertMany applies rows as one batch (§6 insert_many), preserving the
// FIFO-per-edge guarantee by forwarding them as a single Message packet.
func (w *Worker) InsertMany(ctx context.Context, table string, rows [][]value.Value) error {
	idx, err := w.Table(table)
	if err != nil {
		return err
	}
	batch := make(value.Batch, len(rows))
	for i, row := range rows {
		batch[i] = value.NewPositive(row...)
	}
	return w.dispatchBase(ctx, idx, batch)
}

// UpdateTimestamp advances a base table's freshness timestamp (§6
// table(name).update_timestamp), dispatching it onto the base's domain and
// folding it into every live reader's freshness vector — readers own
// freshness (internal/reader.Reader.AdvanceVector), not domains, so a
// single-domain worker can advance every reader directly rather than
// waiting for the update to propagate transitively.
func (w *Worker) UpdateTimestamp(ctx context.Context, table string, ts int64) error {
	idx, err := w.Table(table)
	if err != nil {
		return err
	}
	d, ok := w.Controller.Domain(idx)
	if !ok {
		return fluxerr.New(fluxerr.NotReady, "worker.UpdateTimestamp")
	}
	if err := d.Dispatch(domain.Packet{Kind: domain.PacketUpdateTimestamp, Node: idx, Timestamp: ts}); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, rd := range w.readers {
		rd.AdvanceVector(idx, ts)
	}
	return nil
}

func (w *Worker) writeBase(ctx context.Context, table string, rec value.Record) error {
	idx, err := w.Table(table)
	if err != nil {
		return err
	}
	return w.dispatchBase(ctx, idx, value.Batch{rec})
}

func (w *Worker) dispatchBase(ctx context.Context, idx graph.NodeIndex, batch value.Batch) error {
	d, ok := w.Controller.Domain(idx)
	if !ok {
		return fluxerr.New(fluxerr.NotReady, "worker.dispatchBase")
	}
	timeout := w.Config.TableRequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	done := make(chan error, 1)
	go func() { done <- d.Dispatch(domain.Packet{Kind: domain.PacketMessage, Node: idx, Batch: batch}) }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fluxerr.New(fluxerr.UpqueryTimeout, "worker.dispatchBase")
	case <-ctx.Done():
		return fluxerr.Wrap(fluxerr.UpqueryTimeout, "worker.dispatchBase", ctx.Err())
	}
}

// Graphviz renders the live dataflow graph (§6 graphviz()).
func (w *Worker) Graphviz() string { return w.Controller.Graphviz() }

// Status reports the admin status vector (§6 status()), folding in the
// metrics registry's snapshot when one is configured.
func (w *Worker) Status() map[string]any {
	status := w.Controller.Status()
	if w.Metrics != nil {
		status["metrics"] = w.Metrics.Status()
	}
	return status
}

// Close tears down the worker's metrics provider and every per-table
// persistence backend opened by Build's OnBaseNode hook, closing the
// backends concurrently since each owns an independent connection.
func (w *Worker) Close(ctx context.Context) error {
	var errs []error
	if w.Metrics != nil {
		if err := w.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	w.mu.Lock()
	backends := w.backends
	w.mu.Unlock()

	var g errgroup.Group
	var mu sync.Mutex
	for table, backend := range backends {
		table, backend := table, backend
		g.Go(func() error {
			if err := backend.Close(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("table %s: %w", table, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("worker: close: %v", errs)
	}
	return nil
}
