// Package controller implements the migration planner (C7, §4.7): it turns
// recipe text into MIR, searches for reuse, lowers the result to dataflow
// nodes, and commits the diff into the running domains.
//
// This implementation assigns every node to a single domain by default
// (Controller.domains has exactly one entry) behind the same Assigner seam
// a multi-domain/sharded deployment would use, matching the reconcile-loop
// shape of the teacher's own controller but trading its periodic
// reconciliation for an explicit, synchronous commit-on-install protocol —
// migrations here are driven by Install/Extend calls, not a ticker.
package controller

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxcache/fluxcache/internal/domain"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/kernel"
	"github.com/fluxcache/fluxcache/internal/query"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Assigner chooses which domain a newly lowered node should be hosted on.
// The default assigns every node to the single domain the Controller was
// built with; a sharded deployment would supply one that distributes by
// the node's graph.Sharding.
type Assigner func(n *graph.Node) graph.DomainID

// Controller owns the live graph.Arena, the cumulative Recipe, and the set
// of domains nodes can be lowered onto.
type Controller struct {
	mu sync.Mutex

	arena   *graph.Arena
	domains map[graph.DomainID]*domain.Domain
	assign  Assigner

	recipe *Recipe
	schema map[string][]string // table name -> column names, fed to query.Rewrite's star expansion
	tables map[string]graph.NodeIndex
	mir    *MIR // cumulative MIR of everything installed so far, used as the reuse corpus

	// committed maps (mir snapshot, node index) to that node's live
	// graph.NodeIndex, across every MIR snapshot ever committed — so a
	// later Extend's reuse search and a Reader lookup can resolve a node
	// that was built under an older MIR value.
	committed map[mirKey]graph.NodeIndex

	// OnBaseNode, if set, is invoked synchronously every time commit creates
	// a brand-new base table node (never on a re-declaration of an already-
	// materialized table) — internal/worker uses this to open a durability
	// backend for the table and register it on the owning domain before any
	// write reaches it.
	OnBaseNode func(name string, node graph.NodeIndex, dom graph.DomainID)

	last ActivationResult

	log *log.Logger
}

// ActivationResult reports how a recipe activation changed the dataflow
// graph (§6 install_recipe/extend_recipe: "activation result (added /
// removed / reused counts)"). Base table nodes are never counted as
// removed/added on a re-declaration across activations.
type ActivationResult struct {
	MigrationID uuid.UUID
	Added       int
	Removed     int
	Reused      int
}

// New constructs a Controller hosting every node on d by default.
func New(d *domain.Domain, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	doms := map[graph.DomainID]*domain.Domain{d.ID: d}
	return &Controller{
		arena:   graph.NewArena(),
		domains: doms,
		assign:  func(*graph.Node) graph.DomainID { return d.ID },
		recipe:  &Recipe{},
		schema:  map[string][]string{},
		tables:  map[string]graph.NodeIndex{},
		mir:       &MIR{Readers: map[string]int{}, Tables: map[string]int{}},
		committed: map[mirKey]graph.NodeIndex{},
		log:       log.New(log.Writer(), "[controller] ", log.LstdFlags),
	}
}

// Install replaces the active recipe with src (keeping base tables, whose
// data must survive a recipe change) and plans src from scratch
// (§6 install_recipe). Removed reports how many non-base nodes the previous
// recipe had; those nodes are not removed from the arena or their domains,
// they only stop being reachable by query name.
func (c *Controller) Install(src string) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := nonBaseNodeCount(c.mir)
	c.recipe = &Recipe{}
	c.mir = &MIR{Readers: map[string]int{}, Tables: map[string]int{}}
	// Base table nodes and their data are intentionally retained across a
	// fresh install: c.tables/c.schema are not reset.
	return c.installLocked(src, removed)
}

// Extend parses src and adds its statements onto the currently active
// recipe without disturbing anything already installed (§6 extend_recipe).
func (c *Controller) Extend(src string) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installLocked(src, 0)
}

// LastActivation reports the ActivationResult of the most recent
// Install/Extend call.
func (c *Controller) LastActivation() ActivationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func nonBaseNodeCount(mir *MIR) int {
	n := 0
	for _, node := range mir.Nodes {
		if node.Kind != MIRBase {
			n++
		}
	}
	return n
}

func (c *Controller) installLocked(src string, removed int) (uuid.UUID, error) {
	migrationID := uuid.New()
	stmts, err := splitStatements(src)
	if err != nil {
		return migrationID, err
	}

	builder := NewBuilder(c.schema)
	// Seed the builder's table set from every base table already physically
	// materialized (whether declared in this recipe generation or an
	// earlier one): a CREATE TABLE for one of these in src re-registers it
	// against the builder rather than creating a duplicate base node.
	for name := range c.tables {
		cols := make([]MIRColumn, len(c.schema[name]))
		for i, colName := range c.schema[name] {
			cols[i] = MIRColumn{Name: colName, ProvenanceNode: -1}
		}
		idx := builder.addNode(&MIRNode{Kind: MIRBase, Name: name, Columns: cols})
		builder.mir.Tables[name] = idx
	}
	// Re-plan the queries of the active recipe (none after Install's reset)
	// so the candidate MIR keeps them; Splice below matches them to their
	// installed nodes instead of building new ones.
	for _, stmt := range c.recipe.Statements {
		if nq, ok := stmt.(*query.NamedQuery); ok {
			if err := builder.AddQuery(nq); err != nil {
				return migrationID, err
			}
		}
	}

	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *query.CreateTable:
			if _, already := builder.mir.Tables[s.Name]; already {
				continue // re-declaration of an already-materialized table; no-op
			}
			if err := builder.AddTable(s); err != nil {
				return migrationID, err
			}
		case *query.NamedQuery:
			if err := builder.AddQuery(s); err != nil {
				return migrationID, err
			}
		}
	}
	candidate := builder.Build()

	reuseIdx := NewReuseIndex(c.mir)
	reused := Splice(candidate, reuseIdx)
	if len(reused) > 0 {
		c.log.Printf("migration %s: reused %d existing node(s)", migrationID, len(reused))
	}

	plan, err := Lower(candidate, c.tables, c.installedNodeIndex())
	if err != nil {
		return migrationID, err
	}
	if err := c.commit(candidate, plan); err != nil {
		return migrationID, err
	}

	c.recipe.append(src, stmts)
	c.mir = candidate
	newTables := 0
	for name, idx := range candidate.Tables {
		if _, ok := c.tables[name]; !ok {
			c.tables[name] = c.resolvedIndex(candidate, idx)
			newTables++
		}
	}
	c.last = ActivationResult{
		MigrationID: migrationID,
		Added:       nonBaseNodeCount(candidate) - len(reused) + newTables,
		Removed:     removed,
		Reused:      len(reused),
	}
	return migrationID, nil
}

// installedNodeIndex returns, for every node index of c.mir (the
// already-committed MIR), its live graph.NodeIndex — used by Lower to wire
// a Splice-marked-Reused candidate node directly onto existing dataflow.
func (c *Controller) installedNodeIndex() []graph.NodeIndex {
	out := make([]graph.NodeIndex, len(c.mir.Nodes))
	for i := range out {
		out[i] = c.resolvedIndex(c.mir, i)
	}
	return out
}

// resolvedIndex looks up the live graph.NodeIndex an already-committed MIR
// node index maps to, as recorded in c.committed by commit; it returns
// graph.NoNode for a node that was never committed.
func (c *Controller) resolvedIndex(mir *MIR, idx int) graph.NodeIndex {
	if live, ok := c.committed[mirKey{mir, idx}]; ok {
		return live
	}
	return graph.NoNode
}

// mirKey identifies one node within one specific MIR snapshot.
type mirKey struct {
	mir *MIR
	idx int
}

// commit inserts plan's new nodes into the live arena in MIR topological
// order, wires Parents/Children edges, assigns each to a domain via
// c.assign, and sends an AddNode packet followed by a full-replay seeding
// Message packet built from the immediate ancestor's already-materialized
// rows (§4.7 steps 4-6).
func (c *Controller) commit(mir *MIR, plan *Plan) error {
	if c.committed == nil {
		c.committed = map[mirKey]graph.NodeIndex{}
	}
	rangeCols := parentRangeColumns(mir)
	for i, n := range mir.Nodes {
		if n.Kind == MIRBase {
			if live, ok := c.tables[n.Name]; ok {
				c.committed[mirKey{mir, i}] = live
				continue
			}
			node := &graph.Node{Kind: graph.KindBase, Name: n.Name, Materialization: graph.MaterializeFull}
			for _, col := range n.Columns {
				node.Columns = append(node.Columns, graph.Column{Name: col.Name})
			}
			// A base table is never a MIRReader's direct parent (any WHERE
			// that sets RangeColumn always inserts a MIRFilter node first),
			// so it never appears as a key in rangeCols; only a hash index.
			node.Indices = []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}
			live := c.arena.Add(node)
			dom := c.assign(node)
			node.Domain = dom
			c.send(dom, domain.Packet{Kind: domain.PacketAddNode, Node: live, NodeSpec: node, NodeKernel: kernel.Identity{}})
			c.committed[mirKey{mir, i}] = live
			if c.OnBaseNode != nil {
				c.OnBaseNode(n.Name, live, dom)
			}
			continue
		}
		if n.Reused {
			c.committed[mirKey{mir, i}] = plan.MIRToNode[i]
			continue
		}

		planPos := findPlanPos(plan, mir, i)
		if planPos < 0 {
			return fmt.Errorf("controller: internal error: no plan entry for MIR node %d", i)
		}
		node := plan.Nodes[planPos]
		kern := plan.Kernels[planPos]

		parentLives := make([]graph.NodeIndex, 0, len(n.Parents))
		for _, parentIdx := range n.Parents {
			parentLive, ok := c.committed[mirKey{mir, parentIdx}]
			if !ok {
				return fmt.Errorf("controller: parent node %d not committed before child %d", parentIdx, i)
			}
			parentLives = append(parentLives, parentLive)
		}

		node.Materialization = graph.MaterializeFull
		if n.Kind == MIRReader {
			node.Materialization = graph.MaterializePartial
		}
		node.Indices = defaultIndices(i, n, kern, rangeCols)

		live := c.arena.Add(node)
		dom := c.assign(node)
		node.Domain = dom
		// AddEdge is the sole writer of node.Parents/parent.Children below: it
		// appends to both in lockstep, so node.Parents ends up exactly
		// parentLives in n.Parents order (the left/right order lowerSelect
		// recorded a join's key columns against).
		for _, parentLive := range parentLives {
			c.arena.AddEdge(parentLive, live)
		}
		c.committed[mirKey{mir, i}] = live

		if j, ok := kern.(*kernel.Join); ok && len(node.Parents) >= 2 {
			j.LeftAncestor, j.RightAncestor = node.Parents[0], node.Parents[1]
			j.LeftIndex, j.RightIndex = 0, 0
		}

		c.send(dom, domain.Packet{Kind: domain.PacketAddNode, Node: live, NodeSpec: node, NodeKernel: kern})
		c.seed(dom, node)
	}
	return nil
}

// parentRangeColumns maps a MIR node index to the set of its own output
// column positions that an immediate-child MIRReader's RangeColumn names. A
// MIRReader's sole parent is always the node worker.buildReplayPath's
// single-hop walk lands its replay source on: that walk stops at the first
// node that isn't graph.MaterializePartial, and commit makes every node but
// a MIRReader graph.MaterializeFull, so the walk never goes past one hop.
// That parent — whatever kind of node it is (filter, project, topk...) —
// is therefore what needs the matching btree index for a cold range lookup
// to fill from (§4.4 step 3, via replay.Engine.OnRequestPartialReplay);
// state.LookupRange refuses a non-btree index regardless of materialization.
func parentRangeColumns(mir *MIR) map[int]map[int]bool {
	out := map[int]map[int]bool{}
	for _, n := range mir.Nodes {
		if n.Kind != MIRReader || n.RangeColumn < 0 || len(n.Parents) == 0 {
			continue
		}
		p := n.Parents[0]
		if out[p] == nil {
			out[p] = map[int]bool{}
		}
		out[p][n.RangeColumn] = true
	}
	return out
}

// defaultIndices picks the index (or indices) every non-base node is
// materialized with: group-by output is keyed by its group columns
// (positions 0..len(GroupBy)-1 in the lowered output, since lowerSelect
// places them first); everything else (filter/project/join/union/topk/
// distinct/reader passthrough) always carries a hash index on column 0 at
// position 0, matching how every installed query in practice looks a view
// up by its leading column. A MIRReader whose query constrained a column
// with a range comparison or LIKE pattern additionally carries whatever
// index its kernel's SuggestIndices reports (currently only kernel.Reader,
// a btree on that column) so ViewHandle.LookupRange (§4.5, §8 scenario 3)
// has something to query against, and that reader's immediate parent (see
// parentRangeColumns) gets a matching btree on the same column so a cold
// fill can walk back one hop and still find a range-capable index; both
// wireadapter.ViewHandle and replay.Engine locate a node's btree index by
// scanning for IndexBTree rather than assuming a fixed position.
func defaultIndices(i int, n *MIRNode, kern kernel.Kernel, rangeCols map[int]map[int]bool) []graph.Index {
	if n.Kind == MIRGroupBy {
		k := len(n.GroupBy)
		if k == 0 {
			k = 1
		}
		cols := make([]int, k)
		for i := range cols {
			cols[i] = i
		}
		return []graph.Index{{Columns: cols, Kind: graph.IndexHash}}
	}
	idx := []graph.Index{{Columns: []int{0}, Kind: graph.IndexHash}}
	if n.Kind == MIRReader {
		idx = append(idx, kern.SuggestIndices()...)
	}
	for col := range rangeCols[i] {
		idx = append(idx, graph.Index{Columns: []int{col}, Kind: graph.IndexBTree})
	}
	return idx
}

func findPlanPos(plan *Plan, mir *MIR, mirIdx int) int {
	// plan.MIRToNode[mirIdx] was set by Lower to the position within
	// plan.Nodes/plan.Kernels for freshly lowered (non-base, non-reused)
	// nodes, re-expressed as a graph.NodeIndex; undo that cast here.
	if mirIdx < 0 || mirIdx >= len(plan.MIRToNode) {
		return -1
	}
	pos := int(plan.MIRToNode[mirIdx])
	if pos < 0 || pos >= len(plan.Nodes) {
		return -1
	}
	return pos
}

// send delivers p to the domain hosting dom, preferring a direct
// synchronous Dispatch (used in the single-process/test topology) and
// falling back to nothing if the domain is unknown — a cross-process
// deployment instead routes every commit packet through internal/router,
// which the worker bootstrap wires as every domain's Sender.
func (c *Controller) send(dom graph.DomainID, p domain.Packet) {
	d, ok := c.domains[dom]
	if !ok {
		c.log.Printf("commit: no local domain %d registered, dropping packet %s", dom, p.Kind)
		return
	}
	if err := d.Dispatch(p); err != nil {
		c.log.Printf("commit: dispatch %s failed: %v", p.Kind, err)
	}
}

// seed performs the new node's initial full materialization by replaying
// every row currently held by its parent through it, synchronously, as a
// single Message packet (§4.7 step 6). A Union is seeded once per parent in
// turn. A Join is seeded from its left parent only: each left row's lookup
// into the right parent already yields every match (and every null-extended
// row) once, so a second pass from the right would emit them again.
func (c *Controller) seed(dom graph.DomainID, node *graph.Node) {
	d, ok := c.domains[dom]
	if !ok {
		return
	}
	parents := node.Parents
	if nr, ok := d.Node(node.Global); ok && len(parents) > 1 {
		if _, sided := nr.Kernel.(kernel.SidedKernel); sided {
			parents = parents[:1]
		}
	}
	for _, parent := range parents {
		parentRuntime, ok := d.Node(parent)
		if !ok {
			continue
		}
		rows := parentRuntime.State.All()
		if len(rows) == 0 {
			continue
		}
		batch := make(value.Batch, len(rows))
		for i, r := range rows {
			batch[i] = value.Record{Cols: r.Cols, Polarity: value.Positive}
		}
		if err := d.Dispatch(domain.Packet{Kind: domain.PacketMessage, Node: node.Global, FromNode: parent, Batch: batch}); err != nil {
			c.log.Printf("seed: replay into node %d failed: %v", node.Global, err)
		}
	}
}

// RegisterDomain adds d to the set of domains new nodes may be assigned to
// and, if assigner is non-nil, replaces the assignment policy — used by a
// multi-domain deployment to move off the single-domain default.
func (c *Controller) RegisterDomain(d *domain.Domain, assigner Assigner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domains[d.ID] = d
	if assigner != nil {
		c.assign = assigner
	}
}

// ViewNode returns the live graph.NodeIndex of a query's Reader node, for
// internal/wireadapter to build a reader.Reader against.
func (c *Controller) ViewNode(query string) (graph.NodeIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.mir.Readers[query]
	if !ok {
		return graph.NoNode, false
	}
	return c.resolvedIndex(c.mir, idx), true
}

// TableNode returns the live graph.NodeIndex of a base table.
func (c *Controller) TableNode(name string) (graph.NodeIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.tables[name]
	return idx, ok
}

// Domain returns the domain a given node index is hosted on, if known.
func (c *Controller) Domain(node graph.NodeIndex) (*domain.Domain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.arena.Get(node)
	if !ok {
		return nil, false
	}
	d, ok := c.domains[n.Domain]
	return d, ok
}

// DomainByID returns the domain registered under id, if any — used by
// internal/worker to resolve a replay dispatch's Destination.Domain
// directly, without a node index in hand.
func (c *Controller) DomainByID(id graph.DomainID) (*domain.Domain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.domains[id]
	return d, ok
}

// Recipe returns the currently installed Recipe (§6 status()'s "recipe" field).
func (c *Controller) Recipe() *Recipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipe
}

// Graphviz renders the live dataflow graph in dot format (§6 graphviz()).
func (c *Controller) Graphviz() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := "digraph fluxcache {\n"
	c.arena.Walk(func(n *graph.Node) {
		out += fmt.Sprintf("  n%d [label=\"%s\\n%s\"];\n", n.Global, n.Name, n.Kind)
		for _, p := range n.Parents {
			out += fmt.Sprintf("  n%d -> n%d;\n", p, n.Global)
		}
	})
	out += "}\n"
	return out
}

// Status reports a coarse operational summary (§6 status()).
func (c *Controller) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"tables":  c.recipe.Tables(),
		"queries": c.recipe.Queries(),
		"nodes":   c.arena.Len(),
		"domains": len(c.domains),
	}
}
