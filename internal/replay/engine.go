// Package replay implements the upquery/replay engine (C4): routing misses
// backward to a replay source, translating keys along the path, buffering
// concurrent writes during an in-flight replay, and collating shard-merger
// fan-in, per §4.4.
package replay

import (
	"sync"

	"github.com/fluxcache/fluxcache/internal/domain"
	"github.com/fluxcache/fluxcache/internal/fluxerr"
	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// KeyTranslator maps a key on the downstream side of one graph edge to zero,
// one, or more keys on the upstream side (e.g. a join flips and sometimes
// widens the keyspace). The identity translator is used for pass-through
// operators (project, filter, union).
type KeyTranslator func(key []value.Value) [][]value.Value

// Path describes one replay tag's route: the ordered node sequence from the
// requesting node back to its replay source, and the translator to apply at
// each hop when moving a key one step further from the destination.
type Path struct {
	Tag         domain.ReplayTag
	Nodes       []graph.NodeIndex // Nodes[0] = destination n, Nodes[len-1] = source
	Translators []KeyTranslator   // len(Translators) == len(Nodes)-1
	Index       int               // which index on the destination this tag fills
}

// waitEntry tracks an outer replay piece suspended on an inner (cascading)
// replay, per §4.4 "Cascading replays".
type waitEntry struct {
	outer Path
	keys  [][]value.Value
}

// Engine is the per-worker replay coordinator. One Engine typically spans
// every domain hosted by a worker process; it is wired into each Domain as
// its ReplayHooks implementation.
type Engine struct {
	mu sync.Mutex

	paths map[domain.ReplayTag]Path

	// buffering: nodes along an in-flight tag's path buffer ordinary
	// updates touching the replayed keys, keyed by (node, tag).
	buffered map[bufferKey][]value.Record
	inFlight map[bufferKey]map[string]struct{} // keys currently mid-replay, per (node,tag)

	// waitSet tracks outer replays suspended on an inner tag completing.
	waitSet map[domain.ReplayTag][]waitEntry

	// shard-merger collation: in-flight range/point replay pieces awaiting
	// all shards, keyed by (tag, shard-bounds); deduplicated per the Open
	// Question decision in SPEC_FULL.md.
	shardPieces map[shardKey][]value.Record
	shardWant   map[shardKey]int

	dispatch func(dest domain.Destination, p domain.Packet) error

	nextTag uint64
}

type bufferKey struct {
	Node graph.NodeIndex
	Tag  domain.ReplayTag
}

type shardKey struct {
	Tag    domain.ReplayTag
	Shard  graph.ShardID
	Bounds string
}

// New constructs an Engine. dispatch delivers a Packet to a domain's inbox,
// typically the router's Send wired the same way domain.Sender is.
func New(dispatch func(dest domain.Destination, p domain.Packet) error) *Engine {
	return &Engine{
		paths:       make(map[domain.ReplayTag]Path),
		buffered:    make(map[bufferKey][]value.Record),
		inFlight:    make(map[bufferKey]map[string]struct{}),
		waitSet:     make(map[domain.ReplayTag][]waitEntry),
		shardPieces: make(map[shardKey][]value.Record),
		shardWant:   make(map[shardKey]int),
		dispatch:    dispatch,
	}
}

// NewTag allocates a fresh replay tag and records its path.
func (e *Engine) NewTag(path Path) domain.ReplayTag {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextTag++
	tag := domain.ReplayTag(e.nextTag)
	path.Tag = tag
	e.paths[tag] = path
	return tag
}

func keyStr(k []value.Value) string {
	s := make([]byte, 0, 16*len(k))
	for _, v := range k {
		s = append(s, byte(v.Kind))
		s = append(s, v.String()...)
		s = append(s, 0)
	}
	return string(s)
}

// RequestMiss is called by a reader or operator (via its owning Domain) when
// a lookup misses a hole. It marks the destination node in-flight for the
// new tag (§4.4 "Concurrent writes during replay") before issuing
// RequestPartialReplay toward the replay source along path (§4.4 step 1), so
// an ordinary write landing on the destination between now and the matching
// OnReplayPiece is buffered instead of racing the replay.
func (e *Engine) RequestMiss(d *domain.Domain, path Path, key []value.Value) error {
	tag := e.NewTag(path)
	if err := e.dispatch(domain.Destination{}, domain.Packet{
		Kind: domain.PacketStartReplay,
		Node: path.Nodes[0],
		Tag:  tag,
		Keys: [][]value.Value{key},
	}); err != nil {
		return err
	}
	return e.issueRequest(d, tag, [][]value.Value{key}, 0)
}

// RequestMissRange is RequestMiss's range-replay counterpart (§4.4 "Range
// replays"): translation along the path composes range operations, but
// every KeyTranslator this implementation builds (see internal/worker's
// buildReplayPath) is the identity translator, so lo/hi pass through
// unchanged at each hop; a deployment with a real range-narrowing operator
// (e.g. a filter with a range predicate) between the reader and its source
// would widen this by translating Lo/Hi independently the way issueRequest
// translates point keys.
func (e *Engine) RequestMissRange(d *domain.Domain, path Path, lo, hi value.Value) error {
	tag := e.NewTag(path)
	return e.dispatch(domain.Destination{}, domain.Packet{
		Kind:    domain.PacketRequestPartialReplay,
		Node:    path.Nodes[len(path.Nodes)-1],
		Tag:     tag,
		IsRange: true,
		RangeLo: lo,
		RangeHi: hi,
	})
}

// issueRequest walks the path from hop index i one step further upstream,
// translating keys, until it reaches the source (the last node in path),
// where it emits the actual RequestPartialReplay packet.
func (e *Engine) issueRequest(d *domain.Domain, tag domain.ReplayTag, keys [][]value.Value, hop int) error {
	e.mu.Lock()
	path := e.paths[tag]
	e.mu.Unlock()

	if hop >= len(path.Translators) {
		// Reached the source: this Engine call happens to run inside the
		// same domain process, so dispatch directly rather than pretending
		// cross-domain transport when the test/harness is single-domain.
		return e.dispatch(domain.Destination{}, domain.Packet{
			Kind: domain.PacketRequestPartialReplay,
			Node: path.Nodes[len(path.Nodes)-1],
			Tag:  tag,
			Keys: keys,
		})
	}
	var next [][]value.Value
	for _, k := range keys {
		next = append(next, path.Translators[hop](k)...)
	}
	return e.issueRequest(d, tag, next, hop+1)
}

// OnRequestPartialReplay runs on the replay source's domain: it scans its
// own state for the requested keys and answers with a ReplayPiece travelling
// forward along the same tagged path (§4.4 step 3). It looks the source up by
// outerPath.Index rather than always index 0, since Path carries one index
// number for every hop (worker.buildReplayPath's simplification): the node a
// btree-indexed reader's replay walk lands on one hop back is given a
// matching btree index at that same position by controller.commit (see
// parentRangeColumns), so a range upquery lands on a btree, not the node's
// default hash index.
func (e *Engine) OnRequestPartialReplay(d *domain.Domain, p domain.Packet) error {
	nr, ok := d.Node(p.Node)
	if !ok {
		return fluxerr.New(fluxerr.ViewNotFound, "replay.OnRequestPartialReplay")
	}

	e.mu.Lock()
	outerPath := e.paths[p.Tag]
	e.mu.Unlock()
	dest := p.Node
	if len(outerPath.Nodes) > 0 {
		dest = outerPath.Nodes[0]
	}

	if p.IsRange {
		res, err := nr.State.LookupRange(outerPath.Index, p.RangeLo, p.RangeHi)
		if err != nil {
			return err
		}
		if !res.Hit {
			return fluxerr.New(fluxerr.UpqueryTimeout, "replay.OnRequestPartialReplay: range hole")
		}
		return e.dispatch(domain.Destination{}, domain.Packet{
			Kind:    domain.PacketReplayPiece,
			Node:    dest,
			Tag:     p.Tag,
			IsRange: true,
			RangeLo: p.RangeLo,
			RangeHi: p.RangeHi,
			Batch:   res.Records,
		})
	}

	var records value.Batch
	for _, k := range p.Keys {
		res, err := nr.State.Lookup(outerPath.Index, k)
		if err != nil {
			return err
		}
		if !res.Hit {
			// Source itself holds a hole for this key (§4.4 "Cascading
			// replays"): suspend this outer request behind a nested upquery
			// against the source's own ancestor instead of failing outright.
			// wakeWaiters re-issues the outer request from hop 0 once the
			// inner tag finishes; that is only correct because every
			// translator this implementation builds is the identity
			// translator (see buildSourcePath and worker/path.go's
			// buildReplayPath), so re-walking the outer path from scratch
			// with the same keys reproduces the same request.
			innerPath := e.buildSourcePath(d, p.Node)
			innerTag := e.NewTag(innerPath)
			e.SuspendOuter(innerTag, outerPath, p.Keys)
			if err := e.dispatch(domain.Destination{}, domain.Packet{
				Kind: domain.PacketStartReplay,
				Node: innerPath.Nodes[0],
				Tag:  innerTag,
				Keys: [][]value.Value{k},
			}); err != nil {
				return err
			}
			return e.issueRequest(d, innerTag, [][]value.Value{k}, 0)
		}
		records = append(records, res.Records...)
	}
	return e.dispatch(domain.Destination{}, domain.Packet{
		Kind:  domain.PacketReplayPiece,
		Node:  dest,
		Tag:   p.Tag,
		Keys:  p.Keys,
		Batch: records,
	})
}

// buildSourcePath walks backward from start (a replay source that itself
// turned out to hold a hole) to ITS replay source, the same way
// internal/worker's buildReplayPath walks back from a reader — duplicated
// here rather than imported, since internal/worker imports internal/replay
// and a back-import would cycle. Every hop uses the identity translator, the
// same simplification buildReplayPath documents.
func (e *Engine) buildSourcePath(d *domain.Domain, start graph.NodeIndex) Path {
	path := Path{Index: 0}
	cur := start
	for {
		path.Nodes = append(path.Nodes, cur)
		nr, ok := d.Node(cur)
		if !ok || nr.Node.Materialization != graph.MaterializePartial || len(nr.Node.Parents) == 0 {
			break
		}
		path.Translators = append(path.Translators, identityKeyTranslator)
		cur = nr.Node.Parents[0]
	}
	return path
}

func identityKeyTranslator(key []value.Value) [][]value.Value {
	return [][]value.Value{key}
}

// OnReplayPiece runs on each node along the forward path in turn: it
// integrates the piece into the node's own state for the translated keys
// only, marks those keys filled on the destination, and releases buffered
// updates (§4.4 steps 3-4).
func (e *Engine) OnReplayPiece(d *domain.Domain, p domain.Packet) error {
	e.mu.Lock()
	path, ok := e.paths[p.Tag]
	e.mu.Unlock()
	if !ok {
		return fluxerr.New(fluxerr.UpqueryTimeout, "replay.OnReplayPiece: unknown tag")
	}

	nr, ok := d.Node(p.Node)
	if !ok {
		return fluxerr.New(fluxerr.ViewNotFound, "replay.OnReplayPiece")
	}
	for _, r := range p.Batch {
		nr.State.Insert(r)
	}
	if p.IsRange {
		nr.State.MarkFilledRange(path.Index, p.RangeLo, p.RangeHi)
	}
	for _, k := range p.Keys {
		nr.State.MarkFilled(path.Index, k)
	}

	// Finishing the replay (rather than releasing buffered updates directly
	// here) clears the in-flight marker OnStartReplay set and wakes any
	// outer replay SuspendOuter parked behind this tag (§4.4 "Cascading
	// replays" and "Concurrent writes during replay").
	return e.dispatch(domain.Destination{}, domain.Packet{
		Kind: domain.PacketFinishReplay,
		Node: p.Node,
		Tag:  p.Tag,
	})
}

// OnStartReplay marks the keys on path.Tag as in-flight for buffering
// purposes at node p.Node, per §4.4 "Concurrent writes during replay".
func (e *Engine) OnStartReplay(d *domain.Domain, p domain.Packet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk := bufferKey{Node: p.Node, Tag: p.Tag}
	set, ok := e.inFlight[bk]
	if !ok {
		set = make(map[string]struct{})
		e.inFlight[bk] = set
	}
	for _, k := range p.Keys {
		set[keyStr(k)] = struct{}{}
	}
	return nil
}

// OnFinishReplay clears the in-flight marker for a tag at a node and
// releases whatever ordinary updates had queued up behind it, applied in
// their original arrival order so the final state equals
// (replayed-state ⊕ buffered-deltas), per §4.4.
func (e *Engine) OnFinishReplay(d *domain.Domain, p domain.Packet) error {
	e.mu.Lock()
	delete(e.inFlight, bufferKey{Node: p.Node, Tag: p.Tag})
	e.mu.Unlock()
	e.releaseBuffered(d, p.Node, p.Tag)
	e.wakeWaiters(d, p.Tag)
	return nil
}

func (e *Engine) releaseBuffered(d *domain.Domain, node graph.NodeIndex, tag domain.ReplayTag) {
	e.mu.Lock()
	bk := bufferKey{Node: node, Tag: tag}
	pending := e.buffered[bk]
	delete(e.buffered, bk)
	e.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	nr, ok := d.Node(node)
	if !ok {
		return
	}
	for _, r := range pending {
		if r.Polarity == value.Positive {
			nr.State.Insert(r)
		} else {
			nr.State.Remove(r)
		}
	}
}

// BufferIfReplaying buffers r instead of applying it immediately when node
// has an in-flight replay touching r's key under any tag; it returns true if
// the record was buffered (caller must not apply it itself).
func (e *Engine) BufferIfReplaying(node graph.NodeIndex, keyCols []int, r value.Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := keyStr(r.Key(keyCols))
	for bk, set := range e.inFlight {
		if bk.Node != node {
			continue
		}
		if _, touched := set[k]; touched {
			e.buffered[bk] = append(e.buffered[bk], r)
			return true
		}
	}
	return false
}

// SuspendOuter records that an outer replay piece (identified by its own
// tag/keys) cannot proceed until the inner tag finishes, per §4.4
// "Cascading replays".
func (e *Engine) SuspendOuter(inner domain.ReplayTag, outer Path, keys [][]value.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitSet[inner] = append(e.waitSet[inner], waitEntry{outer: outer, keys: keys})
}

func (e *Engine) wakeWaiters(d *domain.Domain, inner domain.ReplayTag) {
	e.mu.Lock()
	waiters := e.waitSet[inner]
	delete(e.waitSet, inner)
	e.mu.Unlock()
	for _, w := range waiters {
		_ = e.issueRequest(d, w.outer.Tag, w.keys, 0)
	}
}

// CollateShardPiece accumulates one shard's contribution to a range replay
// crossing N shards, deduplicated per (tag, shard, key-bounds) as decided in
// SPEC_FULL.md's Open Questions. It returns the merged batch and true once
// every expected shard has reported.
func (e *Engine) CollateShardPiece(tag domain.ReplayTag, shard graph.ShardID, bounds string, want int, records value.Batch) (value.Batch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sk := shardKey{Tag: tag, Shard: shard, Bounds: bounds}
	if _, seen := e.shardWant[sk]; !seen {
		e.shardWant[sk] = want
	}
	e.shardPieces[sk] = append(e.shardPieces[sk], records...)
	if len(e.shardPieces[sk]) < e.shardWant[sk] {
		return nil, false
	}
	merged := e.shardPieces[sk]
	delete(e.shardPieces, sk)
	delete(e.shardWant, sk)
	return merged, true
}
