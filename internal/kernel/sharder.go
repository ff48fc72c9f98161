package kernel

import (
	"hash/fnv"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
)

// Sharder names, through ShardFor, the shard given by hash(record[Column])
// mod Shards (§4.2). It does not mutate the record. OnInput passes every
// batch through whole and the domain runtime does not call ShardFor, so
// records are not split across per-shard destinations.
type Sharder struct {
	Column int
	Shards int
}

func NewSharder(column, shards int) *Sharder { return &Sharder{Column: column, Shards: shards} }

// ShardFor computes the destination shard for a record.
func (s *Sharder) ShardFor(r value.Record) int {
	h := fnv.New64a()
	h.Write([]byte(r.Cols[s.Column].String()))
	return int(h.Sum64() % uint64(s.Shards))
}

func (s *Sharder) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	return update, nil // passed through whole; ShardFor is not applied here
}
func (s *Sharder) OnCommit() error               { return nil }
func (s *Sharder) SuggestIndices() []graph.Index { return nil }
func (s *Sharder) ColumnSource(col int) Provenance { return Provenance{Column: col} }

// ShardMerger is an N-input concatenator used before a node that needs
// unsharded input; it performs no per-tag bookkeeping itself (replay-time
// collation across shards is internal/replay's responsibility, keyed by
// (tag, shard, key-bounds) per the Open Question decision).
type ShardMerger struct {
	NumShards int
}

func NewShardMerger(numShards int) *ShardMerger { return &ShardMerger{NumShards: numShards} }

func (m *ShardMerger) OnInput(update value.Batch, _ AncestorLookup) (value.Batch, error) {
	return update, nil
}
func (m *ShardMerger) OnCommit() error               { return nil }
func (m *ShardMerger) SuggestIndices() []graph.Index { return nil }
func (m *ShardMerger) ColumnSource(col int) Provenance { return Provenance{Column: col} }
