package wireadapter

import (
	"context"

	"github.com/fluxcache/fluxcache/internal/graph"
	"github.com/fluxcache/fluxcache/internal/value"
	"github.com/fluxcache/fluxcache/internal/worker"
)

// TableHandle is the base-table write surface (§6 table(name)).
type TableHandle struct {
	w    *worker.Worker
	name string
	idx  graph.NodeIndex
}

// Insert writes row into the table (§6 insert(row)).
func (t *TableHandle) Insert(ctx context.Context, row []value.Value) error {
	return t.w.Insert(ctx, t.name, row)
}

// Delete retracts the row matching key (§6 delete(key)).
func (t *TableHandle) Delete(ctx context.Context, key []value.Value) error {
	return t.w.Delete(ctx, t.name, key)
}

// Update retracts the row matching key and inserts newRow (§6 update(key,
// mods)).
func (t *TableHandle) Update(ctx context.Context, key []value.Value, newRow []value.Value) error {
	return t.w.Update(ctx, t.name, key, newRow)
}

// InsertOrUpdate inserts row, or replaces the row matching key if one
// already exists (§6 insert_or_update).
func (t *TableHandle) InsertOrUpdate(ctx context.Context, key []value.Value, row []value.Value) error {
	return t.w.InsertOrUpdate(ctx, t.name, key, row)
}

// InsertMany applies rows as a single batch (§6 insert_many).
func (t *TableHandle) InsertMany(ctx context.Context, rows [][]value.Value) error {
	return t.w.InsertMany(ctx, t.name, rows)
}

// UpdateTimestamp advances the table's freshness timestamp (§6
// update_timestamp(ts)).
func (t *TableHandle) UpdateTimestamp(ctx context.Context, ts int64) error {
	return t.w.UpdateTimestamp(ctx, t.name, ts)
}
