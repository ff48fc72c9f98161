package worker

import (
	"context"

	"github.com/fluxcache/fluxcache/internal/persist"
	"github.com/fluxcache/fluxcache/internal/value"
)

// persistAdapter implements domain.NodePersistence over a persist.Backend,
// bridging the runtime's value.Record shape to the backend's byte-oriented
// Row (§4.1's base-table write-through). The primary key is column 0 by
// convention — every base table declares its primary index on the leading
// column (controller.go's base-node install path enforces this).
type persistAdapter struct {
	backend persist.Backend
}

func (a persistAdapter) Put(ctx context.Context, rec value.Record) error {
	key, err := persist.KeyBytes(rec.Cols[:1])
	if err != nil {
		return err
	}
	val, err := persist.EncodeRecord(rec.Cols)
	if err != nil {
		return err
	}
	return a.backend.Put(ctx, persist.Row{PrimaryKey: key, Value: val})
}

func (a persistAdapter) Delete(ctx context.Context, rec value.Record) error {
	key, err := persist.KeyBytes(rec.Cols[:1])
	if err != nil {
		return err
	}
	return a.backend.Delete(ctx, key)
}
