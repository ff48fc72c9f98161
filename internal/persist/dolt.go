package persist

import (
	"context"

	_ "github.com/dolthub/driver"
)

// Dolt is the "durability: permanent" backend (§6): an embedded, versioned
// store reached through database/sql via the dolthub/driver "dolt" driver
// name, registered the same way the teacher registers its Dolt backend in
// internal/storage/factory/factory_dolt.go — a single RegisterBackend call
// behind a build-time import, here unconditional since fluxcache has no
// CGO-gated split (the teacher's nocgo variants exist only because its Dolt
// embed needs CGO on some platforms; dolthub/driver's database/sql path
// does not).
func init() {
	RegisterBackend("dolt", func(ctx context.Context, opts Options) (Backend, error) {
		return openSQLBackend(ctx, "dolt", opts)
	})
}
