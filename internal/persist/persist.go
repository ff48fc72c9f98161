// Package persist implements the persistent KV backing base tables (§4.1,
// §6 "Persisted state"): one column family for the primary index (row bytes
// keyed by primary key) and one per secondary index (primary-key references
// keyed by the secondary key), plus a meta column family holding a
// replication offset so restarts resume consistently.
//
// Two backends are registered through the same factory/registry shape the
// teacher's internal/storage/factory package uses: a MySQL-compatible
// backend over database/sql and go-sql-driver/mysql, and a Dolt backend
// (versioned, embeddable) over github.com/dolthub/driver. durability in
// config selects which backend a worker opens.
package persist

import (
	"context"
	"fmt"
	"time"
)

// Row is one persisted row: its primary-key bytes and the serialized record
// bytes, plus whatever secondary-index keys the base node's Columns imply.
type Row struct {
	PrimaryKey []byte
	Value      []byte
	// SecondaryKeys maps a secondary index's name to the key bytes derived
	// from this row, so Put can maintain every column family atomically.
	SecondaryKeys map[string][]byte
}

// Backend is the persistence contract a base table's domain writes through
// (§4.1 "For base tables, the state store is backed by the persistent KV").
// All methods operate under a single table namespace fixed at Open time.
type Backend interface {
	// Put writes row, maintaining the primary column family and every
	// named secondary column family consistently. A PersistenceError
	// (§4.8, §7) is returned on any failure; no partial column families
	// are left inconsistent since the write is one statement/transaction.
	Put(ctx context.Context, row Row) error

	// Delete removes the row for primaryKey from every column family.
	Delete(ctx context.Context, primaryKey []byte) error

	// Get resolves a primary-key lookup directly against the primary
	// column family.
	Get(ctx context.Context, primaryKey []byte) ([]byte, bool, error)

	// GetBySecondary resolves a secondary-index lookup: it reads the
	// primary-key reference from the named secondary column family, then
	// resolves the primary column family, mirroring §4.1's "secondary
	// indices hold primary-key pointers and resolve via a second lookup."
	GetBySecondary(ctx context.Context, index string, key []byte) ([][]byte, error)

	// Scan iterates the primary column family in key order, for full
	// replay (§4.7 step 6, "for bases, scanning the base state").
	Scan(ctx context.Context, fn func(primaryKey, value []byte) error) error

	// ReplicationOffset/SetReplicationOffset read and persist the meta
	// column family's replication offset (§6 "Persisted state": "A meta
	// column family stores a replication offset so restarts resume
	// consistently").
	ReplicationOffset(ctx context.Context) (uint64, error)
	SetReplicationOffset(ctx context.Context, offset uint64) error

	Close() error
}

// Options configures how a Backend is opened, mirroring the shape of the
// teacher's storage/factory.Options (server-mode connection fields plus
// timeouts) trimmed to what a KV-shaped base-table store needs.
type Options struct {
	DSN         string
	Table       string
	SecondaryIndexNames []string
	LockTimeout time.Duration
	IdleTimeout time.Duration
}

// BackendFactory constructs a Backend for a table, following the teacher's
// storage/factory.BackendFactory shape exactly.
type BackendFactory func(ctx context.Context, opts Options) (Backend, error)

var registry = make(map[string]BackendFactory)

// RegisterBackend registers a named backend constructor; mysql.go and
// dolt.go each call this from an init().
func RegisterBackend(name string, factory BackendFactory) {
	registry[name] = factory
}

// Open constructs a Backend by name ("mysql" or "dolt"). The name comes
// from config.PersistenceBackend: permanent durability maps to "dolt",
// delete-on-exit to "mysql", and memory-only durability never calls Open.
func Open(ctx context.Context, backend string, opts Options) (Backend, error) {
	factory, ok := registry[backend]
	if !ok {
		return nil, fmt.Errorf("persist: unknown backend %q (registered: %v)", backend, registeredNames())
	}
	return factory(ctx, opts)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
