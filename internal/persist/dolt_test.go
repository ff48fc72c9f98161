package persist

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/dolt"
)

// startDolt spins a disposable Dolt sql-server container and returns a DSN
// for the already-imported dolthub/driver, mirroring startMySQL in
// sql_test.go (same short-mode skip, same container-per-test lifecycle)
// but exercising the "dolt" backend registered in dolt.go instead of
// "mysql" — both go through the shared sqlBackend/openSQLBackend path,
// since dolthub/driver speaks the same MySQL wire protocol
// go-sql-driver/mysql does.
func startDolt(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed persist test in short mode")
	}

	ctx := context.Background()
	container, err := dolt.Run(ctx, "dolthub/dolt-sql-server:latest",
		dolt.WithDatabase("fluxcache"),
		dolt.WithUsername("root"),
		dolt.WithPassword("fluxcache"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)
	return dsn
}

func TestDoltBackendRoundTrip(t *testing.T) {
	dsn := startDolt(t)
	ctx := context.Background()

	b, err := Open(ctx, "dolt", Options{
		DSN:                 dsn,
		Table:               "article",
		SecondaryIndexNames: []string{"title"},
	})
	require.NoError(t, err)
	defer b.Close()

	row := Row{
		PrimaryKey:    []byte("1"),
		Value:         []byte(`{"id":1,"title":"A"}`),
		SecondaryKeys: map[string][]byte{"title": []byte("A")},
	}
	require.NoError(t, b.Put(ctx, row))

	v, ok, err := b.Get(ctx, []byte("1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, row.Value, v)

	byTitle, err := b.GetBySecondary(ctx, "title", []byte("A"))
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	require.Equal(t, row.Value, byTitle[0])

	require.NoError(t, b.SetReplicationOffset(ctx, 7))
	off, err := b.ReplicationOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), off)

	require.NoError(t, b.Delete(ctx, []byte("1")))
	_, ok, err = b.Get(ctx, []byte("1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDoltBackendScan(t *testing.T) {
	dsn := startDolt(t)
	ctx := context.Background()

	b, err := Open(ctx, "dolt", Options{DSN: dsn, Table: "vote"})
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 3; i++ {
		pk := fmt.Sprintf("%d", i)
		require.NoError(t, b.Put(ctx, Row{PrimaryKey: []byte(pk), Value: []byte(pk)}))
	}

	var seen [][]byte
	require.NoError(t, b.Scan(ctx, func(pk, v []byte) error {
		seen = append(seen, pk)
		return nil
	}))
	require.Len(t, seen, 3)
}
