package persist

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startMySQL spins a disposable MySQL container for an end-to-end exercise
// of the mysql backend, mirroring the teacher's own pattern of skipping
// container-backed tests under testing.Short() (see e.g.
// internal/storage/dolt/server_test.go) rather than mocking database/sql.
func startMySQL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed persist test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "fluxcache",
			"MYSQL_DATABASE":      "fluxcache",
		},
		WaitingFor: wait.ForLog("ready for connections").WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)

	return fmt.Sprintf("root:fluxcache@tcp(%s:%s)/fluxcache?parseTime=true", host, port.Port())
}

func TestMySQLBackendRoundTrip(t *testing.T) {
	dsn := startMySQL(t)
	ctx := context.Background()

	b, err := Open(ctx, "mysql", Options{
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

	require.NoError(t, b.SetReplicationOffset(ctx, 42))
	off, err := b.ReplicationOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), off)

	require.NoError(t, b.Delete(ctx, []byte("1")))
	_, ok, err = b.Get(ctx, []byte("1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMySQLBackendScan(t *testing.T) {
	dsn := startMySQL(t)
	ctx := context.Background()

	b, err := Open(ctx, "mysql", Options{DSN: dsn, Table: "vote"})
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
