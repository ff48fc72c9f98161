package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsAndResets(t *testing.T) {
	reader, err := NewStdoutExporter()
	require.NoError(t, err)

	reg, err := New(context.Background(), reader)
	require.NoError(t, err)
	defer reg.Shutdown(context.Background())

	ctx := context.Background()
	reg.RecordExternalRequest(ctx, "lookup")
	reg.RecordForward(ctx, 1, 0.002)
	reg.RecordReplay(ctx, 0.015)
	reg.RecordEviction(ctx, 3)
	reg.SetMaterializedBytes(1024)

	require.Equal(t, int64(1024), reg.Status()["materialized_bytes"])
	reg.Reset()
	require.Equal(t, int64(0), reg.Status()["materialized_bytes"])
}

func TestNilRegistryIsNoop(t *testing.T) {
	var reg *Registry
	reg.RecordExternalRequest(context.Background(), "lookup")
	require.Nil(t, reg.Status())
}
