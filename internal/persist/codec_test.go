package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/value"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	cols := []value.Value{
		value.Int(1),
		value.Text("A"),
		value.Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		value.Null,
	}
	b, err := EncodeRecord(cols)
	require.NoError(t, err)

	got, err := DecodeRecord(b)
	require.NoError(t, err)
	require.Len(t, got, len(cols))
	for i := range cols {
		require.True(t, value.Equal(cols[i], got[i]), "column %d", i)
	}
}

func TestKeyBytesStable(t *testing.T) {
	k1, err := KeyBytes([]value.Value{value.Int(7)})
	require.NoError(t, err)
	k2, err := KeyBytes([]value.Value{value.Int(7)})
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}
