package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoaderDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxcache.yaml")

	l, err := NewLoader(path)
	require.NoError(t, err)

	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, DurabilityMemoryOnly, cfg.Durability)
	require.Equal(t, EvictionLRU, cfg.EvictionKind)
	require.Equal(t, 1, cfg.Quorum)
	require.Equal(t, 5*time.Second, cfg.UpqueryTimeout)
}

func TestLoaderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("durability: permanent\nquorum: 3\nsharding:\n  fixed: 4\n"), 0o600))

	l, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, DurabilityPermanent, cfg.Durability)
	require.Equal(t, 3, cfg.Quorum)
	require.Equal(t, 4, cfg.Sharding.Fixed)
}

func TestHotReloadableFieldsExcludesReuse(t *testing.T) {
	fields := HotReloadableFields()
	require.Contains(t, fields, "eviction_kind")
	require.NotContains(t, fields, "reuse")
}
