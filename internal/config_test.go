package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "novahtree", cfg.AppName)
	require.Equal(t, "./data", cfg.Storage.Dir)
	require.Equal(t, "index", cfg.Storage.Base)
	require.Equal(t, 10, cfg.Index.AddressBits)
	require.True(t, cfg.Index.RawRecords)
	require.True(t, cfg.Index.HashKeys)
	require.Equal(t, "info", cfg.Log.Level)

	opts := cfg.HTreeOptions()
	require.Equal(t, 10, opts.AddressBits)
	require.Equal(t, 256, opts.MaxInlineValue)
	require.Equal(t, 64, cfg.StoreOptions().PoolCapacity)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
app_name: demo
storage:
  dir: /tmp/demo
  base: words
  pool_capacity: 16
  cache_max_cost: 0
index:
  address_bits: 6
  delete_markers: true
  version_timestamps: true
  hash_keys: false
log:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "demo", cfg.AppName)
	require.Equal(t, "words", cfg.Storage.Base)
	require.Equal(t, 16, cfg.StoreOptions().PoolCapacity)
	require.Zero(t, cfg.StoreOptions().CacheMaxCost)

	opts := cfg.HTreeOptions()
	require.Equal(t, 6, opts.AddressBits)
	require.True(t, opts.DeleteMarkers)
	require.True(t, opts.VersionTimestamps)
	require.True(t, opts.RawRecords, "unset keys keep their default")
	require.False(t, cfg.Index.HashKeys)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("NOVAHTREE_INDEX_ADDRESS_BITS", "4")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Index.AddressBits)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "index:\n  address_bits: 30\n"))
	require.ErrorContains(t, err, "address_bits")
}

func TestSetupLogger(t *testing.T) {
	require.NoError(t, SetupLogger("debug"))
	require.NoError(t, SetupLogger("WARN"))
	require.Error(t, SetupLogger("loud"))
}
