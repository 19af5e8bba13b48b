package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "stream.pmem", cfg.Stream.Path)
	require.Equal(t, uint64(4096), cfg.Stream.BlockSize.Uint64())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmemstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stream:
  path: /data/stream.pmem
  block_size: "8Ki"
  max_concurrency: 64
logging:
  level: DEBUG
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/data/stream.pmem", cfg.Stream.Path)
	require.Equal(t, uint64(8192), cfg.Stream.BlockSize.Uint64())
	require.Equal(t, uint64(64), cfg.Stream.MaxConcurrency)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestValidate_RejectsEmptyPath(t *testing.T) {
	cfg := Default()
	cfg.Stream.Path = ""
	require.Error(t, cfg.Validate())
}

func TestStreamOptions_ConvertsFields(t *testing.T) {
	cfg := Default()
	opts := cfg.StreamOptions()
	require.Equal(t, cfg.Stream.StreamSize.Uint64(), opts.StreamSize)
	require.Equal(t, cfg.Stream.BlockSize.Uint64(), opts.BlockSize)
	require.Equal(t, cfg.Stream.MaxConcurrency, opts.MaxConcurrency)
}
