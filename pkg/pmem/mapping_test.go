package pmem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreate_FormatsExactSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.pmem")
	m, err := Create(path, 4096)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, uint64(4096), m.Len())
	require.Len(t, m.Bytes(), 4096)
}

func TestCreate_FailsIfFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.pmem")
	m, err := Create(path, 4096)
	require.NoError(t, err)
	m.Close()

	_, err = Create(path, 4096)
	require.Error(t, err)
}

func TestOpen_ReopensAndPreservesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.pmem")
	m, err := Create(path, 4096)
	require.NoError(t, err)

	m.Flush(0, []byte("hello"))
	require.NoError(t, m.PersistRange(0, 5))
	require.NoError(t, m.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer m2.Close()
	require.Equal(t, []byte("hello"), m2.Bytes()[:5])
}

func TestExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.pmem")
	require.False(t, Exists(path))
	m, err := Create(path, 4096)
	require.NoError(t, err)
	defer m.Close()
	require.True(t, Exists(path))
}

func TestClose_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.pmem")
	m, err := Create(path, 4096)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
